// Package domain defines the core types for the cartograph reconnaissance graph.
//
// This package contains the entities that make up the relationship graph and
// the observation records probes emit about them.
//
// # Entities
//
// Machine is a host keyed by IP address. Domain is a DNS name. Service is a
// port on a machine, optionally carrying an HTTP payload selected by its
// ServiceKind discriminant. User and Group model directory-service accounts,
// Credential a username with an optional password, and Note a titled piece of
// free text attached to a single owner.
//
// Every stored entity is addressed by a Handle (kind + surrogate id). Merge
// identity is defined separately per kind, see the reconcile package.
//
// # Observations
//
// Observations are what probes produce. Scalar attributes are pointers so an
// absent value never overwrites stored data. Relation fields hold nested
// observations and are not validated by struct tags: the graph they describe
// may contain cycles, so each node is validated as it is visited.
//
// # Design Principles
//
// - No database or external dependencies beyond validation
// - Fresh collections per value, never shared defaults
// - Identity rules live next to the types they describe
package domain
