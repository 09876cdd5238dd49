// Package resolve turns a raw scan target (an IP literal, a hostname or an
// alias) into the addresses and domain names it designates.
//
// A name is resolved one hop at a time through a Lookup. Each name queried
// is recorded as an alias; the walk stops at the first address or at an empty
// answer. Chains are bounded by a hop limit and a visited set, and an
// unbounded chain is reported as an error together with the partial result.
package resolve
