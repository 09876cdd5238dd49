// Package handler implements the HTTP API of cartograph.
//
// The API is read-only. Every route is a GET under /api that reports what
// the reconciled graph currently holds; writes happen through probes, the
// add command and imports.
//
// # Routes
//
// Entities are listed per kind (/api/machines, /api/domains, ...) and their
// relations are reached by id, for example /api/machines/{id}/services or
// /api/users/{id}/aliases. Notes are addressed by owner:
// /api/notes/{kind}/{id}, optionally filtered with ?max_interest=N where
// 0 is critical and 3 verbose. /api/jobs lists probe runs, filtered with
// ?status=RUNNING|DONE|FAILED.
//
// /api/snapshot returns the whole graph as JSON and /api/export/{format}
// downloads it as json, yaml or ansible-inventory.
//
// # Response Format
//
// Success responses return JSON arrays or objects; empty lists are [] rather
// than null. Error responses return JSON with {error, details}. A malformed
// id is 400 and a missing entity 404.
package handler
