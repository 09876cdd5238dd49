// Package repository defines the relationship graph contract used by the
// reconciliation engine.
//
// # Transactions
//
// All access goes through Graph.Update (read-write) or Graph.View
// (read-only). A Tx must be read-your-writes consistent: a lookup that
// follows a create inside the same transaction sees the created row. When
// the callback returns an error nothing it wrote is visible to other
// transactions.
//
// # Identity lookups
//
// Identity lookups return (nil, nil) on a miss. A miss is not an error; it is
// how the engine learns that it has to create the entity.
//
// # Conflicts
//
// Implementations enforce the uniqueness invariants (machine ip, domain name,
// service machine+port, user name, group name, note title per owner) and
// report violations as ErrConflict so callers can retry the transaction.
//
// # SQLite Implementation
//
// The sqlite subpackage implements the contract with modernc.org/sqlite.
package repository
