// Package service implements the application layer of cartograph.
//
// # Services
//
// GraphService answers read queries for the reporting layer: entity lists,
// the relations of one entity, notes filtered by interest, jobs, and whole
// graph snapshots exported through the codec package.
//
// IngestService is the write path. It implements adapter.Sink so probes
// report through it, resolves operator-added targets, and imports
// observation documents.
//
// Scheduler turns newly created machines, domains and services into probe
// jobs on the adapter registry.
//
// # Event System
//
// The reconcile engine reports every committed transaction to EventBus via
// PublishChanges. Subscribers include the scheduler and the SSE hub; a slow
// subscriber misses events rather than blocking writers.
package service
