/*
Package storage provides the implementations of interfaces.Store.

PostgresStore is the production backend. Its schema constrains
poll_setup.poll_id and poll_mvk.poll_id to be unique, so a ceremony step
can never be persisted twice: under concurrent duplicate triggers both
callers may pass the application's advisory pre-check, but only one insert
survives and the loser observes interfaces.ErrAlreadyDone derived from the
constraint violation.

MemoryStore is a mutex-guarded in-process backend with identical semantics,
used by tests and local development. It enforces the same uniqueness rules
so ceremony race behavior can be exercised without a database.
*/
package storage
