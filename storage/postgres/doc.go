// Package postgres provides a PostgreSQL implementation of all credential
// repositories, using the pgx stdlib driver over database/sql and embedded
// goose migrations for schema management.
//
// Authorization code consumption relies on DELETE ... RETURNING, so a single
// statement is the whole read-and-remove and row-level locking guarantees
// exactly-once consumption across server instances.
package postgres
