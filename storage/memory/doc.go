// Package memory provides an in-memory implementation of all credential
// repositories. It is suitable for development, testing, and single-instance
// deployments.
//
// All repositories are safe for concurrent use. Single-key operations that
// must be exactly-once (authorization code consumption) serialize on the
// store's write lock.
package memory
