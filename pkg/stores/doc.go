// Package stores provides the persistence layer for security-group
// requests. It is SQLite-based with WAL mode and embedded migrations, and
// it is the sole writer of request status after creation: every transition
// is a single-record conditional write validated against the engine's
// transition table.
package stores
