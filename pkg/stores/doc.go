// Package stores provides persistence layer implementations for NodeWeave.
// It includes SQLite-based storage with WAL mode, connection pooling,
// and CRUD operations for component registrations, capability grants,
// graph runs, per-node run results, and append-only events.
package stores
