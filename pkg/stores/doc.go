// Package stores provides the SQLite persistence layer for assignment runs.
// It stores tenants' targets and candidates, committed assignments, pending
// reviews and the append-only audit trail, and implements the workflow
// package's source and persistence interfaces on top of those tables.
package stores
