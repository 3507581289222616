// Package database stores resolution runs for imgref.
//
// A run records which images were resolved from one document, keyed by
// the document's digest so the text itself is never stored. SQLite (via
// modernc.org/sqlite, CGO-free) is the default backend; a Postgres DSN
// selects lib/pq instead. Both share one schema and one set of queries,
// written with "?" placeholders and rebound for Postgres.
package database
