// Package storage persists targets, check items and check events.
//
// One database/sql implementation serves both drivers:
//   - "sqlite": modernc.org/sqlite, single connection, WAL
//   - "postgres": github.com/jackc/pgx/v5/stdlib
//
// Queries are written with "?" placeholders and rebound to "$n" for
// postgres. Timestamps are stored as UTC unix microseconds so comparisons
// behave the same on both.
package storage
