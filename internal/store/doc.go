// Package store provides durable storage for sources, entries, rules,
// submissions, employee mappings and the mirrored project/task taxonomy.
//
// SQLite is the default backend; PostgreSQL is selected with
// DialectPostgres. Both share one query set, rebound per dialect.
//
// # Invariants
//
//   - An entry is unique per (source_id, external_id). InsertEntries
//     skips duplicates instead of failing the batch.
//   - Status changes go through model.Entry.CheckTransition inside a
//     transaction, and the UPDATE re-checks the status it read.
//   - An entry has at most one submission row; retries update it and
//     bump attempt_count.
//   - Rule listings order by priority ASC, id ASC.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// The schema is embedded and applied on Open with CREATE TABLE IF NOT
// EXISTS, so opening an existing database is safe.
package store
