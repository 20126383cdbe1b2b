// Package store provides SQLite-backed storage for emulation runs.
//
// The store keeps:
//   - Runs: one row per emulation, with its trace, options and outcome
//   - Rows: the thread and CPU row names of a run
//   - Records: the channel records of a run, per row kind
//
// # Ordering
//
// Runs are stamped with a seq from a logical Clock and records with a
// per-sink seq. Every listing orders by seq, never by wall-clock time, so
// reading a run back yields the records in emission order.
//
// Run ids are UUIDv7.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
