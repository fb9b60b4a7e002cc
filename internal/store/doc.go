// Package store provides SQLite-backed durable storage for the run ledger.
//
// Every scenario execution is recorded as a run, and every step transition
// (started, passed, failed) as a step event. The ledger backs the
// "history" command and lets a failed run be examined after the browser
// is gone.
//
// # Ordering
//
//   - Step events are ordered by seq INTEGER (logical clock), never by time
//   - All event queries use ORDER BY seq ASC
//   - Runs are listed newest first by start time, ties broken by id
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Opening ":memory:" gives a throwaway ledger; the runner uses one when no
// ledger path is configured.
package store
