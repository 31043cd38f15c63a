// Package database provides the PostgreSQL connection pool used by the
// postgres store backend.
//
// The pool persists watcher state across restarts:
//   - snapshots: latest metric values per instrument
//   - cooldowns: last delivery time per (instrument, metric)
//   - alert_history: one row per confirmed delivery
package database
