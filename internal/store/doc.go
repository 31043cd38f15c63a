// Package store holds the watcher's state: the latest snapshot per instrument
// and the cooldown record of delivered alerts.
//
// Snapshots and Cooldowns live in memory and are written only by the
// coordinator at the end of a cycle. A Backend persists them across restarts:
//   - memory: nothing survives the process
//   - postgres: pgx pool, batched upserts
//   - sqlite: single file, one transaction per save
package store
