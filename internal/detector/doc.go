// Package detector compares consecutive snapshots of an instrument and emits
// alert events for metric changes that cross their configured thresholds.
//
// Detect is a pure function of its inputs: the previous and current
// snapshot, a read-only view of the cooldown record and the current time.
// It performs no I/O and never mutates the cooldown record.
package detector
