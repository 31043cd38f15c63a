// Package coordinator drives the poll cycle.
//
// Each cycle runs Fetching, Detecting and Dispatching in order and then
// commits its results: cooldowns for delivered alerts, every fetched
// snapshot, the persisted state, delivery history, the live feed and
// metrics. Cycles never overlap. The store and cooldown record are only
// written from the Run goroutine.
//
// On shutdown the cycle in progress runs to completion. Its work context is
// cancelled once the shutdown grace period has passed, so dispatches still
// pending at that point are skipped.
package coordinator
