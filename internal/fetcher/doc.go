// Package fetcher retrieves metric snapshots for the tracked instruments.
//
// Each Fetch call queries every instrument concurrently, bounded by the
// configured concurrency, and joins before returning. A failing instrument
// never aborts the batch: it is reported in Result.Failures while the other
// instruments' snapshots are returned.
//
// Failures are classified as permanent (4xx, malformed payload) or transient
// (retries exhausted on 5xx, 429, timeouts, transport errors, cancellation).
package fetcher
