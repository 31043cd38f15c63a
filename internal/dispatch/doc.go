// Package dispatch formats alert events and delivers them to messaging
// channels with retry.
//
// A Channel performs one send attempt and classifies its failure with a
// SendError. The Dispatcher owns the retry policy:
//   - RateLimited: wait max(retry_after, floor) and try again
//   - Transient: exponential backoff with jitter
//   - Permanent: give up immediately
//
// Sends use a context detached from cancellation, bounded by the send
// timeout, so a shutdown never aborts a request mid-flight. Cancellation is
// observed between attempts and between events.
package dispatch
