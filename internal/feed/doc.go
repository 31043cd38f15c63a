// Package feed streams delivered alerts to WebSocket subscribers.
//
// The Hub is mounted at /ws/alerts by the HTTP server. Each subscriber gets
// its own buffered send queue and writer goroutine; a subscriber that falls
// behind loses messages rather than slowing the coordinator.
package feed
