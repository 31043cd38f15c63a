// Package server exposes health, status, metrics and the live alert feed
// over HTTP.
//
// Endpoints:
//   - /health: JSON component health, 503 when the store is unreachable
//   - /status: the coordinator's last cycle status
//   - /metrics (configurable): Prometheus exposition
//   - /ws/alerts: WebSocket feed of delivered alerts
//   - /debug/catalog: instruments missing from the CoinGlass catalog
package server
