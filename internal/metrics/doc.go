// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Fetch results per cycle and cycle duration
//   - Alerts generated per metric and severity
//   - Deliveries per destination and result
//   - Coordinator phase and tracked instrument count
//   - Persistence failures
package metrics
