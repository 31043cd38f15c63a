// Package model defines shared data types used across derivwatch.
//
// Conventions:
//   - Instruments: upper-case CoinGlass symbols ("BTC", "ETH")
//   - Metrics: snake_case names ("open_interest", "funding_rate")
//   - Timestamps: time.Time in UTC
//   - IDs: uuid.UUID for alert events
package model
