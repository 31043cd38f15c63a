// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation,
// which is how secrets (bot token, CoinGlass key, database password) are supplied.
// The loaded Config is treated as immutable once validated.
package config
