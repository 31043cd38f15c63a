package config

import (
	"strings"
	"time"
)

// Default values for optional configuration fields.
const (
	DefaultInstanceID          = "derivwatch"
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "text"
	DefaultAPIBaseURL          = "https://open-api-v4.coinglass.com"
	DefaultAPITimeout          = 12 * time.Second
	DefaultMaxRetries          = 3
	DefaultRetryBackoff        = 1 * time.Second
	DefaultPollInterval        = 300 * time.Second
	DefaultFetchConcurrency    = 5
	DefaultFetchTimeout        = 90 * time.Second
	DefaultRuleCooldown        = 15 * time.Minute
	DefaultDirection           = "both"
	DefaultTelegramBaseURL     = "https://api.telegram.org"
	DefaultTelegramTimeout     = 15 * time.Second
	DefaultNATSName            = "derivwatch"
	DefaultDispatchConcurrency = 4
	DefaultMaxAttempts         = 3
	DefaultBaseBackoff         = 1 * time.Second
	DefaultMaxBackoff          = 30 * time.Second
	DefaultRateLimitWait       = 5 * time.Second
	DefaultRateLimitFloor      = 1 * time.Second
	DefaultRatePerSecond       = 20
	DefaultSendTimeout         = 15 * time.Second
	DefaultShutdownGrace       = 10 * time.Second
	DefaultStoreBackend        = "memory"
	DefaultDBPort              = 5432
	DefaultDBSSLMode           = "prefer"
	DefaultMaxConns            = 4
	DefaultMinConns            = 1
	DefaultSQLitePath          = "./data/derivwatch.db"
	DefaultServerPort          = 8080
	DefaultMetricsPath         = "/metrics"
	DefaultBotPollTimeout      = 30 * time.Second
)

// DefaultMetricFields maps metric names to CoinGlass coins-markets fields.
var DefaultMetricFields = map[string]string{
	"open_interest":       "open_interest_usd",
	"funding_rate":        "avg_funding_rate_by_oi",
	"price":               "current_price",
	"long_short_ratio":    "long_short_ratio_24h",
	"liquidation_usd_24h": "liquidation_usd_24h",
}

func (c *Config) applyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = DefaultInstanceID
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}

	// API defaults
	if c.API.BaseURL == "" {
		c.API.BaseURL = DefaultAPIBaseURL
	}
	c.API.BaseURL = strings.TrimSuffix(c.API.BaseURL, "/")
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == nil {
		n := DefaultMaxRetries
		c.API.MaxRetries = &n
	}
	if c.API.RetryBackoff == 0 {
		c.API.RetryBackoff = DefaultRetryBackoff
	}

	// Instruments are CoinGlass symbols, upper-case.
	for i, inst := range c.Instruments {
		c.Instruments[i] = strings.ToUpper(strings.TrimSpace(inst))
	}

	if len(c.MetricFields) == 0 {
		c.MetricFields = make(map[string]string, len(DefaultMetricFields))
		for k, v := range DefaultMetricFields {
			c.MetricFields[k] = v
		}
	}

	// Rule defaults
	for name, r := range c.Rules {
		if r.Cooldown == 0 {
			r.Cooldown = DefaultRuleCooldown
		}
		if r.Direction == "" {
			r.Direction = DefaultDirection
		}
		c.Rules[name] = r
	}

	// Poll and fetcher defaults
	if c.Poll.Interval == 0 {
		c.Poll.Interval = DefaultPollInterval
	}
	if c.Fetcher.Concurrency == 0 {
		c.Fetcher.Concurrency = DefaultFetchConcurrency
	}
	if c.Fetcher.Timeout == 0 {
		c.Fetcher.Timeout = DefaultFetchTimeout
	}

	// Channel defaults
	if c.Telegram.BaseURL == "" {
		c.Telegram.BaseURL = DefaultTelegramBaseURL
	}
	if c.Telegram.Timeout == 0 {
		c.Telegram.Timeout = DefaultTelegramTimeout
	}
	if c.NATS.Name == "" {
		c.NATS.Name = DefaultNATSName
	}
	for i := range c.Destinations {
		if c.Destinations[i].Channel == "" {
			c.Destinations[i].Channel = "telegram"
		}
		if c.Destinations[i].Name == "" {
			c.Destinations[i].Name = c.Destinations[i].Channel + ":" + c.Destinations[i].Target
		}
	}

	// Dispatch defaults
	if c.Dispatch.Concurrency == 0 {
		c.Dispatch.Concurrency = DefaultDispatchConcurrency
	}
	if c.Dispatch.MaxAttempts == 0 {
		c.Dispatch.MaxAttempts = DefaultMaxAttempts
	}
	if c.Dispatch.BaseBackoff == 0 {
		c.Dispatch.BaseBackoff = DefaultBaseBackoff
	}
	if c.Dispatch.MaxBackoff == 0 {
		c.Dispatch.MaxBackoff = DefaultMaxBackoff
	}
	if c.Dispatch.RateLimitDefault == 0 {
		c.Dispatch.RateLimitDefault = DefaultRateLimitWait
	}
	if c.Dispatch.RateLimitFloor == 0 {
		c.Dispatch.RateLimitFloor = DefaultRateLimitFloor
	}
	if c.Dispatch.RatePerSecond == 0 {
		c.Dispatch.RatePerSecond = DefaultRatePerSecond
	}
	if c.Dispatch.SendTimeout == 0 {
		c.Dispatch.SendTimeout = DefaultSendTimeout
	}

	if c.Shutdown.Grace == 0 {
		c.Shutdown.Grace = DefaultShutdownGrace
	}

	// Store defaults
	if c.Store.Backend == "" {
		c.Store.Backend = DefaultStoreBackend
	}
	applyDBDefaults(&c.Store.Postgres)
	if c.Store.SQLite.Path == "" {
		c.Store.SQLite.Path = DefaultSQLitePath
	}

	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}
	if c.Server.MetricsPath == "" {
		c.Server.MetricsPath = DefaultMetricsPath
	}

	if c.Bot.PollTimeout == 0 {
		c.Bot.PollTimeout = DefaultBotPollTimeout
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
