package config

import (
	"fmt"
	"net/url"
	"sort"
)

// ConfigError reports an invalid configuration field. It is only produced at
// startup and is fatal.
type ConfigError struct {
	Field  string // Dotted path, e.g. "rules.open_interest.direction"
	Reason string
}

func (e *ConfigError) Error() string {
	return e.Field + " " + e.Reason
}

func configErr(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return configErr("instance.id", "is required")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return configErr("log.level", "must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return configErr("log.format", "must be text or json, got %q", c.Log.Format)
	}

	if _, err := url.ParseRequestURI(c.API.BaseURL); err != nil {
		return configErr("api.base_url", "is not a valid URL: %v", err)
	}
	if c.API.ProxyURL != "" {
		if _, err := url.Parse(c.API.ProxyURL); err != nil {
			return configErr("api.proxy_url", "is not a valid URL: %v", err)
		}
	}
	if c.API.Retries() < 0 {
		return configErr("api.max_retries", "must be >= 0")
	}

	if len(c.Instruments) == 0 {
		return configErr("instruments", "must list at least one instrument")
	}
	seen := make(map[string]bool, len(c.Instruments))
	for i, inst := range c.Instruments {
		if inst == "" {
			return configErr(fmt.Sprintf("instruments[%d]", i), "is empty")
		}
		if seen[inst] {
			return configErr(fmt.Sprintf("instruments[%d]", i), "duplicates %q", inst)
		}
		seen[inst] = true
	}

	if err := c.validateRules(); err != nil {
		return err
	}

	if c.Poll.Interval <= 0 {
		return configErr("poll.interval", "must be > 0")
	}
	if c.Fetcher.Concurrency < 1 {
		return configErr("fetcher.concurrency", "must be >= 1")
	}

	if err := c.validateDestinations(); err != nil {
		return err
	}

	if c.Dispatch.Concurrency < 1 {
		return configErr("dispatch.concurrency", "must be >= 1")
	}
	if c.Dispatch.MaxAttempts < 1 {
		return configErr("dispatch.max_attempts", "must be >= 1")
	}
	if c.Dispatch.MaxBackoff < c.Dispatch.BaseBackoff {
		return configErr("dispatch.max_backoff", "(%s) cannot be less than base_backoff (%s)", c.Dispatch.MaxBackoff, c.Dispatch.BaseBackoff)
	}
	if c.Dispatch.RatePerSecond < 0 {
		return configErr("dispatch.rate_per_second", "must be >= 0")
	}
	if c.Shutdown.Grace < 0 {
		return configErr("shutdown.grace", "must be >= 0")
	}

	switch c.Store.Backend {
	case "memory":
	case "postgres":
		if err := c.Store.Postgres.validate("store.postgres"); err != nil {
			return err
		}
	case "sqlite":
		if c.Store.SQLite.Path == "" {
			return configErr("store.sqlite.path", "is required")
		}
	default:
		return configErr("store.backend", "must be memory, postgres or sqlite, got %q", c.Store.Backend)
	}

	if !c.Server.Disabled && (c.Server.Port < 1 || c.Server.Port > 65535) {
		return configErr("server.port", "must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Bot.Enabled && c.Telegram.Token == "" {
		return configErr("telegram.token", "is required when bot.enabled is set")
	}

	return nil
}

func (c *Config) validateRules() error {
	if len(c.Rules) == 0 {
		return configErr("rules", "must define at least one metric rule")
	}

	names := make([]string, 0, len(c.Rules))
	for name := range c.Rules {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		r := c.Rules[name]
		prefix := "rules." + name
		if _, ok := c.MetricFields[name]; !ok {
			return configErr(prefix, "has no entry in metric_fields")
		}
		if r.Absolute < 0 || r.RelativePct < 0 || r.CriticalAbsolute < 0 || r.CriticalRelativePct < 0 {
			return configErr(prefix, "thresholds must be >= 0")
		}
		if r.Absolute == 0 && r.RelativePct == 0 {
			return configErr(prefix, "needs an absolute or relative_pct threshold")
		}
		switch r.Direction {
		case "both", "up", "down":
		default:
			return configErr(prefix+".direction", "must be both, up or down, got %q", r.Direction)
		}
		if r.Cooldown < 0 {
			return configErr(prefix+".cooldown", "must be >= 0")
		}
	}
	return nil
}

func (c *Config) validateDestinations() error {
	if len(c.Destinations) == 0 {
		return configErr("destinations", "must list at least one destination")
	}

	names := make(map[string]bool, len(c.Destinations))
	for i, d := range c.Destinations {
		prefix := fmt.Sprintf("destinations[%d]", i)
		if d.Target == "" {
			return configErr(prefix+".target", "is required")
		}
		if names[d.Name] {
			return configErr(prefix+".name", "duplicates %q", d.Name)
		}
		names[d.Name] = true

		switch d.Channel {
		case "telegram":
			if c.Telegram.Token == "" {
				return configErr("telegram.token", "is required for telegram destinations")
			}
		case "nats":
			if c.NATS.URL == "" {
				return configErr("nats.url", "is required for nats destinations")
			}
		default:
			return configErr(prefix+".channel", "must be telegram or nats, got %q", d.Channel)
		}
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return configErr(prefix+".host", "is required")
	}
	if db.Name == "" {
		return configErr(prefix+".name", "is required")
	}
	if db.User == "" {
		return configErr(prefix+".user", "is required")
	}
	if db.Password == "" {
		return configErr(prefix+".password", "is required")
	}
	if db.MaxConns < 1 {
		return configErr(prefix+".max_conns", "must be >= 1")
	}
	if db.MinConns < 0 {
		return configErr(prefix+".min_conns", "must be >= 0")
	}
	if db.MinConns > db.MaxConns {
		return configErr(prefix+".min_conns", "(%d) cannot exceed max_conns (%d)", db.MinConns, db.MaxConns)
	}
	return nil
}
