package config

import "time"

// Config is the root configuration for a watcher instance.
type Config struct {
	Instance     InstanceConfig        `yaml:"instance"`
	Log          LogConfig             `yaml:"log"`
	API          APIConfig             `yaml:"api"`
	Instruments  []string              `yaml:"instruments"`
	MetricFields map[string]string     `yaml:"metric_fields"` // metric name -> CoinGlass field
	Rules        map[string]RuleConfig `yaml:"rules"`         // keyed by metric name
	Poll         PollConfig            `yaml:"poll"`
	Fetcher      FetcherConfig         `yaml:"fetcher"`
	Telegram     TelegramConfig        `yaml:"telegram"`
	NATS         NATSConfig            `yaml:"nats"`
	Destinations []DestinationConfig   `yaml:"destinations"`
	Dispatch     DispatchConfig        `yaml:"dispatch"`
	Shutdown     ShutdownConfig        `yaml:"shutdown"`
	Store        StoreConfig           `yaml:"store"`
	Server       ServerConfig          `yaml:"server"`
	Bot          BotConfig             `yaml:"bot"`
}

// InstanceConfig identifies this watcher.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// LogConfig holds slog settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// APIConfig holds CoinGlass API settings.
type APIConfig struct {
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"` // Sent as CG-API-KEY
	ProxyURL     string        `yaml:"proxy_url"`
	Timeout      time.Duration `yaml:"timeout"` // Per attempt
	MaxRetries   *int          `yaml:"max_retries"` // nil means DefaultMaxRetries; 0 disables retries
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// Retries returns the configured retry count.
func (c APIConfig) Retries() int {
	if c.MaxRetries == nil {
		return DefaultMaxRetries
	}
	return *c.MaxRetries
}

// RuleConfig holds alert thresholds for one metric.
// A zero threshold disables that kind of comparison.
type RuleConfig struct {
	Absolute            float64       `yaml:"absolute"`
	RelativePct         float64       `yaml:"relative_pct"`
	CriticalAbsolute    float64       `yaml:"critical_absolute"`
	CriticalRelativePct float64       `yaml:"critical_relative_pct"`
	Direction           string        `yaml:"direction"` // both, up, down
	Cooldown            time.Duration `yaml:"cooldown"`
}

// PollConfig holds scheduler settings.
type PollConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// FetcherConfig holds fetch worker pool settings.
type FetcherConfig struct {
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"` // Per instrument, across retries
}

// TelegramConfig holds Bot API settings.
type TelegramConfig struct {
	Token   string        `yaml:"token"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// NATSConfig holds the optional NATS sink connection.
type NATSConfig struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

// DestinationConfig is one place alerts are delivered to.
type DestinationConfig struct {
	Name    string `yaml:"name"`
	Channel string `yaml:"channel"` // telegram, nats
	Target  string `yaml:"target"`  // chat id / @channel, or NATS subject
}

// DispatchConfig holds delivery retry and concurrency settings.
type DispatchConfig struct {
	Concurrency      int           `yaml:"concurrency"`
	MaxAttempts      int           `yaml:"max_attempts"`
	BaseBackoff      time.Duration `yaml:"base_backoff"`
	MaxBackoff       time.Duration `yaml:"max_backoff"`
	RateLimitDefault time.Duration `yaml:"rate_limit_default"` // When the channel gives no retry_after
	RateLimitFloor   time.Duration `yaml:"rate_limit_floor"`
	RatePerSecond    float64       `yaml:"rate_per_second"` // 0 disables pacing
	SendTimeout      time.Duration `yaml:"send_timeout"`
}

// ShutdownConfig holds graceful shutdown settings.
type ShutdownConfig struct {
	Grace time.Duration `yaml:"grace"`
}

// StoreConfig selects the persistence backend for snapshots and cooldowns.
type StoreConfig struct {
	Backend  string       `yaml:"backend"` // memory, postgres, sqlite
	Postgres DBConfig     `yaml:"postgres"`
	SQLite   SQLiteConfig `yaml:"sqlite"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// SQLiteConfig holds the SQLite file location.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig holds the health/metrics HTTP server settings.
type ServerConfig struct {
	Port        int    `yaml:"port"`
	MetricsPath string `yaml:"metrics_path"`
	Disabled    bool   `yaml:"disabled"`
}

// BotConfig holds the Telegram command listener settings.
type BotConfig struct {
	Enabled      bool          `yaml:"enabled"`
	AllowedChats []int64       `yaml:"allowed_chats"`
	PollTimeout  time.Duration `yaml:"poll_timeout"`
}
