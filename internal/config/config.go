// Package config defines the steambot configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration. Fields come from a TOML file and may be
// overridden by STEAMBOT_* environment variables.
type Config struct {
	Steam    SteamConfig    `toml:"steam"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Importer ImporterConfig `toml:"importer"`
	Analyzer AnalyzerConfig `toml:"analyzer"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// SteamConfig holds Steam Community client settings.
type SteamConfig struct {
	BaseURL   string   `toml:"base_url"`
	Cookie    string   `toml:"cookie"`
	UserAgent string   `toml:"user_agent"`
	Country   string   `toml:"country"`
	Language  string   `toml:"language"`
	Timeout   duration `toml:"timeout"`
	// RequestsPerMinute caps the request rate across every worker.
	RequestsPerMinute int `toml:"requests_per_minute"`
}

// PostgresConfig holds PostgreSQL connection parameters. DSN wins over the
// individual fields when set.
type PostgresConfig struct {
	DSN             string   `toml:"dsn"`
	Host            string   `toml:"host"`
	Port            int      `toml:"port"`
	Database        string   `toml:"database"`
	User            string   `toml:"user"`
	Password        string   `toml:"password"`
	SSLMode         string   `toml:"ssl_mode"`
	PoolMaxConns    int      `toml:"pool_max_conns"`
	PoolMinConns    int      `toml:"pool_min_conns"`
	MaxConnLifetime duration `toml:"max_conn_lifetime"`
	RunMigrations   bool     `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. With Enabled false the
// process runs single-instance: in-memory rate limiting, no lease, cache or
// event stream.
type RedisConfig struct {
	Enabled      bool     `toml:"enabled"`
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	ResultTTL    duration `toml:"result_ttl"`
	LeaseTTL     duration `toml:"lease_ttl"`
	StreamMaxLen int      `toml:"stream_max_len"`
}

// S3Config holds object-storage settings for the raw dump archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ImporterConfig controls batch imports.
type ImporterConfig struct {
	Workers  int      `toml:"workers"`
	Interval duration `toml:"interval"`
	// Currencies are Steam wallet currency codes; every tracked item is
	// imported once per currency.
	Currencies []int `toml:"currencies"`
}

// AnalyzerConfig holds the recommendation thresholds.
type AnalyzerConfig struct {
	MinDailySales int     `toml:"min_daily_sales"`
	MinDeviation  float64 `toml:"min_deviation"`
	MaxDeviation  float64 `toml:"max_deviation"`
	ReferenceSize int     `toml:"reference_size"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds chat notification settings.
type NotifyConfig struct {
	TelegramAPIURL    string   `toml:"telegram_api_url"`
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration decodes TOML strings such as "30s" or "1h".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config suitable for local development.
func Defaults() Config {
	return Config{
		Steam: SteamConfig{
			BaseURL:           "https://steamcommunity.com",
			Country:           "US",
			Language:          "english",
			Timeout:           duration{30 * time.Second},
			RequestsPerMinute: 20,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "steambot",
			User:            "postgres",
			SSLMode:         "disable",
			PoolMaxConns:    10,
			PoolMinConns:    2,
			MaxConnLifetime: duration{time.Hour},
			RunMigrations:   true,
		},
		Redis: RedisConfig{
			Enabled:      true,
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			ResultTTL:    duration{6 * time.Hour},
			LeaseTTL:     duration{2 * time.Minute},
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "steambot-dumps",
			Prefix:         "dumps",
			ForcePathStyle: true,
		},
		Importer: ImporterConfig{
			Workers:    4,
			Interval:   duration{time.Hour},
			Currencies: []int{1},
		},
		Analyzer: AnalyzerConfig{
			MinDailySales: 5,
			MinDeviation:  -0.15,
			MaxDeviation:  0.15,
			ReferenceSize: 20,
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"recommended", "import_failed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"once":   true,
	"daemon": true,
	"server": true,
	"full":   true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: once, daemon, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Steam.BaseURL == "" {
		errs = append(errs, "steam: base_url must not be empty")
	}
	if c.Steam.RequestsPerMinute < 1 {
		errs = append(errs, "steam: requests_per_minute must be >= 1")
	}

	if c.Postgres.DSN == "" && (c.Postgres.Host == "" || c.Postgres.Database == "") {
		errs = append(errs, "postgres: dsn or host and database are required")
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	if c.Importer.Workers < 1 {
		errs = append(errs, "importer: workers must be >= 1")
	}
	if c.Importer.Interval.Duration < time.Minute {
		errs = append(errs, "importer: interval must be at least 1m")
	}
	if len(c.Importer.Currencies) == 0 {
		errs = append(errs, "importer: at least one currency is required")
	}
	for _, cur := range c.Importer.Currencies {
		if cur < 1 {
			errs = append(errs, fmt.Sprintf("importer: invalid currency code %d", cur))
		}
	}

	if c.Analyzer.MinDailySales < 0 {
		errs = append(errs, "analyzer: min_daily_sales must be >= 0")
	}
	if c.Analyzer.MinDeviation > c.Analyzer.MaxDeviation {
		errs = append(errs, "analyzer: min_deviation must not exceed max_deviation")
	}
	if c.Analyzer.ReferenceSize < 1 {
		errs = append(errs, "analyzer: reference_size must be >= 1")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
