// Package config defines the matcher's configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by AFRODEX_* environment variables.
type Config struct {
	Relayer    RelayerConfig    `toml:"relayer"`
	Chain      ChainConfig      `toml:"chain"`
	Matcher    MatcherConfig    `toml:"matcher"`
	Reconciler ReconcilerConfig `toml:"reconciler"`
	Store      StoreConfig      `toml:"store"`
	Supabase   SupabaseConfig   `toml:"supabase"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Archive    ArchiveConfig    `toml:"archive"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// RelayerConfig holds the key that signs settlement transactions.
type RelayerConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ChainConfig describes the node and the exchange contract.
type ChainConfig struct {
	RPCURL          string   `toml:"rpc_url"`
	ChainID         int64    `toml:"chain_id"`
	ExchangeAddress string   `toml:"exchange_address"`
	ExchangeABIPath string   `toml:"exchange_abi_path"`
	GasLimit        uint64   `toml:"gas_limit"`
	ConfirmTimeout  duration `toml:"confirm_timeout"`
	PollInterval    duration `toml:"poll_interval"`
	// ExpiryMode is "timestamp" (unix seconds) or "block" (block number).
	ExpiryMode string `toml:"expiry_mode"`
}

type MatcherConfig struct {
	CandidateLimit int      `toml:"candidate_limit"`
	LockCandidates bool     `toml:"lock_candidates"`
	LockTTL        duration `toml:"lock_ttl"`
	DedupTTL       duration `toml:"dedup_ttl"`
	// OrdersPerMaker and OrderWindow bound order submissions per maker.
	OrdersPerMaker int      `toml:"orders_per_maker"`
	OrderWindow    duration `toml:"order_window"`
}

type ReconcilerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Interval    duration `toml:"interval"`
	GracePeriod duration `toml:"grace_period"`
	DropAfter   duration `toml:"drop_after"`
	BatchSize   int      `toml:"batch_size"`
}

// StoreConfig picks the persistence backend: "postgres" or "memory".
type StoreConfig struct {
	Driver string `toml:"driver"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. URL wins over Addr.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	URL        string   `toml:"url"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	KeyPrefix  string   `toml:"key_prefix"`
	BookTTL    duration `toml:"book_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	RetentionDays int      `toml:"retention_days"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey guards public write routes when set.
	APIKey string `toml:"api_key"`
	// InternalSecret signs calls to /api/match.
	InternalSecret string   `toml:"internal_secret"`
	RateLimit      int      `toml:"rate_limit"`
	RateWindow     duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	Cooldown          duration `toml:"cooldown"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			GasLimit:       500_000,
			ConfirmTimeout: duration{120 * time.Second},
			PollInterval:   duration{2 * time.Second},
			ExpiryMode:     "timestamp",
		},
		Matcher: MatcherConfig{
			CandidateLimit: 20,
			LockCandidates: true,
			LockTTL:        duration{3 * time.Minute},
			DedupTTL:       duration{5 * time.Minute},
			OrdersPerMaker: 10,
			OrderWindow:    duration{time.Second},
		},
		Reconciler: ReconcilerConfig{
			Enabled:     true,
			Interval:    duration{time.Minute},
			GracePeriod: duration{150 * time.Second},
			DropAfter:   duration{time.Hour},
			BatchSize:   100,
		},
		Store: StoreConfig{Driver: "postgres"},
		Supabase: SupabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "afrodex",
			BookTTL:    duration{5 * time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "afrodex-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Interval:      duration{24 * time.Hour},
			RetentionDays: 90,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   60,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events:   []string{"settlement_timeout", "commit_failed", "settlement_dropped"},
			Cooldown: duration{5 * time.Minute},
		},
		Mode:     "relayer",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"relayer":   true,
	"reconcile": true,
	"archive":   true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
//
// Relayer and chain settings are optional: without them the matcher still
// serves reads and every match attempt fails fast.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: relayer, reconcile, archive)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Relayer.EncryptedKeyPath != "" && c.Relayer.KeyPassword == "" {
		errs = append(errs, "relayer: key_password is required when encrypted_key_path is set")
	}
	switch c.Chain.ExpiryMode {
	case "timestamp", "block":
	default:
		errs = append(errs, fmt.Sprintf("chain: expiry_mode must be timestamp or block, got %q", c.Chain.ExpiryMode))
	}
	if c.Chain.PollInterval.Duration <= 0 || c.Chain.ConfirmTimeout.Duration <= c.Chain.PollInterval.Duration {
		errs = append(errs, "chain: confirm_timeout must exceed a positive poll_interval")
	}

	if c.Matcher.CandidateLimit < 1 {
		errs = append(errs, "matcher: candidate_limit must be >= 1")
	}
	if c.Matcher.LockCandidates && !c.Redis.Enabled {
		errs = append(errs, "matcher: lock_candidates requires redis.enabled")
	}

	if c.Reconciler.Enabled && c.Reconciler.GracePeriod.Duration < c.Chain.ConfirmTimeout.Duration {
		errs = append(errs, "reconciler: grace_period must be at least chain.confirm_timeout")
	}

	switch c.Store.Driver {
	case "postgres":
		if strings.TrimSpace(c.Supabase.DSN) == "" {
			if c.Supabase.Host == "" {
				errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
			}
			if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
				errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
			}
			if c.Supabase.Database == "" {
				errs = append(errs, "supabase: database must not be empty")
			}
		}
		if c.Supabase.PoolMaxConns < 1 {
			errs = append(errs, "supabase: pool_max_conns must be >= 1")
		}
		if c.Supabase.PoolMinConns < 0 || c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
			errs = append(errs, "supabase: pool_min_conns must be between 0 and pool_max_conns")
		}
	case "memory":
		if c.Mode == "archive" {
			errs = append(errs, "store: archive mode needs the postgres driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("store: unknown driver %q (valid: postgres, memory)", c.Store.Driver))
	}

	if c.Redis.Enabled {
		if c.Redis.URL == "" && c.Redis.Addr == "" {
			errs = append(errs, "redis: url or addr must be set")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.Archive.Enabled || c.Mode == "archive" {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
