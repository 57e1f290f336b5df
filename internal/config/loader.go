package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies AFRODEX_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known AFRODEX_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Relayer ──
	setStr(&cfg.Relayer.PrivateKey, "AFRODEX_RELAYER_PRIVATE_KEY")
	setStr(&cfg.Relayer.EncryptedKeyPath, "AFRODEX_RELAYER_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Relayer.KeyPassword, "AFRODEX_RELAYER_KEY_PASSWORD")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "AFRODEX_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "AFRODEX_CHAIN_ID")
	setStr(&cfg.Chain.ExchangeAddress, "AFRODEX_CHAIN_EXCHANGE_ADDRESS")
	setStr(&cfg.Chain.ExchangeABIPath, "AFRODEX_CHAIN_EXCHANGE_ABI_PATH")
	setUint64(&cfg.Chain.GasLimit, "AFRODEX_CHAIN_GAS_LIMIT")
	setDuration(&cfg.Chain.ConfirmTimeout, "AFRODEX_CHAIN_CONFIRM_TIMEOUT")
	setDuration(&cfg.Chain.PollInterval, "AFRODEX_CHAIN_POLL_INTERVAL")
	setStr(&cfg.Chain.ExpiryMode, "AFRODEX_CHAIN_EXPIRY_MODE")

	// ── Matcher ──
	setInt(&cfg.Matcher.CandidateLimit, "AFRODEX_MATCHER_CANDIDATE_LIMIT")
	setBool(&cfg.Matcher.LockCandidates, "AFRODEX_MATCHER_LOCK_CANDIDATES")
	setDuration(&cfg.Matcher.DedupTTL, "AFRODEX_MATCHER_DEDUP_TTL")
	setInt(&cfg.Matcher.OrdersPerMaker, "AFRODEX_MATCHER_ORDERS_PER_MAKER")

	// ── Reconciler ──
	setBool(&cfg.Reconciler.Enabled, "AFRODEX_RECONCILER_ENABLED")
	setDuration(&cfg.Reconciler.Interval, "AFRODEX_RECONCILER_INTERVAL")
	setDuration(&cfg.Reconciler.GracePeriod, "AFRODEX_RECONCILER_GRACE_PERIOD")
	setDuration(&cfg.Reconciler.DropAfter, "AFRODEX_RECONCILER_DROP_AFTER")

	// ── Store ──
	setStr(&cfg.Store.Driver, "AFRODEX_STORE_DRIVER")

	// ── Supabase ──
	setStr(&cfg.Supabase.DSN, "DATABASE_URL") // platform alias
	setStr(&cfg.Supabase.DSN, "AFRODEX_SUPABASE_DSN")
	setStr(&cfg.Supabase.Host, "AFRODEX_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "AFRODEX_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "AFRODEX_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "AFRODEX_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "AFRODEX_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "AFRODEX_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "AFRODEX_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "AFRODEX_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "AFRODEX_SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "AFRODEX_REDIS_ENABLED")
	setStr(&cfg.Redis.URL, "REDIS_URL") // platform alias
	setStr(&cfg.Redis.URL, "AFRODEX_REDIS_URL")
	setStr(&cfg.Redis.Addr, "AFRODEX_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "AFRODEX_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "AFRODEX_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "AFRODEX_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "AFRODEX_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "AFRODEX_REDIS_KEY_PREFIX")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "AFRODEX_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "AFRODEX_S3_REGION")
	setStr(&cfg.S3.Bucket, "AFRODEX_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "AFRODEX_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "AFRODEX_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "AFRODEX_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "AFRODEX_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "AFRODEX_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "AFRODEX_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "AFRODEX_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "AFRODEX_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "PORT") // platform alias
	setInt(&cfg.Server.Port, "AFRODEX_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "AFRODEX_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "AFRODEX_SERVER_API_KEY")
	setStr(&cfg.Server.InternalSecret, "AFRODEX_SERVER_INTERNAL_SECRET")
	setInt(&cfg.Server.RateLimit, "AFRODEX_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "AFRODEX_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "AFRODEX_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "AFRODEX_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "AFRODEX_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "AFRODEX_MODE")
	setStr(&cfg.LogLevel, "AFRODEX_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
