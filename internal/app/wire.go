package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	s3blob "github.com/AceBoss1/afrodex-exchange/internal/blob/s3"
	"github.com/AceBoss1/afrodex-exchange/internal/cache/redis"
	"github.com/AceBoss1/afrodex-exchange/internal/config"
	"github.com/AceBoss1/afrodex-exchange/internal/crypto"
	"github.com/AceBoss1/afrodex-exchange/internal/domain"
	"github.com/AceBoss1/afrodex-exchange/internal/matching"
	"github.com/AceBoss1/afrodex-exchange/internal/metrics"
	"github.com/AceBoss1/afrodex-exchange/internal/notify"
	"github.com/AceBoss1/afrodex-exchange/internal/server/handler"
	"github.com/AceBoss1/afrodex-exchange/internal/service"
	"github.com/AceBoss1/afrodex-exchange/internal/settlement"
	"github.com/AceBoss1/afrodex-exchange/internal/store/memory"
	"github.com/AceBoss1/afrodex-exchange/internal/store/postgres"
)

// orderStore is an order store the archiver can also read history from.
type orderStore interface {
	domain.OrderStore
	s3blob.FilledOrderLister
}

type settlementJournal interface {
	domain.SettlementJournal
	s3blob.ResolvedSettlementLister
}

// Dependencies bundles everything the modes need. It is built by Wire and
// torn down by the returned cleanup function.
type Dependencies struct {
	Orders  orderStore
	Journal settlementJournal
	Audit   domain.AuditStore

	// Redis-backed; nil when redis.enabled is false.
	Redis       *redis.Client
	BookCache   domain.BookCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   *redis.SignalBus

	// Chain is nil when settlement could not be configured.
	Chain     *ethclient.Client
	Submitter *settlement.Submitter

	Archiver domain.Archiver
	Notifier *notify.Notifier
	Metrics  *metrics.Metrics

	Checks map[string]handler.Check
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(format string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf(format, err)
	}

	deps := &Dependencies{
		Metrics: metrics.New(),
		Checks:  make(map[string]handler.Check),
	}

	// --- Order store and settlement journal ---
	switch cfg.Store.Driver {
	case "memory":
		logger.WarnContext(ctx, "using in-memory store; orders are lost on restart")
		deps.Orders = memory.NewOrderStore()
		deps.Journal = memory.NewSettlementJournal()
		deps.Audit = memory.NewAuditStore()
		deps.Checks["store"] = func(context.Context) error { return nil }
	default:
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:             cfg.Supabase.DSN,
			Host:            cfg.Supabase.Host,
			Port:            cfg.Supabase.Port,
			Database:        cfg.Supabase.Database,
			User:            cfg.Supabase.User,
			Password:        cfg.Supabase.Password,
			SSLMode:         cfg.Supabase.SSLMode,
			MaxConns:        cfg.Supabase.PoolMaxConns,
			MinConns:        cfg.Supabase.PoolMinConns,
			ApplicationName: "afrodex-" + cfg.Mode,
		})
		if err != nil {
			return fail("wire: postgres: %w", err)
		}
		closers = append(closers, pg.Close)

		if cfg.Supabase.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail("wire: postgres migrations: %w", err)
			}
		}
		pool := pg.Pool()
		deps.Orders = postgres.NewOrderStore(pool)
		deps.Journal = postgres.NewSettlementStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Checks["store"] = pg.Ping
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			URL:        cfg.Redis.URL,
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = rc.Close() })

		deps.Redis = rc
		deps.BookCache = redis.NewBookCache(rc, cfg.Redis.BookTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(rc)
		deps.LockManager = redis.NewLockManager(rc)
		deps.SignalBus = redis.NewSignalBus(rc)
		deps.Checks["redis"] = rc.Ping
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, cfg.Notify.Cooldown.Duration, logger)

	// --- Settlement ---
	// Archive mode never touches the chain.
	if cfg.Mode != "archive" {
		sub, client := settlement.Connect(ctx, settlementConfig(cfg), crypto.KeySource{
			RawPrivateKey:    cfg.Relayer.PrivateKey,
			EncryptedKeyPath: cfg.Relayer.EncryptedKeyPath,
			KeyPassword:      cfg.Relayer.KeyPassword,
		}, deps.Journal, logger)
		deps.Submitter = sub
		if client != nil {
			deps.Chain = client
			closers = append(closers, client.Close)
			deps.Checks["chain"] = func(ctx context.Context) error {
				_, err := client.BlockNumber(ctx)
				return err
			}
		}
		deps.Checks["settlement"] = func(context.Context) error { return sub.Ready() }
	}

	// --- S3 archive ---
	if cfg.Archive.Enabled || cfg.Mode == "archive" {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(sc),
			s3blob.NewChecker(sc),
			deps.Orders,
			deps.Journal,
			deps.Audit,
			logger,
		)
	}

	return deps, cleanup, nil
}

func settlementConfig(cfg *config.Config) settlement.Config {
	return settlement.Config{
		RPCURL:          cfg.Chain.RPCURL,
		ChainID:         cfg.Chain.ChainID,
		ExchangeAddress: cfg.Chain.ExchangeAddress,
		ExchangeABIPath: cfg.Chain.ExchangeABIPath,
		GasLimit:        cfg.Chain.GasLimit,
		ConfirmTimeout:  cfg.Chain.ConfirmTimeout.Duration,
		PollInterval:    cfg.Chain.PollInterval.Duration,
	}
}

// Services are the request-path components built on top of Dependencies.
type Services struct {
	Matches *service.MatchService
	Orders  *service.OrderService
	Book    *service.BookService
}

// BuildServices assembles the matcher, match orchestrator and order intake.
func BuildServices(cfg *config.Config, deps *Dependencies, logger *slog.Logger) (*Services, error) {
	var chain matching.BlockNumberReader
	if deps.Chain != nil {
		chain = deps.Chain
	}
	clock, err := matching.ClockFor(cfg.Chain.ExpiryMode, chain)
	if err != nil {
		return nil, fmt.Errorf("app: expiry clock: %w", err)
	}

	var locks domain.LockManager
	if cfg.Matcher.LockCandidates {
		locks = deps.LockManager
	}
	matcher := matching.New(deps.Orders, clock, locks, matching.Config{
		CandidateLimit: cfg.Matcher.CandidateLimit,
		LockCandidates: cfg.Matcher.LockCandidates,
		LockTTL:        cfg.Matcher.LockTTL.Duration,
	}, logger)

	// Optional collaborators are only set when present so nil concrete
	// pointers never end up inside non-nil interfaces.
	matches := service.NewMatchService(matcher, deps.Submitter, deps.Orders, deps.Journal, logger).
		WithAudit(deps.Audit).
		WithAlerter(deps.Notifier).
		WithDedup(service.NewDedup(cfg.Matcher.DedupTTL.Duration)).
		WithMetrics(deps.Metrics)

	var (
		bus     domain.SignalBus
		book    domain.BookCache
		limiter domain.RateLimiter
	)
	if deps.SignalBus != nil {
		bus = deps.SignalBus
		matches.WithEvents(bus)
	}
	if deps.BookCache != nil {
		book = deps.BookCache
		matches.WithBookCache(book)
	}
	if deps.RateLimiter != nil {
		limiter = deps.RateLimiter
	}

	orders := service.NewOrderService(deps.Orders, matches, limiter, service.OrderLimits{
		PerMaker: cfg.Matcher.OrdersPerMaker,
		Window:   cfg.Matcher.OrderWindow.Duration,
	}, bus, deps.Audit, book, logger).WithMetrics(deps.Metrics)
	if deps.Submitter != nil {
		orders.WithFillReader(deps.Submitter)
	}

	return &Services{
		Matches: matches,
		Orders:  orders,
		Book:    service.NewBookService(deps.Orders, book, logger),
	}, nil
}

// archiveCutoff is midnight UTC retentionDays before now.
func archiveCutoff(now time.Time, retentionDays int) time.Time {
	day := now.UTC().Truncate(24 * time.Hour)
	return day.AddDate(0, 0, -retentionDays)
}
