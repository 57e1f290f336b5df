package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/AceBoss1/afrodex-exchange/internal/crypto"
	"github.com/AceBoss1/afrodex-exchange/internal/domain"
	"github.com/AceBoss1/afrodex-exchange/internal/server/handler"
	"github.com/AceBoss1/afrodex-exchange/internal/server/middleware"
	"github.com/AceBoss1/afrodex-exchange/internal/server/ws"
)

// signatureMaxAge bounds clock skew for HMAC-signed internal requests.
const signatureMaxAge = 5 * time.Minute

const (
	minWriteTimeout = 3 * time.Minute
	// writeMargin covers the matching and broadcast work around the receipt wait.
	writeMargin = time.Minute
)

// Config holds the HTTP server configuration.
type Config struct {
	Port           int
	CORSOrigins    []string
	APIKey         string // if empty, order submission is open
	InternalSecret string // if empty, /api/match is disabled
	RateLimit      int
	RateWindow     time.Duration
	// ConfirmTimeout is how long a settlement may wait for its receipt.
	// Responses that run a match are allowed at least this long plus a margin.
	ConfirmTimeout time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Orders    *handler.OrderHandler
	Match     *handler.MatchHandler
	OrderBook *handler.OrderBookHandler
	Metrics   http.Handler
}

// Server is the matcher's HTTP + WebSocket API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in CORS, request
// logging and per-IP rate limiting. Writes need the API key; /api/match
// needs an HMAC signature instead. limiter, wsHub and handlers.Metrics may
// be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	auth := middleware.Auth(cfg.APIKey)

	var signer *crypto.RequestSigner
	if cfg.InternalSecret != "" {
		signer = crypto.NewRequestSigner(cfg.InternalSecret, signatureMaxAge)
	}

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.HandleFunc("GET /api/orderbook", handlers.OrderBook.GetOrderBook)
	mux.HandleFunc("GET /api/orders/{id}", handlers.Orders.GetOrder)
	mux.Handle("GET /api/orders/{id}/fills", auth(http.HandlerFunc(handlers.Orders.GetOrderFills)))
	mux.HandleFunc("POST /api/orders/hash", handlers.Orders.HashOrder)
	mux.Handle("POST /api/orders", auth(http.HandlerFunc(handlers.Orders.SubmitOrder)))

	mux.Handle("POST /api/match", middleware.Signed(signer, logger)(http.HandlerFunc(handlers.Match.Match)))

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}
	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}

	var h http.Handler = mux
	h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			// Order submission waits for settlement confirmation.
			WriteTimeout: writeTimeout(cfg.ConfirmTimeout),
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

func writeTimeout(confirm time.Duration) time.Duration {
	return max(minWriteTimeout, confirm+writeMargin)
}

// Handler exposes the full middleware chain, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
