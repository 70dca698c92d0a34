// Package server assembles the HTTP surface: storage selection, the escrow
// service, the ledger aggregator, the realtime hub and every route.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/tianguisdev/tianguis/internal/config"
	"github.com/tianguisdev/tianguis/internal/coupons"
	"github.com/tianguisdev/tianguis/internal/escrow"
	"github.com/tianguisdev/tianguis/internal/idgen"
	"github.com/tianguisdev/tianguis/internal/ledger"
	"github.com/tianguisdev/tianguis/internal/logging"
	"github.com/tianguisdev/tianguis/internal/metrics"
	"github.com/tianguisdev/tianguis/internal/payments"
	"github.com/tianguisdev/tianguis/internal/ratelimit"
	"github.com/tianguisdev/tianguis/internal/realtime"
	"github.com/tianguisdev/tianguis/internal/security"
	"github.com/tianguisdev/tianguis/internal/tickets"
	"github.com/tianguisdev/tianguis/internal/traces"
	"github.com/tianguisdev/tianguis/internal/validation"
)

// Server owns the engine's wiring and lifecycle.
type Server struct {
	cfg           *config.Config
	escrowService *escrow.Service
	escrowStore   escrow.Store
	sweeper       *escrow.Sweeper
	aggregator    *ledger.Aggregator
	realtimeHub   *realtime.Hub
	db            *sql.DB // nil unless using PostgreSQL
	router        *gin.Engine
	httpSrv       *http.Server
	logger        *slog.Logger
	tracesDown    func(context.Context) error
	unsubscribe   func()
	cancelRunCtx  context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option adjusts a Server during New.
type Option func(*Server)

// WithLogger replaces the logger built from config.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithStore injects an escrow store, bypassing storage selection. Tests use
// this to run against a prepared store.
func WithStore(store escrow.Store) Option {
	return func(s *Server) {
		s.escrowStore = store
	}
}

// New wires every component from config. The server is not listening yet;
// Run does that.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
	}

	for _, opt := range opts {
		opt(s)
	}

	// Storage: PostgreSQL when configured, then the device-local JSON blob,
	// then plain memory.
	if s.escrowStore == nil {
		switch {
		case cfg.DatabaseURL != "":
			db, err := sql.Open("postgres", cfg.DatabaseURL)
			if err != nil {
				return nil, fmt.Errorf("failed to open database: %w", err)
			}
			db.SetMaxOpenConns(25)
			db.SetMaxIdleConns(5)
			db.SetConnMaxLifetime(5 * time.Minute)
			if err := db.Ping(); err != nil {
				return nil, fmt.Errorf("failed to connect to database: %w", err)
			}
			s.db = db
			s.escrowStore = escrow.NewPostgresStore(db)
			s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		case cfg.DataFile != "":
			fs, err := escrow.NewFileStore(cfg.DataFile, s.logger)
			if err != nil {
				return nil, fmt.Errorf("failed to open data file: %w", err)
			}
			s.escrowStore = fs
			s.logger.Info("using file storage", "path", cfg.DataFile)

		default:
			s.escrowStore = escrow.NewMemoryStore()
			s.logger.Warn("using in-memory storage, data will not persist")
		}
	}

	s.escrowService = escrow.NewService(s.escrowStore, s.logger).WithWindowHours(cfg.WindowHours)

	if cfg.SweepInterval > 0 {
		s.sweeper = escrow.NewSweeper(
			s.escrowService,
			s.escrowStore,
			time.Duration(cfg.SweepInterval)*time.Minute,
			time.Duration(cfg.SweepGrace)*time.Hour,
			s.logger,
		)
	}

	// Peer ledgers feeding the unified view. Seeded in-process stores stand
	// in for the real sources, which live outside this core.
	paymentStore := payments.NewStore(payments.Seed())
	couponStore := coupons.NewStore(coupons.Seed())
	ticketStore := tickets.NewStore(tickets.Seed())
	s.aggregator = ledger.NewAggregator(s.escrowService, paymentStore, couponStore, ticketStore)

	s.realtimeHub = realtime.NewHub(s.logger)
	s.unsubscribe = s.escrowService.Subscribe(s.realtimeHub.NotifyEscrowChanged)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s, nil
}

// Middleware order matters: recovery outermost, then hardening, then the
// request-scoped context the handlers log through.
func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())
	// TODO: take CORS origins from config once the web client's domains settle.
	s.router.Use(security.CORSMiddleware([]string{"*"}))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Per-actor throttling, opt-in via RATE_LIMIT_PER_MINUTE
	if s.cfg.RateLimitPerMin > 0 {
		limCfg := ratelimit.DefaultConfig()
		limCfg.PerMinute = s.cfg.RateLimitPerMin
		s.router.Use(ratelimit.New(limCfg).Middleware())
	}

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

// requestIDMiddleware honors an upstream X-Request-ID or mints one, then
// seeds the request context so logging.L carries it everywhere downstream.
func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = idgen.Hex(8)
		}

		ctx := logging.WithRequestID(c.Request.Context(), id)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Request-ID", id)

		c.Next()
	}
}

// loggingMiddleware logs one line per request, severity chosen by status
// class. Server errors also record the client IP.
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
		}

		logger := logging.L(c.Request.Context())
		switch {
		case status >= 500:
			attrs = append(attrs, "client_ip", c.ClientIP())
			logger.Error("request completed", attrs...)
		case status >= 400:
			logger.Warn("request completed", attrs...)
		default:
			logger.Info("request completed", attrs...)
		}
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	v1 := s.router.Group("/v1")

	escrowHandler := escrow.NewHandler(s.escrowService)
	escrowHandler.RegisterRoutes(v1)

	// The adjudication and write-off paths sit behind a separate group so an
	// upstream gateway can gate them independently.
	admin := v1.Group("/admin")
	escrowHandler.RegisterAdminRoutes(admin)

	ledgerHandler := ledger.NewHandler(s.aggregator)
	ledgerHandler.RegisterRoutes(v1)
}

func (s *Server) healthHandler(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{
		"status":  "ok",
		"env":     s.cfg.Env,
		"storage": s.storageKind(),
	}

	if s.db != nil {
		if err := s.db.Ping(); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["database"] = err.Error()
		}
	}
	if s.escrowService.Dirty() {
		body["dirty"] = true
	}

	c.JSON(status, body)
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) storageKind() string {
	switch {
	case s.db != nil:
		return "postgres"
	case s.cfg.DataFile != "":
		return "file"
	default:
		return "memory"
	}
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run starts listening and blocks until a shutdown signal, a cancelled
// context, or a listener failure, then shuts everything down.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	down, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	s.tracesDown = down

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "storage", s.storageKind())
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)

	if s.sweeper != nil {
		go s.sweeper.Start(runCtx)
	}

	// Flip readiness once the listener has had a moment to come up.
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown drains the listener, stops the background loops and flushes any
// pending durable write before the process goes away.
func (s *Server) Shutdown() error {
	s.ready.Store(false)

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}
	if s.sweeper != nil {
		s.sweeper.Stop()
	}
	if s.unsubscribe != nil {
		s.unsubscribe()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var firstErr error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			firstErr = fmt.Errorf("http shutdown: %w", err)
		}
	}

	// Flush any unflushed blob write before losing the process.
	if err := s.escrowService.Flush(ctx); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("flush escrow store: %w", err)
	}

	if s.tracesDown != nil {
		if err := s.tracesDown(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("traces shutdown: %w", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close database: %w", err)
		}
	}

	s.logger.Info("server stopped")
	return firstErr
}

// maskDSN keeps the password out of the storage log line.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "(unparseable)"
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	return u.Redacted()
}
