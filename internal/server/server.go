// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
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

	"github.com/mbd888/safepay/internal/circuitbreaker"
	"github.com/mbd888/safepay/internal/config"
	"github.com/mbd888/safepay/internal/escrow"
	"github.com/mbd888/safepay/internal/gateway"
	"github.com/mbd888/safepay/internal/health"
	"github.com/mbd888/safepay/internal/idgen"
	"github.com/mbd888/safepay/internal/logging"
	"github.com/mbd888/safepay/internal/metrics"
	"github.com/mbd888/safepay/internal/payment"
	"github.com/mbd888/safepay/internal/payment/evm"
	"github.com/mbd888/safepay/internal/ratelimit"
	"github.com/mbd888/safepay/internal/realtime"
	"github.com/mbd888/safepay/internal/risk"
	"github.com/mbd888/safepay/internal/security"
	"github.com/mbd888/safepay/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg     *config.Config
	version string

	provider       payment.Provider // undecorated backend
	wallets        payment.Wallets  // nil when the backend has no session surface
	resilient      *payment.Resilient
	breaker        *circuitbreaker.Breaker
	riskRegistry   risk.Registry
	riskPolicy     *risk.Policy
	escrowService  *escrow.Service
	gatewayService *gateway.Service
	realtimeHub    *realtime.Hub
	rateLimiter    *ratelimit.Limiter
	checks         *health.Registry

	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	closers      []io.Closer
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run
	drainDelay   time.Duration

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithProvider injects the payment backend (for testing). wallets may be nil.
func WithProvider(p payment.Provider, wallets payment.Wallets) Option {
	return func(s *Server) {
		s.provider = p
		s.wallets = wallets
	}
}

// WithVersion sets the version reported by /health and /.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// WithDrainDelay sets how long Shutdown waits before closing listeners.
func WithDrainDelay(d time.Duration) Option {
	return func(s *Server) {
		s.drainDelay = d
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		version:    "dev",
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		checks:     health.NewRegistry(),
		drainDelay: 5 * time.Second,
	}

	// Apply options first (may set provider/logger)
	for _, opt := range opts {
		opt(s)
	}

	escrowStore, paymentStore, err := s.setupStorage()
	if err != nil {
		return nil, err
	}

	if s.provider == nil {
		if err := s.setupProvider(); err != nil {
			s.closeAll()
			return nil, err
		}
	}

	s.breaker = circuitbreaker.New(cfg.BreakerThreshold, cfg.BreakerOpenFor,
		circuitbreaker.WithTransitionHook(func(key string, from, to circuitbreaker.State) {
			s.logger.Warn("provider circuit state changed", "operation", key, "from", from.String(), "to", to.String())
		}),
	)
	s.resilient = payment.NewResilient(s.provider,
		payment.WithBreaker(s.breaker),
		payment.WithCallTimeout(cfg.ProviderTimeout),
		payment.WithLogger(s.logger),
	)
	s.checks.Register("provider", health.BreakerChecker("provider", s.breaker))

	// Create realtime hub for WebSocket streaming
	s.realtimeHub = realtime.NewHub(s.logger)

	s.escrowService = escrow.NewService(escrowStore, s.resilient, s.logger).
		WithEventEmitter(&escrowEventEmitter{s.realtimeHub})

	s.riskPolicy = risk.NewPolicy(s.riskRegistry, cfg.MaxSafeTransaction)
	s.gatewayService = gateway.NewService(s.riskPolicy, s.resilient, paymentStore, s.logger).
		WithEventEmitter(&paymentEventEmitter{s.realtimeHub})

	s.logger.Info("services configured",
		"provider", cfg.Provider,
		"storage", storageName(s.db),
		"max_safe_transaction", s.riskPolicy.MaxSafeTransaction(),
	)

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// setupStorage opens Postgres when DATABASE_URL is set and falls back to
// in-memory stores otherwise.
func (s *Server) setupStorage() (escrow.Store, gateway.Store, error) {
	if s.cfg.DatabaseURL == "" {
		s.riskRegistry = risk.NewMemoryRegistry()
		s.logger.Info("using in-memory storage (data will not persist)")
		return escrow.NewMemoryStore(), gateway.NewMemoryStore(), nil
	}

	db, err := sql.Open("postgres", s.cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s.db = db
	s.logger.Info("connected to PostgreSQL", "dsn", maskDSN(s.cfg.DatabaseURL))

	escrowStore := escrow.NewPostgresStore(db)
	s.checks.Register("database", health.PingChecker("database", escrowStore.Ping))
	s.riskRegistry = risk.NewPostgresRegistry(db)
	return escrowStore, gateway.NewPostgresStore(db), nil
}

func (s *Server) setupProvider() error {
	switch s.cfg.Provider {
	case config.ProviderEVM:
		p, err := evm.New(evm.Config{
			RPCURL:     s.cfg.RPCURL,
			CustodyKey: s.cfg.CustodyPrivateKey,
			ChainID:    s.cfg.ChainID,
			WaitMined:  s.cfg.WaitMined,
		})
		if err != nil {
			return fmt.Errorf("failed to create evm provider: %w", err)
		}
		s.provider, s.wallets = p, p
		s.closers = append(s.closers, p)
		s.logger.Info("evm provider enabled", "chain_id", s.cfg.ChainID, "custody", p.CustodyAddress())
	default:
		sim := payment.NewSimulator(payment.WithInitialBalance(s.cfg.SimInitialBalance))
		s.provider, s.wallets = sim, sim
		s.logger.Info("simulated provider enabled", "initial_balance", s.cfg.SimInitialBalance)
	}
	return nil
}

func storageName(db *sql.DB) string {
	if db != nil {
		return "postgres"
	}
	return "memory"
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"status":  "error",
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.AllowedOrigins))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: s.cfg.RateLimitRPM,
		BurstSize:         s.cfg.RateLimitBurst,
	})
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 128 {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger.With("request_id", requestID))
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Debug("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())
	s.router.GET("/", s.infoHandler)

	// WebSocket for committed escrow and payment events
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})
	s.router.GET("/ws/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.realtimeHub.Stats())
	})

	escrow.NewHandler(s.escrowService).RegisterRoutes(s.router)
	gateway.NewHandler(s.gatewayService).RegisterRoutes(s.router)
	risk.NewHandler(s.riskRegistry, s.riskPolicy).RegisterRoutes(s.router)
	if s.wallets != nil {
		payment.NewWalletHandler(s.wallets).RegisterRoutes(s.router)
	}
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.checks.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   s.version,
		Checks:    statuses,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
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
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":               "safepay",
		"version":            s.version,
		"provider":           s.cfg.Provider,
		"storage":            storageName(s.db),
		"maxSafeTransaction": s.riskPolicy.MaxSafeTransaction(),
		"walletRoutes":       s.wallets != nil,
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

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
		s.logger.Info("starting server", "port", s.cfg.Port, "provider", s.cfg.Provider)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		cancel()
		s.closeAll()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(s.drainDelay)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.closeAll()
	s.logger.Info("server stopped")
	return nil
}

// closeAll releases the rate limiter, provider connections and database pool.
func (s *Server) closeAll() {
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			s.logger.Error("close error", "error", err)
		}
	}
	s.closers = nil

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
		s.db = nil
	}
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	return idgen.Hex(16)
}
