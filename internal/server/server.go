// Package server sets up the HTTP server with all routes
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

	"github.com/mbd888/paymo/internal/classifier"
	"github.com/mbd888/paymo/internal/config"
	"github.com/mbd888/paymo/internal/health"
	"github.com/mbd888/paymo/internal/idgen"
	"github.com/mbd888/paymo/internal/ingest"
	"github.com/mbd888/paymo/internal/logging"
	"github.com/mbd888/paymo/internal/metrics"
	"github.com/mbd888/paymo/internal/ratelimit"
	"github.com/mbd888/paymo/internal/realtime"
	"github.com/mbd888/paymo/internal/security"
	"github.com/mbd888/paymo/internal/traces"
	"github.com/mbd888/paymo/internal/webhooks"
	"github.com/mbd888/paymo/migrations"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg               *config.Config
	engine            *classifier.Engine
	store             classifier.Store
	realtimeHub       *realtime.Hub
	webhookStore      webhooks.Store
	webhookDispatcher *webhooks.Dispatcher
	rateLimiter       *ratelimit.Limiter
	health            *health.Registry
	db                *sql.DB // nil if using in-memory
	router            *gin.Engine
	httpSrv           *http.Server
	logger            *slog.Logger
	shutdownTraces    func(context.Context) error
	drainDelay        time.Duration
	cancelRunCtx      context.CancelFunc // cancels background goroutines started in Run

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

// WithStore sets the verdict store, overriding DATABASE_URL (for testing)
func WithStore(store classifier.Store) Option {
	return func(s *Server) {
		s.store = store
	}
}

// WithWebhookStore sets the webhook subscription store (for testing)
func WithWebhookStore(store webhooks.Store) Option {
	return func(s *Server) {
		s.webhookStore = store
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
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		health:     health.NewRegistry(),
		drainDelay: 5 * time.Second,
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	shutdownTraces, err := traces.Init(ctx, cfg.OTLPEndpoint, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	s.shutdownTraces = shutdownTraces

	pol, err := cfg.Policy()
	if err != nil {
		return nil, err
	}

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if s.store == nil {
		if cfg.DatabaseURL != "" {
			if err := s.openDatabase(ctx); err != nil {
				return nil, err
			}
			s.store = classifier.NewPostgresStore(s.db)
			s.logger.Info("using PostgreSQL verdict store", "dsn", maskDSN(cfg.DatabaseURL))
		} else {
			s.store = classifier.NewMemoryStore()
			s.logger.Info("using in-memory verdict store (results lost on restart)")
		}
	}
	if s.webhookStore == nil {
		if s.db != nil {
			s.webhookStore = webhooks.NewPostgresStore(s.db)
		} else {
			s.webhookStore = webhooks.NewMemoryStore()
		}
	}

	s.realtimeHub = realtime.NewHub(s.logger)
	s.webhookDispatcher = webhooks.NewDispatcher(s.webhookStore, s.logger)
	s.engine = classifier.NewEngine(pol).
		WithStore(s.store).
		WithPublisher(classifier.Publishers{s.realtimeHub, s.webhookDispatcher}).
		WithLogger(s.logger)
	s.logger.Info("classifier ready", "tiers", pol.Len(), "max_bound", pol.MaxBound())

	if cfg.BatchFile != "" {
		if err := s.preload(ctx, cfg.BatchFile); err != nil {
			return nil, err
		}
	}

	s.health.Register("graph", s.graphChecker)
	if s.db != nil {
		s.health.Register("database", health.DBChecker("database", s.db))
	}

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

func (s *Server) openDatabase(ctx context.Context) error {
	db, err := sql.Open("postgres", s.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrations.Up(ctx, db); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	s.db = db
	return nil
}

// preload builds the graph from the historical feed before serving traffic.
func (s *Server) preload(ctx context.Context, path string) error {
	f, err := ingest.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	stats, err := s.engine.Load(ctx, f.WithLogger(s.logger))
	if err != nil {
		return fmt.Errorf("failed to preload %s: %w", path, err)
	}
	s.logger.Info("batch feed loaded",
		"path", path,
		"loaded", stats.Loaded,
		"skipped", f.Skipped(),
		"nodes", stats.Graph.Nodes,
		"edges", stats.Graph.Edges,
	)
	return nil
}

func (s *Server) graphChecker(ctx context.Context) health.Status {
	stats, err := s.engine.Stats(ctx)
	if err != nil {
		return health.Status{Name: "graph", Healthy: false, Detail: err.Error()}
	}
	return health.Status{
		Name:    "graph",
		Healthy: true,
		Detail:  fmt.Sprintf("%d parties, %d edges", stats.Nodes, stats.Edges),
	}
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
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS
	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins))

	// Request size limit
	s.router.Use(security.RequestSizeMiddleware(security.MaxRequestSize))

	// Rate limiting
	rl := ratelimit.DefaultConfig()
	rl.RequestsPerSecond = float64(s.cfg.RateLimitRPS)
	rl.BurstSize = s.cfg.RateLimitBurst
	s.rateLimiter = ratelimit.New(rl)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.New()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
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

	// WebSocket for real-time verdicts
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	v1 := s.router.Group("/v1", security.PartyParamMiddleware("a", "b"))
	classifier.NewHandler(s.engine, s.store).RegisterRoutes(v1)
	webhooks.NewHandler(s.webhookStore).RegisterRoutes(v1)
	v1.GET("/stream/stats", s.streamStatsHandler)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ok, checks := s.health.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !ok {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   Version,
		Checks:    checks,
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

func (s *Server) streamStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.realtimeHub.Stats())
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
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
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)
	go s.webhookDispatcher.Run(runCtx)

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	s.ready.Store(true)
	s.logger.Info("server ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

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

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Give load balancers time to stop sending traffic
	if s.drainDelay > 0 {
		time.Sleep(s.drainDelay)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	// Stop the hub and webhook dispatcher after the listener so in-flight
	// classifications still publish.
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	if err := s.engine.Drain(ctx); err != nil {
		s.logger.Error("verdict store drain incomplete", "error", err)
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.shutdownTraces != nil {
		if err := s.shutdownTraces(ctx); err != nil {
			s.logger.Error("trace shutdown error", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Engine returns the classifier engine
func (s *Server) Engine() *classifier.Engine {
	return s.engine
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
