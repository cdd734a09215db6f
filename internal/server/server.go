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

	"github.com/sentra-io/sentra/internal/aml"
	"github.com/sentra-io/sentra/internal/audit"
	"github.com/sentra-io/sentra/internal/config"
	"github.com/sentra-io/sentra/internal/decision"
	"github.com/sentra-io/sentra/internal/features"
	"github.com/sentra-io/sentra/internal/graph"
	"github.com/sentra-io/sentra/internal/health"
	"github.com/sentra-io/sentra/internal/idgen"
	"github.com/sentra-io/sentra/internal/logging"
	"github.com/sentra-io/sentra/internal/metrics"
	"github.com/sentra-io/sentra/internal/monitor"
	"github.com/sentra-io/sentra/internal/ratelimit"
	"github.com/sentra-io/sentra/internal/realtime"
	"github.com/sentra-io/sentra/internal/security"
	"github.com/sentra-io/sentra/internal/validation"
	"github.com/sentra-io/sentra/internal/webhooks"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	engine       *decision.Engine
	drift        *monitor.DriftMonitor
	auditStore   audit.Store
	auditSink    *audit.AsyncSink
	realtimeHub  *realtime.Hub
	webhookStore webhooks.Store
	emitter      *webhooks.Emitter
	refresher    *aml.Refresher
	healthReg    *health.Registry
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

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

// WithEngine sets a custom decision engine (for testing)
func WithEngine(e *decision.Engine) Option {
	return func(s *Server) {
		s.engine = e
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    logging.New(cfg.LogLevel, "json"),
		healthReg: health.NewRegistry(),
	}

	// Apply options first (may set engine/logger)
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Initialize audit storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
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
		store := audit.NewPostgresStore(db)
		if err := store.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate audit store", "error", err)
		}
		s.auditStore = store
		s.healthReg.Register("database", health.DatabaseChecker(db))
		s.logger.Info("using PostgreSQL audit storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		s.auditStore = audit.NewMemoryStore()
		s.logger.Info("using in-memory audit storage (decisions will not persist)")
	}

	s.auditSink = audit.NewAsyncSink(s.auditStore, s.logger)

	// Webhook subscriptions share the audit database when one is configured
	if s.db != nil {
		store := webhooks.NewPostgresStore(s.db)
		if err := store.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate webhook store", "error", err)
		}
		s.webhookStore = store
	} else {
		s.webhookStore = webhooks.NewMemoryStore()
	}
	s.emitter = webhooks.NewEmitter(webhooks.NewDispatcher(s.webhookStore, s.logger), s.logger)

	// Build the scoring engine unless one was injected
	if s.engine == nil {
		engineCfg := decision.Config{
			HighRiskThreshold:   cfg.HighRiskThreshold,
			LowRiskThreshold:    cfg.LowRiskThreshold,
			MaxLatencyMS:        cfg.MaxLatencyMS,
			MLWeight:            cfg.MLWeight,
			RulesWeight:         cfg.RulesWeight,
			EnableAMLScreening:  cfg.EnableAMLScreening,
			EnableGraphAnalysis: cfg.EnableGraphAnalysis,
			ModelVersion:        cfg.ModelVersion,
		}

		engine, err := decision.NewEngine(engineCfg,
			decision.WithGraph(graph.New()),
			decision.WithAMLEngine(aml.New(aml.DefaultListSource())),
			decision.WithSTRQueue(aml.NewSTRQueue()),
			decision.WithCollector(monitor.NewCollector()),
			decision.WithFeatureProvider(features.NewStaticProvider(nil)),
			decision.WithAuditSink(s.auditSink),
			decision.WithSTRNotify(s.emitter.EmitSTRQueued),
			decision.WithLogger(s.logger),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to build decision engine: %w", err)
		}
		s.engine = engine
	}

	// Hot-reload sanctions/PEP lists from a file when configured
	if cfg.SanctionsListPath != "" {
		src := &aml.FileListSource{Path: cfg.SanctionsListPath}
		s.refresher = aml.NewRefresher(src, s.engine.ReloadLists, cfg.ListRefreshInterval, s.logger)
	}

	s.drift = monitor.NewDriftMonitor(cfg.ModelVersion)
	s.healthReg.Register("entity_graph", health.GraphChecker(s.engine.Graph().Size))

	// Realtime hub for streaming decisions to ops tooling
	s.realtimeHub = realtime.NewHub(s.logger)
	s.logger.Info("decision streaming enabled")

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

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// Reject oversized request bodies before reading them
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Per-caller rate limiting (API key when present, client IP otherwise)
	if s.cfg.IsProduction() {
		s.router.Use(ratelimit.MiddlewareWithConfig(ratelimit.DefaultConfig()))
	}

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Transaction ID
	s.router.Use(s.transactionIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) transactionIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Honor an existing ID (from gateway, load balancer, etc.)
		txnID := c.GetHeader("X-Transaction-ID")
		if txnID == "" {
			txnID = idgen.New()
		}

		ctx := logging.WithTransactionID(c.Request.Context(), txnID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Transaction-ID", txnID)

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
			logger.Info("request completed",
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

	// WebSocket for real-time decision streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")

	// Scoring
	v1.POST("/decisions", s.scoreDecision)
	v1.GET("/users/:userId/decisions", s.listUserDecisions)

	// Feedback loop (confirmed fraud labels and model performance reports)
	v1.POST("/feedback", s.recordFeedback)
	v1.POST("/model/performance", s.checkModelPerformance)

	// Monitoring
	v1.GET("/monitor/summary", s.monitorSummary)
	v1.GET("/monitor/bias", s.monitorBias)
	v1.GET("/monitor/drift", s.driftEvents)
	v1.GET("/monitor/drift/features/:feature", s.checkFeatureDrift)

	// Entity graph
	v1.POST("/graph/entities", s.addEntity)
	v1.POST("/graph/relationships", s.addRelationship)
	v1.GET("/graph/entities/:entityId", s.getEntity)
	v1.GET("/graph/entities/:entityId/risk-factors", s.entityRiskFactors)
	v1.GET("/graph/users/:userId/mule-check", s.muleCheck)
	v1.GET("/graph/users/:userId/ring-check", s.ringCheck)
	v1.GET("/graph/stats", s.graphStats)

	// STR workflow
	v1.GET("/str/pending", s.pendingSTRs)
	v1.GET("/str/filed", s.filedSTRs)
	v1.POST("/str/:reportId/file", s.fileSTR)

	// Decision policy (thresholds and ensemble weights, hot-reloadable)
	v1.GET("/policy", s.getPolicy)
	v1.PUT("/policy", s.updatePolicy)

	// Stream stats
	v1.GET("/stream/stats", s.streamStats)

	// Webhook subscriptions for risk event notifications. Subscriber URLs
	// are rejected when they point into our own network.
	webhooks.NewHandler(s.webhookStore,
		webhooks.WithURLValidator(security.ValidateWebhookURL),
	).RegisterRoutes(v1)
}

// -----------------------------------------------------------------------------
// Health handlers
// -----------------------------------------------------------------------------

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.healthReg.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"version":   "0.1.0",
		"checks":    statuses,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
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
		"name":        "Sentra",
		"description": "Real-time transaction risk scoring and AML screening",
		"version":     "0.1.0",
		"model":       s.engine.Config().ModelVersion,
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	// Load screening lists before accepting traffic. A broken list file at
	// startup is fatal; breakage after startup keeps the previous lists.
	if s.refresher != nil {
		if err := s.refresher.Start(runCtx); err != nil {
			cancel()
			return fmt.Errorf("failed to load screening lists: %w", err)
		}
	}

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
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"model_version", s.cfg.ModelVersion,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
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

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel background goroutines (realtime hub)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	if s.refresher != nil {
		s.refresher.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Drain the audit queue before closing the store
	if s.auditSink != nil {
		s.auditSink.Close()
		s.logger.Info("audit sink drained")
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

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
