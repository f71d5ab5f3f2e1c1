package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	credentialdomain "github.com/tradeflow-go/internal/domain/credential"
	"github.com/tradeflow-go/internal/domain/workflow"
	credentialsvc "github.com/tradeflow-go/internal/services/credential"
	credentialrepo "github.com/tradeflow-go/internal/services/credential/repository"
	"github.com/tradeflow-go/internal/services/credential/vault"
	executionrepo "github.com/tradeflow-go/internal/services/execution/repository"
	"github.com/tradeflow-go/internal/services/executor/dispatch"
	"github.com/tradeflow-go/internal/services/executor/engine"
	"github.com/tradeflow-go/internal/services/executor/exchanges"
	"github.com/tradeflow-go/internal/services/executor/handlers"
	"github.com/tradeflow-go/internal/services/executor/monitor"
	"github.com/tradeflow-go/internal/services/executor/notify"
	"github.com/tradeflow-go/internal/services/executor/pricefeed"
	"github.com/tradeflow-go/internal/services/executor/scheduler"
	workflowrepo "github.com/tradeflow-go/internal/services/workflow/repository"
	"github.com/tradeflow-go/pkg/cache"
	"github.com/tradeflow-go/pkg/config"
	"github.com/tradeflow-go/pkg/database"
	"github.com/tradeflow-go/pkg/events"
	"github.com/tradeflow-go/pkg/logger"
)

// Server owns the executor's firing loops and its control-plane HTTP API.
type Server struct {
	config     *config.Config
	logger     logger.Logger
	httpServer *http.Server
	db         *database.DB
	redis      *redis.Client
	eventBus   events.EventBus
	scheduler  *scheduler.Scheduler
	monitor    *monitor.Monitor
}

func New(cfg *config.Config, log logger.Logger) (*Server, error) {
	// Initialize database
	db, err := database.New(cfg.Database.ToDatabaseConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Migrate(
		&workflow.Workflow{},
		&workflow.Node{},
		&workflow.Edge{},
		&workflow.Execution{},
		&credentialdomain.Credential{},
	); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Initialize Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	// Initialize event bus; without brokers events stay in-process
	var eventBus events.EventBus
	if len(cfg.Kafka.Brokers) > 0 {
		eventBus = events.NewKafkaEventBus(cfg.Kafka.ToKafkaConfig())
	} else {
		log.Warn("No Kafka brokers configured, using in-memory event bus")
		eventBus = events.NewMemoryEventBus()
	}

	// Initialize vault and credential resolver
	credVault, err := vault.New(cfg.Vault.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vault: %w", err)
	}
	credRepo := credentialrepo.NewCredentialRepository(db)
	resolver := credentialsvc.NewResolver(credRepo, credVault, log)

	// Initialize price feed with a Redis-backed cache
	binance := pricefeed.NewBinanceFeed(cfg.Executor.PriceFetchTimeout, log)
	priceCache := cache.NewRedisCache(redisClient, "executor")
	feed := pricefeed.NewCachedFeed(binance, priceCache, cfg.Executor.PriceCacheTTL, log)

	// Initialize exchange dispatch
	dispatcher := dispatch.NewDispatcher(resolver, log)
	dispatcher.Register(workflow.NodeTypeHyperliquid, exchanges.NewHyperliquid(cfg.Executor.OrderTimeout, log))
	dispatcher.Register(workflow.NodeTypeLighter, exchanges.NewLighter(log))
	dispatcher.Register(workflow.NodeTypeBackpack, exchanges.NewBackpack(log))

	// Initialize notification routing
	notifier := notify.New(log)
	notifier.Register("email", notify.NewEmailChannel(log))
	notifier.Register("telegram", notify.NewTelegramChannel(log))

	// Initialize repositories and the graph executor
	workflowRepo := workflowrepo.NewWorkflowRepository(db)
	executionRepo := executionrepo.NewExecutionRepository(db)
	eng := engine.New(workflowRepo, executionRepo, feed, dispatcher, notifier, eventBus, log, cfg.Executor.DefaultExchange)

	// Initialize firing loops
	sched := scheduler.New(workflowRepo, executionRepo, eng, log, cfg.Executor.SyncInterval)
	mon := monitor.New(workflowRepo, feed, eng, log,
		cfg.Executor.PollInterval, cfg.Executor.SyncInterval, cfg.Executor.DefaultExchange)

	// Setup HTTP server
	h := handlers.NewExecutorHandlers(eng, sched, mon, executionRepo, log)
	router := setupRouter(h, log)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	return &Server{
		config:     cfg,
		logger:     log,
		httpServer: httpServer,
		db:         db,
		redis:      redisClient,
		eventBus:   eventBus,
		scheduler:  sched,
		monitor:    mon,
	}, nil
}

func setupRouter(h *handlers.ExecutorHandlers, log logger.Logger) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(loggingMiddleware(log))

	router.GET("/healthz", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/workflows/:id/execute", h.ExecuteWorkflow)
		v1.POST("/workflows/:id/reschedule", h.RescheduleWorkflow)
		v1.GET("/workflows/:id/executions", h.ListExecutions)
		v1.GET("/executions/:id", h.GetExecution)
		v1.GET("/schedules", h.ListSchedules)
		v1.GET("/triggers", h.ListTriggers)
	}

	return router
}

// Start launches the scheduler, the price monitor and the HTTP listener. It
// blocks until the listener exits.
func (s *Server) Start() error {
	ctx := context.Background()

	if err := s.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	if err := s.monitor.Start(ctx); err != nil {
		s.scheduler.Stop()
		return fmt.Errorf("failed to start price monitor: %w", err)
	}

	s.logger.Info("Starting HTTP server", "port", s.config.Server.Port)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Shutdown stops the firing loops first so no execution starts mid-teardown,
// then drains the HTTP server and closes the shared resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.monitor.Stop()
	s.scheduler.Stop()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	if err := s.eventBus.Close(); err != nil {
		s.logger.Error("Failed to close event bus", "error", err)
	}
	if err := s.redis.Close(); err != nil {
		s.logger.Error("Failed to close Redis", "error", err)
	}
	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close database", "error", err)
	}

	return nil
}

func loggingMiddleware(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
