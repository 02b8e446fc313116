package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/transcribebridge/transcribebridge/internal/assembler"
	"github.com/transcribebridge/transcribebridge/internal/config"
	"github.com/transcribebridge/transcribebridge/internal/coordinator"
	"github.com/transcribebridge/transcribebridge/internal/database"
	"github.com/transcribebridge/transcribebridge/internal/delivery"
	internalhttp "github.com/transcribebridge/transcribebridge/internal/http"
	"github.com/transcribebridge/transcribebridge/internal/http/handlers"
	"github.com/transcribebridge/transcribebridge/internal/provider"
	"github.com/transcribebridge/transcribebridge/internal/queue"
	"github.com/transcribebridge/transcribebridge/internal/repository"
	"github.com/transcribebridge/transcribebridge/internal/scheduler"
	"github.com/transcribebridge/transcribebridge/internal/service"
	"github.com/transcribebridge/transcribebridge/internal/startup"
	"github.com/transcribebridge/transcribebridge/internal/storage"
	"github.com/transcribebridge/transcribebridge/internal/version"
	"github.com/transcribebridge/transcribebridge/pkg/httpclient"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the transcribebridge server",
	Long: `Start the transcribebridge HTTP server and background workers.

The server provides:
- REST API for creating and inspecting transcription tasks
- Provider webhook receiver for transcription callbacks
- Health check endpoints
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Server flags. Not bound to viper; applied as overrides in runServe
	// only when explicitly set, so env and config file keep their priority.
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("database", "", "Database DSN (file path for sqlite)")
	serveCmd.Flags().String("data-dir", "", "Base directory for audio blobs")
	serveCmd.Flags().Bool("serverless", false, "Disable the background pump and cleanup loops; rely on the HTTP pump endpoint")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Server.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("database") {
		cfg.Database.DSN, _ = flags.GetString("database")
	}
	if flags.Changed("data-dir") {
		cfg.Storage.BaseDir, _ = flags.GetString("data-dir")
	}

	logger := slog.Default()

	// Clean up orphaned atomic-write temp files from previous runs.
	orphansRemoved, err := startup.CleanupOrphanedTempFiles(logger, cfg.Storage.BaseDir, startup.DefaultTempFileAge)
	if err != nil {
		logger.Warn("failed to clean orphaned temp files",
			slog.String("error", err.Error()),
		)
	} else if orphansRemoved > 0 {
		logger.Info("cleaned orphaned temp files on startup",
			slog.Int("removed_count", orphansRemoved),
		)
	}

	// Initialize database and run migrations
	db, err := database.New(cfg.Database, logger, nil)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	// Initialize repositories
	taskRepo := repository.NewTaskRepository(db.DB)
	segmentRepo := repository.NewSegmentRepository(db.DB)

	// Reset segments a previous run claimed but never dispatched; the
	// queue re-adopts them when it reconciles against the store.
	recovered, err := startup.RecoverStaleSegments(context.Background(), logger, segmentRepo)
	if err != nil {
		logger.Warn("failed to recover stale segments",
			slog.String("error", err.Error()),
		)
	} else if recovered > 0 {
		logger.Info("recovered stale segments on startup",
			slog.Int("recovered_count", recovered),
		)
	}

	// Initialize blob storage
	blobs, err := storage.NewLocalBlobStore(cfg.Storage.BaseDir)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}

	// Circuit breakers: one for the transcription provider, one for
	// client webhook delivery. Provider overrides come from config.
	cbCfg := httpclient.DefaultCircuitBreakerConfig()
	cbCfg.Profiles[provider.BreakerName] = httpclient.CircuitBreakerProfileConfig{
		FailureThreshold: cfg.Provider.BreakerFailureThreshold,
		RecoveryTimeout:  cfg.Provider.BreakerRecoveryTimeout,
		ExpectedErrors:   cfg.Provider.BreakerExpectedErrors,
	}
	breakers := httpclient.NewCircuitBreakerManager(&cbCfg).WithLogger(logger)

	// Wire the processing chain: provider client -> queue -> coordinator
	// -> assembler -> delivery.
	providerClient := provider.NewClient(cfg.Provider, breakers.GetOrCreate(provider.BreakerName), logger)
	deliverer := delivery.New(cfg.Delivery, breakers.GetOrCreate(delivery.BreakerName), taskRepo, logger)
	coord := coordinator.New(taskRepo, segmentRepo, assembler.New(logger), deliverer, cfg.Queue.Strict(), logger)

	segmentQueue := queue.New(queue.Config{
		MaxConcurrent:     cfg.Queue.MaxConcurrent,
		MaxAttempts:       cfg.Queue.MaxAttempts,
		BaseDelay:         cfg.Queue.BaseDelay,
		BackoffMultiplier: cfg.Queue.BackoffMultiplier,
		MaxDelay:          cfg.Queue.MaxDelay,
	}, segmentRepo, blobs, providerClient, coord, logger)

	cleanupService := service.NewCleanupService(
		taskRepo, segmentRepo, blobs, segmentQueue, cfg.Storage.Retention.Duration(),
	).WithLogger(logger)

	// Initialize HTTP server
	serverConfig := internalhttp.DefaultServerConfig()
	serverConfig.Host = cfg.Server.Host
	serverConfig.Port = cfg.Server.Port
	if cfg.Server.ReadTimeout > 0 {
		serverConfig.ReadTimeout = cfg.Server.ReadTimeout
	}
	if cfg.Server.WriteTimeout > 0 {
		serverConfig.WriteTimeout = cfg.Server.WriteTimeout
	}
	if cfg.Server.ShutdownTimeout > 0 {
		serverConfig.ShutdownTimeout = cfg.Server.ShutdownTimeout
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		serverConfig.CORSOrigins = cfg.Server.CORSOrigins
	}
	server := internalhttp.NewServer(serverConfig, logger, version.Version)

	// Register handlers
	healthHandler := handlers.NewHealthHandler(version.Version, breakers, db.DB).WithQueue(segmentQueue)
	healthHandler.Register(server.API())

	taskHandler := handlers.NewTaskHandler(taskRepo, segmentRepo, segmentQueue, logger)
	taskHandler.Register(server.API())

	queueHandler := handlers.NewQueueHandler(segmentQueue)
	queueHandler.Register(server.API())

	cleanupHandler := handlers.NewCleanupHandler(cleanupService, logger)
	cleanupHandler.Register(server.API())

	circuitBreakerHandler := handlers.NewCircuitBreakerHandler(breakers)
	circuitBreakerHandler.Register(server.API())

	// The webhook receiver mounts on the raw router: it verifies the
	// provider signature over the exact body bytes.
	webhookHandler := handlers.NewWebhookHandler(segmentRepo, taskRepo, coord, cfg.Provider.WebhookSecret, logger)
	webhookHandler.RegisterRoutes(server.Router())

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Background loops: the queue pump and the expiry sweep. Serverless
	// deployments skip both and drive the queue through POST /api/v1/queue/pump.
	serverless, _ := flags.GetBool("serverless")
	if cfg.Pump.Enabled && !serverless {
		pump := scheduler.NewPumpRunner(segmentQueue, cfg.Pump.Interval).WithLogger(logger)
		if err := pump.Start(ctx); err != nil {
			return fmt.Errorf("starting queue pump: %w", err)
		}
		defer pump.Stop()
	}
	if cfg.Cleanup.Enabled && !serverless {
		sweep, err := scheduler.NewCleanupRunner(cleanupService, cfg.Cleanup.IntervalHours)
		if err != nil {
			return fmt.Errorf("creating cleanup runner: %w", err)
		}
		if err := sweep.WithLogger(logger).Start(ctx); err != nil {
			return fmt.Errorf("starting cleanup runner: %w", err)
		}
		defer sweep.Stop()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	// Start server
	logger.Info("starting transcribebridge server",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.String("version", version.Version),
	)

	return server.ListenAndServe(ctx)
}
