package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/prompt-alchemy/render-be/internal/api/handler"
	"github.com/prompt-alchemy/render-be/internal/api/router"
	"github.com/prompt-alchemy/render-be/internal/config"
	"github.com/prompt-alchemy/render-be/internal/events"
	"github.com/prompt-alchemy/render-be/internal/imagehost"
	"github.com/prompt-alchemy/render-be/internal/prompts"
	"github.com/prompt-alchemy/render-be/internal/render/kie"
	"github.com/prompt-alchemy/render-be/internal/render/orchestrator"
	"github.com/prompt-alchemy/render-be/internal/render/poller"
	"github.com/prompt-alchemy/render-be/internal/render/registry"
	"github.com/prompt-alchemy/render-be/shared/logger"
	"github.com/prompt-alchemy/render-be/shared/postgresql"
	"github.com/prompt-alchemy/render-be/shared/rabbitmq"
	"github.com/prompt-alchemy/render-be/shared/redis"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("RENDER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting render service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize the history store and registry
	store, storeCleanup, err := initStore(cfg, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize history store: %w", err)
	}
	defer storeCleanup()

	reg := registry.New(store, &registry.Config{
		MaxSessions: cfg.History.MaxSessions,
	}, appLogger.Logger)

	restoreCtx, restoreCancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = reg.Restore(restoreCtx)
	restoreCancel()
	if err != nil {
		return fmt.Errorf("failed to restore history: %w", err)
	}

	// Initialize the event publisher, if enabled
	var publisher orchestrator.Publisher
	var rabbitClient *rabbitmq.Client
	if cfg.Events.Enabled {
		rabbitClient, err = initRabbitMQ(&cfg.Events.RabbitMQ, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()
		publisher = events.NewPublisher(rabbitClient, appLogger.Logger)

		appLogger.Info("Job transition publishing enabled")
	}

	// Initialize the rendering pipeline
	renderClient := kie.NewClient(&kie.Config{
		BaseURL:           cfg.Render.BaseURL,
		APIKey:            cfg.Render.APIKey,
		StandardModel:     cfg.Render.StandardModel,
		UnrestrictedModel: cfg.Render.UnrestrictedModel,
		RequestTimeout:    cfg.Render.RequestTimeout,
	}, appLogger.Logger)

	jobPoller := poller.New(renderClient, &poller.Config{
		Interval:    cfg.Render.PollInterval,
		MaxAttempts: cfg.Render.MaxPollAttempts,
	}, appLogger.Logger)

	orch := orchestrator.New(&orchestrator.Config{
		AspectRatio:  cfg.Render.AspectRatio,
		OutputFormat: cfg.Render.OutputFormat,
	}, renderClient, jobPoller, reg, publisher, appLogger.Logger)
	defer orch.Close()

	// Re-attach polls for jobs left unresolved by the previous run
	if resumed := orch.Resume(); resumed > 0 {
		appLogger.Info("Resumed unresolved jobs",
			slog.Int("count", resumed),
		)
	}

	// Initialize collaborator clients
	prompter := prompts.NewClient(&prompts.Config{
		BaseURL:        cfg.Prompter.BaseURL,
		APIKey:         cfg.Prompter.APIKey,
		Model:          cfg.Prompter.Model,
		Temperature:    cfg.Prompter.Temperature,
		RequestTimeout: cfg.Prompter.RequestTimeout,
	}, appLogger.Logger)

	var uploader handler.ImageUploader
	if cfg.ImageHost.Enabled {
		uploader = imagehost.NewClient(&imagehost.Config{
			BaseURL:        cfg.ImageHost.BaseURL,
			APIKey:         cfg.ImageHost.APIKey,
			RequestTimeout: cfg.ImageHost.RequestTimeout,
		}, appLogger.Logger)
	}

	// Initialize router
	r := initRouter(cfg.App.Environment, &handler.Dependencies{
		Logger:       appLogger.Logger,
		Registry:     reg,
		Orchestrator: orch,
		Prompter:     prompter,
		Uploader:     uploader,
	})

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	// Start server in goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Server failed to start",
				slog.Any("error", err),
			)
			os.Exit(1)
		}
	}()

	appLogger.Info("Render service is running",
		slog.String("address", addr),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Graceful shutdown with timeout. Unfinished polls stay unresolved in the
	// registry and resume on the next start.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initStore selects the history document store by driver. The returned
// cleanup closes whatever connection the store holds.
func initStore(cfg *config.Config, logger *slog.Logger) (registry.DocumentStore, func(), error) {
	noop := func() {}

	switch cfg.Storage.Driver {
	case config.StorageDriverPostgres:
		dbClient, err := postgresql.NewClient(&postgresql.Config{
			Host:            cfg.Storage.Postgres.Host,
			Port:            cfg.Storage.Postgres.Port,
			User:            cfg.Storage.Postgres.User,
			Password:        cfg.Storage.Postgres.Password,
			Database:        cfg.Storage.Postgres.Database,
			SSLMode:         cfg.Storage.Postgres.SSLMode,
			MaxOpenConns:    cfg.Storage.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Storage.Postgres.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Storage.Postgres.ConnMaxIdleTime,
		}, logger)
		if err != nil {
			return nil, noop, err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		store, err := registry.NewPGStore(ctx, dbClient.GetDB(), cfg.Storage.Name, logger)
		if err != nil {
			dbClient.Close()
			return nil, noop, err
		}
		return store, func() { dbClient.Close() }, nil

	case config.StorageDriverRedis:
		redisClient, err := redis.NewClient(&redis.Config{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		}, logger)
		if err != nil {
			return nil, noop, err
		}

		store := registry.NewRedisStore(redisClient.GetRDB(), cfg.Storage.Redis.Key)
		return store, func() { redisClient.Close() }, nil

	default:
		return registry.NewFileStore(cfg.Storage.File.Path), noop, nil
	}
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, deps *handler.Dependencies) *gin.Engine {
	// Set Gin mode based on environment
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Setup router
	return router.SetupRouter(deps)
}
