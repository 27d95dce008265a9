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

	"github.com/cuongbtq/chapterize/internal/api/handler"
	"github.com/cuongbtq/chapterize/internal/api/router"
	"github.com/cuongbtq/chapterize/internal/api/tracker"
	"github.com/cuongbtq/chapterize/internal/auth"
	"github.com/cuongbtq/chapterize/internal/config"
	"github.com/cuongbtq/chapterize/internal/media"
	"github.com/cuongbtq/chapterize/internal/pipeline"
	"github.com/cuongbtq/chapterize/internal/pipeline/cache"
	"github.com/cuongbtq/chapterize/internal/pipeline/credit"
	"github.com/cuongbtq/chapterize/internal/pipeline/health"
	"github.com/cuongbtq/chapterize/internal/pipeline/storage"
	"github.com/cuongbtq/chapterize/internal/remote"
	"github.com/cuongbtq/chapterize/shared/logger"
	"github.com/cuongbtq/chapterize/shared/postgresql"
	"github.com/cuongbtq/chapterize/shared/rabbitmq"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	appLogger.Info("Database connection established")

	// event forwarding is optional; the snapshot endpoint works without it
	var publisher tracker.Publisher
	if cfg.RabbitMQ.Enabled {
		rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()
		publisher = rabbitClient

		appLogger.Info("RabbitMQ connection established")
	}

	tokens, err := initTokenSource(&cfg.Auth, appLogger.Component("auth"))
	if err != nil {
		return fmt.Errorf("failed to initialize token source: %w", err)
	}

	httpClient := &http.Client{Timeout: cfg.Services.RequestTimeout}
	transcriber, err := remote.NewTranscriberClient(cfg.Services.TranscriberURL, remote.WithHTTPClient(httpClient))
	if err != nil {
		return fmt.Errorf("failed to initialize transcriber client: %w", err)
	}
	chapters, err := remote.NewChaptersClient(cfg.Services.ChaptersURL, remote.WithHTTPClient(httpClient))
	if err != nil {
		return fmt.Errorf("failed to initialize chapters client: %w", err)
	}

	probe := health.NewProbe(&health.Config{
		Logger:     appLogger.Component("health"),
		HTTPClient: &http.Client{Timeout: cfg.Services.HealthTimeout},
		Path:       cfg.Services.HealthPath,
	})

	orchestrator := pipeline.NewOrchestrator(&pipeline.Config{
		Logger:   appLogger.Component("orchestrator"),
		Services: cfg.Services.List(),
		Health:   probe,
		Acquirer: media.NewYouTubeAcquirer(&media.Config{
			Logger:    appLogger.Component("media"),
			OutputDir: cfg.Media.OutputDir,
			Prober:    media.FFProbe{Binary: cfg.Media.FFProbeBinary},
		}),
		Cache: cache.NewProbe(&cache.Config{
			Logger:         appLogger.Component("cache"),
			Source:         transcriber,
			ChaptersMaxAge: cfg.Pipeline.ChaptersMaxAge,
		}),
		Credits: credit.NewGate(&credit.Config{
			Logger:         appLogger.Component("credit"),
			PricePerMinute: cfg.Pipeline.PricePerMinute,
			Sessions:       tokens,
			Balances:       storage.NewStorage(dbClient.DB(), appLogger.Component("storage")),
		}),
		Tokens:            tokens,
		Uploader:          transcriber,
		Transcription:     transcriber,
		Tasks:             chapters,
		Chapters:          chapters,
		TranscriptionPoll: pollConfig(cfg.Pipeline.TranscriptionPoll),
		ChaptersPoll:      pollConfig(cfg.Pipeline.ChaptersPoll),
		SettleDelay:       cfg.Pipeline.SettleDelay,
		EventBuffer:       cfg.Pipeline.EventBuffer,
	})

	eventTracker := tracker.New(&tracker.Config{
		Logger:    appLogger.Component("tracker"),
		Events:    orchestrator.Events(),
		Publisher: publisher,
	})

	trackerCtx, stopTracker := context.WithCancel(context.Background())
	trackerDone := make(chan struct{})
	go func() {
		defer close(trackerDone)
		eventTracker.Run(trackerCtx)
	}()

	r := initRouter(cfg, appLogger.Logger, &handler.Dependencies{
		Logger:        appLogger.Component("http"),
		ServiceName:   cfg.App.Name,
		Jobs:          orchestrator,
		Tracker:       eventTracker,
		Health:        probe,
		Services:      cfg.Services.List(),
		DB:            dbClient,
		DefaultUserID: cfg.Auth.DefaultUserID,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
		slog.Int("services", len(cfg.Services.List())),
		slog.Bool("event_forwarding", publisher != nil),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-serverErr:
		appLogger.Error("Server failed", slog.Any("error", err))
		stopTracker()
		return err
	}

	appLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
	}

	// the in-flight job emits its last events before the tracker stops
	if err := orchestrator.Shutdown(ctx); err != nil {
		appLogger.Warn("Job did not stop before the shutdown deadline",
			slog.Any("error", err),
		)
	}
	stopTracker()
	<-trackerDone

	appLogger.Info("Server shutdown complete")
	return nil
}

func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}

func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(rabbitConfig(cfg), logger)
}

func rabbitConfig(cfg *config.RabbitMQConfig) *rabbitmq.Config {
	return &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
		PrefetchCount:      cfg.Consumer.PrefetchCount,
	}
}

// tokenSource hands out upload tokens and validated sessions for the gate
type tokenSource interface {
	pipeline.TokenSource
	credit.SessionSource
}

func initTokenSource(cfg *config.AuthConfig, logger *slog.Logger) (tokenSource, error) {
	if cfg.Mode == config.AuthModeStatic {
		return auth.NewStaticSource(cfg.StaticToken, cfg.DefaultUserID), nil
	}
	source, err := auth.NewSupabaseSource(&auth.Config{
		Logger:       logger,
		URL:          cfg.SupabaseURL,
		AnonKey:      cfg.AnonKey,
		RefreshToken: cfg.RefreshToken,
	})
	if err != nil {
		return nil, err
	}
	return source, nil
}

func pollConfig(cfg config.PollConfig) pipeline.PollConfig {
	return pipeline.PollConfig{
		MaxAttempts:  cfg.MaxAttempts,
		InitialDelay: cfg.InitialDelay,
		Multiplier:   cfg.Multiplier,
		MaxDelay:     cfg.MaxDelay,
	}
}

func initRouter(cfg *config.Config, logger *slog.Logger, deps *handler.Dependencies) *gin.Engine {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	logger.Debug("Initializing router",
		slog.String("environment", cfg.App.Environment),
	)

	return router.SetupRouter(deps)
}
