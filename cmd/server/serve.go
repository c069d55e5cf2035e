package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rpattn/crmimport/internal/config"
	"github.com/rpattn/crmimport/internal/db"
	"github.com/rpattn/crmimport/internal/events"
	"github.com/rpattn/crmimport/internal/leadimport"
	"github.com/rpattn/crmimport/internal/middleware"
	"github.com/rpattn/crmimport/internal/repository"
	"github.com/rpattn/crmimport/internal/workspace"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the lead import HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(ctx context.Context, opts *rootOptions) error {
	cfg, logger, err := loadConfig(opts)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	// Setup database connection
	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close()

	if err := db.RunMigrations(cfg.Database, logger); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Create repositories
	leadRepo := repository.NewLeadRepository(conn.Pool)
	sessionRepo := repository.NewImportSessionRepository(conn.Pool)
	templateRepo := repository.NewMappingTemplateRepository(conn.Pool)
	logRepo := repository.NewImportLogRepository(conn.Pool)

	store, closeStore, err := newWorkspaceStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	publisher, err := newPublisher(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("failed to close event publisher", zap.Error(err))
		}
	}()

	service := leadimport.NewService(sessionRepo, leadRepo, templateRepo, logRepo, store,
		leadimport.WithLogger(logger.Named("leadimport")),
		leadimport.WithPublisher(publisher),
		leadimport.WithSampleRows(cfg.Import.SampleRows),
		leadimport.WithSampleSize(cfg.Import.SampleSize),
		leadimport.WithSmartMatch(cfg.Import.SmartMatchThreshold, cfg.Import.FuzzyCandidates),
		leadimport.WithProgressEvery(cfg.Import.ProgressEvery),
		leadimport.WithSessionTTL(cfg.Import.SessionTTL),
		leadimport.WithExecuteTimeout(cfg.Import.ExecuteTimeout),
	)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = leadimport.HTTPErrorHandler(logger)
	e.Use(middleware.Logging(logger.Named("http")))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/healthz", func(c echo.Context) error {
		if err := conn.Pool.Ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, leadimport.ErrorResponse{Detail: "database unavailable"})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	api := e.Group(cfg.HTTP.APIPrefix, middleware.DataLoader(leadRepo))
	leadimport.NewHTTPHandler(service, cfg.HTTP.MaxUploadBytes, logger.Named("handler")).RegisterRoutes(api)

	// Setup CORS
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.HTTP.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      corsHandler.Handler(e),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting lead import API",
			zap.String("addr", cfg.HTTP.Addr),
			zap.String("api_prefix", cfg.HTTP.APIPrefix),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err, ok := <-serveErr:
		if ok {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	if err := service.Shutdown(shutdownCtx); err != nil {
		logger.Error("import workers did not stop in time", zap.Error(err))
	}
	logger.Info("server exited")
	return nil
}

// newWorkspaceStore selects Redis when an address is configured and process
// memory otherwise.
func newWorkspaceStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (workspace.Store, func(), error) {
	if cfg.Redis.Addr == "" {
		logger.Info("using in-memory workspace store")
		store := workspace.NewMemoryStore(cfg.Import.SessionTTL)
		return store, store.Close, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
	}
	logger.Info("using redis workspace store", zap.String("addr", cfg.Redis.Addr))
	return workspace.NewRedisStore(rdb, cfg.Import.SessionTTL), func() { _ = rdb.Close() }, nil
}

func newPublisher(cfg config.Config, logger *zap.Logger) (events.Publisher, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return events.NoopPublisher{}, nil
	}
	publisher, err := events.NewKafkaPublisher(events.KafkaConfig{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.Topic,
	}, logger.Named("events"))
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka publisher: %w", err)
	}
	logger.Info("publishing session events", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	return publisher, nil
}
