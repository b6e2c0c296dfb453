package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"pawcare-contacts/api"
	"pawcare-contacts/api/services"
	"pawcare-contacts/config"
	"pawcare-contacts/db"
	"pawcare-contacts/pkg/logging"
	"pawcare-contacts/pkg/metrics"
	embeddednats "pawcare-contacts/pkg/services/embedded-nats"
	"pawcare-contacts/pkg/services/workers"
)

func initDB(cfg *config.Config, logger *zap.Logger) (*db.Service, error) {
	dbConfig := db.DefaultConfig()
	dbConfig.DBPath = cfg.DBPath
	dbConfig.Logger = logger

	dbService, err := db.New(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database service: %w", err)
	}

	if err := dbService.VerifySchema(); err != nil {
		logger.Warn("schema verification failed, initializing schema", zap.Error(err))
		if err := dbService.InitializeSchema(); err != nil {
			dbService.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	return dbService, nil
}

func initNATS(cfg *config.Config, logger *zap.Logger) (*embeddednats.EmbeddedNATS, error) {
	natsConfig := embeddednats.DefaultConfig()
	natsConfig.DataDir = cfg.NATSDataDir
	natsConfig.Port = cfg.NATSPort
	natsConfig.Logger = logger

	return startNATS(natsConfig, logger)
}

// startNATS shuts the embedded server down again when any setup step fails,
// so a failed start never leaves the client port bound.
func startNATS(natsConfig *embeddednats.Config, logger *zap.Logger) (*embeddednats.EmbeddedNATS, error) {
	nats, err := embeddednats.New(natsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedded NATS: %w", err)
	}

	if err := setupNATS(nats); err != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if shutdownErr := nats.Shutdown(ctx); shutdownErr != nil {
			logger.Warn("failed to shut down embedded NATS after setup error", zap.Error(shutdownErr))
		}
		return nil, err
	}

	return nats, nil
}

func setupNATS(nats *embeddednats.EmbeddedNATS) error {
	if err := nats.Start(); err != nil {
		return fmt.Errorf("failed to start embedded NATS: %w", err)
	}

	if err := nats.CreateStreams(); err != nil {
		return fmt.Errorf("failed to create streams: %w", err)
	}

	if err := nats.CreateConsumers(); err != nil {
		return fmt.Errorf("failed to create consumers: %w", err)
	}

	return nil
}

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if cfg.EnvFileLoaded {
		logger.Info("loaded configuration from .env file")
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal("service failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	metrics.InitMetrics()

	dbService, err := initDB(cfg, logger)
	if err != nil {
		return err
	}
	defer dbService.Close()

	nats, err := initNATS(cfg, logger)
	if err != nil {
		return err
	}

	workerManager, err := workers.NewManager(nats, dbService.GetDB(), logger)
	if err != nil {
		return fmt.Errorf("failed to create worker manager: %w", err)
	}
	if err := workerManager.Start(); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}

	orgService := services.NewOrganizationService(dbService.GetDB(), nats, logger)
	handlers := api.NewHandlers(orgService, nats, logger)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handlers.Routes(cfg.APIToken),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting pawcare contacts API", zap.String("addr", server.Addr))
		if cfg.APIToken == config.DefaultAPIToken {
			logger.Warn("using the development bearer token")
		}
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case runErr = <-serverErr:
		logger.Error("server failed", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("failed to shutdown server gracefully", zap.Error(err))
	}

	if err := workerManager.Stop(); err != nil {
		logger.Warn("failed to stop workers", zap.Error(err))
	}

	if err := nats.Shutdown(shutdownCtx); err != nil {
		logger.Warn("failed to shutdown NATS", zap.Error(err))
	}

	logger.Info("server shutdown complete")
	return runErr
}
