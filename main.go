package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	clts "polycopy/clients"
	"polycopy/config"
	"polycopy/internal/app"
	"polycopy/internal/storage"
	"polycopy/internal/storage/memory"
	"polycopy/internal/storage/migrations"
	"polycopy/internal/storage/postgres"
	"polycopy/internal/storage/redisstore"

	"go.uber.org/zap"
)

const (
	// loadTimeout is the maximum time to wait for loading from gist
	loadTimeout = 30 * time.Second

	// storageTimeout bounds connecting to and migrating the database
	storageTimeout = 60 * time.Second
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// Load config from environment variables
	envConfig, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	logger.Info("starting polycopy", zap.Bool("isProd", envConfig.IsProd))

	if res := envConfig.Validate(); !res.Valid {
		logger.Fatal("invalid config", zap.Any("errors", res.Errors))
	}

	// Create LiveConfig with env config as initial value
	liveConfig := config.NewLiveConfig(envConfig)

	// Initialize clients (needed for Gist access)
	logger.Info("instantiating clients")
	clients := clts.NewClients(logger, envConfig)
	defer clients.Close()

	settingsManager := config.NewSettingsManager(logger, clients.Gist, liveConfig)

	// Load settings from Gist if enabled
	if settingsManager.IsEnabled() {
		logger.Info("loading settings from gist", zap.String("gist_id", clients.Gist.GetGistID()))
		loadCtx, loadCancel := context.WithTimeout(context.Background(), loadTimeout)
		cfg, err := settingsManager.LoadSettings(loadCtx, envConfig)
		loadCancel()
		if err != nil {
			logger.Warn("failed to load settings from gist, using env/defaults", zap.Error(err))
		} else if cfg != nil {
			if err := liveConfig.Update(cfg); err != nil {
				logger.Warn("failed to apply gist settings", zap.Error(err))
			} else {
				logger.Info("settings loaded from gist")
			}
		}
	} else {
		logger.Info("settings gist not configured, using env/defaults")
	}

	storeCtx, storeCancel := context.WithTimeout(context.Background(), storageTimeout)
	stores, closeStores, err := openStores(storeCtx, logger, liveConfig.Get().Storage)
	storeCancel()
	if err != nil {
		logger.Fatal("failed to open storage", zap.Error(err))
	}
	defer closeStores()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	runner := app.NewRunner(clients, liveConfig, settingsManager, stores)
	if err := runner.Run(ctx); err != nil {
		logger.Error("runner failed", zap.Error(err))
	}
}

// openStores builds the user, history and snapshot stores for cfg. The
// returned func releases every connection that was opened.
func openStores(ctx context.Context, logger *zap.Logger, cfg config.StorageConfig) (app.Stores, func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	stores := app.Stores{Backend: cfg.Backend}
	switch cfg.Backend {
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return app.Stores{}, nil, err
		}
		closers = append(closers, pool.Close)

		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			closeAll()
			return app.Stores{}, nil, fmt.Errorf("run migrations: %w", err)
		}
		stores.Users = postgres.NewUserStore(pool)
		stores.History = postgres.NewSessionStore(pool)
		logger.Info("using postgres storage")
	default:
		stores.Backend = "memory"
		stores.Users = memory.NewUserStore()
		stores.History = memory.NewSessionStore()
		logger.Warn("using in-memory storage, users and history are lost on restart")
	}

	var snapshots storage.SnapshotStore = memory.NewSnapshotStore()
	if cfg.RedisURL != "" {
		rs, err := redisstore.NewSnapshotStore(ctx, cfg.RedisURL)
		if err != nil {
			closeAll()
			return app.Stores{}, nil, err
		}
		closers = append(closers, func() {
			if err := rs.Close(); err != nil {
				logger.Warn("failed to close redis", zap.Error(err))
			}
		})
		snapshots = rs
		logger.Info("using redis session snapshots")
	}
	stores.Snapshots = snapshots

	return stores, closeAll, nil
}
