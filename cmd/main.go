package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/amirphl/trading-simulator/internal/api"
	"github.com/amirphl/trading-simulator/internal/broadcast"
	"github.com/amirphl/trading-simulator/internal/config"
	"github.com/amirphl/trading-simulator/internal/db"
	"github.com/amirphl/trading-simulator/internal/db/conf"
	"github.com/amirphl/trading-simulator/internal/engine"
	"github.com/amirphl/trading-simulator/internal/market"
	"github.com/amirphl/trading-simulator/internal/notifier"
	"github.com/amirphl/trading-simulator/internal/scheduler"
	"github.com/amirphl/trading-simulator/internal/trader"
	"github.com/amirphl/trading-simulator/internal/utils"
)

func main() {
	cfg := config.MustLoadConfig()
	utils.SetLogFile(cfg.LogFile)
	logger := utils.GetLogger()
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		log.Fatalf("trading-simulator: %v", err)
	}
}

func run(cfg config.Config, logger *zap.SugaredLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var sender notifier.Sender
	notifiers := notifier.Multi{notifier.Log{L: logger}}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		tg := notifier.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID, cfg.NotificationRetries, cfg.NotificationDelay)
		sender = tg
		notifiers = append(notifiers, tg)
	}

	storage, closeStorage, err := openStorage(ctx, cfg, sender)
	if err != nil {
		return err
	}
	defer closeStorage()

	settings, err := loadSettings(ctx, storage, cfg.Settings)
	if err != nil {
		return err
	}

	catalog := market.DefaultCatalog()
	if cfg.CatalogFile != "" {
		if catalog, err = market.LoadCatalog(cfg.CatalogFile); err != nil {
			return err
		}
	}

	hub := notifier.NewHub(logger)
	defer hub.Close()
	notifiers = append(notifiers, hub, notifier.Journal{J: storage, Log: logger})

	eng, err := engine.New(engine.Options{
		Settings: settings,
		Catalog:  catalog,
		Seed:     cfg.Seed,
		Notifier: notifiers,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	bus, err := openBus(cfg, logger)
	if err != nil {
		return err
	}
	defer bus.Close()

	runner, err := scheduler.New(scheduler.Options{
		Engine:          eng,
		Store:           storage,
		Journal:         storage,
		Bus:             bus,
		Publisher:       hub,
		Logger:          logger,
		PersistInterval: cfg.PersistInterval,
	})
	if err != nil {
		return err
	}
	if err := runner.LoadAll(ctx); err != nil {
		return err
	}

	srv, err := api.NewServer(api.Options{
		Engine:     eng,
		Loader:     runner,
		Registry:   trader.NewRegistry(storage, 0),
		Settings:   storage,
		Journal:    storage,
		Bus:        bus,
		Streamer:   hub,
		AdminToken: cfg.AdminToken,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	if cfg.AdminToken == "" {
		logger.Warnw("run | admin_token is empty, admin routes are unauthenticated")
	}

	if os.Getenv(gin.EnvGinMode) == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorw("run | scheduler stopped with error", "error", err)
		}
	}()

	serveErr := make(chan error, 1)
	go func() {
		logger.Infow("run | http server listening", "addr", cfg.ListenAddr, "storage", cfg.Storage)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Infow("run | shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			stop()
			wg.Wait()
			return fmt.Errorf("http server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("run | http shutdown incomplete", "error", err)
	}
	wg.Wait()
	logger.Infow("run | shutdown complete")
	return nil
}

// openStorage builds the configured store. Postgres runs migrations first,
// retried and alerted through sender when one is configured.
func openStorage(ctx context.Context, cfg config.Config, sender notifier.Sender) (db.Storage, func(), error) {
	if cfg.Storage == "memory" {
		return db.NewMemory(), func() {}, nil
	}

	schema, err := conf.FindSchema()
	if err != nil {
		return nil, nil, err
	}
	migrate := func() error { return db.Migrate(ctx, cfg.DBConnStr, schema) }
	if sender != nil {
		err = sender.RetryWithNotification(migrate, "database migration")
	} else {
		err = migrate()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	c, err := conf.NewConfig(cfg.DBConnStr, cfg.DBMaxOpen, cfg.DBMaxIdle)
	if err != nil {
		return nil, nil, err
	}
	storage, err := db.New(*c)
	if err != nil {
		c.DB.Close()
		return nil, nil, err
	}
	return storage, func() { c.DB.Close() }, nil
}

// loadSettings prefers the stored admin settings and seeds the store with the
// configured ones on first run.
func loadSettings(ctx context.Context, store db.SettingsStore, fallback config.Settings) (config.Settings, error) {
	s, err := store.LoadSettings(ctx)
	if errors.Is(err, db.ErrNotFound) {
		if err := store.SaveSettings(ctx, fallback); err != nil {
			return config.Settings{}, err
		}
		return fallback, nil
	}
	if err != nil {
		return config.Settings{}, err
	}
	if err := s.Validate(); err != nil {
		utils.GetLogger().Warnw("loadSettings | stored settings invalid, using configured settings", "error", err)
		return fallback, nil
	}
	return s, nil
}

func openBus(cfg config.Config, logger *zap.SugaredLogger) (broadcast.Bus, error) {
	if cfg.NatsURL == "" {
		return broadcast.NewLocal(), nil
	}
	bus, err := broadcast.ConnectNATS(cfg.NatsURL, cfg.NatsSubject, logger)
	if err != nil {
		return nil, err
	}
	logger.Infow("openBus | control signals over nats", "url", cfg.NatsURL, "subject", cfg.NatsSubject)
	return bus, nil
}
