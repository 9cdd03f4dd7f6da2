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

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/swipe/offline-catalog/app/catalog"
	"github.com/swipe/offline-catalog/app/categories"
	"github.com/swipe/offline-catalog/app/config"
	"github.com/swipe/offline-catalog/app/connectivity"
	"github.com/swipe/offline-catalog/app/database"
	"github.com/swipe/offline-catalog/app/logger"
	"github.com/swipe/offline-catalog/app/offline"
	"github.com/swipe/offline-catalog/app/remote"
	"github.com/swipe/offline-catalog/app/retry"
	"github.com/swipe/offline-catalog/app/usecase"
	"github.com/swipe/offline-catalog/models"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "catalog: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DBDriver, cfg.DBDSN, logger.Component(log, "database"))
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	store := models.NewProductsRepository(db)

	client, err := remote.NewClient(cfg.APIBaseURL, cfg.RequestTimeout, logger.Component(log, "remote"))
	if err != nil {
		return err
	}
	// The airplane switch is checked first so a forced offline mode never dials.
	airplane := connectivity.NewSwitch(!cfg.OfflineMode)
	oracle := connectivity.All{airplane, connectivity.NewProbe(cfg.ProbeAddr, cfg.ProbeTimeout)}

	slots, closeSlots, err := retrySlots(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeSlots()

	// The scheduler drains through the coordinator, which arms the scheduler.
	var coordinator *offline.Coordinator
	scheduler := retry.NewScheduler(func(ctx context.Context) error {
		_, err := coordinator.SyncPendingProducts(ctx)
		return err
	}, oracle, retry.Options{
		PollInterval: cfg.RetryPollInterval,
		Backoff:      cfg.RetryBackoff,
		MaxAttempts:  cfg.RetryMaxAttempts,
		Slots:        slots,
		Log:          logger.Component(log, "retry"),
	})
	defer scheduler.Close()

	coordinator = offline.NewCoordinator(client, store, oracle, scheduler,
		offline.WithLogger(logger.Component(log, "sync")))
	products := usecase.NewProducts(coordinator)

	if err := scheduler.Resume(ctx); err != nil {
		log.WithError(err).Warn("failed to resume pending sync task")
	}

	catalogHandler := catalog.NewCatalogHandler(products, cfg.ImageDir, cfg.SearchDebounce, logger.Component(log, "catalog"))
	categoryHandler := categories.NewCategoryHandler(store)
	switchHandler := connectivity.NewSwitchHandler(airplane)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /products", catalogHandler.HandleGet)
	mux.HandleFunc("GET /products/events", catalogHandler.HandleEvents)
	mux.HandleFunc("POST /products", catalogHandler.HandleCreate)
	mux.HandleFunc("POST /sync", catalogHandler.HandleSync)
	mux.HandleFunc("GET /categories", categoryHandler.HandleGetAll)
	mux.HandleFunc("GET /connectivity", switchHandler.HandleGet)
	mux.HandleFunc("PUT /connectivity", switchHandler.HandleSet)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", cfg.ListenAddr).Info("catalog server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func retrySlots(ctx context.Context, cfg *config.Config, log *logrus.Logger) (retry.SlotStore, func(), error) {
	if cfg.RedisAddr == "" {
		return retry.NewMemorySlots(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	log.WithField("addr", cfg.RedisAddr).Info("retry slots stored in Redis")
	return retry.NewRedisSlots(client, "catalog:retry:"), func() { client.Close() }, nil
}
