package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Priya8975/tenant-event-bus/internal/api"
	"github.com/Priya8975/tenant-event-bus/internal/config"
	"github.com/Priya8975/tenant-event-bus/internal/engine"
	"github.com/Priya8975/tenant-event-bus/internal/schema"
	"github.com/Priya8975/tenant-event-bus/internal/store"
	"github.com/Priya8975/tenant-event-bus/internal/telemetry"
	"github.com/Priya8975/tenant-event-bus/internal/webhook"
	ws "github.com/Priya8975/tenant-event-bus/internal/websocket"
	"github.com/Priya8975/tenant-event-bus/migrations"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if err := run(logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := schema.NewRegistry()
	if cfg.SchemaFile != "" {
		n, err := registry.LoadFile(cfg.SchemaFile)
		if err != nil {
			return err
		}
		logger.Info("schemas loaded", "file", cfg.SchemaFile, "count", n)
	}

	exporter := telemetry.NewExporter()
	defer exporter.Shutdown(context.Background())
	recorder, err := telemetry.NewRecorder(exporter.Provider().Meter(telemetry.MeterName))
	if err != nil {
		return err
	}

	hub := ws.NewHub(logger)

	bus, err := engine.New(cfg.Bus(), logger,
		engine.WithRegistry(registry),
		engine.WithNotifier(hub),
		engine.WithRecorder(recorder),
	)
	if err != nil {
		return err
	}
	defer bus.Shutdown()

	// Redis guards webhook endpoints when configured.
	var (
		breaker *webhook.Breaker
		limiter *webhook.Limiter
	)
	if cfg.RedisURL != "" {
		redisStore, err := store.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer redisStore.Close()
		logger.Info("connected to Redis")

		breaker = webhook.NewBreaker(redisStore.Client(), 0, 0, logger)
		limiter = webhook.NewLimiter(redisStore.Client(), time.Second, logger)
	}

	deliverer := webhook.NewDeliverer(cfg.WebhookTimeout(), breaker, limiter, logger)
	webhooks := webhook.NewRegistry(bus, deliverer, logger)

	deps := api.Deps{
		Bus:       bus,
		Webhooks:  webhooks,
		Breaker:   breaker,
		Hub:       hub,
		Telemetry: exporter,
		Logger:    logger,
	}

	if cfg.DatabaseURL != "" {
		pgStore, err := store.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pgStore.Close()
		logger.Info("connected to PostgreSQL")

		if err := pgStore.RunMigrations(ctx, migrations.FS); err != nil {
			return err
		}
		logger.Info("database migrations applied")

		subs, err := pgStore.ListActiveSubscribers(ctx)
		if err != nil {
			return err
		}
		for _, sub := range subs {
			if err := webhooks.Attach(sub); err != nil {
				return err
			}
		}
		logger.Info("webhook subscribers attached", "count", webhooks.Len())
		deps.Subscribers = pgStore
	}

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("server starting", "port", cfg.Port, "storage_dir", cfg.StorageDir)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
