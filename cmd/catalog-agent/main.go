// Command catalog-agent runs the catalog change-processing agent: it consumes
// change events from Kafka or NATS Streaming, drives them through the
// dispatcher against the remote catalog, and serves the admin surface.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/example/catalog-sdk/admin"
	"github.com/example/catalog-sdk/catalog"
	"github.com/example/catalog-sdk/config"
	"github.com/example/catalog-sdk/dispatch"
	"github.com/example/catalog-sdk/eventsource"
	"github.com/example/catalog-sdk/handlers"
	"github.com/example/catalog-sdk/idempotency"
	"github.com/example/catalog-sdk/refcache"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the agent config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("agent failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := catalog.NewRESTClient(cfg.Catalog.BaseURL, cfg.Catalog.Token, cfg.Catalog.Timeout)
	if cfg.Catalog.PageSize > 0 {
		client.PageSize = cfg.Catalog.PageSize
	}

	cacheOpts := refcache.Options{
		RefreshTimeout: cfg.Cache.RefreshTimeout,
		RefreshBurst:   cfg.Cache.RefreshBurst,
		Logger:         logger,
	}
	if cfg.Cache.RefreshRate > 0 {
		cacheOpts.RefreshRate = rate.Limit(cfg.Cache.RefreshRate)
	}
	resolver := refcache.NewResolver(client, cacheOpts)

	registry := dispatch.NewRegistry()
	if err := handlers.NewTermLifecycleHandler().RegisterAll(registry); err != nil {
		return err
	}
	if err := registry.Register(handlers.EventClassificationChanged, handlers.NewClassificationHandler()); err != nil {
		return err
	}

	store, cleanup, err := buildStore(ctx, cfg.Idempotent, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	dispatcher := dispatch.New(registry, resolver, client, store, dispatch.Config{
		Workers:     cfg.Dispatcher.Workers,
		QueueSize:   cfg.Dispatcher.QueueSize,
		MaxAttempts: cfg.Dispatcher.MaxAttempts,
		BackoffBase: cfg.Dispatcher.BackoffBase,
		BackoffMax:  cfg.Dispatcher.BackoffMax,
		StepTimeout: cfg.Dispatcher.StepTimeout,
		RecordLimit: cfg.Dispatcher.RecordLimit,
		Logger:      logger,
	})
	dispatcher.Start()

	adminSrv := &http.Server{
		Addr:    cfg.Admin.Addr,
		Handler: admin.NewServer(resolver, dispatcher, registry, logger).Handler(),
	}
	go func() {
		logger.Info("admin server listening", "addr", cfg.Admin.Addr)
		if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin server stopped", "error", err)
			stop()
		}
	}()

	sourceErr := make(chan error, 1)
	switch cfg.Source.Kind {
	case "kafka":
		src := eventsource.NewKafkaSource(eventsource.KafkaConfig{
			Brokers: cfg.Source.Kafka.Brokers,
			Topic:   cfg.Source.Kafka.Topic,
			GroupID: cfg.Source.Kafka.GroupID,
		}, dispatcher, logger)
		go func() { sourceErr <- src.Run(ctx) }()
	case "stan":
		src := eventsource.NewStanSource(eventsource.StanConfig{
			ClusterID:  cfg.Source.Stan.ClusterID,
			ClientID:   cfg.Source.Stan.ClientID,
			URL:        cfg.Source.Stan.URL,
			Subject:    cfg.Source.Stan.Subject,
			QueueGroup: cfg.Source.Stan.QueueGroup,
			Durable:    cfg.Source.Stan.Durable,
			AckWait:    cfg.Source.Stan.AckWait,
		}, dispatcher, logger)
		go func() { sourceErr <- src.Run(ctx) }()
	case "none":
		logger.Info("no event source configured, running admin-only")
	}

	logger.Info("agent started",
		"catalog", cfg.Catalog.BaseURL,
		"source", cfg.Source.Kind,
		"idempotency", cfg.Idempotent.Kind,
		"eventTypes", registry.Types())

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-sourceErr:
		if err != nil {
			logger.Error("event source stopped", "error", err)
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("admin server shutdown", "error", err)
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		logger.Warn("dispatcher shutdown", "error", err)
	}
	resolver.Reset()

	logger.Info("agent stopped")
	return nil
}

// buildStore constructs the configured idempotency store and returns a
// cleanup for its connections. The "memory" kind returns a nil store; the
// dispatcher then owns its own in-process one.
func buildStore(ctx context.Context, cfg config.IdempotentConfig, logger *slog.Logger) (dispatch.IdempotencyStore, func(), error) {
	switch cfg.Kind {
	case "memory":
		return nil, func() {}, nil

	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, fmt.Errorf("idempotency postgres: %w", err)
		}
		store := idempotency.NewPostgresStore(pool, cfg.Consumer)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info("idempotency store ready", "kind", "postgres")
		return store, pool.Close, nil

	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("idempotency redis: %w", err)
		}
		logger.Info("idempotency store ready", "kind", "redis")
		return idempotency.NewRedisStore(client, cfg.Consumer, cfg.Retention), func() { _ = client.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown idempotency kind %q", cfg.Kind)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
