package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/helm/settlement/pkg/api"
	"github.com/Mindburn-Labs/helm/settlement/pkg/config"
	"github.com/Mindburn-Labs/helm/settlement/pkg/deploy"
	"github.com/Mindburn-Labs/helm/settlement/pkg/notify"
	"github.com/Mindburn-Labs/helm/settlement/pkg/observability"
	"github.com/Mindburn-Labs/helm/settlement/pkg/store"
	"github.com/Mindburn-Labs/helm/settlement/pkg/substrate"
)

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level()}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// openBackend returns the configured backend, or nil for the in-memory one.
func openBackend(ctx context.Context, cfg *config.Config) (*store.SQLBackend, error) {
	switch cfg.Backend {
	case "sqlite":
		return store.Open(ctx, store.DialectSQLite, cfg.SQLitePath)
	case "postgres":
		return store.Open(ctx, store.DialectPostgres, cfg.DatabaseURL)
	default:
		return nil, nil
	}
}

func runServer(stdout, stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "config: %v\n", err)
		return 2
	}
	logger := newLogger(cfg, stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger); err != nil {
		logger.Error("node stopped", "error", err)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, "bye")
	return 0
}

//nolint:gocognit
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	sqlBackend, err := openBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s backend: %w", cfg.Backend, err)
	}
	var backend substrate.Backend = substrate.NewMemoryBackend()
	if sqlBackend != nil {
		backend = sqlBackend
		defer func() { _ = sqlBackend.Close() }()
	}
	logger.Info("backend ready", "backend", cfg.Backend)

	sinks := []substrate.EventSink{notify.NewLogSink(logger)}
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rs := notify.NewRedisSink(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Channel)
		if err := rs.Ping(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer func() { _ = rs.Close() }()

		// Durable backends record events with each commit and relay them.
		if sqlBackend != nil {
			outbox, err := store.NewEventOutbox(ctx, sqlBackend)
			if err != nil {
				return err
			}
			go outbox.RunRelay(ctx, rs, time.Second)
		} else {
			sinks = append(sinks, rs)
		}

		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer func() { _ = rdb.Close() }()
		logger.Info("redis ready", "addr", cfg.Redis.Addr, "channel", cfg.Redis.Channel)
	}

	otelCfg := observability.DefaultConfig()
	otelCfg.ServiceVersion = version
	otelCfg.Enabled = cfg.Telemetry.Enabled
	otelCfg.OTLPEndpoint = cfg.Telemetry.Endpoint
	otelCfg.Insecure = cfg.Telemetry.Insecure
	otelCfg.SampleRate = cfg.Telemetry.SampleRate
	obs, err := observability.New(ctx, otelCfg)
	if err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	slo := observability.NewSLOTracker(observability.DefaultSLOTargets()...)
	obs.WithSLO(slo)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	h := substrate.NewHost(backend,
		substrate.WithLogger(logger),
		substrate.WithSinks(sinks...),
		substrate.WithTracker(obs),
	)
	proto, err := deploy.New(ctx, h)
	if err != nil {
		return fmt.Errorf("deploy: %w", err)
	}
	defer func() { _ = proto.Close(context.Background()) }()

	var limiter api.LimiterStore = api.NewMemoryLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	if rdb != nil {
		limiter = api.NewRedisLimiter(rdb, cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewServer(proto, api.WithLimiter(limiter), api.WithSLO(slo)).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
