// Command auditd runs the audit engine's background side: the stream relay
// that mirrors ledger appends to Kafka, the retention cleanup loop, and a
// Prometheus metrics endpoint.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"transtrack/internal/audit/cache"
	"transtrack/internal/audit/metrics"
	"transtrack/internal/audit/models"
	"transtrack/internal/audit/registry"
	"transtrack/internal/audit/retention"
	"transtrack/internal/audit/service"
	auditpg "transtrack/internal/audit/store/postgres"
	"transtrack/internal/audit/stream"
	"transtrack/internal/platform/config"
	"transtrack/internal/records"
)

const streamInboxSize = 1024

func main() {
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.Kitchen,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if handled, err := oneShot(ctx, logger, os.Args[1:]); handled {
		if err != nil {
			logger.Error("command failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := run(ctx, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("auditd exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg := config.FromEnv()

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, auditpg.Schema); err != nil {
		return fmt.Errorf("apply audit schema: %w", err)
	}
	if _, err := db.ExecContext(ctx, records.Schema); err != nil {
		return fmt.Errorf("apply records schema: %w", err)
	}

	m := metrics.New()

	tables := registry.New()
	users := records.RegisterPostgres(tables, db)
	logger.Info("tracked tables registered", "tables", tables.Tables())

	opts := []service.Option{
		service.WithUserResolver(users),
		service.WithMetrics(m),
		service.WithLogger(logger),
	}
	if cfg.BestEffortWrites {
		opts = append(opts, service.WithWritePolicy(service.WritePolicyBestEffort))
	}

	if cfg.RedisURL != "" {
		redisCache, err := cache.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisCache.Close()
		opts = append(opts, service.WithCache(redisCache, cfg.StatsCacheTTL))
		logger.Info("report caching enabled", "ttl", cfg.StatsCacheTTL)
	}

	var relay *stream.Relay
	if len(cfg.KafkaBrokers) > 0 {
		sink, err := stream.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return fmt.Errorf("connect kafka: %w", err)
		}
		defer sink.Close()

		inbox := make(chan *models.AuditEntry, streamInboxSize)
		opts = append(opts, service.WithStream(inbox))
		relay = stream.NewRelay(sink, inbox,
			stream.WithRelayMetrics(m), stream.WithRelayLogger(logger))
		logger.Info("audit stream enabled", "topic", cfg.KafkaTopic)
	}

	auditStore := auditpg.New(db)
	auditService, err := service.New(auditStore, opts...)
	if err != nil {
		return fmt.Errorf("build audit service: %w", err)
	}

	cleaner := retention.NewCleaner(auditStore,
		retention.WithMetrics(m), retention.WithLogger(logger))

	g, gctx := errgroup.WithContext(ctx)

	if relay != nil {
		g.Go(func() error { return relay.Run(gctx) })
	}

	g.Go(func() error {
		runner := retention.NewRunner(cleaner, cfg.RetentionDays, cfg.CleanupInterval, logger)
		return runner.Run(gctx)
	})

	g.Go(func() error {
		return serveMetrics(gctx, cfg.MetricsAddr, auditService, logger)
	})

	logger.Info("auditd started",
		"metrics_addr", cfg.MetricsAddr,
		"retention_days", cfg.RetentionDays,
		"cleanup_interval", cfg.CleanupInterval)

	return g.Wait()
}

// serveMetrics exposes Prometheus metrics and a health probe backed by the
// ledger itself.
func serveMetrics(ctx context.Context, addr string, auditService *service.Service, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		report, err := auditService.Health(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if report.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		fmt.Fprintln(w, report.Status)
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", "error", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}
