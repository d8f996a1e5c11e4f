// Command worker runs the stream enrichment worker: it consumes raw job
// postings from Redpanda, enriches them through the AI dispatcher, and
// persists the result.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/ai-job-matcher/internal/adapter/ai/gemini"
	rediscache "github.com/fairyhunter13/ai-job-matcher/internal/adapter/cache/redis"
	"github.com/fairyhunter13/ai-job-matcher/internal/adapter/observability"
	"github.com/fairyhunter13/ai-job-matcher/internal/adapter/queue/redpanda"
	"github.com/fairyhunter13/ai-job-matcher/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/ai-job-matcher/internal/config"
	"github.com/fairyhunter13/ai-job-matcher/internal/service/dispatcher"
	"github.com/fairyhunter13/ai-job-matcher/internal/service/enrich"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Expose worker metrics on a dedicated port so Prometheus can scrape
	// queue and dispatcher instrumentation.
	observability.InitMetrics()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9090", mux); err != nil {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting worker", slog.String("env", cfg.AppEnv))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("database connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	jobRepo := postgres.NewJobRepo(pool)
	if err := jobRepo.EnsureSchema(ctx); err != nil {
		slog.Error("schema setup failed", slog.Any("error", err))
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() { _ = rdb.Close() }()
	cache := rediscache.New(rdb)

	disp, err := dispatcher.New(cfg, gemini.New(cfg))
	if err != nil {
		slog.Error("dispatcher init failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("dispatcher initialized", slog.Int("pool_size", disp.PoolSize()))

	worker, err := redpanda.NewWorker(cfg, enrich.New(disp), jobRepo, cache)
	if err != nil {
		slog.Error("worker init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer worker.Close()

	slog.Info("worker consuming",
		slog.String("topic", cfg.RawJobsTopic),
		slog.String("group", cfg.ConsumerGroup))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("worker stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("worker stopped")
}
