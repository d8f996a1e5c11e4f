// Command server starts the AI Job Matcher HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	rediscache "github.com/fairyhunter13/ai-job-matcher/internal/adapter/cache/redis"
	"github.com/fairyhunter13/ai-job-matcher/internal/adapter/ai/gemini"
	httpserver "github.com/fairyhunter13/ai-job-matcher/internal/adapter/httpserver"
	"github.com/fairyhunter13/ai-job-matcher/internal/adapter/observability"
	"github.com/fairyhunter13/ai-job-matcher/internal/adapter/repo/postgres"
	tikaext "github.com/fairyhunter13/ai-job-matcher/internal/adapter/textextractor/tika"
	"github.com/fairyhunter13/ai-job-matcher/internal/app"
	"github.com/fairyhunter13/ai-job-matcher/internal/config"
	"github.com/fairyhunter13/ai-job-matcher/internal/service/dispatcher"
	"github.com/fairyhunter13/ai-job-matcher/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Register all Prometheus metrics once per process so /metrics exposes
	// HTTP, dispatcher, and matching instrumentation.
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()
	jobRepo := postgres.NewJobRepo(pool)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() { _ = rdb.Close() }()
	cache := rediscache.New(rdb)

	// AI provider behind the rotating credential dispatcher.
	disp, err := dispatcher.New(cfg, gemini.New(cfg))
	if err != nil {
		slog.Error("dispatcher init failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("dispatcher initialized", slog.Int("pool_size", disp.PoolSize()))

	ext := tikaext.New(cfg.TikaURL)
	analyzeSvc := usecase.NewAnalyzeService(disp, jobRepo, ext, cfg)

	dbCheck, redisCheck, tikaCheck := app.BuildReadinessChecks(cfg, pool, rdb)
	srv := httpserver.NewServer(cfg, analyzeSvc, cache, jobRepo, dbCheck, redisCheck, tikaCheck)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
