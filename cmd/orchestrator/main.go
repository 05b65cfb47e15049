// Package main provides the orchestrator entry point: it consumes
// submission envelopes from the work queue and drives each job through
// prerequisite resolution, worker fan-out, and its terminal transition.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/portfolio-agents/internal/adapter/cache/redisx"
	"github.com/fairyhunter13/portfolio-agents/internal/adapter/observability"
	"github.com/fairyhunter13/portfolio-agents/internal/adapter/queue/redpanda"
	"github.com/fairyhunter13/portfolio-agents/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/portfolio-agents/internal/adapter/workers/httpinvoke"
	"github.com/fairyhunter13/portfolio-agents/internal/app"
	"github.com/fairyhunter13/portfolio-agents/internal/config"
	"github.com/fairyhunter13/portfolio-agents/internal/domain"
	"github.com/fairyhunter13/portfolio-agents/internal/orchestrator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			slog.Error("metrics server error", slog.Any("error", err))
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

	slog.Info("starting orchestrator", slog.String("env", cfg.AppEnv))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("database connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	maxAttempts, maxElapsed := cfg.StoreRetryBudget()
	retrier := postgres.Retrier{MaxAttempts: maxAttempts, MaxElapsed: maxElapsed}
	jobRepo := postgres.NewJobRepo(pool, retrier)

	var instruments domain.InstrumentRepository = postgres.NewInstrumentRepo(pool, retrier)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		instruments = redisx.NewInstrumentCache(rdb, instruments, time.Hour)
		slog.Info("instrument cache enabled", slog.String("redis_addr", cfg.RedisAddr))
	}

	endpoints, err := config.LoadWorkerEndpoints(cfg.WorkerEndpointsFile)
	if err != nil {
		slog.Error("worker endpoints load failed", slog.Any("error", err))
		os.Exit(1)
	}
	invoker := httpinvoke.New(endpoints, cfg.WorkerTimeout)

	orch := orchestrator.New(jobRepo, instruments, invoker, cfg.OrchestratorTimeout)

	consumer, err := redpanda.NewConsumerWithTopic(
		cfg.KafkaBrokers,
		cfg.QueueGroupID,
		cfg.QueueMaxReceive,
		cfg.QueueTopic,
		orch.Process,
	)
	if err != nil {
		slog.Error("queue consumer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := consumer.Close(); err != nil {
			slog.Error("failed to close consumer", slog.Any("error", err))
		}
	}()

	// The sweeper covers jobs orphaned by a crashed orchestrator: give
	// in-flight jobs the full deadline plus slack before declaring them dead.
	if cfg.SweeperInterval > 0 {
		maxAge := cfg.OrchestratorTimeout + 5*time.Minute
		if sweeper := app.NewStaleJobSweeper(jobRepo, maxAge, cfg.SweeperInterval); sweeper != nil {
			go sweeper.Run(ctx)
		}
	}

	slog.Info("orchestrator started, waiting for submissions")
	if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
		slog.Error("consumer error", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("orchestrator stopped")
}
