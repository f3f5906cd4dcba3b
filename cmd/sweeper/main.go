package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"foodsafe-workflow/internal/config"
	"foodsafe-workflow/internal/dedupe"
	"foodsafe-workflow/internal/notify"
	"foodsafe-workflow/internal/store"
	"foodsafe-workflow/internal/sweep"
	"foodsafe-workflow/internal/telemetry"
)

// The sweeper runs the automation passes on an interval. Every sweep is
// idempotent, so overlapping runs (or an external cron hitting the API's
// /sweeps/run at the same time) converge instead of duplicating work.
func main() {
	cfg := config.Load()

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.NewPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		logger.Fatal("migrations", zap.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	deduper := dedupe.New(redisClient, "workflow", cfg.DedupeTTL)

	runner := sweep.NewRunner(st, deduper, notify.NewLogger(logger), logger, cfg.SweepBatchSize)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	logger.Info("sweeper started", zap.Duration("interval", cfg.SweepInterval))
	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	runOnce(ctx, runner, logger)
	for {
		select {
		case <-ctx.Done():
			logger.Info("sweeper stopping")
			return
		case <-ticker.C:
			runOnce(ctx, runner, logger)
		}
	}
}

func runOnce(ctx context.Context, runner *sweep.Runner, logger *zap.Logger) {
	for _, s := range runner.RunAll(ctx) {
		fields := []zap.Field{
			zap.String("sweep", s.Sweep),
			zap.Int("scanned", s.Scanned),
			zap.Int("applied", s.Applied),
			zap.Int("failed", s.Failed),
		}
		if s.Failed > 0 {
			logger.Warn("sweep finished with failures", append(fields, zap.Strings("errors", s.Errors))...)
			continue
		}
		logger.Info("sweep finished", fields...)
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "dev" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
