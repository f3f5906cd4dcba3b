package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"foodsafe-workflow/internal/api"
	"foodsafe-workflow/internal/config"
	"foodsafe-workflow/internal/dedupe"
	"foodsafe-workflow/internal/evidence"
	"foodsafe-workflow/internal/notify"
	"foodsafe-workflow/internal/ratelimit"
	"foodsafe-workflow/internal/store"
	"foodsafe-workflow/internal/sweep"
	"foodsafe-workflow/internal/workflow"
)

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
		signal.Notify(ch, os.Interrupt)
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
	limiter := ratelimit.NewActorLimiter(redisClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
	deduper := dedupe.New(redisClient, "workflow", cfg.DedupeTTL)

	engine := workflow.NewEngine(st, logger)
	sweeper := sweep.NewRunner(st, deduper, notify.NewLogger(logger), logger, cfg.SweepBatchSize)

	ev, err := evidence.New(ctx, cfg)
	if err != nil {
		logger.Fatal("init evidence store", zap.Error(err))
	}

	server := api.New(cfg, engine, sweeper, ev, limiter, logger)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	logger.Info("api listening", zap.String("port", cfg.HTTPPort))
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "dev" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
