package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/makselll/rate-limiter/limiter"
	"github.com/makselll/rate-limiter/proxy"
	"github.com/makselll/rate-limiter/settings"

	// Bucket store backends register themselves on import.
	_ "github.com/makselll/rate-limiter/backends/memory"
	_ "github.com/makselll/rate-limiter/backends/postgres"
	_ "github.com/makselll/rate-limiter/backends/redis"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(logger); err != nil {
		logger.Error("exiting", zap.Error(err))
		os.Exit(1)
	}
}

func run(logger *zap.Logger) error {
	cfg, err := settings.Load()
	if err != nil {
		return err
	}

	store, err := cfg.NewBackend()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	whitelist, err := cfg.Whitelist()
	if err != nil {
		return err
	}
	strats, err := cfg.BuildStrategies()
	if err != nil {
		return err
	}

	lim, err := limiter.New(limiter.Config{
		Store:       store,
		Strategies:  strats,
		IPWhitelist: whitelist,
		FailClosed:  cfg.RateLimiter.FailClosed,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	srv, err := proxy.New(cfg, lim, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting rate limiter proxy",
		zap.String("backend", cfg.RateLimiter.Backend),
		zap.String("target", cfg.APIGateway.TargetURL),
		zap.Int("strategies", len(strats)),
	)
	return srv.Run(ctx)
}
