package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/SirClappington/starjobs/internal/app"
	"github.com/SirClappington/starjobs/internal/config"
	"github.com/SirClappington/starjobs/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger, err := logging.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	inst, err := app.New(ctx, cfg, app.Full, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return err
	}
	if err := inst.Start(ctx); err != nil {
		_ = inst.Shutdown(context.Background())
		logger.Error("startup failed", zap.Error(err))
		return err
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case <-inst.Done():
		logger.Warn("instance stopped unexpectedly")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := inst.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", zap.Error(err))
		return err
	}
	return nil
}
