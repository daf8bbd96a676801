// Command scheduler runs only the recovery sweep. Use it to keep orphaned
// jobs moving while API instances are scaled to zero, or to run recovery on
// a separate node from the workers.
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
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.Named("scheduler")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	inst, err := app.New(ctx, cfg, app.RecoveryOnly, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	if err := inst.Start(ctx); err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}

	select {
	case <-ctx.Done():
	case <-inst.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := inst.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", zap.Error(err))
	}
}
