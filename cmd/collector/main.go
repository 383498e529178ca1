package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"footprint/config"
	"footprint/internal/collector"
	"footprint/logger"

	"go.uber.org/zap"
)

func main() {
	// viper config
	cfg := config.Load()

	// zap logger
	log, err := logger.New(cfg.Log)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("starting collector",
		zap.Strings("symbols", cfg.Engine.Symbols),
		zap.Strings("timeframes", cfg.Engine.Timeframes),
		zap.Int("retention_days", cfg.Engine.RetentionDays),
		zap.String("storage", cfg.Storage.Driver))

	// run collector until interrupted
	if err := collector.Run(ctx, cfg, log); err != nil {
		log.Fatal("collector failed", zap.Error(err))
	}
	log.Info("collector stopped")
}
