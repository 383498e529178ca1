package collector

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Deleter interface {
	DeleteBefore(ctx context.Context, cutoffMs int64) (trades, candles int64, err error)
}

// RetentionWorker periodically drops trades and candles past the horizon.
type RetentionWorker struct {
	store     Deleter
	retention time.Duration
	interval  time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

func NewRetentionWorker(store Deleter, retention, interval time.Duration, logger *zap.Logger) *RetentionWorker {
	if interval <= 0 {
		interval = time.Hour
	}
	return &RetentionWorker{store: store, retention: retention, interval: interval, logger: logger, now: time.Now}
}

// Cleanup deletes everything older than the horizon once.
func (w *RetentionWorker) Cleanup(ctx context.Context) error {
	cutoff := w.now().Add(-w.retention).UnixMilli()
	trades, candles, err := w.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	if trades > 0 || candles > 0 {
		w.logger.Info("retention cleanup",
			zap.Time("cutoff", time.UnixMilli(cutoff).UTC()),
			zap.Int64("trades", trades),
			zap.Int64("candles", candles))
	}
	return nil
}

// Run cleans up at start and then on every interval until ctx is done.
// Failures are logged and retried on the next tick.
func (w *RetentionWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if err := w.Cleanup(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("retention cleanup failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
