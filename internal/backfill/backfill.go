// Package backfill closes holes between the retention horizon and now.
package backfill

import (
	"context"
	"errors"
	"time"

	"footprint/internal/market"
	"footprint/internal/source"

	"go.uber.org/zap"
)

type Store interface {
	EarliestTradeTime(ctx context.Context, symbol string) (int64, bool, error)
	LatestTradeTime(ctx context.Context, symbol string) (int64, bool, error)
	UpsertTrades(ctx context.Context, symbol string, trades []market.Trade) (int64, error)
}

type GapDetector interface {
	DetectGaps(ctx context.Context, symbol string, start, end, minGapMs int64) ([]market.DataGap, error)
}

// Rebuilder recomputes and persists candles for every bucket touching [start, end].
type Rebuilder interface {
	Rebuild(ctx context.Context, symbol string, start, end int64) error
}

type Options struct {
	Retention            time.Duration
	MinGap               time.Duration // detector threshold
	LiveCatchupGap       time.Duration // smaller gaps are left to the live stream
	LiveCatchupThreshold time.Duration // tail fetch when the latest trade is older
	Chunk                time.Duration // max span fetched and stored at once
}

func (o *Options) setDefaults() {
	if o.Retention <= 0 {
		o.Retention = 24 * time.Hour
	}
	if o.MinGap <= 0 {
		o.MinGap = time.Minute
	}
	if o.LiveCatchupGap <= 0 {
		o.LiveCatchupGap = time.Minute
	}
	if o.LiveCatchupThreshold <= 0 {
		o.LiveCatchupThreshold = 5 * time.Minute
	}
	if o.Chunk <= 0 {
		o.Chunk = 6 * time.Hour
	}
}

// Result summarizes one backfill run.
type Result struct {
	Ranges  []market.DataGap
	Fetched int
	Stored  int64
	Skipped int // chunks whose fetch failed
}

type Orchestrator struct {
	store   Store
	gaps    GapDetector
	pull    source.PullSource
	rebuild Rebuilder
	opts    Options
	logger  *zap.Logger

	now    func() time.Time
	notify func(symbol string)
}

func New(store Store, gaps GapDetector, pull source.PullSource, rebuild Rebuilder, opts Options, logger *zap.Logger) *Orchestrator {
	opts.setDefaults()
	return &Orchestrator{
		store:   store,
		gaps:    gaps,
		pull:    pull,
		rebuild: rebuild,
		opts:    opts,
		logger:  logger,
		now:     time.Now,
	}
}

// SetClock replaces the wall clock.
func (o *Orchestrator) SetClock(now func() time.Time) { o.now = now }

// OnDataChanged registers the callback fired after a run stored anything.
func (o *Orchestrator) OnDataChanged(fn func(symbol string)) { o.notify = fn }

// Plan returns the ranges a backfill of symbol would fetch right now.
func (o *Orchestrator) Plan(ctx context.Context, symbol string) ([]market.DataGap, error) {
	now := o.now().UnixMilli()
	windowStart := now - o.opts.Retention.Milliseconds()

	earliest, ok, err := o.store.EarliestTradeTime(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []market.DataGap{{Symbol: symbol, StartTimeMs: windowStart, EndTimeMs: now}}, nil
	}
	latest, _, err := o.store.LatestTradeTime(ctx, symbol)
	if err != nil {
		return nil, err
	}

	var ranges []market.DataGap
	if earliest > windowStart {
		ranges = append(ranges, market.DataGap{Symbol: symbol, StartTimeMs: windowStart, EndTimeMs: earliest})
	}

	gaps, err := o.gaps.DetectGaps(ctx, symbol, max(earliest, windowStart), latest, o.opts.MinGap.Milliseconds())
	if err != nil {
		return nil, err
	}
	for _, g := range gaps {
		if g.DurationMs() < o.opts.LiveCatchupGap.Milliseconds() {
			continue
		}
		ranges = append(ranges, g)
	}

	if latest < now-o.opts.LiveCatchupThreshold.Milliseconds() {
		ranges = append(ranges, market.DataGap{Symbol: symbol, StartTimeMs: latest, EndTimeMs: now})
	}
	return ranges, nil
}

// BackfillNow plans and fetches every missing range of symbol. Fetch failures
// skip the affected chunk; store failures abort the run.
func (o *Orchestrator) BackfillNow(ctx context.Context, symbol string) (Result, error) {
	log := o.logger.With(zap.String("symbol", symbol))

	ranges, err := o.Plan(ctx, symbol)
	if err != nil {
		return Result{}, err
	}
	res := Result{Ranges: ranges}
	if len(ranges) == 0 {
		log.Debug("backfill: nothing to do")
		return res, nil
	}

	chunk := o.opts.Chunk.Milliseconds()
	for _, r := range ranges {
		log.Info("backfilling range",
			zap.Time("from", time.UnixMilli(r.StartTimeMs).UTC()),
			zap.Time("to", time.UnixMilli(r.EndTimeMs).UTC()))

		for from := r.StartTimeMs; from < r.EndTimeMs; from += chunk {
			to := min(from+chunk, r.EndTimeMs)

			trades, err := o.pull.FetchTrades(ctx, symbol, from, to)
			if err != nil {
				if ctx.Err() != nil {
					return res, ctx.Err()
				}
				if errors.Is(err, market.ErrFetch) {
					log.Warn("backfill fetch failed, skipping chunk",
						zap.Int64("start", from), zap.Int64("end", to), zap.Error(err))
					res.Skipped++
					continue
				}
				return res, err
			}
			res.Fetched += len(trades)
			if len(trades) == 0 {
				continue
			}

			n, err := o.store.UpsertTrades(ctx, symbol, trades)
			if err != nil {
				return res, err
			}
			res.Stored += n

			if err := o.rebuild.Rebuild(ctx, symbol, from, to); err != nil {
				return res, err
			}
		}
	}

	log.Info("backfill complete",
		zap.Int("ranges", len(ranges)),
		zap.Int("fetched", res.Fetched),
		zap.Int64("stored", res.Stored),
		zap.Int("skipped", res.Skipped))

	if res.Fetched > 0 && o.notify != nil {
		o.notify(symbol)
	}
	return res, nil
}
