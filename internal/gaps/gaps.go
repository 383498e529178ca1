// Package gaps finds holes in the stored trade history of a symbol.
package gaps

import (
	"context"

	"footprint/internal/market"
)

const DefaultMinGapMs int64 = 60_000

// TimestampScanner streams stored trade timestamps in ascending order.
type TimestampScanner interface {
	ScanTradeTimestamps(ctx context.Context, symbol string, start, end int64, fn func(int64)) error
}

type Detector struct {
	store TimestampScanner
}

func NewDetector(store TimestampScanner) *Detector {
	return &Detector{store: store}
}

// DetectGaps scans stored trades in [start, end] and reports every hole wider
// than minGapMs. No stored data yields no gaps; cold start is the caller's case.
func (d *Detector) DetectGaps(ctx context.Context, symbol string, start, end, minGapMs int64) ([]market.DataGap, error) {
	w := newWalker(symbol, start, minGapMs)
	if err := d.store.ScanTradeTimestamps(ctx, symbol, start, end, w.step); err != nil {
		return nil, err
	}
	return w.gaps, nil
}

// Detect is DetectGaps over an ascending slice of timestamps.
func Detect(symbol string, timestamps []int64, start, minGapMs int64) []market.DataGap {
	w := newWalker(symbol, start, minGapMs)
	for _, ts := range timestamps {
		w.step(ts)
	}
	return w.gaps
}

type walker struct {
	symbol string
	start  int64
	minGap int64
	prev   int64
	seen   bool
	gaps   []market.DataGap
}

func newWalker(symbol string, start, minGap int64) *walker {
	if minGap <= 0 {
		minGap = DefaultMinGapMs
	}
	return &walker{symbol: symbol, start: start, minGap: minGap}
}

func (w *walker) step(ts int64) {
	if !w.seen {
		w.seen = true
		if ts-w.start > w.minGap {
			w.emit(w.start, ts)
		}
		w.prev = ts
		return
	}
	if ts-w.prev > w.minGap {
		w.emit(w.prev, ts)
	}
	if ts > w.prev {
		w.prev = ts
	}
}

func (w *walker) emit(from, to int64) {
	w.gaps = append(w.gaps, market.DataGap{Symbol: w.symbol, StartTimeMs: from, EndTimeMs: to})
}
