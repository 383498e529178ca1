// Package reconciler joins a historical fetch with a live stream so that every
// trade reaches the aggregator exactly once.
package reconciler

import (
	"context"
	"sync"
	"time"

	"footprint/internal/market"
	"footprint/internal/source"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultDedupWindow = 10 * time.Minute

// Sink receives accepted trades in acceptance order.
type Sink interface {
	// Submit queues live trades and must not block.
	Submit(symbol string, trades []market.Trade)
	// Apply persists and aggregates trades, returning once they are applied.
	Apply(ctx context.Context, symbol string, trades []market.Trade) error
}

// Reconciler drives one symbol through
// IDLE -> FETCHING_HISTORY -> BUFFERING_LIVE -> FLUSHING -> STREAMING.
// The buffer is owned by the reconciler and never exposed.
type Reconciler struct {
	symbol string
	pull   source.PullSource
	push   source.PushSource
	sink   Sink
	logger *zap.Logger

	mu        sync.Mutex
	state     State
	session   string
	buffer    []market.Trade
	watermark Watermark
	seen      *dedupWindow
	onLive    func(market.Trade)
	dropped   uint64
}

func New(symbol string, pull source.PullSource, push source.PushSource, sink Sink, dedupWindow time.Duration, logger *zap.Logger) *Reconciler {
	if dedupWindow <= 0 {
		dedupWindow = DefaultDedupWindow
	}
	return &Reconciler{
		symbol: symbol,
		pull:   pull,
		push:   push,
		sink:   sink,
		logger: logger.With(zap.String("symbol", symbol)),
		state:  StateIdle,
		seen:   newDedupWindow(dedupWindow.Milliseconds()),
	}
}

func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Dropped returns how many live trades were discarded as duplicates.
func (r *Reconciler) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

func (r *Reconciler) setState(s State) {
	r.logger.Debug("reconciler state", zap.String("session", r.session),
		zap.Stringer("from", r.state), zap.Stringer("to", s))
	r.state = s
}

// Bootstrap subscribes to the live stream, fetches [start, end] from history,
// applies it and then replays the buffered live trades past the watermark.
// onHistoryComplete runs after history is applied; onLiveTrade runs for every
// accepted live trade.
//
// A failed fetch or connect leaves the symbol streaming with whatever history
// was obtained. A store failure applying history is returned.
func (r *Reconciler) Bootstrap(ctx context.Context, start, end int64, onHistoryComplete func(), onLiveTrade func(market.Trade)) error {
	r.mu.Lock()
	if r.state != StateIdle {
		r.mu.Unlock()
		return market.ErrAlreadyBootstrapped
	}
	r.session = uuid.NewString()
	r.onLive = onLiveTrade
	r.setState(StateFetchingHistory)
	r.mu.Unlock()

	log := r.logger.With(zap.String("session", r.session))

	if err := r.push.Subscribe(r.symbol, r.onTrade); err != nil {
		log.Warn("live subscribe failed", zap.Error(err))
	}
	var connErr error
	if !r.push.IsConnected() {
		if connErr = r.push.Connect(ctx); connErr != nil {
			connErr = market.TransportError(connErr)
			log.Error("live stream connect failed, continuing with history only", zap.Error(connErr))
		}
	}

	history, err := r.pull.FetchTrades(ctx, r.symbol, start, end)
	if err != nil {
		log.Error("history fetch failed", zap.Int64("start", start), zap.Int64("end", end), zap.Error(err))
		history = nil
	}

	var storeErr error
	if len(history) > 0 {
		if storeErr = r.sink.Apply(ctx, r.symbol, history); storeErr != nil {
			log.Error("applying history failed", zap.Int("trades", len(history)), zap.Error(storeErr))
		}
	}
	wm := WatermarkOf(history)
	log.Info("history applied",
		zap.Int("trades", len(history)),
		zap.Int64("watermark_id", wm.TradeID),
		zap.Int64("watermark_ts", wm.TimestampMs))

	if onHistoryComplete != nil {
		onHistoryComplete()
	}

	r.mu.Lock()
	r.watermark = wm
	r.setState(StateFlushing)
	r.mu.Unlock()

	r.flush()

	if storeErr != nil {
		return storeErr
	}
	return connErr
}

// flush drains the buffer in arrival order until it stays empty, then
// switches to STREAMING under the same lock so no trade can slip between.
func (r *Reconciler) flush() {
	var flushed, dropped int
	for {
		r.mu.Lock()
		if len(r.buffer) == 0 {
			r.setState(StateStreaming)
			r.mu.Unlock()
			break
		}
		batch := r.buffer
		r.buffer = nil
		accepted := r.acceptLocked(batch)
		if len(accepted) > 0 {
			r.sink.Submit(r.symbol, accepted)
		}
		onLive := r.onLive
		r.mu.Unlock()

		flushed += len(accepted)
		dropped += len(batch) - len(accepted)
		if onLive != nil {
			for _, t := range accepted {
				onLive(t)
			}
		}
	}
	r.logger.Info("buffer flushed, streaming",
		zap.String("session", r.session), zap.Int("applied", flushed), zap.Int("dropped", dropped))
}

// acceptLocked filters out trades covered by the watermark or already seen.
func (r *Reconciler) acceptLocked(trades []market.Trade) []market.Trade {
	accepted := make([]market.Trade, 0, len(trades))
	for _, t := range trades {
		if r.watermark.Covers(t) || !r.seen.Add(t) {
			r.dropped++
			continue
		}
		accepted = append(accepted, t)
	}
	return accepted
}

// onTrade is the live delivery callback. It never blocks on I/O.
func (r *Reconciler) onTrade(t market.Trade) {
	r.mu.Lock()
	switch {
	case r.state.buffering():
		if r.state == StateFetchingHistory {
			r.setState(StateBufferingLive)
		}
		r.buffer = append(r.buffer, t)
		r.mu.Unlock()
		return
	case r.state != StateStreaming:
		r.mu.Unlock()
		return
	}
	accepted := r.acceptLocked([]market.Trade{t})
	if len(accepted) == 0 {
		r.mu.Unlock()
		return
	}
	r.sink.Submit(r.symbol, accepted)
	onLive := r.onLive
	r.mu.Unlock()

	if onLive != nil {
		onLive(t)
	}
}
