package collector

import (
	"context"
	"sync"
	"time"

	"footprint/config"
	"footprint/internal/backfill"
	"footprint/internal/gaps"
	"footprint/internal/market"
	"footprint/internal/memorystore"
	"footprint/internal/reconciler"
	"footprint/internal/source"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Store is everything the engine reads and writes durably.
type Store interface {
	TradeStore
	backfill.Store
	gaps.TimestampScanner
	QueryTrades(ctx context.Context, symbol string, start, end int64) ([]market.Trade, error)
	QueryCandles(ctx context.Context, symbol string, tf market.Timeframe, start, end int64) ([]market.Candle, error)
	DeleteSymbolData(ctx context.Context, symbol string) error
}

type Deps struct {
	Store   Store
	Pull    source.PullSource
	Push    source.PushSource
	Symbols *memorystore.MemorySymbolStore // optional
	Config  config.EngineConfig
	Logger  *zap.Logger
}

// Engine is the ingestion and consistency core behind the public operations.
type Engine struct {
	store      Store
	pull       source.PullSource
	push       source.PushSource
	cfg        config.EngineConfig
	timeframes []market.Timeframe
	logger     *zap.Logger

	proc     *Processor
	backfill *backfill.Orchestrator
	candles  *memorystore.MemoryCandleStore
	symbols  *memorystore.MemorySymbolStore

	mu          sync.Mutex
	reconcilers map[string]*bootstrapRun
	tracked     map[string]map[market.Timeframe]bool

	listenersMu sync.RWMutex
	listeners   []func(symbol string)

	wg sync.WaitGroup
}

func NewEngine(d Deps) (*Engine, error) {
	tfs, err := market.ParseTimeframes(d.Config.Timeframes)
	if err != nil {
		return nil, err
	}
	if len(tfs) == 0 {
		tfs = []market.Timeframe{market.Timeframe1Min}
	}
	symbols := d.Symbols
	if symbols == nil {
		symbols = memorystore.NewSymbolStore()
	}

	e := &Engine{
		store:       d.Store,
		pull:        d.Pull,
		push:        d.Push,
		cfg:         d.Config,
		timeframes:  tfs,
		logger:      d.Logger,
		candles:     memorystore.NewCandleStore(),
		symbols:     symbols,
		reconcilers: make(map[string]*bootstrapRun),
		tracked:     make(map[string]map[market.Timeframe]bool),
	}
	e.proc = NewProcessor(d.Store, e.candles, symbols, d.Logger)
	e.proc.OnChange(e.fire)

	retention := time.Duration(config.ClampDays(d.Config.RetentionDays)) * 24 * time.Hour
	e.backfill = backfill.New(d.Store, gaps.NewDetector(d.Store), d.Pull, e.proc, backfill.Options{
		Retention:            retention,
		MinGap:               d.Config.MinGap,
		LiveCatchupGap:       d.Config.LiveCatchupGap,
		LiveCatchupThreshold: d.Config.LiveCatchupThreshold,
	}, d.Logger)
	e.backfill.OnDataChanged(e.fire)
	return e, nil
}

// Run drives the processing goroutine until ctx is done or Close drains it.
func (e *Engine) Run(ctx context.Context) error {
	return e.proc.Run(ctx)
}

// Close disconnects the live stream, waits for running bootstraps and stops
// the processor once its queue is drained.
func (e *Engine) Close() error {
	err := e.push.Disconnect()
	e.wg.Wait()
	e.proc.Close()
	return err
}

// SetClock replaces the wall clock used for backfill planning.
func (e *Engine) SetClock(now func() time.Time) { e.backfill.SetClock(now) }

func (e *Engine) Timeframes() []market.Timeframe {
	out := make([]market.Timeframe, len(e.timeframes))
	copy(out, e.timeframes)
	return out
}

// track registers the configured timeframes plus extra for symbol.
func (e *Engine) track(symbol string, extra ...market.Timeframe) error {
	e.mu.Lock()
	set := e.tracked[symbol]
	if set == nil {
		set = make(map[market.Timeframe]bool)
		e.tracked[symbol] = set
	}
	var add []market.Timeframe
	for _, tf := range append(e.Timeframes(), extra...) {
		if !set[tf] {
			set[tf] = true
			add = append(add, tf)
		}
	}
	e.mu.Unlock()

	if len(add) == 0 {
		return nil
	}
	return e.proc.Track(symbol, add...)
}

// IsTracked reports whether candles of (symbol, tf) are maintained.
func (e *Engine) IsTracked(symbol string, tf market.Timeframe) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tracked[symbol][tf]
}

// bootstrapRun is one reconciler and the goroutine driving its bootstrap.
type bootstrapRun struct {
	r      *reconciler.Reconciler
	cancel context.CancelFunc
	done   chan struct{}
	err    error // valid once done is closed
}

// retryable reports whether a finished run left the symbol without a live
// stream, so a new bootstrap may replace it.
func (b *bootstrapRun) retryable(push source.PushSource) bool {
	select {
	case <-b.done:
		return errors.Is(b.err, market.ErrTransport) && !push.IsConnected()
	default:
		return false
	}
}

// Bootstrap starts history-then-stream reconciliation for symbol in the
// background. onHistoryComplete receives the candles of tf over [start, end]
// once history is applied; onLiveTrade receives every accepted live trade.
// ctx bounds the historical part. A symbol whose previous bootstrap could not
// reach the live stream may be bootstrapped again.
func (e *Engine) Bootstrap(ctx context.Context, symbol string, tf market.Timeframe, start, end int64,
	onHistoryComplete func([]market.Candle), onLiveTrade func(market.Trade)) error {
	if !tf.IsValid() {
		return market.ValidationError(errors.Wrapf(market.ErrUnknownTimeframe, "%d", int64(tf)))
	}
	if symbol == "" || start > end {
		return market.ValidationError(errors.Errorf("invalid bootstrap request %q [%d, %d]", symbol, start, end))
	}

	e.mu.Lock()
	if prev, ok := e.reconcilers[symbol]; ok && !prev.retryable(e.push) {
		e.mu.Unlock()
		return market.ErrAlreadyBootstrapped
	}
	ctx, cancel := context.WithCancel(ctx)
	run := &bootstrapRun{
		r:      reconciler.New(symbol, e.pull, e.push, e.proc, e.cfg.DedupWindow, e.logger),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	e.reconcilers[symbol] = run
	e.mu.Unlock()

	if err := e.track(symbol, tf); err != nil {
		cancel()
		close(run.done)
		return err
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(run.done)
		defer cancel()

		historyDone := func() {
			if onHistoryComplete == nil {
				return
			}
			candles, err := e.store.QueryCandles(ctx, symbol, tf, start, end)
			if err != nil {
				e.logger.Error("query candles after history", zap.String("symbol", symbol), zap.Error(err))
			}
			onHistoryComplete(candles)
		}

		if err := run.r.Bootstrap(ctx, start, end, historyDone, onLiveTrade); err != nil {
			run.err = err
			e.logger.Error("bootstrap finished degraded", zap.String("symbol", symbol), zap.Error(err))
			return
		}
		e.logger.Info("bootstrap complete", zap.String("symbol", symbol), zap.Stringer("tf", tf))
	}()
	return nil
}

// ReconcilerState returns the reconciliation state of symbol.
func (e *Engine) ReconcilerState(symbol string) reconciler.State {
	e.mu.Lock()
	run, ok := e.reconcilers[symbol]
	e.mu.Unlock()
	if !ok {
		return reconciler.StateIdle
	}
	return run.r.State()
}

// BackfillNow synchronously fetches every missing range of symbol inside the
// retention horizon and rebuilds the affected candles.
func (e *Engine) BackfillNow(ctx context.Context, symbol string) (backfill.Result, error) {
	if err := e.track(symbol); err != nil {
		return backfill.Result{}, err
	}
	return e.backfill.BackfillNow(ctx, symbol)
}

// GetCandles returns the candles of tf overlapping [start, end], ascending.
func (e *Engine) GetCandles(ctx context.Context, symbol string, tf market.Timeframe, start, end int64) ([]market.Candle, error) {
	if !tf.IsValid() {
		return nil, market.ValidationError(errors.Wrapf(market.ErrUnknownTimeframe, "%d", int64(tf)))
	}
	return e.store.QueryCandles(ctx, symbol, tf, start, end)
}

// GetTrades returns the stored trades of [start, end], ascending.
func (e *Engine) GetTrades(ctx context.Context, symbol string, start, end int64) ([]market.Trade, error) {
	return e.store.QueryTrades(ctx, symbol, start, end)
}

func (e *Engine) GetLatestTradeTime(ctx context.Context, symbol string) (int64, bool, error) {
	return e.store.LatestTradeTime(ctx, symbol)
}

// GetFootprint returns the price ladder of one candle, highest price first.
// The open candle is served from memory, sealed ones from the store.
func (e *Engine) GetFootprint(ctx context.Context, symbol string, tf market.Timeframe, startTimeMs int64) ([]market.Level, error) {
	bucket := tf.BucketStart(startTimeMs)
	if c, ok := e.candles.Get(symbol, tf); ok && c.StartTimeMs == bucket {
		return c.Footprint.LevelsDesc(), nil
	}
	candles, err := e.GetCandles(ctx, symbol, tf, bucket, bucket)
	if err != nil {
		return nil, err
	}
	for _, c := range candles {
		if c.StartTimeMs == bucket {
			return c.Footprint.LevelsDesc(), nil
		}
	}
	return []market.Level{}, nil
}

// OpenCandle returns the in-progress candle of (symbol, tf).
func (e *Engine) OpenCandle(symbol string, tf market.Timeframe) (market.Candle, bool) {
	return e.proc.OpenCandle(symbol, tf)
}

// OpenCandles returns the in-progress candles of every tracked timeframe of symbol.
func (e *Engine) OpenCandles(symbol string) []market.Candle {
	return e.candles.GetBySymbol(symbol)
}

// ExchangeCandles returns candles aggregated by the exchange itself. They carry
// no footprint and are never written to the store.
func (e *Engine) ExchangeCandles(ctx context.Context, symbol string, tf market.Timeframe, start, end int64) ([]market.Candle, error) {
	if !tf.IsValid() {
		return nil, market.ValidationError(errors.Wrapf(market.ErrUnknownTimeframe, "%d", int64(tf)))
	}
	cs, ok := e.pull.(source.CandleSource)
	if !ok {
		return nil, market.FetchError(errors.New("pull source does not serve candles"))
	}
	return cs.FetchCandles(ctx, symbol, tf, start, end)
}

// Symbols returns the known symbols quoted in quote, by 24h quote volume.
// An empty quote returns every symbol.
func (e *Engine) Symbols(quote string) []market.Symbol {
	if quote == "" {
		return e.symbols.GetAll()
	}
	return e.symbols.ByQuote(quote)
}

func (e *Engine) SymbolsByBase(base string) []market.Symbol {
	return e.symbols.ByBase(base)
}

// HistoryWindow returns [now - days, now] in ms with days clamped to the
// supported horizon.
func HistoryWindow(now time.Time, days int) (start, end int64) {
	days = config.ClampDays(days)
	end = now.UnixMilli()
	return end - int64(days)*24*time.Hour.Milliseconds(), end
}

// DeleteSymbol stops streaming symbol, cancels and waits for a bootstrap in
// flight and removes all of its trades and candles. A later Bootstrap starts
// from scratch.
func (e *Engine) DeleteSymbol(ctx context.Context, symbol string) error {
	if err := e.push.Unsubscribe(symbol); err != nil {
		e.logger.Warn("unsubscribe failed", zap.String("symbol", symbol), zap.Error(err))
	}

	e.mu.Lock()
	run := e.reconcilers[symbol]
	delete(e.reconcilers, symbol)
	delete(e.tracked, symbol)
	e.mu.Unlock()

	if run != nil {
		run.cancel()
		select {
		case <-run.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := e.proc.Forget(ctx, symbol); err != nil {
		return err
	}
	if err := e.store.DeleteSymbolData(ctx, symbol); err != nil {
		return err
	}
	e.fire(symbol)
	return nil
}

// OnDataChanged registers a callback fired after any successful backfill or
// live aggregation.
func (e *Engine) OnDataChanged(cb func(symbol string)) {
	e.listenersMu.Lock()
	defer e.listenersMu.Unlock()
	e.listeners = append(e.listeners, cb)
}

func (e *Engine) fire(symbol string) {
	e.listenersMu.RLock()
	listeners := e.listeners
	e.listenersMu.RUnlock()
	for _, cb := range listeners {
		cb(symbol)
	}
}
