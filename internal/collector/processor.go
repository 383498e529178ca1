package collector

import (
	"context"
	"errors"
	"sort"
	"time"

	"footprint/internal/aggregator"
	"footprint/internal/market"
	"footprint/internal/memorystore"

	"go.uber.org/zap"
)

// TradeStore is the persistence the processor drives.
type TradeStore interface {
	InsertNewTrades(ctx context.Context, symbol string, trades []market.Trade) ([]market.Trade, error)
	UpsertCandles(ctx context.Context, symbol string, candles []market.Candle) error
	ScanTrades(ctx context.Context, symbol string, start, end int64, fn func(market.Trade) error) error
}

type jobKind int

const (
	jobTrades jobKind = iota
	jobTrack
	jobRebuild
	jobForget
)

type job struct {
	kind       jobKind
	symbol     string
	trades     []market.Trade
	timeframes []market.Timeframe
	start, end int64
	done       chan error // nil for fire-and-forget jobs
}

func (j job) finish(err error) {
	if j.done != nil {
		j.done <- err
	}
}

const (
	defaultRebuildWindow = 6 * time.Hour
	maxDrain             = 256
)

// Processor is the single owner of the candle book. Every mutation of candle
// state runs on its goroutine, fed through an unbounded queue.
type Processor struct {
	store   TradeStore
	book    *aggregator.Book
	queue   *Queue[job]
	candles *memorystore.MemoryCandleStore
	symbols *memorystore.MemorySymbolStore
	logger  *zap.Logger

	rebuildWindow int64
	onChange      func(symbol string)

	// buckets whose candle write failed, rewritten from stored trades on the next batch
	dirty map[string]map[bucket]struct{}
}

type bucket struct {
	tf    market.Timeframe
	start int64
}

func NewProcessor(store TradeStore, candles *memorystore.MemoryCandleStore, symbols *memorystore.MemorySymbolStore, logger *zap.Logger) *Processor {
	return &Processor{
		store:         store,
		book:          aggregator.NewBook(),
		queue:         NewQueue[job](),
		candles:       candles,
		symbols:       symbols,
		logger:        logger,
		rebuildWindow: defaultRebuildWindow.Milliseconds(),
		dirty:         make(map[string]map[bucket]struct{}),
	}
}

// OnChange registers the callback fired after candles of a symbol changed.
// It runs on the processing goroutine. Set it before Run.
func (p *Processor) OnChange(fn func(symbol string)) { p.onChange = fn }

// Submit queues live trades. It never blocks.
func (p *Processor) Submit(symbol string, trades []market.Trade) {
	if err := p.queue.Push(job{kind: jobTrades, symbol: symbol, trades: trades}); err != nil {
		p.logger.Warn("processor closed, dropping trades", zap.String("symbol", symbol), zap.Int("count", len(trades)))
	}
}

// Apply persists and aggregates trades and waits for the result.
func (p *Processor) Apply(ctx context.Context, symbol string, trades []market.Trade) error {
	return p.wait(ctx, job{kind: jobTrades, symbol: symbol, trades: trades})
}

// Track starts candle series for symbol. Trades queued before it are not
// aggregated into the new series.
func (p *Processor) Track(symbol string, tfs ...market.Timeframe) error {
	return p.queue.Push(job{kind: jobTrack, symbol: symbol, timeframes: tfs})
}

// Rebuild recomputes every tracked candle of symbol touching [start, end]
// from stored trades and waits for it.
func (p *Processor) Rebuild(ctx context.Context, symbol string, start, end int64) error {
	return p.wait(ctx, job{kind: jobRebuild, symbol: symbol, start: start, end: end})
}

// Forget drops the series and published candles of symbol and waits for it.
func (p *Processor) Forget(ctx context.Context, symbol string) error {
	return p.wait(ctx, job{kind: jobForget, symbol: symbol})
}

func (p *Processor) wait(ctx context.Context, j job) error {
	j.done = make(chan error, 1)
	if err := p.queue.Push(j); err != nil {
		return err
	}
	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs. Run drains what is queued and returns.
func (p *Processor) Close() { p.queue.Close() }

// Run processes jobs until the queue is closed and drained or ctx is done.
func (p *Processor) Run(ctx context.Context) error {
	for {
		jobs, err := p.queue.PopBatch(ctx, maxDrain)
		if err != nil {
			if errors.Is(err, market.ErrClosed) {
				return nil
			}
			return err
		}
		p.repair(ctx)
		for _, j := range coalesce(jobs) {
			err := p.handle(ctx, j)
			if err != nil {
				p.logger.Error("processing failed",
					zap.String("symbol", j.symbol), zap.Int("kind", int(j.kind)), zap.Error(err))
			}
			j.finish(err)
		}
	}
}

// coalesce merges adjacent fire-and-forget trade jobs of one symbol.
func coalesce(jobs []job) []job {
	out := jobs[:0]
	for _, j := range jobs {
		if n := len(out); n > 0 {
			last := &out[n-1]
			if j.kind == jobTrades && last.kind == jobTrades &&
				j.done == nil && last.done == nil && j.symbol == last.symbol {
				last.trades = append(last.trades[:len(last.trades):len(last.trades)], j.trades...)
				continue
			}
		}
		out = append(out, j)
	}
	return out
}

func (p *Processor) handle(ctx context.Context, j job) error {
	switch j.kind {
	case jobTrack:
		for _, tf := range j.timeframes {
			if p.book.Track(j.symbol, tf) {
				p.logger.Debug("tracking series", zap.String("symbol", j.symbol), zap.Stringer("tf", tf))
			}
		}
		return nil
	case jobRebuild:
		return p.rebuild(ctx, j.symbol, j.start, j.end)
	case jobForget:
		n := p.book.Untrack(j.symbol)
		p.candles.Remove(j.symbol)
		delete(p.dirty, j.symbol)
		p.logger.Info("symbol forgotten", zap.String("symbol", j.symbol), zap.Int("series", n))
		return nil
	default:
		return p.applyTrades(ctx, j.symbol, j.trades)
	}
}

func (p *Processor) applyTrades(ctx context.Context, symbol string, trades []market.Trade) error {
	for i := range trades {
		trades[i].Symbol = symbol
	}
	valid, invalid := market.SplitValid(trades)
	for _, err := range invalid {
		p.logger.Warn("rejected trade", zap.String("symbol", symbol), zap.Error(err))
	}
	if len(valid) == 0 {
		return nil
	}

	tfs := p.book.Timeframes(symbol)
	for _, tf := range tfs {
		s, _ := p.book.Series(aggregator.Key{Symbol: symbol, Timeframe: tf})
		if s.OpenStart() >= 0 {
			continue
		}
		if err := p.seed(ctx, symbol, tf, valid[0].TimestampMs); err != nil {
			return err
		}
	}

	fresh, err := p.store.InsertNewTrades(ctx, symbol, valid)
	if err != nil {
		return err
	}
	if len(fresh) == 0 {
		return nil
	}

	var (
		changed []market.Candle
		late    = map[aggregator.Key]map[int64]struct{}{}
	)
	for _, t := range fresh {
		for _, u := range p.book.Apply(t) {
			if u.Sealed != nil {
				changed = append(changed, *u.Sealed)
			}
			if u.Late {
				if late[u.Key] == nil {
					late[u.Key] = map[int64]struct{}{}
				}
				late[u.Key][u.Key.Timeframe.BucketStart(t.TimestampMs)] = struct{}{}
			}
		}
	}

	for k, buckets := range late {
		for start := range buckets {
			corrected, err := p.foldStored(ctx, symbol, k.Timeframe, start, start+k.Timeframe.Millis()-1)
			if err != nil {
				return err
			}
			p.logger.Debug("late trade, replacing sealed candle",
				zap.String("symbol", symbol), zap.Stringer("tf", k.Timeframe), zap.Int64("start", start))
			changed = append(changed, corrected...)
		}
	}

	for _, tf := range tfs {
		s, _ := p.book.Series(aggregator.Key{Symbol: symbol, Timeframe: tf})
		if open, ok := s.Open(); ok {
			changed = append(changed, open)
			p.candles.Put(open)
		}
	}

	if err := p.upsert(ctx, symbol, changed); err != nil {
		p.markDirty(symbol, changed)
		return err
	}

	last := fresh[len(fresh)-1]
	if p.symbols != nil {
		p.symbols.UpdatePrice(symbol, last.Price, last.TimestampMs)
	}
	p.notify(symbol)
	return nil
}

// seed restores the open candle of an empty series from the trades already
// stored in the bucket of ts.
func (p *Processor) seed(ctx context.Context, symbol string, tf market.Timeframe, ts int64) error {
	start := tf.BucketStart(ts)
	candles, err := p.foldStored(ctx, symbol, tf, start, start+tf.Millis()-1)
	if err != nil {
		return err
	}
	if len(candles) == 1 && p.book.Seed(candles[0]) {
		p.logger.Debug("seeded open candle from store",
			zap.String("symbol", symbol), zap.Stringer("tf", tf), zap.Int("trades", candles[0].TradeCount))
	}
	return nil
}

// foldStored aggregates the stored trades of [start, end] into candles of tf.
func (p *Processor) foldStored(ctx context.Context, symbol string, tf market.Timeframe, start, end int64) ([]market.Candle, error) {
	s := aggregator.NewSeries(symbol, tf)
	var out []market.Candle
	err := p.store.ScanTrades(ctx, symbol, start, end, func(t market.Trade) error {
		if u := s.Apply(t); u.Sealed != nil {
			out = append(out, *u.Sealed)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if open, ok := s.Open(); ok {
		out = append(out, open)
	}
	return out, nil
}

// rebuild recomputes the candles of every tracked timeframe over whole buckets
// covering [start, end], scanning the store in bounded windows.
func (p *Processor) rebuild(ctx context.Context, symbol string, start, end int64) error {
	tfs := p.book.Timeframes(symbol)
	if len(tfs) == 0 {
		return nil
	}

	type span struct{ from, to int64 }
	spans := make(map[market.Timeframe]span, len(tfs))
	series := make(map[market.Timeframe]*aggregator.Series, len(tfs))
	from, to := start, end
	for _, tf := range tfs {
		sp := span{tf.BucketStart(start), tf.BucketStart(end) + tf.Millis() - 1}
		spans[tf] = sp
		series[tf] = aggregator.NewSeries(symbol, tf)
		from, to = min(from, sp.from), max(to, sp.to)
	}

	var pending []market.Candle
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		err := p.upsert(ctx, symbol, pending)
		if err != nil {
			p.markDirty(symbol, pending)
		}
		pending = pending[:0]
		return err
	}

	var scanned int
	for w := from; w <= to; w += p.rebuildWindow {
		wEnd := min(w+p.rebuildWindow-1, to)
		err := p.store.ScanTrades(ctx, symbol, w, wEnd, func(t market.Trade) error {
			scanned++
			for _, tf := range tfs {
				sp := spans[tf]
				if t.TimestampMs < sp.from || t.TimestampMs > sp.to {
					continue
				}
				if u := series[tf].Apply(t); u.Sealed != nil {
					pending = append(pending, *u.Sealed)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		// the scan holds the only sqlite connection, write after it
		if err := flush(); err != nil {
			return err
		}
	}

	for _, tf := range tfs {
		open, ok := series[tf].Open()
		if !ok {
			continue
		}
		pending = append(pending, open)
		if p.book.Seed(open) {
			if cur, ok := p.book.Series(aggregator.Key{Symbol: symbol, Timeframe: tf}); ok {
				if c, ok := cur.Open(); ok {
					p.candles.Put(c)
				}
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}

	p.logger.Debug("rebuilt candles",
		zap.String("symbol", symbol), zap.Int64("start", from), zap.Int64("end", to), zap.Int("trades", scanned))
	if scanned > 0 {
		p.notify(symbol)
	}
	return nil
}

func (p *Processor) upsert(ctx context.Context, symbol string, candles []market.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	// a bucket may appear twice, keep the last version
	sort.SliceStable(candles, func(i, j int) bool {
		if candles[i].Timeframe != candles[j].Timeframe {
			return candles[i].Timeframe < candles[j].Timeframe
		}
		return candles[i].StartTimeMs < candles[j].StartTimeMs
	})
	out := candles[:0]
	for _, c := range candles {
		if n := len(out); n > 0 && out[n-1].Timeframe == c.Timeframe && out[n-1].StartTimeMs == c.StartTimeMs {
			out[n-1] = c
			continue
		}
		out = append(out, c)
	}
	return p.store.UpsertCandles(ctx, symbol, out)
}

func (p *Processor) markDirty(symbol string, candles []market.Candle) {
	set := p.dirty[symbol]
	if set == nil {
		set = make(map[bucket]struct{})
		p.dirty[symbol] = set
	}
	for _, c := range candles {
		set[bucket{tf: c.Timeframe, start: c.StartTimeMs}] = struct{}{}
	}
}

// repair refolds every dirty bucket from stored trades and writes it again.
// Buckets stay dirty until the write succeeds.
func (p *Processor) repair(ctx context.Context) {
	for symbol, set := range p.dirty {
		var (
			candles []market.Candle
			err     error
		)
		for b := range set {
			var got []market.Candle
			if got, err = p.foldStored(ctx, symbol, b.tf, b.start, b.start+b.tf.Millis()-1); err != nil {
				break
			}
			candles = append(candles, got...)
		}
		if err == nil {
			err = p.upsert(ctx, symbol, candles)
		}
		if err != nil {
			p.logger.Warn("candle repair failed, retrying on next batch",
				zap.String("symbol", symbol), zap.Int("buckets", len(set)), zap.Error(err))
			continue
		}
		delete(p.dirty, symbol)
		p.logger.Info("candles repaired", zap.String("symbol", symbol), zap.Int("buckets", len(set)))
		p.notify(symbol)
	}
}

func (p *Processor) notify(symbol string) {
	if p.onChange != nil {
		p.onChange(symbol)
	}
}

// OpenCandle returns the published open candle of (symbol, tf).
func (p *Processor) OpenCandle(symbol string, tf market.Timeframe) (market.Candle, bool) {
	return p.candles.Get(symbol, tf)
}
