package aggregator

import (
	"footprint/internal/market"
)

// Key identifies one candle series.
type Key struct {
	Symbol    string
	Timeframe market.Timeframe
}

// KeyedUpdate is an Update tagged with the series it came from.
type KeyedUpdate struct {
	Key
	Update
}

// Book owns every open candle, keyed by (symbol, timeframe).
// It is driven by a single goroutine and is not safe for concurrent use.
type Book struct {
	series     map[Key]*Series
	timeframes map[string][]market.Timeframe
}

func NewBook() *Book {
	return &Book{
		series:     make(map[Key]*Series),
		timeframes: make(map[string][]market.Timeframe),
	}
}

// Track starts a series for (symbol, tf). It reports false if already tracked.
func (b *Book) Track(symbol string, tf market.Timeframe) bool {
	k := Key{Symbol: symbol, Timeframe: tf}
	if _, ok := b.series[k]; ok {
		return false
	}
	b.series[k] = NewSeries(symbol, tf)
	b.timeframes[symbol] = append(b.timeframes[symbol], tf)
	return true
}

// Timeframes lists the tracked timeframes of symbol in tracking order.
func (b *Book) Timeframes(symbol string) []market.Timeframe {
	tfs := b.timeframes[symbol]
	out := make([]market.Timeframe, len(tfs))
	copy(out, tfs)
	return out
}

// Untrack drops every series of symbol, open candles included.
func (b *Book) Untrack(symbol string) int {
	tfs := b.timeframes[symbol]
	for _, tf := range tfs {
		delete(b.series, Key{Symbol: symbol, Timeframe: tf})
	}
	delete(b.timeframes, symbol)
	return len(tfs)
}

func (b *Book) Series(k Key) (*Series, bool) {
	s, ok := b.series[k]
	return s, ok
}

// Apply folds t into every tracked series of its symbol.
func (b *Book) Apply(t market.Trade) []KeyedUpdate {
	tfs := b.timeframes[t.Symbol]
	out := make([]KeyedUpdate, 0, len(tfs))
	for _, tf := range tfs {
		k := Key{Symbol: t.Symbol, Timeframe: tf}
		out = append(out, KeyedUpdate{Key: k, Update: b.series[k].Apply(t)})
	}
	return out
}

// Seed installs c as the open candle of its series when the series is tracked.
func (b *Book) Seed(c market.Candle) bool {
	s, ok := b.series[Key{Symbol: c.Symbol, Timeframe: c.Timeframe}]
	if !ok {
		return false
	}
	return s.Seed(c)
}
