package collector

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"footprint/config"
	"footprint/internal/market"
	"footprint/internal/memorystore"
	"footprint/internal/reconciler"
	"footprint/pkg/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testSymbol = "BTCUSDT"
	base       = int64(1_700_000_040_000) // minute aligned
)

func setupStore(t *testing.T) *storage.Client {
	t.Helper()
	store, err := storage.Open(config.StorageConfig{
		Driver:     config.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "engine.db"),
	}, "dev")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

type stubPull struct {
	mu     sync.Mutex
	trades []market.Trade
	err    error

	// started is closed when a fetch begins; the fetch then returns only once ctx is done
	started chan struct{}
}

func (p *stubPull) FetchTrades(ctx context.Context, _ string, start, end int64) ([]market.Trade, error) {
	if p.started != nil {
		close(p.started)
		<-ctx.Done()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	var out []market.Trade
	for _, t := range p.trades {
		if t.TimestampMs >= start && t.TimestampMs <= end {
			out = append(out, t)
		}
	}
	return out, nil
}

type stubPush struct {
	mu        sync.Mutex
	handlers  map[string]func(market.Trade)
	connected bool
	failDials int
	dials     int
}

func newStubPush() *stubPush {
	return &stubPush{handlers: map[string]func(market.Trade){}}
}

func (p *stubPush) Subscribe(symbol string, onTrade func(market.Trade)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[symbol] = onTrade
	return nil
}

func (p *stubPush) Unsubscribe(symbol string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.handlers, symbol)
	return nil
}

func (p *stubPush) Connect(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dials++
	if p.dials <= p.failDials {
		return errors.New("dial tcp: connection refused")
	}
	p.connected = true
	return nil
}

func (p *stubPush) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
	return nil
}

func (p *stubPush) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *stubPush) deliver(t market.Trade) {
	p.mu.Lock()
	h := p.handlers[t.Symbol]
	p.mu.Unlock()
	if h != nil {
		h(t)
	}
}

// hundredTrades spans three one-minute buckets starting at base.
func hundredTrades() []market.Trade {
	out := make([]market.Trade, 100)
	for i := range out {
		out[i] = market.Trade{
			Symbol:          testSymbol,
			TimestampMs:     base + int64(i)*1800,
			Price:           100 + float64(i%7)*0.5,
			Quantity:        0.1 * float64(i%5+1),
			IsAggressorSell: i%3 == 0,
			TradeID:         int64(i + 1),
		}
	}
	return out
}

func startEngine(t *testing.T, store *storage.Client, pull *stubPull, push *stubPush) *Engine {
	t.Helper()
	e, err := NewEngine(Deps{
		Store: store,
		Pull:  pull,
		Push:  push,
		Config: config.EngineConfig{
			Timeframes:    []string{"1m"},
			RetentionDays: 1,
			DedupWindow:   10 * time.Minute,
		},
		Logger: zap.NewNop(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return e
}

func bootstrap(t *testing.T, e *Engine, start, end int64) []market.Candle {
	t.Helper()
	got := make(chan []market.Candle, 1)
	err := e.Bootstrap(context.Background(), testSymbol, market.Timeframe1Min, start, end,
		func(c []market.Candle) { got <- c }, nil)
	require.NoError(t, err)

	select {
	case c := <-got:
		require.Eventually(t, func() bool { return e.ReconcilerState(testSymbol) == reconciler.StateStreaming },
			time.Second, 5*time.Millisecond)
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("history never completed")
		return nil
	}
}

// go test -v --run TestEngineBootstrapScenario
func TestEngineBootstrapScenario(t *testing.T) {
	store := setupStore(t)
	trades := hundredTrades()
	e := startEngine(t, store, &stubPull{trades: trades}, newStubPush())

	changed := make(chan string, 16)
	e.OnDataChanged(func(s string) {
		select {
		case changed <- s:
		default:
		}
	})

	candles := bootstrap(t, e, base, base+180_000)
	require.Len(t, candles, 3)

	var want, got float64
	for _, tr := range trades {
		want += tr.Quantity
	}
	for i, c := range candles {
		assert.Equal(t, base+int64(i)*60_000, c.StartTimeMs)
		got += c.Volume
	}
	assert.InDelta(t, want, got, 1e-9)
	assert.Equal(t, trades[0].Price, candles[0].Open)
	assert.Equal(t, trades[99].Price, candles[2].Close)
	assert.Equal(t, testSymbol, <-changed)

	stored, err := e.GetCandles(context.Background(), testSymbol, market.Timeframe1Min, base, base+180_000)
	require.NoError(t, err)
	assert.Len(t, stored, 3)

	all, err := e.GetTrades(context.Background(), testSymbol, base, base+180_000)
	require.NoError(t, err)
	assert.Len(t, all, 100)

	latest, ok, err := e.GetLatestTradeTime(context.Background(), testSymbol)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, trades[99].TimestampMs, latest)

	err = e.Bootstrap(context.Background(), testSymbol, market.Timeframe1Min, base, base+1, nil, nil)
	assert.True(t, errors.Is(err, market.ErrAlreadyBootstrapped))
}

// go test -v --run TestEngineLiveAfterBootstrap
func TestEngineLiveAfterBootstrap(t *testing.T) {
	store := setupStore(t)
	trades := hundredTrades()
	push := newStubPush()
	e := startEngine(t, store, &stubPull{trades: trades}, push)
	bootstrap(t, e, base, base+180_000)

	// redelivered history is dropped, a new trade opens the fourth bucket
	push.deliver(trades[50])
	push.deliver(market.Trade{Symbol: testSymbol, TimestampMs: base + 185_000, Price: 101, Quantity: 2, TradeID: 101})

	require.Eventually(t, func() bool {
		c, ok := e.OpenCandle(testSymbol, market.Timeframe1Min)
		return ok && c.StartTimeMs == base+180_000
	}, 2*time.Second, 10*time.Millisecond)

	open, _ := e.OpenCandle(testSymbol, market.Timeframe1Min)
	assert.Equal(t, 2.0, open.Volume)
	assert.Equal(t, 1, open.TradeCount)

	n, err := store.CountTrades(context.Background(), testSymbol)
	require.NoError(t, err)
	assert.Equal(t, int64(101), n)

	candles, err := e.GetCandles(context.Background(), testSymbol, market.Timeframe1Min, base, base+240_000)
	require.NoError(t, err)
	assert.Len(t, candles, 4)
}

// go test -v --run TestEngineFootprint
func TestEngineFootprint(t *testing.T) {
	store := setupStore(t)
	trades := hundredTrades()
	e := startEngine(t, store, &stubPull{trades: trades}, newStubPush())
	bootstrap(t, e, base, base+180_000)

	for bucket := 0; bucket < 3; bucket++ {
		start := base + int64(bucket)*60_000
		levels, err := e.GetFootprint(context.Background(), testSymbol, market.Timeframe1Min, start)
		require.NoError(t, err)
		require.NotEmpty(t, levels)

		for i := 1; i < len(levels); i++ {
			assert.Greater(t, levels[i-1].Price, levels[i].Price)
		}

		atPrice := map[float64]float64{}
		for _, tr := range trades {
			if tr.TimestampMs >= start && tr.TimestampMs < start+60_000 {
				atPrice[tr.Price] += tr.Quantity
			}
		}
		require.Len(t, levels, len(atPrice))
		for _, l := range levels {
			assert.InDelta(t, atPrice[l.Price], l.Total(), 1e-9)
		}
	}
}

// go test -v --run TestEngineBackfillNow
func TestEngineBackfillNow(t *testing.T) {
	store := setupStore(t)
	trades := hundredTrades()
	e := startEngine(t, store, &stubPull{trades: trades}, newStubPush())
	e.SetClock(func() time.Time { return time.UnixMilli(base + 180_000) })

	res, err := e.BackfillNow(context.Background(), testSymbol)
	require.NoError(t, err)
	assert.Equal(t, 100, res.Fetched)
	assert.Equal(t, int64(100), res.Stored)

	candles, err := e.GetCandles(context.Background(), testSymbol, market.Timeframe1Min, base, base+180_000)
	require.NoError(t, err)
	require.Len(t, candles, 3)

	open, ok := e.OpenCandle(testSymbol, market.Timeframe1Min)
	require.True(t, ok)
	assert.Equal(t, base+120_000, open.StartTimeMs)
	assert.Equal(t, candles[2].Volume, open.Volume)

	// nothing is missing the second time
	res, err = e.BackfillNow(context.Background(), testSymbol)
	require.NoError(t, err)
	assert.Zero(t, res.Stored)
}

type candlePull struct {
	stubPull
	candles []market.Candle
}

func (p *candlePull) FetchCandles(_ context.Context, _ string, _ market.Timeframe, start, end int64) ([]market.Candle, error) {
	var out []market.Candle
	for _, c := range p.candles {
		if c.StartTimeMs >= start && c.StartTimeMs <= end {
			out = append(out, c)
		}
	}
	return out, nil
}

// go test -v --run TestEngineLookups
func TestEngineLookups(t *testing.T) {
	store := setupStore(t)
	symbols := memorystore.NewSymbolStore()
	symbols.Replace([]market.Symbol{
		{Symbol: "BTCUSDT", BaseAsset: "BTC", QuoteAsset: "USDT", QuoteVolume24h: 9},
		{Symbol: "ETHUSDT", BaseAsset: "ETH", QuoteAsset: "USDT", QuoteVolume24h: 5},
		{Symbol: "ETHBTC", BaseAsset: "ETH", QuoteAsset: "BTC", QuoteVolume24h: 1},
	})
	pull := &candlePull{candles: []market.Candle{
		{Symbol: testSymbol, Timeframe: market.Timeframe1Min, StartTimeMs: base, EndTimeMs: base + 60_000},
		{Symbol: testSymbol, Timeframe: market.Timeframe1Min, StartTimeMs: base + 60_000, EndTimeMs: base + 120_000},
	}}
	e, err := NewEngine(Deps{
		Store:   store,
		Pull:    pull,
		Push:    newStubPush(),
		Symbols: symbols,
		Config:  config.EngineConfig{Timeframes: []string{"1m", "5m"}},
		Logger:  zap.NewNop(),
	})
	require.NoError(t, err)

	assert.Len(t, e.Symbols(""), 3)
	usdt := e.Symbols("USDT")
	require.Len(t, usdt, 2)
	assert.Equal(t, "BTCUSDT", usdt[0].Symbol)
	eth := e.SymbolsByBase("ETH")
	require.Len(t, eth, 2)
	assert.Equal(t, "ETHUSDT", eth[0].Symbol)

	candles, err := e.ExchangeCandles(context.Background(), testSymbol, market.Timeframe1Min, base, base+60_000)
	require.NoError(t, err)
	assert.Len(t, candles, 2)

	stored, err := e.GetCandles(context.Background(), testSymbol, market.Timeframe1Min, base, base+120_000)
	require.NoError(t, err)
	assert.Empty(t, stored)

	bare, err := NewEngine(Deps{Store: store, Pull: &stubPull{}, Push: newStubPush(), Logger: zap.NewNop()})
	require.NoError(t, err)
	assert.Equal(t, []market.Timeframe{market.Timeframe1Min}, bare.Timeframes())
	_, err = bare.ExchangeCandles(context.Background(), testSymbol, market.Timeframe1Min, base, base+60_000)
	assert.True(t, errors.Is(err, market.ErrFetch))
}

// go test -v --run TestEngineOpenCandles
func TestEngineOpenCandles(t *testing.T) {
	store := setupStore(t)
	trades := hundredTrades()
	push := newStubPush()
	e := startEngine(t, store, &stubPull{trades: trades}, push)
	bootstrap(t, e, base, base+180_000)

	// a new series opens on the next accepted trade
	require.NoError(t, e.track(testSymbol, market.Timeframe5Min))
	push.deliver(market.Trade{Symbol: testSymbol, TimestampMs: base + 185_000, Price: 101, Quantity: 2, TradeID: 101})
	require.Eventually(t, func() bool { return len(e.OpenCandles(testSymbol)) == 2 }, 2*time.Second, 10*time.Millisecond)

	open := e.OpenCandles(testSymbol)
	assert.Equal(t, market.Timeframe1Min, open[0].Timeframe)
	assert.Equal(t, market.Timeframe5Min, open[1].Timeframe)
	assert.True(t, e.IsTracked(testSymbol, market.Timeframe5Min))
	assert.False(t, e.IsTracked(testSymbol, market.Timeframe1Hour))
}

// go test -v --run TestEngineDeleteSymbol
func TestEngineDeleteSymbol(t *testing.T) {
	store := setupStore(t)
	e := startEngine(t, store, &stubPull{trades: hundredTrades()}, newStubPush())
	bootstrap(t, e, base, base+180_000)

	require.NoError(t, e.DeleteSymbol(context.Background(), testSymbol))

	trades, err := e.GetTrades(context.Background(), testSymbol, base, base+180_000)
	require.NoError(t, err)
	assert.Empty(t, trades)
	_, ok := e.OpenCandle(testSymbol, market.Timeframe1Min)
	assert.False(t, ok)
	assert.Equal(t, reconciler.StateIdle, e.ReconcilerState(testSymbol))
}

// go test -v --run TestEngineRetriesAfterConnectFailure
func TestEngineRetriesAfterConnectFailure(t *testing.T) {
	store := setupStore(t)
	trades := hundredTrades()
	push := newStubPush()
	push.failDials = 1
	e := startEngine(t, store, &stubPull{trades: trades}, push)

	// history still lands while the live side is down
	bootstrap(t, e, base, base+180_000)
	assert.False(t, push.IsConnected())

	require.Eventually(t, func() bool {
		return e.Bootstrap(context.Background(), testSymbol, market.Timeframe1Min, base, base+180_000, nil, nil) == nil
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, push.IsConnected, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return e.ReconcilerState(testSymbol) == reconciler.StateStreaming },
		2*time.Second, 10*time.Millisecond)

	push.deliver(market.Trade{Symbol: testSymbol, TimestampMs: base + 185_000, Price: 101, Quantity: 2, TradeID: 101})
	require.Eventually(t, func() bool {
		c, ok := e.OpenCandle(testSymbol, market.Timeframe1Min)
		return ok && c.StartTimeMs == base+180_000
	}, 2*time.Second, 10*time.Millisecond)

	// a healthy stream is not bootstrapped twice
	err := e.Bootstrap(context.Background(), testSymbol, market.Timeframe1Min, base, base+1, nil, nil)
	assert.True(t, errors.Is(err, market.ErrAlreadyBootstrapped))
	push.mu.Lock()
	assert.Equal(t, 2, push.dials)
	push.mu.Unlock()
}

// go test -v --run TestEngineDeleteSymbolDuringBootstrap
func TestEngineDeleteSymbolDuringBootstrap(t *testing.T) {
	store := setupStore(t)
	pull := &stubPull{trades: hundredTrades(), started: make(chan struct{})}
	e := startEngine(t, store, pull, newStubPush())

	require.NoError(t, e.Bootstrap(context.Background(), testSymbol, market.Timeframe1Min, base, base+180_000, nil, nil))
	select {
	case <-pull.started:
	case <-time.After(2 * time.Second):
		t.Fatal("history fetch never started")
	}

	// the fetch returns its trades only after being cancelled
	require.NoError(t, e.DeleteSymbol(context.Background(), testSymbol))

	n, err := store.CountTrades(context.Background(), testSymbol)
	require.NoError(t, err)
	assert.Zero(t, n)
	candles, err := e.GetCandles(context.Background(), testSymbol, market.Timeframe1Min, base, base+180_000)
	require.NoError(t, err)
	assert.Empty(t, candles)
	assert.Equal(t, reconciler.StateIdle, e.ReconcilerState(testSymbol))
}

// go test -v --run TestEngineRejectsUnknownTimeframe
func TestEngineRejectsUnknownTimeframe(t *testing.T) {
	e := startEngine(t, setupStore(t), &stubPull{}, newStubPush())

	err := e.Bootstrap(context.Background(), testSymbol, market.Timeframe(7), 0, 1, nil, nil)
	assert.True(t, errors.Is(err, market.ErrValidation))

	_, err = e.GetCandles(context.Background(), testSymbol, market.Timeframe(7), 0, 1)
	assert.True(t, errors.Is(err, market.ErrValidation))

	_, err = NewEngine(Deps{Config: config.EngineConfig{Timeframes: []string{"7x"}}, Logger: zap.NewNop()})
	assert.True(t, errors.Is(err, market.ErrUnknownTimeframe))
}

// go test -v --run TestHistoryWindow
func TestHistoryWindow(t *testing.T) {
	now := time.UnixMilli(100 * 24 * time.Hour.Milliseconds())
	day := 24 * time.Hour.Milliseconds()

	start, end := HistoryWindow(now, 0)
	assert.Equal(t, end-day, start)

	start, end = HistoryWindow(now, 90)
	assert.Equal(t, end-30*day, start)
}
