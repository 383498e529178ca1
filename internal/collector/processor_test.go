package collector

import (
	"context"
	"errors"
	"sync"
	"testing"

	"footprint/internal/market"
	"footprint/internal/memorystore"
	"footprint/pkg/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startProcessor(t *testing.T, store TradeStore) *Processor {
	t.Helper()
	p := NewProcessor(store, memorystore.NewCandleStore(), nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return p
}

func trade(id, ts int64, price, qty float64) market.Trade {
	return market.Trade{Symbol: testSymbol, TimestampMs: ts, Price: price, Quantity: qty, TradeID: id}
}

// go test -v --run TestProcessorLateTrade
func TestProcessorLateTrade(t *testing.T) {
	store := setupStore(t)
	p := startProcessor(t, store)
	ctx := context.Background()
	require.NoError(t, p.Track(testSymbol, market.Timeframe1Min))

	require.NoError(t, p.Apply(ctx, testSymbol, []market.Trade{
		trade(1, base+1_000, 100, 1),
		trade(2, base+61_000, 101, 1),
	}))
	// arrives after its bucket was sealed
	require.NoError(t, p.Apply(ctx, testSymbol, []market.Trade{trade(3, base+30_000, 99, 2)}))

	candles, err := store.QueryCandles(ctx, testSymbol, market.Timeframe1Min, base, base+119_999)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 3.0, candles[0].Volume)
	assert.Equal(t, 99.0, candles[0].Low)
	assert.Equal(t, 99.0, candles[0].Close)
	assert.Equal(t, 2, candles[0].TradeCount)
	assert.Equal(t, 1.0, candles[1].Volume)

	open, ok := p.OpenCandle(testSymbol, market.Timeframe1Min)
	require.True(t, ok)
	assert.Equal(t, base+60_000, open.StartTimeMs)
}

// go test -v --run TestProcessorDuplicatesAndInvalid
func TestProcessorDuplicatesAndInvalid(t *testing.T) {
	store := setupStore(t)
	p := startProcessor(t, store)
	ctx := context.Background()
	require.NoError(t, p.Track(testSymbol, market.Timeframe1Min))

	batch := []market.Trade{trade(1, base+1_000, 100, 1), trade(2, base+2_000, 100, 1)}
	require.NoError(t, p.Apply(ctx, testSymbol, batch))
	require.NoError(t, p.Apply(ctx, testSymbol, []market.Trade{
		trade(2, base+2_000, 100, 1),   // already stored
		trade(3, base+3_000, -1, 1),    // rejected
		trade(4, base+4_000, 100, 0.5), // new
	}))

	open, ok := p.OpenCandle(testSymbol, market.Timeframe1Min)
	require.True(t, ok)
	assert.Equal(t, 2.5, open.Volume)
	assert.Equal(t, 3, open.TradeCount)

	n, err := store.CountTrades(ctx, testSymbol)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

// go test -v --run TestProcessorSeedsFromStore
func TestProcessorSeedsFromStore(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	_, err := store.UpsertTrades(ctx, testSymbol, []market.Trade{
		trade(1, base+1_000, 100, 1),
		trade(2, base+2_000, 105, 1),
	})
	require.NoError(t, err)

	// a fresh processor knows nothing about the stored bucket
	p := startProcessor(t, store)
	require.NoError(t, p.Track(testSymbol, market.Timeframe1Min))
	require.NoError(t, p.Apply(ctx, testSymbol, []market.Trade{trade(3, base+3_000, 95, 1)}))

	open, ok := p.OpenCandle(testSymbol, market.Timeframe1Min)
	require.True(t, ok)
	assert.Equal(t, 100.0, open.Open)
	assert.Equal(t, 105.0, open.High)
	assert.Equal(t, 95.0, open.Low)
	assert.Equal(t, 3.0, open.Volume)
}

// go test -v --run TestProcessorRebuild
func TestProcessorRebuild(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	trades := hundredTrades()
	_, err := store.UpsertTrades(ctx, testSymbol, trades)
	require.NoError(t, err)

	p := startProcessor(t, store)
	require.NoError(t, p.Track(testSymbol, market.Timeframe1Min, market.Timeframe3Min))
	require.NoError(t, p.Rebuild(ctx, testSymbol, base+70_000, base+70_000))

	// only the bucket of the rebuilt range, per timeframe
	oneMin, err := store.QueryCandles(ctx, testSymbol, market.Timeframe1Min, base, base+180_000)
	require.NoError(t, err)
	require.Len(t, oneMin, 1)
	assert.Equal(t, base+60_000, oneMin[0].StartTimeMs)

	threeMin, err := store.QueryCandles(ctx, testSymbol, market.Timeframe3Min, base, base+180_000)
	require.NoError(t, err)
	require.Len(t, threeMin, 1)
	var total float64
	for _, tr := range trades {
		if threeMin[0].Contains(tr.TimestampMs) {
			total += tr.Quantity
		}
	}
	assert.InDelta(t, total, threeMin[0].Volume, 1e-9)
}

// go test -v --run TestProcessorForget
func TestProcessorForget(t *testing.T) {
	store := setupStore(t)
	p := startProcessor(t, store)
	ctx := context.Background()
	require.NoError(t, p.Track(testSymbol, market.Timeframe1Min))
	require.NoError(t, p.Apply(ctx, testSymbol, []market.Trade{trade(1, base, 100, 1)}))

	require.NoError(t, p.Forget(ctx, testSymbol))
	_, ok := p.OpenCandle(testSymbol, market.Timeframe1Min)
	assert.False(t, ok)
}

// flakyStore fails the next failures candle writes.
type flakyStore struct {
	*storage.Client
	mu       sync.Mutex
	failures int
}

func (f *flakyStore) failNext(n int) {
	f.mu.Lock()
	f.failures = n
	f.mu.Unlock()
}

func (f *flakyStore) UpsertCandles(ctx context.Context, symbol string, candles []market.Candle) error {
	f.mu.Lock()
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return market.StoreError(errors.New("disk full"))
	}
	return f.Client.UpsertCandles(ctx, symbol, candles)
}

// go test -v --run TestProcessorRepairsFailedCandleWrite
func TestProcessorRepairsFailedCandleWrite(t *testing.T) {
	store := &flakyStore{Client: setupStore(t)}
	p := startProcessor(t, store)
	ctx := context.Background()
	require.NoError(t, p.Track(testSymbol, market.Timeframe1Min))
	require.NoError(t, p.Apply(ctx, testSymbol, []market.Trade{trade(1, base+1_000, 100, 2)}))

	// this batch seals the first bucket but its candles are not written
	store.failNext(1)
	err := p.Apply(ctx, testSymbol, []market.Trade{
		trade(2, base+2_000, 101, 5),
		trade(3, base+61_000, 102, 1),
	})
	require.True(t, errors.Is(err, market.ErrStore))

	candles, err := store.QueryCandles(ctx, testSymbol, market.Timeframe1Min, base, base+119_999)
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, 2.0, candles[0].Volume)

	require.NoError(t, p.Apply(ctx, testSymbol, []market.Trade{trade(4, base+62_000, 103, 1)}))

	candles, err = store.QueryCandles(ctx, testSymbol, market.Timeframe1Min, base, base+119_999)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 7.0, candles[0].Volume)
	assert.Equal(t, 2, candles[0].TradeCount)
	assert.Equal(t, 101.0, candles[0].Close)
	assert.Equal(t, 2.0, candles[1].Volume)
	assert.Equal(t, 2, candles[1].TradeCount)
}

// go test -v --run TestProcessorKeepsDirtyUntilWritten
func TestProcessorKeepsDirtyUntilWritten(t *testing.T) {
	store := &flakyStore{Client: setupStore(t)}
	p := startProcessor(t, store)
	ctx := context.Background()
	require.NoError(t, p.Track(testSymbol, market.Timeframe1Min))

	store.failNext(3)
	require.Error(t, p.Apply(ctx, testSymbol, []market.Trade{trade(1, base+1_000, 100, 2)}))
	// both the repair and the batch's own write fail
	require.Error(t, p.Apply(ctx, testSymbol, []market.Trade{trade(2, base+2_000, 100, 3)}))
	require.NoError(t, p.Apply(ctx, testSymbol, []market.Trade{trade(3, base+3_000, 100, 1)}))

	candles, err := store.QueryCandles(ctx, testSymbol, market.Timeframe1Min, base, base+59_999)
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, 6.0, candles[0].Volume)
	assert.Equal(t, 3, candles[0].TradeCount)
}
