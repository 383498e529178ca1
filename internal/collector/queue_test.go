package collector

import (
	"context"
	"errors"
	"testing"
	"time"

	"footprint/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// go test -v --run TestQueueFIFO
func TestQueueFIFO(t *testing.T) {
	q := NewQueue[int]()
	for i := 1; i <= 5; i++ {
		require.NoError(t, q.Push(i))
	}
	assert.Equal(t, 5, q.Len())

	batch, err := q.PopBatch(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, batch)

	v, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, v)
	assert.Equal(t, 1, q.Len())
}

// go test -v --run TestQueueBlocksUntilPush
func TestQueueBlocksUntilPush(t *testing.T) {
	q := NewQueue[string]()
	got := make(chan string, 1)
	go func() {
		v, err := q.Pop(context.Background())
		if err == nil {
			got <- v
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Push("trade"))

	select {
	case v := <-got:
		assert.Equal(t, "trade", v)
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake up")
	}
}

// go test -v --run TestQueueCloseUnblocks
func TestQueueCloseUnblocks(t *testing.T) {
	q := NewQueue[int]()
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Pop(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, market.ErrClosed))
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock Pop")
	}
	assert.True(t, errors.Is(q.Push(1), market.ErrClosed))
}

// go test -v --run TestQueueDrainsAfterClose
func TestQueueDrainsAfterClose(t *testing.T) {
	q := NewQueue[int]()
	require.NoError(t, q.Push(7))
	q.Close()

	v, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	_, err = q.Pop(context.Background())
	assert.True(t, errors.Is(err, market.ErrClosed))
}

// go test -v --run TestQueueContext
func TestQueueContext(t *testing.T) {
	q := NewQueue[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

// go test -v --run TestCoalesce
func TestCoalesce(t *testing.T) {
	tr := func(id int64) []market.Trade { return []market.Trade{{TradeID: id}} }
	done := make(chan error, 1)
	jobs := []job{
		{kind: jobTrades, symbol: "BTCUSDT", trades: tr(1)},
		{kind: jobTrades, symbol: "BTCUSDT", trades: tr(2)},
		{kind: jobTrades, symbol: "ETHUSDT", trades: tr(3)},
		{kind: jobTrades, symbol: "ETHUSDT", trades: tr(4), done: done},
		{kind: jobTrack, symbol: "ETHUSDT"},
		{kind: jobTrades, symbol: "ETHUSDT", trades: tr(5)},
	}

	out := coalesce(jobs)
	require.Len(t, out, 5)
	assert.Len(t, out[0].trades, 2)
	assert.Len(t, out[1].trades, 1)
	assert.NotNil(t, out[2].done)
}
