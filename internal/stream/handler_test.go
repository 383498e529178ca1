package stream

import (
	"testing"

	"footprint/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// go test -v --run TestRouterDispatch
func TestRouterDispatch(t *testing.T) {
	r := NewRouter(zap.NewNop())
	var got []market.Trade
	r.Add("BTCUSDT", func(tr market.Trade) { got = append(got, tr) })

	r.Handle([]byte(`{"result":null,"id":1}`))
	r.Handle([]byte(`{"e":"aggTrade","E":1700000000100,"s":"BTCUSDT","a":42,"p":"35000.10","q":"0.250","f":100,"l":101,"T":1700000000050,"m":true,"M":true}`))
	r.Handle([]byte(`{"e":"aggTrade","E":1700000000200,"s":"BTCUSDT","a":43,"p":"35000.20","q":"0.5","f":102,"l":102,"T":1700000000150,"m":false,"M":true}`))

	require.Len(t, got, 2)
	assert.Equal(t, market.Trade{
		Symbol:          "BTCUSDT",
		TimestampMs:     1700000000050,
		Price:           35000.10,
		Quantity:        0.25,
		IsAggressorSell: true,
		TradeID:         42,
	}, got[0])
	assert.Equal(t, int64(43), got[1].TradeID)
	assert.False(t, got[1].IsAggressorSell)
}

// go test -v --run TestRouterRejects
func TestRouterRejects(t *testing.T) {
	r := NewRouter(zap.NewNop())
	calls := 0
	r.Add("BTCUSDT", func(market.Trade) { calls++ })

	r.Handle([]byte(`not json`))
	r.Handle([]byte(`{"e":"aggTrade","s":"BTCUSDT","a":1,"p":"abc","q":"1","T":1,"m":false}`))
	r.Handle([]byte(`{"e":"aggTrade","s":"BTCUSDT","a":2,"p":"1","q":"0","T":1,"m":false}`))
	r.Handle([]byte(`{"e":"aggTrade","s":"ETHUSDT","a":3,"p":"1","q":"1","T":1,"m":false}`))

	assert.Zero(t, calls)
	assert.Equal(t, uint64(1), r.Dropped())

	r.Remove("BTCUSDT")
	r.Handle([]byte(`{"e":"aggTrade","s":"BTCUSDT","a":4,"p":"1","q":"1","T":1,"m":false}`))
	assert.Zero(t, calls)
	assert.Equal(t, uint64(2), r.Dropped())
}
