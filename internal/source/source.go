// Package source models the two trade feeds: a pull API queried by time range
// and a push stream delivering trades as they happen.
package source

import (
	"context"

	"footprint/internal/market"
)

// PullSource fetches historical trades for an explicit time range.
type PullSource interface {
	FetchTrades(ctx context.Context, symbol string, start, end int64) ([]market.Trade, error)
}

// PushSource delivers live trades to per-symbol callbacks.
// Callbacks run on the delivery goroutine and must not block.
type PushSource interface {
	Subscribe(symbol string, onTrade func(market.Trade)) error
	Unsubscribe(symbol string) error
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool
}

// CandleSource fetches exchange-aggregated candles. They carry no footprint.
type CandleSource interface {
	FetchCandles(ctx context.Context, symbol string, tf market.Timeframe, start, end int64) ([]market.Candle, error)
}
