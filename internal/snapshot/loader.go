package snapshot

import (
	"context"
	"time"

	"footprint/internal/market"
	"footprint/pkg/binance"

	"go.uber.org/zap"
)

// SymbolClient is the slice of the REST client the loader needs.
type SymbolClient interface {
	TradingSymbols(ctx context.Context, quoteAsset string) ([]market.Symbol, error)
	Tickers24h(ctx context.Context) (map[string]binance.Ticker24h, error)
}

type SymbolLoader struct {
	QuoteAsset string
	Timeout    time.Duration
	RestClient SymbolClient
	Logger     *zap.Logger
	Now        func() time.Time
}

// LoadSymbols fetches trading pairs quoted in QuoteAsset, merges their 24h
// statistics and streams them into the provided channel.
// The REST requests share one Timeout.
func (l *SymbolLoader) LoadSymbols(ctx context.Context, ch chan<- market.Symbol) error {
	defer close(ch) // Ensure downstream consumers can exit cleanly

	if l.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.Timeout)
		defer cancel()
	}

	symbols, err := l.RestClient.TradingSymbols(ctx, l.QuoteAsset)
	if err != nil {
		l.Logger.Error("failed to load trading symbols", zap.String("quote", l.QuoteAsset), zap.Error(err))
		return err
	}
	tickers, err := l.RestClient.Tickers24h(ctx)
	if err != nil {
		// metadata without stats is still usable
		l.Logger.Warn("failed to load 24h tickers", zap.Error(err))
	}
	l.Logger.Info("loaded symbols", zap.Int("count", len(symbols)), zap.Int("tickers", len(tickers)))

	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	stamp := now().UnixMilli()

	for _, sym := range symbols {
		if t, ok := tickers[sym.Symbol]; ok {
			sym.LastPrice = t.LastPrice
			sym.PriceChangePercent = t.PriceChangePercent
			sym.HighPrice24h = t.HighPrice
			sym.LowPrice24h = t.LowPrice
			sym.Volume24h = t.Volume
			sym.QuoteVolume24h = t.QuoteVolume
		}
		sym.UpdatedAtMs = stamp

		select {
		case ch <- sym:
		case <-ctx.Done():
			l.Logger.Warn("symbol streaming interrupted", zap.Error(ctx.Err()))
			return ctx.Err()
		}
	}

	return nil
}
