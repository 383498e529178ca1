package binance

import (
	"context"
	"net/http"

	"footprint/config"
	"footprint/internal/market"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/pkg/errors"
)

// RESTClient pulls historical data and symbol metadata from the spot REST API.
type RESTClient struct {
	client *gobinance.Client
}

func NewRESTClient(cfg config.RESTConfig) *RESTClient {
	c := gobinance.NewClient(cfg.APIKey, cfg.APISecret)
	if cfg.BaseURL != "" {
		c.BaseURL = cfg.BaseURL
	}
	c.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	return &RESTClient{client: c}
}

// fetchErr marks err as a FetchError, keeping the exchange error code when present.
func fetchErr(err error, format string, args ...any) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return market.FetchError(errors.Wrapf(apiErr, format+" (code %d)", append(args, apiErr.Code)...))
	}
	return market.FetchError(errors.Wrapf(err, format, args...))
}

// AggTrades returns at most limit aggregate trades with start <= time <= end, ascending.
func (c *RESTClient) AggTrades(ctx context.Context, symbol string, start, end int64, limit int) ([]market.Trade, error) {
	res, err := c.client.NewAggTradesService().
		Symbol(symbol).
		StartTime(start).
		EndTime(end).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fetchErr(err, "aggTrades %s [%d,%d]", symbol, start, end)
	}

	out := make([]market.Trade, 0, len(res))
	for _, t := range res {
		trade, err := ParseAggTrade(symbol, t)
		if err != nil {
			return nil, fetchErr(err, "aggTrades %s: malformed trade %d", symbol, t.AggTradeID)
		}
		out = append(out, trade)
	}
	return out, nil
}

// Klines returns at most limit candles of tf opening within [start, end], ascending.
func (c *RESTClient) Klines(ctx context.Context, symbol string, tf market.Timeframe, start, end int64, limit int) ([]market.Candle, error) {
	interval, err := Interval(tf)
	if err != nil {
		return nil, err
	}
	res, err := c.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		StartTime(start).
		EndTime(end).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fetchErr(err, "klines %s %s [%d,%d]", symbol, interval, start, end)
	}

	out := make([]market.Candle, 0, len(res))
	for _, k := range res {
		candle, err := ParseKline(symbol, tf, k)
		if err != nil {
			return nil, fetchErr(err, "klines %s: malformed kline %d", symbol, k.OpenTime)
		}
		out = append(out, candle)
	}
	return out, nil
}

// TradingSymbols returns symbols in TRADING status quoted in quoteAsset.
// An empty quoteAsset returns every trading symbol.
func (c *RESTClient) TradingSymbols(ctx context.Context, quoteAsset string) ([]market.Symbol, error) {
	info, err := c.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, fetchErr(err, "exchangeInfo")
	}

	var out []market.Symbol
	for _, s := range info.Symbols {
		if s.Status != StatusTrading {
			continue
		}
		if quoteAsset != "" && s.QuoteAsset != quoteAsset {
			continue
		}
		sym, err := ParseSymbol(s)
		if err != nil {
			return nil, fetchErr(err, "exchangeInfo: malformed symbol %s", s.Symbol)
		}
		out = append(out, sym)
	}
	return out, nil
}

// Tickers24h returns rolling 24h statistics keyed by symbol.
func (c *RESTClient) Tickers24h(ctx context.Context) (map[string]Ticker24h, error) {
	res, err := c.client.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return nil, fetchErr(err, "ticker/24hr")
	}

	out := make(map[string]Ticker24h, len(res))
	for _, s := range res {
		t, err := ParseTicker24h(s)
		if err != nil {
			return nil, fetchErr(err, "ticker/24hr: malformed stats for %s", s.Symbol)
		}
		out[t.Symbol] = t
	}
	return out, nil
}
