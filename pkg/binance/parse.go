package binance

import (
	"fmt"

	"footprint/internal/market"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// parseNumber converts an exchange decimal string. Unlike strconv it rejects NaN and Inf.
func parseNumber(field, s string) (float64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s %q", field, s)
	}
	f, _ := d.Float64()
	return f, nil
}

func parseOptional(field, s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return parseNumber(field, s)
}

func newTrade(symbol string, id int64, price, qty string, ts int64, buyerMaker bool) (market.Trade, error) {
	p, err := parseNumber("price", price)
	if err != nil {
		return market.Trade{}, err
	}
	q, err := parseNumber("quantity", qty)
	if err != nil {
		return market.Trade{}, err
	}
	return market.Trade{
		Symbol:          symbol,
		TimestampMs:     ts,
		Price:           p,
		Quantity:        q,
		IsAggressorSell: buyerMaker,
		TradeID:         id,
	}, nil
}

// ParseAggTrade converts a REST aggregate trade.
func ParseAggTrade(symbol string, t *gobinance.AggTrade) (market.Trade, error) {
	return newTrade(symbol, t.AggTradeID, t.Price, t.Quantity, t.Timestamp, t.IsBuyerMaker)
}

// ParseAggTradeEvent converts a stream aggregate trade.
func ParseAggTradeEvent(ev *AggTradeEvent) (market.Trade, error) {
	if ev.EventType != "aggTrade" {
		return market.Trade{}, fmt.Errorf("unexpected event type %q", ev.EventType)
	}
	return newTrade(ev.Symbol, ev.AggTradeID, ev.Price, ev.Quantity, ev.TradeTime, ev.IsBuyerMaker)
}

// ParseKline converts a REST kline into a candle without footprint.
func ParseKline(symbol string, tf market.Timeframe, k *gobinance.Kline) (market.Candle, error) {
	vals := make([]float64, 5)
	for i, s := range []string{k.Open, k.High, k.Low, k.Close, k.Volume} {
		v, err := parseNumber("kline", s)
		if err != nil {
			return market.Candle{}, err
		}
		vals[i] = v
	}
	return market.Candle{
		Symbol:      symbol,
		Timeframe:   tf,
		StartTimeMs: k.OpenTime,
		EndTimeMs:   k.OpenTime + tf.Millis(),
		Open:        vals[0],
		High:        vals[1],
		Low:         vals[2],
		Close:       vals[3],
		Volume:      vals[4],
		TradeCount:  int(k.TradeNum),
		Footprint:   market.Footprint{},
	}, nil
}

// ParseSymbol converts exchange info of one symbol, including its price and lot filters.
func ParseSymbol(s gobinance.Symbol) (market.Symbol, error) {
	out := market.Symbol{
		Symbol:     s.Symbol,
		BaseAsset:  s.BaseAsset,
		QuoteAsset: s.QuoteAsset,
		Status:     s.Status,
	}
	var err error
	if pf := s.PriceFilter(); pf != nil {
		if out.TickSize, err = parseOptional("tickSize", pf.TickSize); err != nil {
			return out, err
		}
		if out.MinPrice, err = parseOptional("minPrice", pf.MinPrice); err != nil {
			return out, err
		}
	}
	if lf := s.LotSizeFilter(); lf != nil {
		if out.StepSize, err = parseOptional("stepSize", lf.StepSize); err != nil {
			return out, err
		}
		if out.MinQty, err = parseOptional("minQty", lf.MinQuantity); err != nil {
			return out, err
		}
	}
	return out, nil
}

// ParseTicker24h converts 24h price change statistics.
func ParseTicker24h(s *gobinance.PriceChangeStats) (Ticker24h, error) {
	out := Ticker24h{Symbol: s.Symbol}
	fields := []struct {
		name string
		raw  string
		dst  *float64
	}{
		{"lastPrice", s.LastPrice, &out.LastPrice},
		{"priceChangePercent", s.PriceChangePercent, &out.PriceChangePercent},
		{"highPrice", s.HighPrice, &out.HighPrice},
		{"lowPrice", s.LowPrice, &out.LowPrice},
		{"volume", s.Volume, &out.Volume},
		{"quoteVolume", s.QuoteVolume, &out.QuoteVolume},
	}
	for _, f := range fields {
		v, err := parseOptional(f.name, f.raw)
		if err != nil {
			return out, err
		}
		*f.dst = v
	}
	return out, nil
}
