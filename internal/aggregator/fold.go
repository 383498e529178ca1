package aggregator

import (
	"sort"

	"footprint/internal/market"
)

// Fold aggregates trades into candles in ascending bucket order.
// Trades are stably sorted by timestamp first, so equal timestamps keep input order.
func Fold(symbol string, tf market.Timeframe, trades []market.Trade) []market.Candle {
	if len(trades) == 0 {
		return nil
	}
	sorted := make([]market.Trade, len(trades))
	copy(sorted, trades)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].TimestampMs < sorted[j].TimestampMs })

	s := NewSeries(symbol, tf)
	var out []market.Candle
	for _, t := range sorted {
		if u := s.Apply(t); u.Sealed != nil {
			out = append(out, *u.Sealed)
		}
	}
	if open, ok := s.Open(); ok {
		out = append(out, open)
	}
	return out
}
