package storage

import (
	"context"

	"footprint/internal/market"

	"github.com/pkg/errors"
	"gorm.io/gorm/clause"
)

// UpsertCandles writes candles keyed by (symbol, timeframe, start_time_ms).
// A later write with the same key replaces the stored row.
func (c *Client) UpsertCandles(ctx context.Context, symbol string, candles []market.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	records := make([]CandleRecord, len(candles))
	for i, cd := range candles {
		cd.Symbol = symbol
		records[i] = ToCandleRecord(cd)
	}

	err := c.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "symbol"},
			{Name: "timeframe"},
			{Name: "start_time_ms"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"end_time_ms", "open", "high", "low", "close", "volume",
			"trade_count", "footprint", "updated_at",
		}),
	}).CreateInBatches(records, insertBatchSize).Error
	if err != nil {
		return market.StoreError(errors.Wrapf(err, "upsert %d candles for %s", len(candles), symbol))
	}
	return nil
}

// QueryCandles returns candles of tf overlapping [start, end], ascending by start time.
func (c *Client) QueryCandles(ctx context.Context, symbol string, tf market.Timeframe, start, end int64) ([]market.Candle, error) {
	var records []CandleRecord
	err := c.DB.WithContext(ctx).
		Where("symbol = ? AND timeframe = ? AND end_time_ms > ? AND start_time_ms <= ?", symbol, tf.String(), start, end).
		Order("start_time_ms ASC").
		Find(&records).Error
	if err != nil {
		return []market.Candle{}, market.StoreError(errors.Wrapf(err, "query %s candles for %s", tf, symbol))
	}

	out := make([]market.Candle, 0, len(records))
	for _, r := range records {
		cd, err := r.Candle()
		if err != nil {
			return []market.Candle{}, market.StoreError(errors.Wrapf(err, "decode candle %s@%d", r.Symbol, r.StartTimeMs))
		}
		out = append(out, cd)
	}
	return out, nil
}
