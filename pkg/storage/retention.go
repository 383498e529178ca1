package storage

import (
	"context"

	"footprint/internal/market"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// DeleteBefore removes trades older than cutoffMs and candles starting before it.
// Both deletes commit together so readers never see trades without their candles.
func (c *Client) DeleteBefore(ctx context.Context, cutoffMs int64) (trades, candles int64, err error) {
	err = c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("timestamp_ms < ?", cutoffMs).Delete(&TradeRecord{})
		if res.Error != nil {
			return res.Error
		}
		trades = res.RowsAffected

		res = tx.Where("start_time_ms < ?", cutoffMs).Delete(&CandleRecord{})
		if res.Error != nil {
			return res.Error
		}
		candles = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, 0, market.StoreError(errors.Wrapf(err, "delete data before %d", cutoffMs))
	}
	return trades, candles, nil
}

// DeleteSymbolData removes every trade and candle of symbol.
func (c *Client) DeleteSymbolData(ctx context.Context, symbol string) error {
	err := c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("symbol = ?", symbol).Delete(&TradeRecord{}).Error; err != nil {
			return err
		}
		return tx.Where("symbol = ?", symbol).Delete(&CandleRecord{}).Error
	})
	if err != nil {
		return market.StoreError(errors.Wrapf(err, "delete data for %s", symbol))
	}
	return nil
}
