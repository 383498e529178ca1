package storage

import (
	"context"
	"database/sql"

	"footprint/internal/market"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const insertBatchSize = 500

func onConflictIgnore() clause.OnConflict {
	return clause.OnConflict{DoNothing: true}
}

// UpsertTrades stores trades, ignoring those already present. It returns the
// number of newly inserted rows. Re-submitting stored trades is not an error.
func (c *Client) UpsertTrades(ctx context.Context, symbol string, trades []market.Trade) (int64, error) {
	if len(trades) == 0 {
		return 0, nil
	}
	records := make([]TradeRecord, len(trades))
	for i, t := range trades {
		t.Symbol = symbol
		records[i] = ToTradeRecord(t)
	}

	tx := c.DB.WithContext(ctx).Clauses(onConflictIgnore()).CreateInBatches(records, insertBatchSize)
	if tx.Error != nil {
		return 0, market.StoreError(errors.Wrapf(tx.Error, "upsert %d trades for %s", len(trades), symbol))
	}
	return tx.RowsAffected, nil
}

// InsertNewTrades stores trades one by one inside a transaction and returns
// the subset that was not stored before, in input order.
func (c *Client) InsertNewTrades(ctx context.Context, symbol string, trades []market.Trade) ([]market.Trade, error) {
	if len(trades) == 0 {
		return nil, nil
	}

	var fresh []market.Trade
	err := c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fresh = fresh[:0]
		for _, t := range trades {
			t.Symbol = symbol
			rec := ToTradeRecord(t)
			res := tx.Clauses(onConflictIgnore()).Create(&rec)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected > 0 {
				fresh = append(fresh, t)
			}
		}
		return nil
	})
	if err != nil {
		return nil, market.StoreError(errors.Wrapf(err, "insert %d trades for %s", len(trades), symbol))
	}
	return fresh, nil
}

func tradeRange(db *gorm.DB, symbol string, start, end int64) *gorm.DB {
	return db.Model(&TradeRecord{}).
		Where("symbol = ? AND timestamp_ms >= ? AND timestamp_ms <= ?", symbol, start, end)
}

// QueryTrades returns trades with start <= timestamp <= end, ascending by time.
func (c *Client) QueryTrades(ctx context.Context, symbol string, start, end int64) ([]market.Trade, error) {
	var records []TradeRecord
	err := tradeRange(c.DB.WithContext(ctx), symbol, start, end).
		Order("timestamp_ms ASC, id ASC").
		Find(&records).Error
	if err != nil {
		return []market.Trade{}, market.StoreError(errors.Wrapf(err, "query trades for %s", symbol))
	}

	out := make([]market.Trade, len(records))
	for i, r := range records {
		out[i] = r.Trade()
	}
	return out, nil
}

// ScanTrades streams trades with start <= timestamp <= end to fn in ascending order.
// fn must not use the store: the sqlite backend runs on a single connection.
func (c *Client) ScanTrades(ctx context.Context, symbol string, start, end int64, fn func(market.Trade) error) error {
	rows, err := tradeRange(c.DB.WithContext(ctx), symbol, start, end).
		Order("timestamp_ms ASC, id ASC").
		Rows()
	if err != nil {
		return market.StoreError(errors.Wrapf(err, "scan trades for %s", symbol))
	}
	defer rows.Close()

	for rows.Next() {
		var r TradeRecord
		if err := c.DB.ScanRows(rows, &r); err != nil {
			return market.StoreError(errors.Wrap(err, "scan trade row"))
		}
		if err := fn(r.Trade()); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return market.StoreError(errors.Wrapf(err, "scan trades for %s", symbol))
	}
	return nil
}

// ScanTradeTimestamps streams the timestamps of stored trades in ascending order.
func (c *Client) ScanTradeTimestamps(ctx context.Context, symbol string, start, end int64, fn func(int64)) error {
	rows, err := tradeRange(c.DB.WithContext(ctx), symbol, start, end).
		Select("timestamp_ms").
		Order("timestamp_ms ASC").
		Rows()
	if err != nil {
		return market.StoreError(errors.Wrapf(err, "scan timestamps for %s", symbol))
	}
	defer rows.Close()

	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return market.StoreError(errors.Wrap(err, "scan timestamp row"))
		}
		fn(ts)
	}
	if err := rows.Err(); err != nil {
		return market.StoreError(errors.Wrapf(err, "scan timestamps for %s", symbol))
	}
	return nil
}

// LatestTradeTime returns the newest stored trade timestamp, if any.
func (c *Client) LatestTradeTime(ctx context.Context, symbol string) (int64, bool, error) {
	return c.tradeTimeBound(ctx, symbol, "MAX")
}

// EarliestTradeTime returns the oldest stored trade timestamp, if any.
func (c *Client) EarliestTradeTime(ctx context.Context, symbol string) (int64, bool, error) {
	return c.tradeTimeBound(ctx, symbol, "MIN")
}

func (c *Client) tradeTimeBound(ctx context.Context, symbol, agg string) (int64, bool, error) {
	var ts sql.NullInt64
	err := c.DB.WithContext(ctx).Model(&TradeRecord{}).
		Select(agg+"(timestamp_ms)").
		Where("symbol = ?", symbol).
		Row().Scan(&ts)
	if err != nil {
		return 0, false, market.StoreError(errors.Wrapf(err, "%s trade time for %s", agg, symbol))
	}
	return ts.Int64, ts.Valid, nil
}

// CountTrades returns the number of stored trades for symbol.
func (c *Client) CountTrades(ctx context.Context, symbol string) (int64, error) {
	var n int64
	if err := c.DB.WithContext(ctx).Model(&TradeRecord{}).Where("symbol = ?", symbol).Count(&n).Error; err != nil {
		return 0, market.StoreError(errors.Wrapf(err, "count trades for %s", symbol))
	}
	return n, nil
}
