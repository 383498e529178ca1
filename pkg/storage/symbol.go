package storage

import (
	"context"

	"footprint/internal/market"

	"github.com/pkg/errors"
	"gorm.io/gorm/clause"
)

// UpsertSymbols inserts or fully replaces symbol metadata rows.
func (c *Client) UpsertSymbols(ctx context.Context, symbols []market.Symbol) error {
	if len(symbols) == 0 {
		return nil
	}
	records := make([]SymbolRecord, len(symbols))
	for i, s := range symbols {
		records[i] = ToSymbolRecord(s)
	}

	err := c.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}},
		UpdateAll: true,
	}).CreateInBatches(records, insertBatchSize).Error
	if err != nil {
		return market.StoreError(errors.Wrapf(err, "upsert %d symbols", len(symbols)))
	}
	return nil
}

// GetSymbols returns all stored symbols ordered by name.
func (c *Client) GetSymbols(ctx context.Context) ([]market.Symbol, error) {
	var records []SymbolRecord
	if err := c.DB.WithContext(ctx).Order("symbol ASC").Find(&records).Error; err != nil {
		return []market.Symbol{}, market.StoreError(errors.Wrap(err, "get symbols"))
	}
	out := make([]market.Symbol, len(records))
	for i, r := range records {
		out[i] = r.MarketSymbol()
	}
	return out, nil
}

// UpdateSymbolPrice sets the last traded price of symbol.
func (c *Client) UpdateSymbolPrice(ctx context.Context, symbol string, price float64, atMs int64) error {
	err := c.DB.WithContext(ctx).Model(&SymbolRecord{}).
		Where("symbol = ?", symbol).
		Updates(map[string]any{"last_price": price, "updated_at_ms": atMs}).Error
	if err != nil {
		return market.StoreError(errors.Wrapf(err, "update price for %s", symbol))
	}
	return nil
}
