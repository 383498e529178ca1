package storage

import (
	"time"

	"footprint/internal/market"
)

// TradeRecord is one stored trade. Rows are unique by (symbol, timestamp_ms, price, quantity)
// and, when the exchange assigned one, by (symbol, trade_id).
type TradeRecord struct {
	ID uint64 `gorm:"primaryKey"`

	Symbol      string  `gorm:"type:varchar(32);not null;index:idx_trade_identity,unique,priority:1;index:idx_trade_symbol_tid,unique,priority:1;index:idx_trade_symbol_time,priority:1"`
	TimestampMs int64   `gorm:"not null;index:idx_trade_identity,unique,priority:2;index:idx_trade_symbol_time,priority:2"`
	Price       float64 `gorm:"type:double precision;not null;index:idx_trade_identity,unique,priority:3"`
	Quantity    float64 `gorm:"type:double precision;not null;index:idx_trade_identity,unique,priority:4"`
	TradeID     *int64  `gorm:"index:idx_trade_symbol_tid,unique,priority:2"`

	IsAggressorSell bool `gorm:"not null"`

	RecordedAt time.Time `gorm:"autoCreateTime"`
}

// TableName overrides the default table name for GORM.
func (TradeRecord) TableName() string {
	return "trades"
}

// ToTradeRecord converts a trade for DB insertion.
func ToTradeRecord(t market.Trade) TradeRecord {
	r := TradeRecord{
		Symbol:          t.Symbol,
		TimestampMs:     t.TimestampMs,
		Price:           t.Price,
		Quantity:        t.Quantity,
		IsAggressorSell: t.IsAggressorSell,
	}
	if t.HasID() {
		id := t.TradeID
		r.TradeID = &id
	}
	return r
}

func (r TradeRecord) Trade() market.Trade {
	t := market.Trade{
		Symbol:          r.Symbol,
		TimestampMs:     r.TimestampMs,
		Price:           r.Price,
		Quantity:        r.Quantity,
		IsAggressorSell: r.IsAggressorSell,
	}
	if r.TradeID != nil {
		t.TradeID = *r.TradeID
	}
	return t
}

// CandleRecord is one stored candle, unique by (symbol, timeframe, start_time_ms).
type CandleRecord struct {
	ID uint64 `gorm:"primaryKey"`

	Symbol      string `gorm:"type:varchar(32);not null;index:idx_candle_key,unique,priority:1"`
	Timeframe   string `gorm:"type:varchar(8);not null;index:idx_candle_key,unique,priority:2"`
	StartTimeMs int64  `gorm:"not null;index:idx_candle_key,unique,priority:3"`
	EndTimeMs   int64  `gorm:"not null"`

	Open   float64 `gorm:"type:double precision;not null"`
	High   float64 `gorm:"type:double precision;not null"`
	Low    float64 `gorm:"type:double precision;not null"`
	Close  float64 `gorm:"type:double precision;not null"`
	Volume float64 `gorm:"type:double precision;not null"`

	TradeCount int            `gorm:"not null;default:0"`
	Footprint  []market.Level `gorm:"type:text;serializer:json"`

	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (CandleRecord) TableName() string {
	return "candles"
}

func ToCandleRecord(c market.Candle) CandleRecord {
	return CandleRecord{
		Symbol:      c.Symbol,
		Timeframe:   c.Timeframe.String(),
		StartTimeMs: c.StartTimeMs,
		EndTimeMs:   c.EndTimeMs,
		Open:        c.Open,
		High:        c.High,
		Low:         c.Low,
		Close:       c.Close,
		Volume:      c.Volume,
		TradeCount:  c.TradeCount,
		Footprint:   c.Footprint.Levels(),
	}
}

func (r CandleRecord) Candle() (market.Candle, error) {
	tf, err := market.ParseTimeframe(r.Timeframe)
	if err != nil {
		return market.Candle{}, err
	}
	return market.Candle{
		Symbol:      r.Symbol,
		Timeframe:   tf,
		StartTimeMs: r.StartTimeMs,
		EndTimeMs:   r.EndTimeMs,
		Open:        r.Open,
		High:        r.High,
		Low:         r.Low,
		Close:       r.Close,
		Volume:      r.Volume,
		TradeCount:  r.TradeCount,
		Footprint:   market.FootprintFromLevels(r.Footprint),
	}, nil
}

// SymbolRecord stores exchange metadata and 24h statistics per symbol.
type SymbolRecord struct {
	Symbol     string `gorm:"type:varchar(32);primaryKey"`
	BaseAsset  string `gorm:"type:varchar(16);not null;index:idx_symbol_base"`
	QuoteAsset string `gorm:"type:varchar(16);not null;index:idx_symbol_quote"`
	Status     string `gorm:"type:varchar(16);not null"`

	TickSize float64 `gorm:"type:double precision"`
	StepSize float64 `gorm:"type:double precision"`
	MinQty   float64 `gorm:"type:double precision"`
	MinPrice float64 `gorm:"type:double precision"`

	LastPrice          float64 `gorm:"type:double precision"`
	PriceChangePercent float64 `gorm:"type:double precision"`
	HighPrice24h       float64 `gorm:"column:high_price_24h;type:double precision"`
	LowPrice24h        float64 `gorm:"column:low_price_24h;type:double precision"`
	Volume24h          float64 `gorm:"column:volume_24h;type:double precision"`
	QuoteVolume24h     float64 `gorm:"column:quote_volume_24h;type:double precision"`

	UpdatedAtMs int64 `gorm:"not null"`
}

func (SymbolRecord) TableName() string {
	return "symbols"
}

func ToSymbolRecord(s market.Symbol) SymbolRecord {
	return SymbolRecord{
		Symbol:             s.Symbol,
		BaseAsset:          s.BaseAsset,
		QuoteAsset:         s.QuoteAsset,
		Status:             s.Status,
		TickSize:           s.TickSize,
		StepSize:           s.StepSize,
		MinQty:             s.MinQty,
		MinPrice:           s.MinPrice,
		LastPrice:          s.LastPrice,
		PriceChangePercent: s.PriceChangePercent,
		HighPrice24h:       s.HighPrice24h,
		LowPrice24h:        s.LowPrice24h,
		Volume24h:          s.Volume24h,
		QuoteVolume24h:     s.QuoteVolume24h,
		UpdatedAtMs:        s.UpdatedAtMs,
	}
}

func (r SymbolRecord) MarketSymbol() market.Symbol {
	return market.Symbol{
		Symbol:             r.Symbol,
		BaseAsset:          r.BaseAsset,
		QuoteAsset:         r.QuoteAsset,
		Status:             r.Status,
		TickSize:           r.TickSize,
		StepSize:           r.StepSize,
		MinQty:             r.MinQty,
		MinPrice:           r.MinPrice,
		LastPrice:          r.LastPrice,
		PriceChangePercent: r.PriceChangePercent,
		HighPrice24h:       r.HighPrice24h,
		LowPrice24h:        r.LowPrice24h,
		Volume24h:          r.Volume24h,
		QuoteVolume24h:     r.QuoteVolume24h,
		UpdatedAtMs:        r.UpdatedAtMs,
	}
}
