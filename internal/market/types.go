package market

// Trade is a single executed trade as observed from the exchange.
type Trade struct {
	Symbol          string  `json:"symbol"`             // Trading symbol (e.g., "BTCUSDT")
	TimestampMs     int64   `json:"timestamp_ms"`       // Execution time in milliseconds since epoch
	Price           float64 `json:"price"`              // Execution price
	Quantity        float64 `json:"quantity"`           // Executed base asset quantity
	IsAggressorSell bool    `json:"is_aggressor_sell"`  // true when the taker sold into the bid
	TradeID         int64   `json:"trade_id,omitempty"` // Exchange-assigned id, 0 when absent
}

// HasID reports whether the exchange assigned an id to the trade.
func (t Trade) HasID() bool {
	return t.TradeID > 0
}

// Identity is the dedup key of a trade. When the exchange assigned an id only
// the id is set, otherwise the (timestamp, price, quantity) tuple is used.
type Identity struct {
	TradeID     int64
	TimestampMs int64
	Price       float64
	Quantity    float64
}

func (t Trade) Identity() Identity {
	if t.HasID() {
		return Identity{TradeID: t.TradeID}
	}
	return Identity{TimestampMs: t.TimestampMs, Price: t.Price, Quantity: t.Quantity}
}

// Candle is a time-bucketed OHLCV record with a per-price footprint.
type Candle struct {
	Symbol      string    `json:"symbol"`
	Timeframe   Timeframe `json:"timeframe"`
	StartTimeMs int64     `json:"start_time_ms"` // inclusive bucket start
	EndTimeMs   int64     `json:"end_time_ms"`   // exclusive bucket end

	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`

	TradeCount int       `json:"trade_count"`
	Footprint  Footprint `json:"-"`
}

// Contains reports whether ts falls into the candle's bucket.
func (c *Candle) Contains(ts int64) bool {
	return ts >= c.StartTimeMs && ts < c.EndTimeMs
}

// Clone returns a deep copy, footprint included.
func (c Candle) Clone() Candle {
	c.Footprint = c.Footprint.Clone()
	return c
}

// DataGap is a derived interval without stored trades.
type DataGap struct {
	Symbol      string `json:"symbol"`
	StartTimeMs int64  `json:"start_time_ms"`
	EndTimeMs   int64  `json:"end_time_ms"`
}

// DurationMs returns the gap width in milliseconds.
func (g DataGap) DurationMs() int64 {
	return g.EndTimeMs - g.StartTimeMs
}

// Symbol holds exchange metadata and rolling 24h statistics for a trading pair.
type Symbol struct {
	Symbol     string `json:"symbol"`      // e.g., "BTCUSDT"
	BaseAsset  string `json:"base_asset"`  // e.g., "BTC"
	QuoteAsset string `json:"quote_asset"` // e.g., "USDT"
	Status     string `json:"status"`      // e.g., "TRADING"

	TickSize float64 `json:"tick_size"`
	StepSize float64 `json:"step_size"`
	MinQty   float64 `json:"min_qty"`
	MinPrice float64 `json:"min_price"`

	LastPrice          float64 `json:"last_price"`
	PriceChangePercent float64 `json:"price_change_percent"`
	HighPrice24h       float64 `json:"high_price_24h"`
	LowPrice24h        float64 `json:"low_price_24h"`
	Volume24h          float64 `json:"volume_24h"`
	QuoteVolume24h     float64 `json:"quote_volume_24h"`

	UpdatedAtMs int64 `json:"updated_at_ms"`
}
