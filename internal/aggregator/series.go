package aggregator

import (
	"footprint/internal/market"
)

// Update is the outcome of applying one trade to a Series.
type Update struct {
	Sealed *market.Candle // set when the trade rolled the open candle over
	Open   market.Candle  // copy of the open candle after the trade
	Late   bool           // trade precedes the open candle and was not folded
}

// Series folds the trades of one (symbol, timeframe) pair into candles.
// It performs no I/O and is not safe for concurrent use.
type Series struct {
	symbol string
	tf     market.Timeframe
	open   *market.Candle
}

func NewSeries(symbol string, tf market.Timeframe) *Series {
	return &Series{symbol: symbol, tf: tf}
}

func (s *Series) Symbol() string              { return s.symbol }
func (s *Series) Timeframe() market.Timeframe { return s.tf }

// Open returns a copy of the open candle, if any.
func (s *Series) Open() (market.Candle, bool) {
	if s.open == nil {
		return market.Candle{}, false
	}
	return s.open.Clone(), true
}

// OpenStart returns the start of the open bucket, or -1 when no candle is open.
func (s *Series) OpenStart() int64 {
	if s.open == nil {
		return -1
	}
	return s.open.StartTimeMs
}

// Seed replaces the open candle with c unless c is older than the current one.
func (s *Series) Seed(c market.Candle) bool {
	if c.Symbol != s.symbol || c.Timeframe != s.tf {
		return false
	}
	if s.open != nil && c.StartTimeMs < s.open.StartTimeMs {
		return false
	}
	cp := c.Clone()
	if cp.Footprint == nil {
		cp.Footprint = market.Footprint{}
	}
	s.open = &cp
	return true
}

// Apply folds t into the open candle. A trade at or past the open candle's end
// seals it and starts a new bucket. A trade before the open candle's start is
// reported as Late and left for the caller's correction path.
func (s *Series) Apply(t market.Trade) Update {
	var u Update

	switch {
	case s.open == nil:
		s.open = s.newCandle(t)
	case t.TimestampMs >= s.open.EndTimeMs:
		sealed := *s.open
		u.Sealed = &sealed
		s.open = s.newCandle(t)
	case t.TimestampMs < s.open.StartTimeMs:
		u.Late = true
		u.Open = s.open.Clone()
		return u
	default:
		fold(s.open, t)
	}

	u.Open = s.open.Clone()
	return u
}

func (s *Series) newCandle(t market.Trade) *market.Candle {
	start := s.tf.BucketStart(t.TimestampMs)
	c := &market.Candle{
		Symbol:      s.symbol,
		Timeframe:   s.tf,
		StartTimeMs: start,
		EndTimeMs:   start + s.tf.Millis(),
		Open:        t.Price,
		High:        t.Price,
		Low:         t.Price,
		Footprint:   market.Footprint{},
	}
	fold(c, t)
	return c
}

func fold(c *market.Candle, t market.Trade) {
	if t.Price > c.High {
		c.High = t.Price
	}
	if t.Price < c.Low {
		c.Low = t.Price
	}
	c.Close = t.Price
	c.Volume += t.Quantity
	c.TradeCount++
	c.Footprint.Add(t.Price, t.Quantity, t.IsAggressorSell)
}
