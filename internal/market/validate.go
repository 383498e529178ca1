package market

import (
	"fmt"
	"math"
)

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// ValidateTrade rejects trades that must not reach the aggregator.
func ValidateTrade(t Trade) error {
	switch {
	case t.Symbol == "":
		return ValidationError(fmt.Errorf("trade without symbol"))
	case t.TimestampMs <= 0:
		return ValidationError(fmt.Errorf("trade %s: invalid timestamp %d", t.Symbol, t.TimestampMs))
	case !finite(t.Price) || t.Price <= 0:
		return ValidationError(fmt.Errorf("trade %s@%d: invalid price %v", t.Symbol, t.TimestampMs, t.Price))
	case !finite(t.Quantity) || t.Quantity <= 0:
		return ValidationError(fmt.Errorf("trade %s@%d: invalid quantity %v", t.Symbol, t.TimestampMs, t.Quantity))
	case t.TradeID < 0:
		return ValidationError(fmt.Errorf("trade %s@%d: negative trade id %d", t.Symbol, t.TimestampMs, t.TradeID))
	}
	return nil
}

// ValidateCandle checks OHLC consistency and bucket alignment.
func ValidateCandle(c Candle) error {
	if c.Symbol == "" {
		return ValidationError(fmt.Errorf("candle without symbol"))
	}
	if !c.Timeframe.IsValid() {
		return ValidationError(fmt.Errorf("candle %s: %w %d", c.Symbol, ErrUnknownTimeframe, c.Timeframe))
	}
	if c.EndTimeMs != c.StartTimeMs+c.Timeframe.Millis() || c.Timeframe.BucketStart(c.StartTimeMs) != c.StartTimeMs {
		return ValidationError(fmt.Errorf("candle %s@%d: misaligned bucket", c.Symbol, c.StartTimeMs))
	}
	for _, v := range []float64{c.Open, c.High, c.Low, c.Close, c.Volume} {
		if !finite(v) || v < 0 {
			return ValidationError(fmt.Errorf("candle %s@%d: invalid value %v", c.Symbol, c.StartTimeMs, v))
		}
	}
	if c.Low > c.High || c.Open > c.High || c.Open < c.Low || c.Close > c.High || c.Close < c.Low {
		return ValidationError(fmt.Errorf("candle %s@%d: inconsistent ohlc", c.Symbol, c.StartTimeMs))
	}
	return nil
}

// SplitValid partitions trades into valid ones and the validation errors of the rest.
func SplitValid(trades []Trade) ([]Trade, []error) {
	valid := make([]Trade, 0, len(trades))
	var errs []error
	for _, t := range trades {
		if err := ValidateTrade(t); err != nil {
			errs = append(errs, err)
			continue
		}
		valid = append(valid, t)
	}
	return valid, errs
}
