package market

import (
	"fmt"
	"strings"
	"time"
)

// Timeframe is a candle bucket width in milliseconds.
type Timeframe int64

const (
	Timeframe1Min   Timeframe = Timeframe(time.Minute / time.Millisecond)
	Timeframe3Min   Timeframe = 3 * Timeframe1Min
	Timeframe5Min   Timeframe = 5 * Timeframe1Min
	Timeframe15Min  Timeframe = 15 * Timeframe1Min
	Timeframe30Min  Timeframe = 30 * Timeframe1Min
	Timeframe1Hour  Timeframe = 60 * Timeframe1Min
	Timeframe2Hour  Timeframe = 2 * Timeframe1Hour
	Timeframe4Hour  Timeframe = 4 * Timeframe1Hour
	Timeframe6Hour  Timeframe = 6 * Timeframe1Hour
	Timeframe12Hour Timeframe = 12 * Timeframe1Hour
	Timeframe1Day   Timeframe = 24 * Timeframe1Hour
	Timeframe1Week  Timeframe = 7 * Timeframe1Day
)

// timeframeNames maps each supported Timeframe to its exchange interval label.
var timeframeNames = map[Timeframe]string{
	Timeframe1Min:   "1m",
	Timeframe3Min:   "3m",
	Timeframe5Min:   "5m",
	Timeframe15Min:  "15m",
	Timeframe30Min:  "30m",
	Timeframe1Hour:  "1h",
	Timeframe2Hour:  "2h",
	Timeframe4Hour:  "4h",
	Timeframe6Hour:  "6h",
	Timeframe12Hour: "12h",
	Timeframe1Day:   "1d",
	Timeframe1Week:  "1w", // weeks are aligned to the epoch, not to Monday
}

// IsValid checks if the Timeframe is one of the predefined widths.
func (tf Timeframe) IsValid() bool {
	_, ok := timeframeNames[tf]
	return ok
}

func (tf Timeframe) String() string {
	if name, ok := timeframeNames[tf]; ok {
		return name
	}
	return fmt.Sprintf("%dms", int64(tf))
}

// Millis returns the bucket width in milliseconds.
func (tf Timeframe) Millis() int64 {
	return int64(tf)
}

// Duration returns the bucket width as a time.Duration.
func (tf Timeframe) Duration() time.Duration {
	return time.Duration(tf) * time.Millisecond
}

// BucketStart floors ts to the start of its bucket.
func (tf Timeframe) BucketStart(ts int64) int64 {
	w := int64(tf)
	start := ts / w * w
	if ts < 0 && start != ts {
		start -= w
	}
	return start
}

// ParseTimeframe parses an exchange interval label such as "1m" or "4h".
func ParseTimeframe(s string) (Timeframe, error) {
	s = strings.TrimSpace(s)
	for tf, name := range timeframeNames {
		if name == s {
			return tf, nil
		}
	}
	return 0, ValidationError(fmt.Errorf("%w: %q", ErrUnknownTimeframe, s))
}

// ParseTimeframes parses a list of labels, dropping duplicates while keeping order.
func ParseTimeframes(labels []string) ([]Timeframe, error) {
	var out []Timeframe
	seen := make(map[Timeframe]bool, len(labels))
	for _, l := range labels {
		tf, err := ParseTimeframe(l)
		if err != nil {
			return nil, err
		}
		if seen[tf] {
			continue
		}
		seen[tf] = true
		out = append(out, tf)
	}
	return out, nil
}
