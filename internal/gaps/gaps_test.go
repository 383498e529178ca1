package gaps

import (
	"context"
	"errors"
	"testing"

	"footprint/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScanner struct {
	timestamps []int64
	err        error
}

func (f fakeScanner) ScanTradeTimestamps(_ context.Context, _ string, start, end int64, fn func(int64)) error {
	if f.err != nil {
		return f.err
	}
	for _, ts := range f.timestamps {
		if ts >= start && ts <= end {
			fn(ts)
		}
	}
	return nil
}

// go test -v --run TestDetectGaps
func TestDetectGaps(t *testing.T) {
	d := NewDetector(fakeScanner{timestamps: []int64{1000, 71000}})

	gaps, err := d.DetectGaps(context.Background(), "BTCUSDT", 1000, 71000, 60000)
	require.NoError(t, err)
	assert.Equal(t, []market.DataGap{{Symbol: "BTCUSDT", StartTimeMs: 1000, EndTimeMs: 71000}}, gaps)

	gaps, err = d.DetectGaps(context.Background(), "BTCUSDT", 1000, 71000, 80000)
	require.NoError(t, err)
	assert.Empty(t, gaps)
}

// go test -v --run TestDetectLeadingGap
func TestDetectLeadingGap(t *testing.T) {
	gaps := Detect("ETHUSDT", []int64{200_000, 210_000, 400_000, 410_000}, 0, 60_000)
	assert.Equal(t, []market.DataGap{
		{Symbol: "ETHUSDT", StartTimeMs: 0, EndTimeMs: 200_000},
		{Symbol: "ETHUSDT", StartTimeMs: 210_000, EndTimeMs: 400_000},
	}, gaps)
}

// go test -v --run TestDetectBoundary
func TestDetectBoundary(t *testing.T) {
	// exactly minGap apart is not a gap
	assert.Empty(t, Detect("BTCUSDT", []int64{0, 60_000, 120_000}, 0, 60_000))
	assert.Empty(t, Detect("BTCUSDT", nil, 0, 60_000))
	// default threshold
	assert.Len(t, Detect("BTCUSDT", []int64{0, 60_001}, 0, 0), 1)
}

// go test -v --run TestDetectGapsStoreError
func TestDetectGapsStoreError(t *testing.T) {
	d := NewDetector(fakeScanner{err: market.StoreError(errors.New("disk I/O error"))})
	_, err := d.DetectGaps(context.Background(), "BTCUSDT", 0, 1000, 0)
	assert.True(t, errors.Is(err, market.ErrStore))
}
