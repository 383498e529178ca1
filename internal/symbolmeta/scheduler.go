package symbolmeta

import (
	"context"
	"time"

	"footprint/internal/market"
	"footprint/internal/snapshot"

	"go.uber.org/zap"
)

type MidnightLoader struct {
	Load func(ctx context.Context) <-chan market.Symbol
	Now  func() time.Time
}

func DefaultLoadFn(loader *snapshot.SymbolLoader) func(ctx context.Context) <-chan market.Symbol {
	return func(ctx context.Context) <-chan market.Symbol {
		symbolCh := make(chan market.Symbol, 100)

		go func() {
			if err := loader.LoadSymbols(ctx, symbolCh); err != nil {
				loader.Logger.Error("failed to load symbols", zap.Error(err))
			}
		}()

		return symbolCh
	}
}

// NextMidnight returns the first UTC midnight strictly after t.
func NextMidnight(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
}

// Run loads once immediately, then at the next UTC midnight and every 24 hours
// after that, until ctx is done.
func (m *MidnightLoader) Run(ctx context.Context, proc func(<-chan market.Symbol)) error {
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}

	m.runOnce(ctx, proc)

	timer := time.NewTimer(time.Until(NextMidnight(now())))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		m.runOnce(ctx, proc)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *MidnightLoader) runOnce(ctx context.Context, proc func(<-chan market.Symbol)) {
	symbolCh := m.Load(ctx)
	proc(symbolCh)
}
