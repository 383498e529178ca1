package source

import (
	"context"
	"time"

	"footprint/config"
	"footprint/internal/market"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// PageClient returns single pages from the pull API.
type PageClient interface {
	AggTrades(ctx context.Context, symbol string, start, end int64, limit int) ([]market.Trade, error)
	Klines(ctx context.Context, symbol string, tf market.Timeframe, start, end int64, limit int) ([]market.Candle, error)
}

// Fetcher paginates the pull API over arbitrary ranges. It does not retry.
type Fetcher struct {
	client   PageClient
	pageSize int
	window   int64 // ms per aggTrades request
	limiter  *rate.Limiter
	logger   *zap.Logger
}

func NewFetcher(client PageClient, cfg config.RESTConfig, logger *zap.Logger) *Fetcher {
	pageSize := cfg.PageSize
	if pageSize <= 0 || pageSize > 1000 {
		pageSize = 1000
	}
	window := cfg.Window
	if window <= 0 || window > time.Hour {
		window = time.Hour
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}
	return &Fetcher{
		client:   client,
		pageSize: pageSize,
		window:   window.Milliseconds(),
		limiter:  rate.NewLimiter(limit, burst),
		logger:   logger,
	}
}

func (f *Fetcher) wait(ctx context.Context) error {
	if err := f.limiter.Wait(ctx); err != nil {
		return market.FetchError(errors.Wrap(err, "rate limiter"))
	}
	return nil
}

// FetchTrades returns the trades with start <= time <= end, ascending.
//
// Requests cover at most one window each. A full page moves the cursor to the
// last returned timestamp, since more trades may share that millisecond;
// trades already returned are skipped by identity. The loop ends once the
// cursor passes end, so empty pages cannot stall it.
func (f *Fetcher) FetchTrades(ctx context.Context, symbol string, start, end int64) ([]market.Trade, error) {
	var (
		out    []market.Trade
		cur    = start
		edgeTs = int64(-1)
		edge   = map[market.Identity]struct{}{}
		pages  int
	)

	for cur <= end {
		windowEnd := min(cur+f.window-1, end)

		if err := f.wait(ctx); err != nil {
			return nil, err
		}
		page, err := f.client.AggTrades(ctx, symbol, cur, windowEnd, f.pageSize)
		if err != nil {
			return nil, market.FetchError(errors.Wrapf(err, "fetch %s page %d", symbol, pages))
		}
		pages++

		for _, t := range page {
			if t.TimestampMs < cur || t.TimestampMs > windowEnd {
				continue
			}
			if t.TimestampMs == edgeTs {
				if _, dup := edge[t.Identity()]; dup {
					continue
				}
			}
			if t.TimestampMs != edgeTs {
				edgeTs = t.TimestampMs
				clear(edge)
			}
			edge[t.Identity()] = struct{}{}
			t.Symbol = symbol
			out = append(out, t)
		}

		if len(page) < f.pageSize {
			cur = windowEnd + 1
			continue
		}

		last := page[len(page)-1].TimestampMs
		if last > cur {
			cur = last
			continue
		}
		// a full page inside one millisecond cannot be paged by time
		f.logger.Warn("page saturated within one millisecond, skipping ahead",
			zap.String("symbol", symbol), zap.Int64("ts", last), zap.Int("page_size", f.pageSize))
		cur = last + 1
	}

	f.logger.Debug("fetched trades",
		zap.String("symbol", symbol), zap.Int64("start", start), zap.Int64("end", end),
		zap.Int("pages", pages), zap.Int("count", len(out)))
	return out, nil
}

// FetchCandles returns exchange-aggregated candles of tf opening within [start, end].
// They carry no footprint.
func (f *Fetcher) FetchCandles(ctx context.Context, symbol string, tf market.Timeframe, start, end int64) ([]market.Candle, error) {
	var out []market.Candle
	cur := tf.BucketStart(start)

	for cur < end {
		if err := f.wait(ctx); err != nil {
			return nil, err
		}
		page, err := f.client.Klines(ctx, symbol, tf, cur, end, f.pageSize)
		if err != nil {
			return nil, market.FetchError(errors.Wrapf(err, "fetch %s %s candles", symbol, tf))
		}
		if len(page) == 0 {
			break
		}
		for _, c := range page {
			if c.StartTimeMs >= cur && c.StartTimeMs <= end {
				out = append(out, c)
			}
		}
		next := page[len(page)-1].StartTimeMs + tf.Millis()
		if next <= cur {
			break
		}
		cur = next
	}
	return out, nil
}
