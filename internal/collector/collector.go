package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"footprint/config"
	"footprint/internal/market"
	"footprint/internal/memorystore"
	"footprint/internal/snapshot"
	"footprint/internal/source"
	"footprint/internal/symbolmeta"
	"footprint/pkg/binance"
	"footprint/pkg/storage"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const symbolQuoteAsset = "USDT"

// Run wires the store, the exchange clients and the engine, then backfills and
// streams every configured symbol until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	// Initialize store
	store, err := storage.Open(cfg.Storage, cfg.Log.Environment)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	// Create REST and WebSocket clients
	restClient := binance.NewRESTClient(cfg.Binance.REST)
	fetcher := source.NewFetcher(restClient, cfg.Binance.REST, logger)

	wsClient := binance.NewWSClient(cfg.Binance.WS, logger)
	wsClient.SetStateHandler(func(connected bool, err error) {
		if connected {
			logger.Info("live stream up")
			return
		}
		logger.Warn("live stream down", zap.Error(err))
	})
	live := source.NewLiveStream(wsClient, logger)

	// Symbol metadata: persisted copy first, exchange refresh at UTC midnight
	symbolStore := memorystore.NewSymbolStore()
	if persisted, err := store.GetSymbols(ctx); err != nil {
		logger.Warn("failed to read persisted symbols", zap.Error(err))
	} else {
		symbolStore.Replace(persisted)
	}

	engine, err := NewEngine(Deps{
		Store:   store,
		Pull:    fetcher,
		Push:    live,
		Symbols: symbolStore,
		Config:  cfg.Engine,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	engine.OnDataChanged(func(symbol string) {
		logger.Debug("data changed", zap.String("symbol", symbol))
	})

	retention := NewRetentionWorker(store, cfg.Engine.Retention(), cfg.Engine.CleanupInterval, logger)

	loader := &snapshot.SymbolLoader{
		QuoteAsset: symbolQuoteAsset,
		Timeout:    cfg.Binance.REST.Timeout,
		RestClient: restClient,
		Logger:     logger,
	}
	midnight := &symbolmeta.MidnightLoader{Load: symbolmeta.DefaultLoadFn(loader)}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return ignoreCanceled(engine.Run(ctx)) })

	g.Go(func() error { return ignoreCanceled(retention.Run(ctx)) })

	g.Go(func() error {
		return ignoreCanceled(midnight.Run(ctx, func(ch <-chan market.Symbol) {
			refreshSymbols(ctx, ch, store, symbolStore, logger)
		}))
	})

	g.Go(func() error {
		defer engine.Close()
		if err := startSymbols(ctx, engine, cfg.Engine, logger); err != nil {
			return err
		}
		return ignoreCanceled(periodicBackfill(ctx, engine, cfg.Engine, logger))
	})

	// Periodically report backlog and persist last prices
	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
			logger.Info("processor backlog",
				zap.Int("jobs", engine.proc.queue.Len()),
				zap.Int("open_candles", engine.candles.CountAll()),
				zap.Bool("store_healthy", store.IsHealthy(ctx)))
			persistPrices(ctx, cfg.Engine.Symbols, store, symbolStore, logger)
		}
	})

	return g.Wait()
}

// startSymbols backfills each symbol and then bootstraps its live stream from
// the newest stored trade.
func startSymbols(ctx context.Context, engine *Engine, cfg config.EngineConfig, logger *zap.Logger) error {
	tf := engine.Timeframes()[0]

	for _, symbol := range cfg.Symbols {
		if _, err := engine.BackfillNow(ctx, symbol); err != nil {
			if errors.Is(err, market.ErrStore) || ctx.Err() != nil {
				return err
			}
			logger.Error("startup backfill failed", zap.String("symbol", symbol), zap.Error(err))
		}

		now := time.Now().UnixMilli()
		start, ok, err := engine.GetLatestTradeTime(ctx, symbol)
		if err != nil {
			return err
		}
		if !ok {
			start, _ = HistoryWindow(time.Now(), cfg.RetentionDays)
		}

		err = engine.Bootstrap(ctx, symbol, tf, start, now, func(candles []market.Candle) {
			logger.Info("history ready", zap.String("symbol", symbol), zap.Int("candles", len(candles)))
		}, nil)
		if err != nil && !errors.Is(err, market.ErrAlreadyBootstrapped) {
			return err
		}
	}
	return nil
}

func periodicBackfill(ctx context.Context, engine *Engine, cfg config.EngineConfig, logger *zap.Logger) error {
	if cfg.BackfillInterval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(cfg.BackfillInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		for _, symbol := range cfg.Symbols {
			if _, err := engine.BackfillNow(ctx, symbol); err != nil {
				if errors.Is(err, market.ErrStore) {
					return err
				}
				logger.Warn("periodic backfill failed", zap.String("symbol", symbol), zap.Error(err))
			}
		}
	}
}

func refreshSymbols(ctx context.Context, ch <-chan market.Symbol, store *storage.Client, symbols *memorystore.MemorySymbolStore, logger *zap.Logger) {
	var loaded []market.Symbol
	for sym := range ch {
		loaded = append(loaded, sym)
	}
	if len(loaded) == 0 {
		return
	}
	symbols.Replace(loaded)
	if err := store.UpsertSymbols(ctx, loaded); err != nil {
		logger.Error("failed to persist symbols", zap.Error(err))
		return
	}
	logger.Info("symbol metadata refreshed", zap.Int("count", len(loaded)))
}

func persistPrices(ctx context.Context, symbols []string, store *storage.Client, mem *memorystore.MemorySymbolStore, logger *zap.Logger) {
	for _, symbol := range symbols {
		sym, ok := mem.Get(symbol)
		if !ok || sym.LastPrice == 0 {
			continue
		}
		if err := store.UpdateSymbolPrice(ctx, symbol, sym.LastPrice, sym.UpdatedAtMs); err != nil {
			logger.Warn("failed to persist price", zap.String("symbol", symbol), zap.Error(err))
		}
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
