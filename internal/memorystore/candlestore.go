package memorystore

import (
	"sort"
	"sync"

	"footprint/internal/market"
)

// MemoryCandleStore publishes the open candle of every tracked series for
// readers outside the processing goroutine.
type MemoryCandleStore struct {
	globalMu sync.RWMutex
	data     map[string]*symbolCandleStore
}

type symbolCandleStore struct {
	mu   sync.Mutex
	open map[market.Timeframe]market.Candle
}

func NewCandleStore() *MemoryCandleStore {
	return &MemoryCandleStore{
		data: make(map[string]*symbolCandleStore),
	}
}

func (s *MemoryCandleStore) symbolStore(symbol string) *symbolCandleStore {
	// Fast path: lock per-symbol store only
	s.globalMu.RLock()
	store, ok := s.data[symbol]
	s.globalMu.RUnlock()
	if ok {
		return store
	}

	s.globalMu.Lock()
	defer s.globalMu.Unlock()
	if store, ok = s.data[symbol]; !ok {
		store = &symbolCandleStore{open: make(map[market.Timeframe]market.Candle)}
		s.data[symbol] = store
	}
	return store
}

// Put stores a copy of c unless a newer candle of the same series is present.
func (s *MemoryCandleStore) Put(c market.Candle) {
	store := s.symbolStore(c.Symbol)

	store.mu.Lock()
	defer store.mu.Unlock()
	if cur, ok := store.open[c.Timeframe]; ok && cur.StartTimeMs > c.StartTimeMs {
		return
	}
	store.open[c.Timeframe] = c.Clone()
}

func (s *MemoryCandleStore) Get(symbol string, tf market.Timeframe) (market.Candle, bool) {
	s.globalMu.RLock()
	store, ok := s.data[symbol]
	s.globalMu.RUnlock()
	if !ok {
		return market.Candle{}, false
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	c, ok := store.open[tf]
	if !ok {
		return market.Candle{}, false
	}
	return c.Clone(), true
}

// GetBySymbol returns the open candles of symbol ordered by timeframe.
func (s *MemoryCandleStore) GetBySymbol(symbol string) []market.Candle {
	s.globalMu.RLock()
	store, ok := s.data[symbol]
	s.globalMu.RUnlock()
	if !ok {
		return nil
	}

	store.mu.Lock()
	out := make([]market.Candle, 0, len(store.open))
	for _, c := range store.open {
		out = append(out, c.Clone())
	}
	store.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Timeframe < out[j].Timeframe })
	return out
}

func (s *MemoryCandleStore) Remove(symbol string) {
	s.globalMu.Lock()
	delete(s.data, symbol)
	s.globalMu.Unlock()
}

// CountAll returns the number of published candles across all symbols.
func (s *MemoryCandleStore) CountAll() int {
	s.globalMu.RLock()
	defer s.globalMu.RUnlock()

	total := 0
	for _, store := range s.data {
		store.mu.Lock()
		total += len(store.open)
		store.mu.Unlock()
	}
	return total
}
