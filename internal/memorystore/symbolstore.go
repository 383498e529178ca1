package memorystore

import (
	"sort"
	"strings"
	"sync"

	"footprint/internal/market"
)

// MemorySymbolStore holds exchange symbol metadata for quick lookups.
type MemorySymbolStore struct {
	mu      sync.RWMutex
	symbols map[string]market.Symbol
}

func NewSymbolStore() *MemorySymbolStore {
	return &MemorySymbolStore{
		symbols: make(map[string]market.Symbol),
	}
}

func (s *MemorySymbolStore) Add(sym market.Symbol) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.symbols[sym.Symbol] = sym
}

// Replace swaps the whole set, dropping delisted symbols.
func (s *MemorySymbolStore) Replace(symbols []market.Symbol) {
	next := make(map[string]market.Symbol, len(symbols))
	for _, sym := range symbols {
		next[sym.Symbol] = sym
	}
	s.mu.Lock()
	s.symbols = next
	s.mu.Unlock()
}

func (s *MemorySymbolStore) Get(symbol string) (market.Symbol, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sym, ok := s.symbols[symbol]
	return sym, ok
}

func (s *MemorySymbolStore) GetAll() []market.Symbol {
	return s.filter(func(market.Symbol) bool { return true })
}

// ByQuote returns symbols quoted in asset, by 24h quote volume descending.
func (s *MemorySymbolStore) ByQuote(asset string) []market.Symbol {
	return s.filter(func(sym market.Symbol) bool { return strings.EqualFold(sym.QuoteAsset, asset) })
}

// ByBase returns symbols with base asset, by 24h quote volume descending.
func (s *MemorySymbolStore) ByBase(asset string) []market.Symbol {
	return s.filter(func(sym market.Symbol) bool { return strings.EqualFold(sym.BaseAsset, asset) })
}

func (s *MemorySymbolStore) filter(keep func(market.Symbol) bool) []market.Symbol {
	s.mu.RLock()
	out := make([]market.Symbol, 0, len(s.symbols))
	for _, sym := range s.symbols {
		if keep(sym) {
			out = append(out, sym)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].QuoteVolume24h != out[j].QuoteVolume24h {
			return out[i].QuoteVolume24h > out[j].QuoteVolume24h
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// UpdatePrice records the latest trade price of a known symbol.
func (s *MemorySymbolStore) UpdatePrice(symbol string, price float64, atMs int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sym, ok := s.symbols[symbol]
	if !ok || atMs < sym.UpdatedAtMs {
		return false
	}
	sym.LastPrice = price
	sym.UpdatedAtMs = atMs
	s.symbols[symbol] = sym
	return true
}

func (s *MemorySymbolStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.symbols)
}
