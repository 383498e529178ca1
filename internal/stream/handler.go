package stream

import (
	"sync"

	"footprint/internal/market"
	"footprint/pkg/binance"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// keys such as "e"/"E" and "t"/"T" differ only in case
var json = jsoniter.Config{
	EscapeHTML:             true,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
	CaseSensitive:          true,
}.Froze()

// Router decodes stream messages and dispatches trades to per-symbol callbacks.
type Router struct {
	logger *zap.Logger

	mu       sync.RWMutex
	handlers map[string]func(market.Trade)

	dropped uint64 // messages for unsubscribed symbols, guarded by mu
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		logger:   logger,
		handlers: make(map[string]func(market.Trade)),
	}
}

// Add registers onTrade for symbol, replacing any previous callback.
func (r *Router) Add(symbol string, onTrade func(market.Trade)) {
	r.mu.Lock()
	r.handlers[symbol] = onTrade
	r.mu.Unlock()
}

func (r *Router) Remove(symbol string) {
	r.mu.Lock()
	delete(r.handlers, symbol)
	r.mu.Unlock()
}

// Handle is the WebSocket message handler. It never blocks beyond the callback.
func (r *Router) Handle(msg []byte) {
	// Step 1: peek the event type to skip subscription acks
	var meta struct {
		EventType string `json:"e"`
		ID        *int64 `json:"id"`
	}
	if err := json.Unmarshal(msg, &meta); err != nil {
		r.logger.Warn("failed to decode stream message", zap.Error(market.ValidationError(err)))
		return
	}
	if meta.EventType != "aggTrade" {
		if meta.ID != nil {
			r.logger.Debug("stream request acknowledged", zap.Int64("id", *meta.ID))
		}
		return
	}

	// Step 2: decode the trade payload
	var ev binance.AggTradeEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		r.logger.Warn("failed to parse aggTrade payload", zap.Error(market.ValidationError(err)))
		return
	}
	trade, err := binance.ParseAggTradeEvent(&ev)
	if err == nil {
		err = market.ValidateTrade(trade)
	}
	if err != nil {
		r.logger.Warn("rejected stream trade", zap.String("symbol", ev.Symbol), zap.Error(market.ValidationError(err)))
		return
	}

	// Step 3: dispatch
	r.mu.RLock()
	h, ok := r.handlers[trade.Symbol]
	r.mu.RUnlock()
	if !ok {
		r.mu.Lock()
		r.dropped++
		r.mu.Unlock()
		return
	}
	h(trade)
}

// Dropped returns the number of trades received for symbols without a callback.
func (r *Router) Dropped() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dropped
}
