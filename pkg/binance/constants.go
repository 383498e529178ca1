package binance

import (
	"strings"

	"footprint/internal/market"
)

const (
	BaseURL        = "https://api.binance.com"
	TestnetBaseURL = "https://testnet.binance.vision"
	StreamURL      = "wss://stream.binance.com:9443/ws"
	TestnetStream  = "wss://testnet.binance.vision/ws"

	// MaxPageSize is the largest limit accepted by aggTrades and klines.
	MaxPageSize = 1000

	// StatusTrading marks symbols currently open for trading.
	StatusTrading = "TRADING"
)

// AggTradeTopic returns the aggregate trade stream name of symbol, e.g. "btcusdt@aggTrade".
func AggTradeTopic(symbol string) string {
	return strings.ToLower(symbol) + "@aggTrade"
}

// SymbolFromTopic reverses AggTradeTopic.
func SymbolFromTopic(topic string) string {
	name, _, _ := strings.Cut(topic, "@")
	return strings.ToUpper(name)
}

// Interval returns the kline interval label for tf.
func Interval(tf market.Timeframe) (string, error) {
	if !tf.IsValid() {
		return "", market.ValidationError(market.ErrUnknownTimeframe)
	}
	return tf.String(), nil
}
