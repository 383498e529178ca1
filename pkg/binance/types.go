package binance

// AggTradeEvent is a message of the <symbol>@aggTrade stream.
type AggTradeEvent struct {
	EventType    string `json:"e"` // "aggTrade"
	EventTime    int64  `json:"E"` // Event time in milliseconds
	Symbol       string `json:"s"`
	AggTradeID   int64  `json:"a"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	FirstTradeID int64  `json:"f"`
	LastTradeID  int64  `json:"l"`
	TradeTime    int64  `json:"T"` // Trade time in milliseconds
	IsBuyerMaker bool   `json:"m"` // true when the seller was the aggressor
	Ignore       bool   `json:"M"`
}

// StreamRequest is a SUBSCRIBE/UNSUBSCRIBE control message.
type StreamRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// StreamResponse acknowledges a StreamRequest.
type StreamResponse struct {
	Result any          `json:"result"`
	ID     int64        `json:"id"`
	Error  *StreamError `json:"error,omitempty"`
}

type StreamError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Ticker24h carries the rolling 24h statistics of one symbol.
type Ticker24h struct {
	Symbol             string
	LastPrice          float64
	PriceChangePercent float64
	HighPrice          float64
	LowPrice           float64
	Volume             float64
	QuoteVolume        float64
}
