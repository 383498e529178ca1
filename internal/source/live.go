package source

import (
	"context"

	"footprint/internal/market"
	"footprint/internal/stream"
	"footprint/pkg/binance"

	"go.uber.org/zap"
)

// StreamClient is the transport behind a LiveStream.
type StreamClient interface {
	SetMessageHandler(h func([]byte))
	Subscribe(topics ...string) error
	Unsubscribe(topics ...string) error
	Connect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// LiveStream is the PushSource over the aggregate trade WebSocket stream.
// Keep-alive and reconnects are handled by the transport.
type LiveStream struct {
	client StreamClient
	router *stream.Router
	logger *zap.Logger
}

func NewLiveStream(client StreamClient, logger *zap.Logger) *LiveStream {
	router := stream.NewRouter(logger)
	client.SetMessageHandler(router.Handle)
	return &LiveStream{client: client, router: router, logger: logger}
}

func (l *LiveStream) Subscribe(symbol string, onTrade func(market.Trade)) error {
	l.router.Add(symbol, onTrade)
	if err := l.client.Subscribe(binance.AggTradeTopic(symbol)); err != nil {
		l.logger.Warn("subscribe failed, will retry on reconnect", zap.String("symbol", symbol), zap.Error(err))
		return err
	}
	return nil
}

func (l *LiveStream) Unsubscribe(symbol string) error {
	l.router.Remove(symbol)
	return l.client.Unsubscribe(binance.AggTradeTopic(symbol))
}

func (l *LiveStream) Connect(ctx context.Context) error {
	return l.client.Connect(ctx)
}

func (l *LiveStream) Disconnect() error {
	return l.client.Close()
}

func (l *LiveStream) IsConnected() bool {
	return l.client.IsConnected()
}
