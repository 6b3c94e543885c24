// Package stream holds the consumer side of the market data stream: sinks that
// receive decoded events and helpers built on top of them.
package stream

import (
	"github.com/rs/zerolog"

	"github.com/webclinic017/trading-tools-2/internal/ws"
	"github.com/webclinic017/trading-tools-2/pkg/core"
)

type ConnState = ws.ConnState

const (
	StateStopped    = ws.StateStopped
	StateConnecting = ws.StateConnecting
	StateConnected  = ws.StateConnected
	StateStopping   = ws.StateStopping
)

// Sink receives events from the streaming client. Push is called on the client's
// worker goroutine and must not block.
type Sink interface {
	Push(ev core.Event)
}

// SinkFunc adapts a plain function to Sink.
type SinkFunc func(ev core.Event)

func (f SinkFunc) Push(ev core.Event) {
	f(ev)
}

// LogSink returns a sink that writes every event to logger.
func LogSink(logger zerolog.Logger) Sink {
	return SinkFunc(func(ev core.Event) {
		switch e := ev.(type) {
		case *core.Trade:
			logger.Info().
				Str("instrument", e.Instrument).
				Int64("id", e.ID).
				Str("side", e.Side.String()).
				Str("price", e.Price.Text('f')).
				Str("amount", e.Amount.Text('f')).
				Time("ts", e.Timestamp).
				Msg("trade")
		case *core.OrderBook:
			l := logger.Info().
				Str("instrument", e.Instrument).
				Int("bids", len(e.Bids)).
				Int("asks", len(e.Asks)).
				Time("ts", e.Timestamp)
			if bid, ok := e.BestBid(); ok {
				l = l.Str("bid", bid.Price.Text('f'))
			}
			if ask, ok := e.BestAsk(); ok {
				l = l.Str("ask", ask.Price.Text('f'))
			}
			l.Msg("order book")
		default:
			logger.Info().
				Str("instrument", ev.InstrumentName()).
				Str("kind", ev.EventKind().String()).
				Msg("event")
		}
	})
}
