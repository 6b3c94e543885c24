package bitstamp

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"

	"github.com/webclinic017/trading-tools-2/internal/ws"
	"github.com/webclinic017/trading-tools-2/pkg/core"
	"github.com/webclinic017/trading-tools-2/pkg/stream"
)

// Channel prefixes and event tags of the public stream.
const (
	channelTrades    = "live_trades_"
	channelOrderBook = "order_book_"

	eventSubscribe        = "bts:subscribe"
	eventSubscribed       = "bts:subscription_succeeded"
	eventRequestReconnect = "bts:request_reconnect"
	eventError            = "bts:error"
	eventTrade            = "trade"
	eventData             = "data"
)

type wsFrame struct {
	Event   string `json:"event"`
	Channel string `json:"channel"`
	Data    raw    `json:"data"`
}

type subscribeFrame struct {
	Event string        `json:"event"`
	Data  subscribeData `json:"data"`
}

type subscribeData struct {
	Channel string `json:"channel"`
}

// WSClient streams live trades and order book snapshots for a fixed set of
// instruments and pushes every decoded event to each registered sink.
type WSClient struct {
	instruments []string
	client      *ws.Client
	logger      zerolog.Logger

	mu    sync.RWMutex
	sinks []stream.Sink
}

type WSOption func(*wsOptions)

type wsOptions struct {
	config core.StreamConfig
	logger zerolog.Logger
}

// WithWSURL points the client at another endpoint, typically a test server.
func WithWSURL(url string) WSOption {
	return func(o *wsOptions) {
		o.config.URL = url
	}
}

func WithWSLogger(logger zerolog.Logger) WSOption {
	return func(o *wsOptions) {
		o.logger = logger
	}
}

// WithStreamConfig replaces the reconnect and keepalive settings. A URL set
// earlier with WithWSURL is overwritten unless config.URL is empty.
func WithStreamConfig(config core.StreamConfig) WSOption {
	return func(o *wsOptions) {
		url := o.config.URL
		o.config = config
		if o.config.URL == "" {
			o.config.URL = url
		}
	}
}

// NewWSClient builds a stopped client. Instruments are lower-cased and
// deduplicated; at least one is required.
func NewWSClient(instruments []string, opts ...WSOption) (*WSClient, error) {
	set := make([]string, 0, len(instruments))
	for _, inst := range instruments {
		inst = strings.ToLower(strings.TrimSpace(inst))
		if inst == "" || slices.Contains(set, inst) {
			continue
		}
		set = append(set, inst)
	}
	if len(set) == 0 {
		return nil, core.ErrNoInstruments
	}

	o := &wsOptions{
		config: core.DefaultStreamConfig(),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}

	c := &WSClient{
		instruments: set,
		logger:      o.logger.With().Str("component", "bitstamp_ws").Logger(),
	}
	client, err := ws.New(ws.ConfigFrom(o.config), c, ws.WithLogger(c.logger))
	if err != nil {
		return nil, err
	}
	c.client = client
	return c, nil
}

// Instruments returns the subscribed instruments in construction order.
func (c *WSClient) Instruments() []string {
	return slices.Clone(c.instruments)
}

// Register adds a sink. Every later event is delivered to every sink in
// registration order.
func (c *WSClient) Register(sink stream.Sink) {
	if sink == nil {
		return
	}
	c.mu.Lock()
	c.sinks = append(c.sinks, sink)
	c.mu.Unlock()
}

// Start connects in the background and returns at once.
func (c *WSClient) Start() error {
	return c.client.Start()
}

// Stop closes the connection and waits for the worker. No sink receives an
// event after Stop returns.
func (c *WSClient) Stop() {
	c.client.Stop()
}

// Join waits up to timeout for the worker to exit. A timeout <= 0 waits forever.
func (c *WSClient) Join(timeout time.Duration) bool {
	return c.client.Join(timeout)
}

func (c *WSClient) State() ws.ConnState {
	return c.client.State()
}

// Err returns the terminal error once reconnect attempts are exhausted.
func (c *WSClient) Err() error {
	return c.client.Err()
}

// OnOpen subscribes to both feeds of every instrument. It runs on every
// (re)connect.
func (c *WSClient) OnOpen(s ws.Sender) error {
	for _, inst := range c.instruments {
		for _, prefix := range []string{channelTrades, channelOrderBook} {
			frame := subscribeFrame{
				Event: eventSubscribe,
				Data:  subscribeData{Channel: prefix + inst},
			}
			if err := s.SendJSON(frame); err != nil {
				return fmt.Errorf("subscribe %s%s: %w", prefix, inst, err)
			}
		}
	}
	c.logger.Debug().Strs("instruments", c.instruments).Msg("subscriptions sent")
	return nil
}

// OnMessage decodes one frame and fans it out. Undecodable frames are logged
// and dropped.
func (c *WSClient) OnMessage(data []byte) error {
	var frame wsFrame
	if err := sonic.Unmarshal(data, &frame); err != nil {
		c.logger.Warn().Err(err).Msg("failed to parse frame")
		return nil
	}

	switch frame.Event {
	case eventTrade:
		trade, err := DecodeTrade(frame.Data, instrumentOf(frame.Channel))
		if err != nil {
			c.logger.Warn().Err(err).Str("channel", frame.Channel).Msg("failed to decode trade")
			return nil
		}
		c.dispatch(trade)
	case eventData:
		book, err := DecodeOrderBook(frame.Data, instrumentOf(frame.Channel))
		if err != nil {
			c.logger.Warn().Err(err).Str("channel", frame.Channel).Msg("failed to decode order book")
			return nil
		}
		c.dispatch(book)
	case eventSubscribed:
		c.logger.Debug().Str("channel", frame.Channel).Msg("subscribed")
	case eventRequestReconnect:
		c.logger.Info().Msg("server requested reconnect")
		return ws.ErrReconnect
	case eventError:
		c.logger.Warn().Str("channel", frame.Channel).RawJSON("data", orNull(frame.Data)).Msg("stream error")
	default:
		c.logger.Info().Str("event", frame.Event).Str("channel", frame.Channel).Msg("unhandled event")
	}
	return nil
}

func (c *WSClient) dispatch(ev core.Event) {
	c.mu.RLock()
	sinks := c.sinks
	c.mu.RUnlock()

	for _, sink := range sinks {
		sink.Push(ev)
	}
}

// instrumentOf returns the channel suffix after the last underscore, so
// "live_trades_btcusd" yields "btcusd".
func instrumentOf(channel string) string {
	if i := strings.LastIndexByte(channel, '_'); i >= 0 {
		return channel[i+1:]
	}
	return channel
}

func orNull(r raw) []byte {
	if len(r) == 0 {
		return []byte("null")
	}
	return r
}
