// Package ws supervises one long-lived websocket connection: it dials, hands
// frames to a Handler, keeps the socket alive and redials until stopped.
package ws

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"
	"github.com/lxzan/gws"
	"github.com/rs/zerolog"

	"github.com/webclinic017/trading-tools-2/pkg/core"
)

// errStopped aborts a dial that lost the race with Stop.
var errStopped = errors.New("stream stopped while dialing")

// ErrReconnect may be returned by Handler.OnMessage to drop the current
// connection; the worker redials at once.
var ErrReconnect = errors.New("reconnect requested")

// Config holds the supervisor settings.
type Config struct {
	URL               string        `validate:"required,url"`
	HandshakeTimeout  time.Duration `validate:"min=0"`
	PingInterval      time.Duration `validate:"min=0"`
	PongWait          time.Duration `validate:"min=0"`
	ReconnectBaseWait time.Duration `validate:"min=1ms"`
	ReconnectMaxWait  time.Duration `validate:"gtefield=ReconnectBaseWait"`
	// MaxReconnectAttempts caps consecutive failed dials; 0 retries forever.
	MaxReconnectAttempts int `validate:"min=0"`
}

// ConfigFrom maps the session stream settings onto a supervisor config.
func ConfigFrom(c core.StreamConfig) Config {
	return Config{
		URL:                  c.URL,
		HandshakeTimeout:     c.HandshakeTimeout,
		PingInterval:         c.PingInterval,
		PongWait:             c.PongWait,
		ReconnectBaseWait:    c.ReconnectBaseWait,
		ReconnectMaxWait:     c.ReconnectMaxWait,
		MaxReconnectAttempts: c.MaxReconnectAttempts,
	}
}

// Sender writes frames on the current connection.
type Sender interface {
	WriteMessage(data []byte) error
	SendJSON(v any) error
}

// Handler receives connection events. Both methods run on the worker goroutine,
// so they are never called concurrently.
type Handler interface {
	// OnOpen runs once per connection before any frame is read. An error closes
	// the connection and counts as a failed attempt.
	OnOpen(s Sender) error
	// OnMessage receives a private copy of every text or binary frame.
	OnMessage(data []byte) error
}

// Client owns a single worker goroutine for the lifetime between Start and Stop.
type Client struct {
	config  Config
	handler Handler
	state   State
	logger  zerolog.Logger

	mu     sync.Mutex
	conn   *gws.Conn
	stopCh chan struct{}
	done   chan struct{}
	err    error

	// dialing is the raw connection of a handshake in progress.
	dialing net.Conn
}

type Option func(*Client)

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

var validate = validator.New()

// New validates config and returns a stopped client.
func New(config Config, handler Handler, opts ...Option) (*Client, error) {
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("invalid stream config: %w", err)
	}
	if handler == nil {
		return nil, errors.New("stream handler is required")
	}

	c := &Client{
		config:  config,
		handler: handler,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.state.Store(StateStopped)
	return c, nil
}

// State returns the current lifecycle state.
func (c *Client) State() ConnState {
	return c.state.Load()
}

// Err returns the error that ended the last run on its own, or nil.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Start launches the worker. It is a no-op while running and fails while a Stop
// is still in progress.
func (c *Client) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state.Load() {
	case StateConnecting, StateConnected:
		return nil
	case StateStopping:
		return core.ErrStreamStopping
	}

	c.stopCh = make(chan struct{})
	c.done = make(chan struct{})
	c.err = nil
	c.state.Store(StateConnecting)

	go c.run(c.stopCh, c.done)
	return nil
}

// Stop signals the worker, closes the socket and blocks until the worker has
// exited. Safe to call repeatedly and from several goroutines.
func (c *Client) Stop() {
	c.mu.Lock()
	done := c.done
	switch c.state.Load() {
	case StateConnecting, StateConnected:
		c.state.Store(StateStopping)
		close(c.stopCh)
		if c.dialing != nil {
			_ = c.dialing.Close()
		}
		if c.conn != nil {
			_ = c.conn.NetConn().Close()
		}
	}
	c.mu.Unlock()

	if done != nil {
		<-done
	}
}

// Join waits for the worker to exit. A non-positive timeout waits forever.
// It reports whether the worker has exited.
func (c *Client) Join(timeout time.Duration) bool {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()

	if done == nil {
		return true
	}
	if timeout <= 0 {
		<-done
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

func (c *Client) run(stop <-chan struct{}, done chan struct{}) {
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.state.Store(StateStopped)
		c.mu.Unlock()
		close(done)
	}()

	failures := 0
	for {
		started := time.Now()
		opened, err := c.session(stop)
		if isStopped(stop) {
			c.logger.Info().Str("url", c.config.URL).Msg("stream stopped")
			return
		}

		var wait time.Duration
		if opened {
			failures = 0
			if time.Since(started) < c.config.ReconnectBaseWait {
				wait = c.config.ReconnectBaseWait
			}
			c.logger.Warn().Err(err).Str("url", c.config.URL).Msg("stream disconnected, reconnecting")
		} else {
			failures++
			if c.config.MaxReconnectAttempts > 0 && failures >= c.config.MaxReconnectAttempts {
				c.mu.Lock()
				c.err = core.NewExchangeError(core.ErrorTypeConnection, 0,
					fmt.Sprintf("gave up after %d failed connection attempts", failures)).
					WithCode(core.ErrCodeReconnectExhausted).
					WithRaw(err)
				c.mu.Unlock()
				c.logger.Error().Err(err).Int("attempts", failures).Msg("stream reconnect attempts exhausted")
				return
			}
			wait = c.backoff(failures)
			c.logger.Warn().Err(err).
				Int("attempt", failures).
				Dur("wait", wait).
				Msg("stream connect failed")
		}

		if !sleep(stop, wait) {
			return
		}
	}
}

// session dials once and blocks in the read loop until the connection ends.
// opened reports whether the handler accepted the connection.
func (c *Client) session(stop <-chan struct{}) (bool, error) {
	h := &eventHandler{client: c}

	socket, _, err := gws.NewClient(h, &gws.ClientOption{
		Addr:             c.config.URL,
		HandshakeTimeout: c.config.HandshakeTimeout,
		NewDialer: func() (gws.Dialer, error) {
			return &stopDialer{client: c, stop: stop}, nil
		},
	})

	c.mu.Lock()
	c.dialing = nil
	c.mu.Unlock()
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", c.config.URL, err)
	}

	c.mu.Lock()
	if isStopped(stop) {
		c.mu.Unlock()
		_ = socket.NetConn().Close()
		return false, nil
	}
	c.conn = socket
	c.mu.Unlock()

	socket.ReadLoop()

	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()

	return h.opened, h.closeErr
}

// stopDialer connects with a context cancelled by stop and parks the raw
// connection on the client, so Stop can also abort the upgrade handshake.
type stopDialer struct {
	client *Client
	stop   <-chan struct{}
}

func (d *stopDialer) Dial(network, addr string) (net.Conn, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-d.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	dialer := net.Dialer{Timeout: d.client.config.HandshakeTimeout}
	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	c := d.client
	c.mu.Lock()
	defer c.mu.Unlock()
	if isStopped(d.stop) {
		_ = conn.Close()
		return nil, errStopped
	}
	c.dialing = conn
	return conn, nil
}

// backoff returns min(base * 2^(failures-1), max).
func (c *Client) backoff(failures int) time.Duration {
	if failures < 1 {
		return 0
	}
	shift := failures - 1
	if shift > 30 {
		return c.config.ReconnectMaxWait
	}
	return min(c.config.ReconnectBaseWait<<uint(shift), c.config.ReconnectMaxWait)
}

func (c *Client) refreshDeadline(socket *gws.Conn) {
	if c.config.PingInterval > 0 {
		_ = socket.SetDeadline(time.Now().Add(c.config.PingInterval + c.config.PongWait))
	}
}

func isStopped(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

// sleep waits d unless stop closes first; it reports whether to continue.
func sleep(stop <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		return !isStopped(stop)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-stop:
		return false
	case <-timer.C:
		return true
	}
}

type sender struct {
	socket *gws.Conn
}

func (s sender) WriteMessage(data []byte) error {
	return s.socket.WriteMessage(gws.OpcodeText, data)
}

func (s sender) SendJSON(v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	return s.WriteMessage(data)
}

// eventHandler adapts gws callbacks for one connection.
type eventHandler struct {
	client   *Client
	opened   bool
	closeErr error
	pingStop chan struct{}
}

func (h *eventHandler) OnOpen(socket *gws.Conn) {
	c := h.client
	c.refreshDeadline(socket)

	if err := c.handler.OnOpen(sender{socket: socket}); err != nil {
		c.logger.Error().Err(err).Str("url", c.config.URL).Msg("stream open handler failed")
		h.closeErr = err
		_ = socket.NetConn().Close()
		return
	}

	h.opened = true
	c.state.CompareAndSwap(StateConnecting, StateConnected)
	c.logger.Info().Str("url", c.config.URL).Msg("stream connected")

	if c.config.PingInterval > 0 {
		h.pingStop = make(chan struct{})
		go keepalive(socket, c.config.PingInterval, h.pingStop)
	}
}

func keepalive(socket *gws.Conn, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := socket.WritePing(nil); err != nil {
				return
			}
		}
	}
}

func (h *eventHandler) OnClose(socket *gws.Conn, err error) {
	if h.pingStop != nil {
		close(h.pingStop)
		h.pingStop = nil
	}
	if h.closeErr == nil {
		h.closeErr = err
	}
	h.client.state.CompareAndSwap(StateConnected, StateConnecting)
}

func (h *eventHandler) OnPing(socket *gws.Conn, payload []byte) {
	h.client.refreshDeadline(socket)
	_ = socket.WritePong(payload)
}

func (h *eventHandler) OnPong(socket *gws.Conn, payload []byte) {
	h.client.refreshDeadline(socket)
}

func (h *eventHandler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()

	c := h.client
	c.refreshDeadline(socket)

	// gws recycles the buffer after Close.
	data := bytes.Clone(message.Bytes())
	if len(data) == 0 {
		return
	}

	if err := c.handler.OnMessage(data); err != nil {
		if errors.Is(err, ErrReconnect) {
			c.logger.Info().Str("url", c.config.URL).Msg("server requested reconnect")
			h.closeErr = ErrReconnect
			_ = socket.NetConn().Close()
			return
		}
		c.logger.Debug().Err(err).Msg("stream handler error")
	}
}
