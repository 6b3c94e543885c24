package bitstamp

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/lxzan/gws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webclinic017/trading-tools-2/internal/ws"
	"github.com/webclinic017/trading-tools-2/pkg/core"
	"github.com/webclinic017/trading-tools-2/pkg/stream"
)

const tradeData = `{"id":%d,"amount_str":"0.07000000","price_str":"7749.68","type":0,` +
	`"microtimestamp":"1585578923446052","buy_order_id":1225817115553792,"sell_order_id":1225817114599424}`

const bookData = `{"microtimestamp":"1585578923446052","bids":[["7749.00","1.5"],["7750.00","0.1"]],"asks":[["7751.00","2"]]}`

func frame(event, channel, data string) string {
	return fmt.Sprintf(`{"event":%q,"channel":%q,"data":%s}`, event, channel, data)
}

// fakeStream answers every subscription with an acknowledgment and then calls
// onSubscribe, which may push frames on the channel.
type fakeStream struct {
	gws.BuiltinEventHandler

	mu          sync.Mutex
	opens       int
	subscribed  []string
	onSubscribe func(socket *gws.Conn, conn int, channel string)
}

func (s *fakeStream) OnOpen(socket *gws.Conn) {
	s.mu.Lock()
	s.opens++
	socket.Session().Store("conn", s.opens)
	s.mu.Unlock()
}

func (s *fakeStream) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()

	var req subscribeFrame
	if err := sonic.Unmarshal(message.Bytes(), &req); err != nil || req.Event != eventSubscribe {
		return
	}
	channel := req.Data.Channel

	s.mu.Lock()
	s.subscribed = append(s.subscribed, channel)
	onSubscribe := s.onSubscribe
	s.mu.Unlock()

	_ = socket.WriteMessage(gws.OpcodeText, []byte(frame(eventSubscribed, channel, `{}`)))
	if onSubscribe != nil {
		n, _ := socket.Session().Load("conn")
		onSubscribe(socket, n.(int), channel)
	}
}

func (s *fakeStream) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

func (s *fakeStream) Subscribed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.subscribed...)
}

func newFakeStream(t *testing.T, s *fakeStream) string {
	t.Helper()
	upgrader := gws.NewUpgrader(s, &gws.ServerOption{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		socket, err := upgrader.Upgrade(w, r)
		if err != nil {
			return
		}
		go socket.ReadLoop()
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testStreamConfig(url string) core.StreamConfig {
	return core.StreamConfig{
		URL:               url,
		HandshakeTimeout:  2 * time.Second,
		PingInterval:      time.Second,
		PongWait:          2 * time.Second,
		ReconnectBaseWait: 10 * time.Millisecond,
		ReconnectMaxWait:  50 * time.Millisecond,
	}
}

func newTestWSClient(t *testing.T, url string, instruments ...string) *WSClient {
	t.Helper()
	c, err := NewWSClient(instruments, WithStreamConfig(testStreamConfig(url)))
	require.NoError(t, err)
	t.Cleanup(c.Stop)
	return c
}

func TestNewWSClient(t *testing.T) {
	_, err := NewWSClient(nil)
	assert.ErrorIs(t, err, core.ErrNoInstruments)

	_, err = NewWSClient([]string{" ", ""})
	assert.ErrorIs(t, err, core.ErrNoInstruments)

	c, err := NewWSClient([]string{"BTCUSD", "btcusd", " ethusd "})
	require.NoError(t, err)
	assert.Equal(t, []string{"btcusd", "ethusd"}, c.Instruments())
	assert.Equal(t, ws.StateStopped, c.State())
	assert.NoError(t, c.Err())

	_, err = NewWSClient([]string{"btcusd"}, WithWSURL("not a url"))
	assert.Error(t, err)
}

func TestWithStreamConfig_KeepsURL(t *testing.T) {
	o := &wsOptions{}
	WithWSURL("ws://localhost:1")(o)
	WithStreamConfig(core.StreamConfig{ReconnectBaseWait: time.Second})(o)
	assert.Equal(t, "ws://localhost:1", o.config.URL)
	assert.Equal(t, time.Second, o.config.ReconnectBaseWait)
}

func TestWSClient_OnOpenSubscribesEveryFeed(t *testing.T) {
	c, err := NewWSClient([]string{"btcusd", "ethusd"})
	require.NoError(t, err)

	s := &captureSender{}
	require.NoError(t, c.OnOpen(s))

	assert.Equal(t, []string{
		`{"event":"bts:subscribe","data":{"channel":"live_trades_btcusd"}}`,
		`{"event":"bts:subscribe","data":{"channel":"order_book_btcusd"}}`,
		`{"event":"bts:subscribe","data":{"channel":"live_trades_ethusd"}}`,
		`{"event":"bts:subscribe","data":{"channel":"order_book_ethusd"}}`,
	}, s.frames)

	s.err = fmt.Errorf("broken pipe")
	assert.ErrorContains(t, c.OnOpen(s), "subscribe live_trades_btcusd")
}

type captureSender struct {
	frames []string
	err    error
}

func (s *captureSender) WriteMessage(data []byte) error {
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, string(data))
	return nil
}

func (s *captureSender) SendJSON(v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	return s.WriteMessage(data)
}

func TestWSClient_OnMessageDispatch(t *testing.T) {
	c, err := NewWSClient([]string{"btcusd"})
	require.NoError(t, err)

	var got []core.Event
	c.Register(stream.SinkFunc(func(ev core.Event) { got = append(got, ev) }))
	c.Register(nil)

	tests := []struct {
		name    string
		frame   string
		wantErr error
		events  int
	}{
		{"trade", frame(eventTrade, "live_trades_btcusd", fmt.Sprintf(tradeData, 1)), nil, 1},
		{"order book", frame(eventData, "order_book_btcusd", bookData), nil, 1},
		{"subscription ack", frame(eventSubscribed, "live_trades_btcusd", `{}`), nil, 0},
		{"stream error", frame(eventError, "", `{"code":null,"message":"Bad subscription"}`), nil, 0},
		{"unhandled", frame("bts:heartbeat", "", `{"status":"success"}`), nil, 0},
		{"not json", `{{{`, nil, 0},
		{"bad trade", frame(eventTrade, "live_trades_btcusd", `{"id":1}`), nil, 0},
		{"bad book", frame(eventData, "order_book_btcusd", `{"bids":[]}`), nil, 0},
		{"request reconnect", frame(eventRequestReconnect, "", `""`), ws.ErrReconnect, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got = nil
			err := c.OnMessage([]byte(tt.frame))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Len(t, got, tt.events)
		})
	}
}

func TestWSClient_TradeDecodedWithChannelInstrument(t *testing.T) {
	c, err := NewWSClient([]string{"btcusd"})
	require.NoError(t, err)
	q := stream.NewQueue()
	c.Register(q)

	require.NoError(t, c.OnMessage([]byte(frame(eventTrade, "live_trades_btcusd", fmt.Sprintf(tradeData, 111557722)))))
	require.NoError(t, c.OnMessage([]byte(frame(eventData, "order_book_btcusd", bookData))))

	ev, ok := q.TryPop()
	require.True(t, ok)
	trade := ev.(*core.Trade)
	assert.Equal(t, "btcusd", trade.Instrument)
	assert.Equal(t, int64(111557722), trade.ID)
	assert.Equal(t, "7749.68", trade.Price.String())
	assert.Equal(t, "0.07000000", trade.Amount.String())

	ev, ok = q.TryPop()
	require.True(t, ok)
	book := ev.(*core.OrderBook)
	assert.Equal(t, "btcusd", book.Instrument)
	assert.Equal(t, "7750.00", book.Bids[0].Price.String())
}

func TestWSClient_FanOut(t *testing.T) {
	srv := &fakeStream{onSubscribe: func(socket *gws.Conn, _ int, channel string) {
		switch {
		case strings.HasPrefix(channel, channelTrades):
			_ = socket.WriteMessage(gws.OpcodeText, []byte(frame(eventTrade, channel, fmt.Sprintf(tradeData, 7))))
		case strings.HasPrefix(channel, channelOrderBook):
			_ = socket.WriteMessage(gws.OpcodeText, []byte(frame(eventData, channel, bookData)))
		}
	}}
	c := newTestWSClient(t, newFakeStream(t, srv), "btcusd", "ethusd")

	q1, q2 := stream.NewQueue(), stream.NewQueue()
	c.Register(q1)
	c.Register(q2)
	require.NoError(t, c.Start())

	require.Eventually(t, func() bool { return q1.Len() == 4 && q2.Len() == 4 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, ws.StateConnected, c.State())

	kinds := map[string]int{}
	for _i := 0; _i < 4; _i++ {
		ev, err := q1.Pop(context.Background())
		require.NoError(t, err)
		kinds[ev.InstrumentName()+"/"+ev.EventKind().String()]++
	}
	assert.Equal(t, map[string]int{
		"btcusd/trade": 1, "btcusd/order_book": 1,
		"ethusd/trade": 1, "ethusd/order_book": 1,
	}, kinds)

	c.Stop()
	assert.Equal(t, ws.StateStopped, c.State())
}

func TestWSClient_MalformedFrameSkipped(t *testing.T) {
	srv := &fakeStream{onSubscribe: func(socket *gws.Conn, _ int, channel string) {
		if !strings.HasPrefix(channel, channelTrades) {
			return
		}
		_ = socket.WriteMessage(gws.OpcodeText, []byte(frame(eventTrade, channel, `{"id":41}`)))
		_ = socket.WriteMessage(gws.OpcodeText, []byte("not json"))
		_ = socket.WriteMessage(gws.OpcodeText, []byte(frame(eventTrade, channel, fmt.Sprintf(tradeData, 42))))
	}}
	c := newTestWSClient(t, newFakeStream(t, srv), "btcusd")

	q := stream.NewQueue()
	c.Register(q)
	require.NoError(t, c.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ev, err := q.Pop(ctx)
	require.NoError(t, err)

	trade, ok := ev.(*core.Trade)
	require.True(t, ok)
	assert.Equal(t, int64(42), trade.ID)
	assert.Equal(t, "btcusd", trade.Instrument)
	assert.Equal(t, ws.StateConnected, c.State())
	assert.Equal(t, 1, srv.Opens(), "bad frames do not drop the connection")
	assert.Equal(t, 0, q.Len())
}

func TestWSClient_RequestReconnectResubscribes(t *testing.T) {
	srv := &fakeStream{onSubscribe: func(socket *gws.Conn, conn int, channel string) {
		if conn == 1 && strings.HasPrefix(channel, channelOrderBook) {
			_ = socket.WriteMessage(gws.OpcodeText, []byte(frame(eventRequestReconnect, "", `""`)))
		}
	}}
	c := newTestWSClient(t, newFakeStream(t, srv), "btcusd")
	require.NoError(t, c.Start())

	require.Eventually(t, func() bool { return srv.Opens() >= 2 && len(srv.Subscribed()) >= 4 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{
		"live_trades_btcusd", "order_book_btcusd",
		"live_trades_btcusd", "order_book_btcusd",
	}, srv.Subscribed()[:4])
}

func TestWSClient_NoDeliveryAfterStop(t *testing.T) {
	srv := &fakeStream{onSubscribe: func(socket *gws.Conn, _ int, channel string) {
		if !strings.HasPrefix(channel, channelTrades) {
			return
		}
		go func() {
			for i := 0; ; i++ {
				if err := socket.WriteMessage(gws.OpcodeText, []byte(frame(eventTrade, channel, fmt.Sprintf(tradeData, i)))); err != nil {
					return
				}
				time.Sleep(time.Millisecond)
			}
		}()
	}}
	c := newTestWSClient(t, newFakeStream(t, srv), "btcusd")

	q := stream.NewQueue()
	c.Register(q)
	require.NoError(t, c.Start())
	require.Eventually(t, func() bool { return q.Len() > 10 }, 5*time.Second, 10*time.Millisecond)

	c.Stop()
	n := q.Len()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, n, q.Len())
	assert.True(t, c.Join(time.Second))
}

func TestWSClient_StopWithoutStart(t *testing.T) {
	c, err := NewWSClient([]string{"btcusd"})
	require.NoError(t, err)
	c.Stop()
	c.Stop()
	assert.True(t, c.Join(10*time.Millisecond))
	assert.Equal(t, ws.StateStopped, c.State())
}

func TestInstrumentOf(t *testing.T) {
	assert.Equal(t, "btcusd", instrumentOf("live_trades_btcusd"))
	assert.Equal(t, "ethusd", instrumentOf("order_book_ethusd"))
	assert.Equal(t, "plain", instrumentOf("plain"))
	assert.Equal(t, "", instrumentOf(""))
}
