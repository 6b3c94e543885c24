package core

import (
	"encoding/json"
	"testing"

	"github.com/cockroachdb/apd/v3"
	"github.com/stretchr/testify/assert"
)

func TestOrderSide_String(t *testing.T) {
	tests := []struct {
		name string
		side OrderSide
		want string
	}{
		{"buy", SideBuy, "BUY"},
		{"sell", SideSell, "SELL"},
		{"unknown", SideUnknown, "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.side.String())
		})
	}
}

func TestOrderSide_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  OrderSide
	}{
		{"upper_buy", `"BUY"`, SideBuy},
		{"lower_sell", `"sell"`, SideSell},
		{"numeric_buy", `0`, SideBuy},
		{"numeric_sell", `1`, SideSell},
		{"quoted_numeric_sell", `"1"`, SideSell},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var side OrderSide
			assert.NoError(t, json.Unmarshal([]byte(tt.input), &side))
			assert.Equal(t, tt.want, side)
		})
	}
}

func TestOrderType_String(t *testing.T) {
	tests := []struct {
		name      string
		orderType OrderType
		want      string
	}{
		{"limit", TypeLimit, "LIMIT"},
		{"market", TypeMarket, "MARKET"},
		{"instant", TypeInstant, "INSTANT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.orderType.String())
		})
	}
}

func TestParseOrderStatus(t *testing.T) {
	tests := []struct {
		input    string
		want     OrderStatus
		terminal bool
	}{
		{"Open", StatusOpen, false},
		{"Finished", StatusFinished, true},
		{"Canceled", StatusCanceled, true},
		{"cancelled", StatusCanceled, true},
		{"Expired", StatusExpired, true},
		{"", StatusOpen, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			status := ParseOrderStatus(tt.input)
			assert.Equal(t, tt.want, status)
			assert.Equal(t, tt.terminal, status.IsTerminal())
		})
	}
}

func TestTimeInForce_String(t *testing.T) {
	tests := []struct {
		name string
		tif  TimeInForce
		want string
	}{
		{"gtc", GTC, "GTC"},
		{"ioc", IOC, "IOC"},
		{"fok", FOK, "FOK"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.tif.String())
		})
	}
}

func TestEvents(t *testing.T) {
	var events []Event = []Event{
		&Trade{Instrument: "btcusd"},
		&OrderBook{Instrument: "ethusd"},
	}

	assert.Equal(t, EventTrade, events[0].EventKind())
	assert.Equal(t, "btcusd", events[0].InstrumentName())
	assert.Equal(t, EventOrderBook, events[1].EventKind())
	assert.Equal(t, "ethusd", events[1].InstrumentName())
	assert.Equal(t, "trade", EventTrade.String())
	assert.Equal(t, "order_book", EventOrderBook.String())
}

func TestOrderBook_Best(t *testing.T) {
	var price1, qty1, price2, qty2 apd.Decimal
	price1.SetString("50000.00")
	qty1.SetString("1.0")
	price2.SetString("50001.00")
	qty2.SetString("2.0")

	ob := &OrderBook{
		Instrument: "btcusd",
		Bids:       []OrderBookLevel{{Price: price1, Amount: qty1}},
		Asks:       []OrderBookLevel{{Price: price2, Amount: qty2}},
	}

	bid, ok := ob.BestBid()
	assert.True(t, ok)
	assert.Equal(t, "50000.00", bid.Price.String())

	ask, ok := ob.BestAsk()
	assert.True(t, ok)
	assert.Equal(t, "50001.00", ask.Price.String())

	empty := &OrderBook{Instrument: "btcusd"}
	_, ok = empty.BestBid()
	assert.False(t, ok)
	_, ok = empty.BestAsk()
	assert.False(t, ok)
}

func TestTradingPair_Currencies(t *testing.T) {
	pair := TradingPair{Name: "BTC/USD", URLSymbol: "btcusd"}

	assert.Equal(t, "btc", pair.Base())
	assert.Equal(t, "usd", pair.Quote())
}
