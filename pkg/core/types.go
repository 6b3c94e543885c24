package core

import (
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
)

// OrderSide represents the direction of an order or trade.
type OrderSide int

const (
	// SideBuy is the buy (taker bought) side. Bitstamp encodes it as 0.
	SideBuy OrderSide = iota
	// SideSell is the sell side. Bitstamp encodes it as 1.
	SideSell
	// SideUnknown marks a trade whose frame carried no type.
	SideUnknown OrderSide = -1
)

// String returns "BUY", "SELL" or "UNKNOWN".
func (s OrderSide) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// MarshalJSON implements json.Marshaler for OrderSide.
func (s OrderSide) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON accepts "BUY"/"SELL" in either case as well as Bitstamp's numeric 0/1.
func (s *OrderSide) UnmarshalJSON(data []byte) error {
	switch strings.ToUpper(strings.Trim(string(data), `"`)) {
	case "BUY", "0":
		*s = SideBuy
	case "SELL", "1":
		*s = SideSell
	}
	return nil
}

// OrderType represents how an order is executed.
type OrderType int

const (
	// TypeLimit executes at a specified price or better.
	TypeLimit OrderType = iota
	// TypeMarket executes immediately against the book for a base amount.
	TypeMarket
	// TypeInstant executes immediately for a counter-currency amount.
	TypeInstant
)

// String returns the string representation of the order type.
func (t OrderType) String() string {
	switch t {
	case TypeMarket:
		return "MARKET"
	case TypeInstant:
		return "INSTANT"
	default:
		return "LIMIT"
	}
}

// MarshalJSON implements json.Marshaler for OrderType.
func (t OrderType) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// OrderStatus mirrors Bitstamp's order_status values.
type OrderStatus int

const (
	StatusOpen OrderStatus = iota
	StatusFinished
	StatusCanceled
	StatusExpired
)

// String returns the string representation of the order status.
func (s OrderStatus) String() string {
	return [...]string{"OPEN", "FINISHED", "CANCELED", "EXPIRED"}[s]
}

// IsTerminal returns true if the order can no longer change.
func (s OrderStatus) IsTerminal() bool {
	return s != StatusOpen
}

// ParseOrderStatus maps Bitstamp's "Open", "Finished", "Canceled" and "Expired".
// Unknown values are treated as open.
func ParseOrderStatus(s string) OrderStatus {
	switch strings.ToLower(s) {
	case "finished":
		return StatusFinished
	case "canceled", "cancelled":
		return StatusCanceled
	case "expired":
		return StatusExpired
	default:
		return StatusOpen
	}
}

// TimeInForce defines how long a limit order remains active.
type TimeInForce int

const (
	// GTC (Good Till Canceled) keeps the order active until filled or canceled.
	GTC TimeInForce = iota
	// IOC (Immediate Or Cancel) cancels whatever does not fill immediately.
	IOC
	// FOK (Fill Or Kill) requires complete immediate execution or cancellation.
	FOK
)

// String returns the string representation of time in force.
func (t TimeInForce) String() string {
	return [...]string{"GTC", "IOC", "FOK"}[t]
}

// EventKind tags the market events delivered by the streaming client.
type EventKind int

const (
	EventTrade EventKind = iota + 1
	EventOrderBook
)

func (k EventKind) String() string {
	switch k {
	case EventTrade:
		return "trade"
	case EventOrderBook:
		return "order_book"
	default:
		return "unknown"
	}
}

// Event is a decoded market event. Events are immutable once delivered.
type Event interface {
	EventKind() EventKind
	// InstrumentName returns the lower-case instrument code, e.g. "btcusd".
	InstrumentName() string
}

// Trade is a single public execution from the live_trades channel.
type Trade struct {
	// Instrument is the lower-case instrument code, e.g. "btcusd".
	Instrument string `json:"instrument"`
	// ID is the exchange-assigned trade identifier.
	ID int64 `json:"id"`
	// Price is the execution price in the counter currency.
	Price apd.Decimal `json:"price"`
	// Amount is the executed quantity in the base currency.
	Amount apd.Decimal `json:"amount"`
	// SellOrderID is the resting or aggressing sell order.
	SellOrderID int64 `json:"sell_order_id"`
	// BuyOrderID is the resting or aggressing buy order.
	BuyOrderID int64 `json:"buy_order_id"`
	// Side is the taker side.
	Side OrderSide `json:"side"`
	// Timestamp is zero when the frame carried no time.
	Timestamp time.Time `json:"timestamp"`
}

func (t *Trade) EventKind() EventKind   { return EventTrade }
func (t *Trade) InstrumentName() string { return t.Instrument }

// OrderBookLevel represents a single price level in the order book.
type OrderBookLevel struct {
	Price  apd.Decimal `json:"price"`
	Amount apd.Decimal `json:"amount"`
}

// OrderBook is a full top-of-book snapshot from the order_book channel.
// It replaces, and never merges with, any earlier snapshot.
type OrderBook struct {
	Instrument string `json:"instrument"`
	// Bids are sorted by price descending.
	Bids []OrderBookLevel `json:"bids"`
	// Asks are sorted by price ascending.
	Asks []OrderBookLevel `json:"asks"`
	// Timestamp is zero when the frame carried no time.
	Timestamp time.Time `json:"timestamp"`
}

func (b *OrderBook) EventKind() EventKind   { return EventOrderBook }
func (b *OrderBook) InstrumentName() string { return b.Instrument }

// BestBid returns the highest bid, if any.
func (b *OrderBook) BestBid() (OrderBookLevel, bool) {
	if len(b.Bids) == 0 {
		return OrderBookLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the lowest ask, if any.
func (b *OrderBook) BestAsk() (OrderBookLevel, bool) {
	if len(b.Asks) == 0 {
		return OrderBookLevel{}, false
	}
	return b.Asks[0], true
}

// Ticker represents the last-24h market summary for a trading pair.
type Ticker struct {
	// Pair is the URL symbol of the market (e.g. "btcusd").
	Pair string `json:"pair"`
	// Bid is the highest price a buyer is willing to pay.
	Bid apd.Decimal `json:"bid"`
	// Ask is the lowest price a seller is willing to accept.
	Ask apd.Decimal `json:"ask"`
	// Last is the price of the most recent trade.
	Last apd.Decimal `json:"last"`
	High apd.Decimal `json:"high"`
	Low  apd.Decimal `json:"low"`
	// Open is the first price of the day.
	Open apd.Decimal `json:"open"`
	// VWAP is the last-24h volume weighted average price.
	VWAP   apd.Decimal `json:"vwap"`
	Volume apd.Decimal `json:"volume"`
	// Timestamp is when this ticker data was generated.
	Timestamp time.Time `json:"timestamp"`
}

// Order is an open or recently placed order.
type Order struct {
	// ID is the exchange-assigned order identifier.
	ID string `json:"id"`
	// ClientOrderID is the client-assigned order identifier.
	ClientOrderID string `json:"client_order_id,omitempty"`
	// Pair is the URL symbol of the market.
	Pair   string      `json:"pair"`
	Side   OrderSide   `json:"side"`
	Type   OrderType   `json:"type"`
	Price  apd.Decimal `json:"price"`
	Amount apd.Decimal `json:"amount"`
	Status OrderStatus `json:"status"`
	// CreatedAt is when the order was submitted.
	CreatedAt time.Time `json:"created_at"`
}

// Balance represents the account balance for a single currency.
type Balance struct {
	// Asset is the lower-case currency code (e.g. "btc", "usd").
	Asset string `json:"asset"`
	// Available is the balance free for trading or withdrawal.
	Available apd.Decimal `json:"available"`
	// Reserved is the balance locked in open orders.
	Reserved apd.Decimal `json:"reserved"`
	// Total is Available plus Reserved as reported by the exchange.
	Total apd.Decimal `json:"total"`
}

// Candle is one OHLC bar.
type Candle struct {
	Pair     string      `json:"pair"`
	OpenTime time.Time   `json:"open_time"`
	Open     apd.Decimal `json:"open"`
	High     apd.Decimal `json:"high"`
	Low      apd.Decimal `json:"low"`
	Close    apd.Decimal `json:"close"`
	Volume   apd.Decimal `json:"volume"`
}

// TransactionType mirrors Bitstamp's user transaction type codes.
type TransactionType int

const (
	TxDeposit        TransactionType = 0
	TxWithdrawal     TransactionType = 1
	TxMarketTrade    TransactionType = 2
	TxSubAccountMove TransactionType = 14
)

// Transaction is one entry of the account's transaction history.
type Transaction struct {
	ID      int64           `json:"id"`
	OrderID int64           `json:"order_id,omitempty"`
	Type    TransactionType `json:"type"`
	Fee     apd.Decimal     `json:"fee"`
	// Amounts holds signed per-currency deltas keyed by lower-case currency code.
	Amounts map[string]apd.Decimal `json:"amounts"`
	// Pair and Rate are set for trades, e.g. "btc_usd" and the execution price.
	Pair      string      `json:"pair,omitempty"`
	Rate      apd.Decimal `json:"rate"`
	Timestamp time.Time   `json:"timestamp"`
}

// TradingPair describes a market as listed by trading-pairs-info.
type TradingPair struct {
	// Name is the display name, e.g. "BTC/USD".
	Name string `json:"name"`
	// URLSymbol is the path and channel suffix, e.g. "btcusd".
	URLSymbol       string `json:"url_symbol"`
	BaseDecimals    int    `json:"base_decimals"`
	CounterDecimals int    `json:"counter_decimals"`
	MinimumOrder    string `json:"minimum_order"`
	Enabled         bool   `json:"enabled"`
	Description     string `json:"description"`
}

// Base returns the lower-case base currency of the pair.
func (p TradingPair) Base() string {
	base, _, _ := strings.Cut(p.Name, "/")
	return strings.ToLower(base)
}

// Quote returns the lower-case counter currency of the pair.
func (p TradingPair) Quote() string {
	_, quote, _ := strings.Cut(p.Name, "/")
	return strings.ToLower(quote)
}
