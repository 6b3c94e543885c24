package core

// Operation identifies a REST call supported by the Bitstamp protocol table.
type Operation int

const (
	// OpGetTradingPairs lists markets (public).
	OpGetTradingPairs Operation = iota
	// OpGetTicker retrieves the 24h ticker for a pair (public).
	OpGetTicker
	// OpGetOrderBook retrieves a full order book snapshot (public).
	OpGetOrderBook
	// OpGetOHLC retrieves candles (public).
	OpGetOHLC
	// OpGetBalance retrieves all account balances (private).
	OpGetBalance
	// OpGetOpenOrders retrieves all open orders (private).
	OpGetOpenOrders
	// OpCancelOrder cancels one order (private).
	OpCancelOrder
	// OpCancelAllOrders cancels every open order (private).
	OpCancelAllOrders
	// OpPlaceOrder submits a limit, market or instant order (private).
	OpPlaceOrder
	// OpGetUserTransactions retrieves the account transaction history (private).
	OpGetUserTransactions
)

var operationNames = [...]string{
	"GET_TRADING_PAIRS",
	"GET_TICKER",
	"GET_ORDER_BOOK",
	"GET_OHLC",
	"GET_BALANCE",
	"GET_OPEN_ORDERS",
	"CANCEL_ORDER",
	"CANCEL_ALL_ORDERS",
	"PLACE_ORDER",
	"GET_USER_TRANSACTIONS",
}

// String returns the string representation of the operation.
func (o Operation) String() string {
	if o < 0 || int(o) >= len(operationNames) {
		return "UNKNOWN"
	}
	return operationNames[o]
}

// IsPrivate reports whether the operation must be signed.
func (o Operation) IsPrivate() bool {
	return o >= OpGetBalance
}
