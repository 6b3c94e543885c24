// Package exchange defines the REST surface that programs built on the Bitstamp
// client depend on, so they can be tested against a fake.
package exchange

import (
	"context"
	"fmt"

	"github.com/cockroachdb/apd/v3"

	"github.com/webclinic017/trading-tools-2/pkg/core"
)

// Exchange is implemented by bitstamp.Exchange.
type Exchange interface {
	Name() string
	Version() string

	GetTradingPairs(ctx context.Context) ([]core.TradingPair, error)
	GetTicker(ctx context.Context, pair string) (*core.Ticker, error)
	GetOrderBook(ctx context.Context, pair string) (*core.OrderBook, error)
	GetOHLC(ctx context.Context, pair string, opts ...Option) ([]core.Candle, error)

	GetBalance(ctx context.Context) ([]core.Balance, error)
	GetEquity(ctx context.Context, quote string) (apd.Decimal, error)
	GetUserTransactions(ctx context.Context, sinceID int64, opts ...Option) ([]core.Transaction, error)

	PlaceOrder(ctx context.Context, req *OrderRequest) (*core.Order, error)
	CancelOrder(ctx context.Context, id string) (*core.Order, error)
	CancelAllOrders(ctx context.Context, opts ...Option) ([]core.Order, error)
	GetOpenOrders(ctx context.Context, opts ...Option) ([]core.Order, error)
}

// OrderRequest contains the parameters required to place a new order.
type OrderRequest struct {
	// Pair is the URL symbol, e.g. "btcusd".
	Pair string
	Side core.OrderSide
	Type core.OrderType
	// Price is required for limit orders and ignored otherwise.
	Price apd.Decimal
	// Amount is in the base currency, except for instant orders where it is in
	// the counter currency.
	Amount        apd.Decimal
	TimeInForce   core.TimeInForce
	ClientOrderID string
}

// Validate checks the request before it is sent.
func (r *OrderRequest) Validate() error {
	if r.Pair == "" {
		return fmt.Errorf("pair is required")
	}
	if r.Amount.IsZero() || r.Amount.Negative {
		return fmt.Errorf("amount must be positive")
	}
	if r.Type == core.TypeLimit && (r.Price.IsZero() || r.Price.Negative) {
		return fmt.Errorf("price must be positive for limit orders")
	}
	if r.Side != core.SideBuy && r.Side != core.SideSell {
		return fmt.Errorf("invalid order side")
	}
	if r.Type < core.TypeLimit || r.Type > core.TypeInstant {
		return fmt.Errorf("invalid order type")
	}
	if r.TimeInForce != core.GTC && r.Type != core.TypeLimit {
		return fmt.Errorf("time in force %s applies to limit orders only", r.TimeInForce)
	}
	return nil
}
