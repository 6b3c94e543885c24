package exchange

import (
	"fmt"

	"github.com/cockroachdb/apd/v3"

	"github.com/webclinic017/trading-tools-2/pkg/core"
)

// OrderBuilder provides a fluent interface for constructing order requests.
// The first parse error sticks and is reported by Build.
//
// Example:
//
//	req, err := exchange.NewOrderBuilder("btcusd").
//	    Buy().
//	    Limit().
//	    Price("50000").
//	    Amount("0.001").
//	    Build()
type OrderBuilder struct {
	req *OrderRequest
	err error
}

// NewOrderBuilder starts a GTC limit order for pair.
func NewOrderBuilder(pair string) *OrderBuilder {
	return &OrderBuilder{
		req: &OrderRequest{Pair: pair},
	}
}

func (b *OrderBuilder) Side(side core.OrderSide) *OrderBuilder {
	if b.err != nil {
		return b
	}
	b.req.Side = side
	return b
}

func (b *OrderBuilder) Buy() *OrderBuilder {
	return b.Side(core.SideBuy)
}

func (b *OrderBuilder) Sell() *OrderBuilder {
	return b.Side(core.SideSell)
}

func (b *OrderBuilder) Type(orderType core.OrderType) *OrderBuilder {
	if b.err != nil {
		return b
	}
	b.req.Type = orderType
	return b
}

func (b *OrderBuilder) Limit() *OrderBuilder {
	return b.Type(core.TypeLimit)
}

func (b *OrderBuilder) Market() *OrderBuilder {
	return b.Type(core.TypeMarket)
}

// Instant makes Amount a counter-currency amount to spend or receive.
func (b *OrderBuilder) Instant() *OrderBuilder {
	return b.Type(core.TypeInstant)
}

// Price sets the limit price from its decimal text.
func (b *OrderBuilder) Price(price string) *OrderBuilder {
	if b.err != nil {
		return b
	}
	if _, _, err := b.req.Price.SetString(price); err != nil {
		b.err = fmt.Errorf("parse price: %w", err)
	}
	return b
}

func (b *OrderBuilder) PriceDecimal(price apd.Decimal) *OrderBuilder {
	if b.err != nil {
		return b
	}
	b.req.Price.Set(&price)
	return b
}

// Amount sets the order amount from its decimal text.
func (b *OrderBuilder) Amount(amount string) *OrderBuilder {
	if b.err != nil {
		return b
	}
	if _, _, err := b.req.Amount.SetString(amount); err != nil {
		b.err = fmt.Errorf("parse amount: %w", err)
	}
	return b
}

func (b *OrderBuilder) AmountDecimal(amount apd.Decimal) *OrderBuilder {
	if b.err != nil {
		return b
	}
	b.req.Amount.Set(&amount)
	return b
}

func (b *OrderBuilder) TimeInForce(tif core.TimeInForce) *OrderBuilder {
	if b.err != nil {
		return b
	}
	b.req.TimeInForce = tif
	return b
}

func (b *OrderBuilder) IOC() *OrderBuilder {
	return b.TimeInForce(core.IOC)
}

func (b *OrderBuilder) FOK() *OrderBuilder {
	return b.TimeInForce(core.FOK)
}

func (b *OrderBuilder) ClientOrderID(id string) *OrderBuilder {
	if b.err != nil {
		return b
	}
	b.req.ClientOrderID = id
	return b
}

// Build validates and returns the request.
func (b *OrderBuilder) Build() (*OrderRequest, error) {
	if b.err != nil {
		return nil, b.err
	}
	if err := b.req.Validate(); err != nil {
		return nil, err
	}
	return b.req, nil
}
