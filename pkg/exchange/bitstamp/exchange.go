package bitstamp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cockroachdb/apd/v3"
	"github.com/rs/zerolog"

	"github.com/webclinic017/trading-tools-2/internal/auth"
	"github.com/webclinic017/trading-tools-2/internal/keyring"
	"github.com/webclinic017/trading-tools-2/pkg/core"
	"github.com/webclinic017/trading-tools-2/pkg/exchange"
	"github.com/webclinic017/trading-tools-2/pkg/session"
)

var _ exchange.Exchange = (*Exchange)(nil)

// equityContext sums balances valued in the quote currency.
var equityContext = apd.BaseContext.WithPrecision(34)

// Exchange is the typed REST client. It is safe for concurrent use.
type Exchange struct {
	session  *session.Session
	protocol *Protocol
	logger   zerolog.Logger
}

// Option is a functional option for configuring the Exchange.
type Option func(*Options)

// Options holds configuration options for the Exchange.
type Options struct {
	Logger  zerolog.Logger
	KeyRing *keyring.KeyRing
	Signer  *auth.Signer
}

// WithLogger returns an option that sets the logger for the exchange.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithKeyRing returns an option that rotates private calls across several keys.
func WithKeyRing(kr *keyring.KeyRing) Option {
	return func(o *Options) {
		o.KeyRing = kr
	}
}

// WithSigner signs private calls with s, typically one built with a fixed clock.
func WithSigner(s *auth.Signer) Option {
	return func(o *Options) {
		o.Signer = s
	}
}

// New creates an Exchange with the given configuration and options.
func New(config *core.Config, opts ...Option) (*Exchange, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	options := &Options{Logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(options)
	}

	sessionOpts := []session.Option{session.WithLogger(options.Logger)}
	if options.Signer != nil {
		sessionOpts = append(sessionOpts, session.WithSigner(options.Signer))
	}
	if options.KeyRing != nil {
		sessionOpts = append(sessionOpts, session.WithKeyRing(options.KeyRing))
	}

	s, err := session.New(config, sessionOpts...)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	protocol := NewProtocol()
	if err := s.SetProtocol(protocol); err != nil {
		_ = s.Close()
		return nil, err
	}

	return &Exchange{
		session:  s,
		protocol: protocol,
		logger:   options.Logger,
	}, nil
}

// Name returns the exchange identifier "bitstamp".
func (e *Exchange) Name() string {
	return e.protocol.Name()
}

// Version returns the REST API version.
func (e *Exchange) Version() string {
	return e.protocol.Version()
}

// HasCredentials reports whether private calls can be signed.
func (e *Exchange) HasCredentials() bool {
	return e.session.HasCredentials()
}

// Close releases the underlying session.
func (e *Exchange) Close() error {
	return e.session.Close()
}

// call runs op and asserts the parsed result to T.
func call[T any](ctx context.Context, e *Exchange, op core.Operation, params core.Params) (T, error) {
	var zero T
	result, err := e.session.Do(ctx, op, params)
	if err != nil {
		return zero, err
	}
	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected response type for %s: %T", op, result)
	}
	return typed, nil
}

// GetTradingPairs lists every market.
func (e *Exchange) GetTradingPairs(ctx context.Context) ([]core.TradingPair, error) {
	return call[[]core.TradingPair](ctx, e, core.OpGetTradingPairs, nil)
}

// GetTicker retrieves the ticker for pair. The result may be shared with other
// callers through the cache and must not be modified.
func (e *Exchange) GetTicker(ctx context.Context, pair string) (*core.Ticker, error) {
	ticker, err := call[*core.Ticker](ctx, e, core.OpGetTicker, core.Params{"pair": pair})
	if err != nil {
		return nil, err
	}
	if ticker.Pair == "" {
		out := *ticker
		out.Pair = formatPair(pair)
		return &out, nil
	}
	return ticker, nil
}

// GetOrderBook retrieves a full snapshot of the book for pair.
func (e *Exchange) GetOrderBook(ctx context.Context, pair string) (*core.OrderBook, error) {
	book, err := call[*core.OrderBook](ctx, e, core.OpGetOrderBook, core.Params{"pair": pair})
	if err != nil {
		return nil, err
	}
	if book.Instrument == "" {
		out := *book
		out.Instrument = formatPair(pair)
		return &out, nil
	}
	return book, nil
}

// GetOHLC retrieves candles for pair. WithStep sets the width (one minute by
// default), WithLimit the count and WithTimeRange the window.
func (e *Exchange) GetOHLC(ctx context.Context, pair string, opts ...exchange.Option) ([]core.Candle, error) {
	options := exchange.ApplyOptions(opts...)

	params := core.Params{"pair": pair}
	if options.Step > 0 {
		params["step"] = options.Step
	}
	if options.Limit > 0 {
		params["limit"] = options.Limit
	}
	if !options.StartTime.IsZero() {
		params["start"] = options.StartTime
	}
	if !options.EndTime.IsZero() {
		params["end"] = options.EndTime
	}

	candles, err := call[[]core.Candle](ctx, e, core.OpGetOHLC, params)
	if err != nil {
		return nil, err
	}
	symbol := formatPair(pair)
	for i := range candles {
		if candles[i].Pair == "" {
			candles[i].Pair = symbol
		}
	}
	return candles, nil
}

// GetBalance retrieves every currency balance on the account.
func (e *Exchange) GetBalance(ctx context.Context) ([]core.Balance, error) {
	return call[[]core.Balance](ctx, e, core.OpGetBalance, nil)
}

// GetEquity values the whole account in quote. Assets without a direct
// <asset><quote> market are skipped.
func (e *Exchange) GetEquity(ctx context.Context, quote string) (apd.Decimal, error) {
	quote = strings.ToLower(quote)
	if quote == "" {
		return apd.Decimal{}, fmt.Errorf("quote currency is required")
	}

	balances, err := e.GetBalance(ctx)
	if err != nil {
		return apd.Decimal{}, err
	}

	var total apd.Decimal
	for _, b := range balances {
		if b.Total.IsZero() {
			continue
		}
		if b.Asset == quote {
			if _, err := equityContext.Add(&total, &total, &b.Total); err != nil {
				return apd.Decimal{}, fmt.Errorf("add %s balance: %w", b.Asset, err)
			}
			continue
		}

		ticker, err := e.GetTicker(ctx, b.Asset+quote)
		if err != nil {
			if isNotFound(err) {
				e.logger.Warn().Str("asset", b.Asset).Str("quote", quote).Msg("no market to value asset, skipping")
				continue
			}
			return apd.Decimal{}, fmt.Errorf("price %s in %s: %w", b.Asset, quote, err)
		}

		var value apd.Decimal
		if _, err := equityContext.Mul(&value, &b.Total, &ticker.Last); err != nil {
			return apd.Decimal{}, fmt.Errorf("value %s: %w", b.Asset, err)
		}
		if _, err := equityContext.Add(&total, &total, &value); err != nil {
			return apd.Decimal{}, fmt.Errorf("add %s value: %w", b.Asset, err)
		}
	}
	return total, nil
}

// GetUserTransactions lists account transactions with id greater than sinceID,
// oldest first. WithPair narrows to one market; WithLimit and WithOffset page.
func (e *Exchange) GetUserTransactions(ctx context.Context, sinceID int64, opts ...exchange.Option) ([]core.Transaction, error) {
	options := exchange.ApplyOptions(opts...)

	params := core.Params{"since_id": sinceID}
	if options.Pair != "" {
		params["pair"] = options.Pair
	}
	if options.Limit > 0 {
		params["limit"] = options.Limit
	}
	if options.Offset > 0 {
		params["offset"] = options.Offset
	}
	return call[[]core.Transaction](ctx, e, core.OpGetUserTransactions, params)
}

// PlaceOrder validates and submits req.
func (e *Exchange) PlaceOrder(ctx context.Context, req *exchange.OrderRequest) (*core.Order, error) {
	if req == nil {
		return nil, fmt.Errorf("order request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid order request: %w", err)
	}

	params := core.Params{
		"pair":          req.Pair,
		"side":          req.Side,
		"type":          req.Type,
		"amount":        req.Amount,
		"time_in_force": req.TimeInForce,
	}
	if req.Type == core.TypeLimit {
		params["price"] = req.Price
	}
	if req.ClientOrderID != "" {
		params["client_order_id"] = req.ClientOrderID
	}

	order, err := call[*core.Order](ctx, e, core.OpPlaceOrder, params)
	if err != nil {
		return nil, err
	}
	order.Pair = formatPair(req.Pair)
	order.Side = req.Side
	order.Type = req.Type
	if order.ClientOrderID == "" {
		order.ClientOrderID = req.ClientOrderID
	}
	e.logger.Info().
		Str("id", order.ID).
		Str("pair", order.Pair).
		Stringer("side", order.Side).
		Stringer("type", order.Type).
		Str("amount", order.Amount.Text('f')).
		Msg("order placed")
	return order, nil
}

// BuyLimit places a good-till-canceled limit buy.
func (e *Exchange) BuyLimit(ctx context.Context, pair, amount, price string) (*core.Order, error) {
	return e.placeBuilt(ctx, exchange.NewOrderBuilder(pair).Buy().Limit().Amount(amount).Price(price))
}

// SellLimit places a good-till-canceled limit sell.
func (e *Exchange) SellLimit(ctx context.Context, pair, amount, price string) (*core.Order, error) {
	return e.placeBuilt(ctx, exchange.NewOrderBuilder(pair).Sell().Limit().Amount(amount).Price(price))
}

// BuyMarket buys amount of the base currency at market.
func (e *Exchange) BuyMarket(ctx context.Context, pair, amount string) (*core.Order, error) {
	return e.placeBuilt(ctx, exchange.NewOrderBuilder(pair).Buy().Market().Amount(amount))
}

// SellMarket sells amount of the base currency at market.
func (e *Exchange) SellMarket(ctx context.Context, pair, amount string) (*core.Order, error) {
	return e.placeBuilt(ctx, exchange.NewOrderBuilder(pair).Sell().Market().Amount(amount))
}

// GetOpenOrders lists open orders, across all markets unless WithPair is given.
func (e *Exchange) GetOpenOrders(ctx context.Context, opts ...exchange.Option) ([]core.Order, error) {
	options := exchange.ApplyOptions(opts...)

	params := core.Params{}
	if options.Pair != "" {
		params["pair"] = options.Pair
	}
	return call[[]core.Order](ctx, e, core.OpGetOpenOrders, params)
}

// CancelOrder cancels one order by id.
func (e *Exchange) CancelOrder(ctx context.Context, id string) (*core.Order, error) {
	return call[*core.Order](ctx, e, core.OpCancelOrder, core.Params{"id": id})
}

// CancelAllOrders cancels every open order, or only those in WithPair.
func (e *Exchange) CancelAllOrders(ctx context.Context, opts ...exchange.Option) ([]core.Order, error) {
	options := exchange.ApplyOptions(opts...)

	params := core.Params{}
	if options.Pair != "" {
		params["pair"] = options.Pair
	}
	return call[[]core.Order](ctx, e, core.OpCancelAllOrders, params)
}

func (e *Exchange) placeBuilt(ctx context.Context, b *exchange.OrderBuilder) (*core.Order, error) {
	req, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("invalid order request: %w", err)
	}
	return e.PlaceOrder(ctx, req)
}

func isNotFound(err error) bool {
	var exErr *core.ExchangeError
	return errors.As(err, &exErr) && exErr.Type == core.ErrorTypeNotFound
}
