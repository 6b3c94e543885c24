package bitstamp

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/apd/v3"

	"github.com/webclinic017/trading-tools-2/pkg/core"
)

const (
	ProductionURL = core.DefaultBaseURL
	StreamURL     = core.DefaultWSURL
)

// ohlcSteps are the candle widths, in seconds, the ohlc endpoint accepts.
var ohlcSteps = []int64{60, 180, 300, 900, 1800, 3600, 7200, 14400, 21600, 43200, 86400, 259200}

// Protocol implements core.Protocol for the Bitstamp v2 REST API. It does no I/O.
type Protocol struct {
	normalizer *Normalizer
}

func NewProtocol() *Protocol {
	return &Protocol{normalizer: NewNormalizer()}
}

func (p *Protocol) Name() string {
	return core.ExchangeName
}

func (p *Protocol) Version() string {
	return "v2"
}

func (p *Protocol) SupportedOperations() []core.Operation {
	return []core.Operation{
		core.OpGetTradingPairs,
		core.OpGetTicker,
		core.OpGetOrderBook,
		core.OpGetOHLC,
		core.OpGetBalance,
		core.OpGetOpenOrders,
		core.OpCancelOrder,
		core.OpCancelAllOrders,
		core.OpPlaceOrder,
		core.OpGetUserTransactions,
	}
}

// BuildRequest maps an operation and its params onto a Bitstamp endpoint.
//
// Params by operation:
//
//	GetTicker, GetOrderBook   pair
//	GetOHLC                   pair, step (seconds), limit, start, end
//	GetOpenOrders             pair (optional)
//	CancelOrder               id
//	CancelAllOrders           pair (optional)
//	PlaceOrder                pair, side, type, amount, price, time_in_force, client_order_id
//	GetUserTransactions       pair, since_id, limit, offset, sort
func (p *Protocol) BuildRequest(ctx context.Context, op core.Operation, params core.Params) (*core.Request, error) {
	switch op {
	case core.OpGetTradingPairs:
		return core.NewRequest(http.MethodGet, "/api/v2/trading-pairs-info/").
			SetCache("trading_pairs", time.Minute), nil
	case core.OpGetTicker:
		return p.buildPairRequest(params, "/api/v2/ticker/%s/", "ticker:%s", time.Second)
	case core.OpGetOrderBook:
		return p.buildPairRequest(params, "/api/v2/order_book/%s/", "order_book:%s", 100*time.Millisecond)
	case core.OpGetOHLC:
		return p.buildOHLCRequest(params)
	case core.OpGetBalance:
		return private("/api/v2/balance/"), nil
	case core.OpGetOpenOrders:
		return private(scoped("/api/v2/open_orders/%s/", params, "all")), nil
	case core.OpCancelOrder:
		return p.buildCancelOrderRequest(params)
	case core.OpCancelAllOrders:
		return private(scoped("/api/v2/cancel_all_orders/%s/", params, "")), nil
	case core.OpPlaceOrder:
		return p.buildPlaceOrderRequest(params)
	case core.OpGetUserTransactions:
		return p.buildUserTransactionsRequest(params)
	default:
		return nil, core.NewExchangeError(core.ErrorTypeBadRequest, 0, fmt.Sprintf("unsupported operation: %s", op)).
			WithCode(core.ErrCodeUnsupported)
	}
}

// ParseResponse decodes a 2xx body. Bitstamp reports some failures with a 2xx
// status and a {"status":"error"} or {"error":...} body; those become errors here.
func (p *Protocol) ParseResponse(op core.Operation, body []byte) (any, error) {
	if err := apiError(body); err != nil {
		return nil, err
	}

	n := p.normalizer
	switch op {
	case core.OpGetTradingPairs:
		return n.NormalizeTradingPairs(body)
	case core.OpGetTicker:
		return n.NormalizeTicker(body, "")
	case core.OpGetOrderBook:
		return DecodeOrderBook(body, "")
	case core.OpGetOHLC:
		return n.NormalizeCandles(body, "")
	case core.OpGetBalance:
		return n.NormalizeBalances(body)
	case core.OpGetOpenOrders:
		return n.NormalizeOrders(body)
	case core.OpCancelOrder:
		return n.NormalizeCanceled(body)
	case core.OpCancelAllOrders:
		return n.NormalizeCancelAll(body)
	case core.OpPlaceOrder:
		return n.NormalizeOrder(body, "", core.TypeLimit)
	case core.OpGetUserTransactions:
		return n.NormalizeTransactions(body)
	default:
		var result any
		if err := sonic.Unmarshal(body, &result); err != nil {
			return nil, core.NewDecodeError("unmarshal response: %v", err)
		}
		return result, nil
	}
}

func (p *Protocol) buildPairRequest(params core.Params, pathFmt, cacheFmt string, ttl time.Duration) (*core.Request, error) {
	pair, err := getRequiredStringParam(params, "pair")
	if err != nil {
		return nil, err
	}
	pair = formatPair(pair)

	return core.NewRequest(http.MethodGet, fmt.Sprintf(pathFmt, pair)).
		SetCache(fmt.Sprintf(cacheFmt, pair), ttl), nil
}

func (p *Protocol) buildOHLCRequest(params core.Params) (*core.Request, error) {
	pair, err := getRequiredStringParam(params, "pair")
	if err != nil {
		return nil, err
	}

	step := int64(getIntParamWithDefault(params, "step", 60))
	if !slices.Contains(ohlcSteps, step) {
		return nil, fmt.Errorf("unsupported ohlc step %ds", step)
	}
	limit := getIntParamWithDefault(params, "limit", 1000)
	if limit < 1 || limit > 1000 {
		return nil, fmt.Errorf("ohlc limit must be between 1 and 1000, got %d", limit)
	}

	req := core.NewRequest(http.MethodGet, fmt.Sprintf("/api/v2/ohlc/%s/", formatPair(pair))).
		SetQuery("step", step).
		SetQuery("limit", limit)
	if start, ok := params["start"].(time.Time); ok && !start.IsZero() {
		req.SetQuery("start", start)
	}
	if end, ok := params["end"].(time.Time); ok && !end.IsZero() {
		req.SetQuery("end", end)
	}
	return req, nil
}

func (p *Protocol) buildCancelOrderRequest(params core.Params) (*core.Request, error) {
	id, err := getRequiredStringParam(params, "id")
	if err != nil {
		return nil, err
	}
	return private("/api/v2/cancel_order/").SetForm("id", id), nil
}

func (p *Protocol) buildPlaceOrderRequest(params core.Params) (*core.Request, error) {
	pair, err := getRequiredStringParam(params, "pair")
	if err != nil {
		return nil, err
	}
	side, ok := params["side"].(core.OrderSide)
	if !ok {
		return nil, fmt.Errorf("parameter side must be a core.OrderSide")
	}
	typ, ok := params["type"].(core.OrderType)
	if !ok {
		return nil, fmt.Errorf("parameter type must be a core.OrderType")
	}
	amount, err := getRequiredDecimalParam(params, "amount")
	if err != nil {
		return nil, err
	}

	verb := "buy"
	if side == core.SideSell {
		verb = "sell"
	}
	pair = formatPair(pair)

	var req *core.Request
	switch typ {
	case core.TypeLimit:
		price, err := getRequiredDecimalParam(params, "price")
		if err != nil {
			return nil, err
		}
		req = private(fmt.Sprintf("/api/v2/%s/%s/", verb, pair)).SetForm("price", price)
		if tif, ok := params["time_in_force"].(core.TimeInForce); ok {
			switch tif {
			case core.IOC:
				req.SetForm("ioc_order", true)
			case core.FOK:
				req.SetForm("fok_order", true)
			}
		}
	case core.TypeMarket:
		req = private(fmt.Sprintf("/api/v2/%s/market/%s/", verb, pair))
	case core.TypeInstant:
		req = private(fmt.Sprintf("/api/v2/%s/instant/%s/", verb, pair))
	default:
		return nil, fmt.Errorf("unsupported order type %s", typ)
	}

	req.SetForm("amount", amount)
	if id, ok := params["client_order_id"].(string); ok && id != "" {
		req.SetForm("client_order_id", id)
	}
	return req, nil
}

func (p *Protocol) buildUserTransactionsRequest(params core.Params) (*core.Request, error) {
	req := private(scoped("/api/v2/user_transactions/%s/", params, ""))
	req.SetForm("sort", getStringParamWithDefault(params, "sort", "asc"))

	if v, ok := params["since_id"]; ok {
		switch id := v.(type) {
		case int64:
			if id > 0 {
				req.SetForm("since_id", id)
			}
		case int:
			if id > 0 {
				req.SetForm("since_id", id)
			}
		default:
			return nil, fmt.Errorf("parameter since_id must be an integer")
		}
	}
	if limit := getIntParamWithDefault(params, "limit", 0); limit > 0 {
		req.SetForm("limit", limit)
	}
	if offset := getIntParamWithDefault(params, "offset", 0); offset > 0 {
		req.SetForm("offset", offset)
	}
	return req, nil
}

func private(path string) *core.Request {
	return core.NewRequest(http.MethodPost, path).SetRequireAuth(true)
}

// scoped fills pathFmt with the optional pair param, or with fallback. An empty
// fallback drops the trailing "%s/" segment entirely.
func scoped(pathFmt string, params core.Params, fallback string) string {
	pair := getStringParamWithDefault(params, "pair", "")
	if pair != "" {
		return fmt.Sprintf(pathFmt, formatPair(pair))
	}
	if fallback != "" {
		return fmt.Sprintf(pathFmt, fallback)
	}
	return strings.TrimSuffix(pathFmt, "%s/")
}

// formatPair turns "BTC/USD" or "BTCUSD" into the URL symbol "btcusd".
func formatPair(pair string) string {
	return pairSymbol(pair)
}

func getRequiredStringParam(params core.Params, key string) (string, error) {
	val, ok := params[key]
	if !ok {
		return "", fmt.Errorf("missing required parameter: %s", key)
	}

	str, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("parameter %s must be a string", key)
	}

	if str == "" {
		return "", fmt.Errorf("parameter %s cannot be empty", key)
	}

	return str, nil
}

func getRequiredDecimalParam(params core.Params, key string) (apd.Decimal, error) {
	val, ok := params[key]
	if !ok {
		return apd.Decimal{}, fmt.Errorf("missing required parameter: %s", key)
	}

	var d apd.Decimal
	switch v := val.(type) {
	case apd.Decimal:
		d.Set(&v)
	case *apd.Decimal:
		if v == nil {
			return apd.Decimal{}, fmt.Errorf("parameter %s cannot be nil", key)
		}
		d.Set(v)
	case string:
		if _, _, err := d.SetString(v); err != nil {
			return apd.Decimal{}, fmt.Errorf("parameter %s: %w", key, err)
		}
	default:
		return apd.Decimal{}, fmt.Errorf("parameter %s must be a decimal", key)
	}

	if d.Sign() <= 0 {
		return apd.Decimal{}, fmt.Errorf("parameter %s must be positive", key)
	}
	return d, nil
}

func getStringParamWithDefault(params core.Params, key, def string) string {
	if val, ok := params[key]; ok {
		if str, ok := val.(string); ok && str != "" {
			return str
		}
	}
	return def
}

func getIntParamWithDefault(params core.Params, key string, def int) int {
	if val, ok := params[key]; ok {
		switch v := val.(type) {
		case int:
			return v
		case int64:
			return int(v)
		case time.Duration:
			return int(v / time.Second)
		case string:
			if i, err := strconv.Atoi(v); err == nil {
				return i
			}
		}
	}
	return def
}

// bitstampAPIError covers both failure shapes:
// {"status":"error","reason":...,"code":"API0010"} and {"error":"Order not found"}.
type bitstampAPIError struct {
	Status string `json:"status"`
	Reason any    `json:"reason"`
	Code   string `json:"code"`
	Error  any    `json:"error"`
}

func apiError(body []byte) error {
	trimmed := strings.TrimSpace(string(body))
	if !strings.HasPrefix(trimmed, "{") {
		return nil
	}

	var e bitstampAPIError
	if err := sonic.Unmarshal(body, &e); err != nil {
		return nil
	}

	var msg string
	switch {
	case strings.EqualFold(e.Status, "error"):
		msg = reasonText(e.Reason)
	case e.Error != nil:
		msg = reasonText(e.Error)
	default:
		return nil
	}
	if msg == "" {
		msg = "unspecified error"
	}

	errType, code := mapBitstampReason(msg)
	if e.Code != "" {
		code = core.ErrorCode(e.Code)
	}
	return core.NewExchangeError(errType, http.StatusOK, msg).
		WithCode(code).
		WithRaw(body)
}

func mapBitstampReason(msg string) (core.ErrorType, core.ErrorCode) {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "you have only") ||
		strings.Contains(lower, "insufficient") ||
		strings.Contains(lower, "not enough"):
		return core.ErrorTypeInsufficientFunds, core.ErrCodeInsufficientFunds
	case strings.Contains(lower, "not found"):
		return core.ErrorTypeNotFound, core.ErrCodeNotFound
	default:
		return core.ErrorTypeInvalidOrder, core.ErrCodeInvalidOrder
	}
}

// reasonText flattens a reason that may be a string, a list or a field map such
// as {"__all__":["..."]}.
func reasonText(reason any) string {
	switch r := reason.(type) {
	case nil:
		return ""
	case string:
		return r
	case []any:
		parts := make([]string, 0, len(r))
		for _, v := range r {
			if s := reasonText(v); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "; ")
	case map[string]any:
		keys := make([]string, 0, len(r))
		for k := range r {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			s := reasonText(r[k])
			if s == "" {
				continue
			}
			if k != "__all__" {
				s = k + ": " + s
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, "; ")
	default:
		return fmt.Sprint(r)
	}
}
