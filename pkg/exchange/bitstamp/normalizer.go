package bitstamp

import (
	"encoding/json"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/apd/v3"

	"github.com/webclinic017/trading-tools-2/pkg/core"
)

// Bitstamp sends most numbers as strings but some as bare JSON numbers. Fields are
// captured as raw literals and parsed from their text, never through float64.
type raw = json.RawMessage

type rawTrade struct {
	ID             raw `json:"id"`
	Price          raw `json:"price"`
	PriceStr       raw `json:"price_str"`
	Amount         raw `json:"amount"`
	AmountStr      raw `json:"amount_str"`
	SellOrderID    raw `json:"sell_order_id"`
	BuyOrderID     raw `json:"buy_order_id"`
	Type           raw `json:"type"`
	Timestamp      raw `json:"timestamp"`
	Microtimestamp raw `json:"microtimestamp"`
}

type rawOrderBook struct {
	Timestamp      raw     `json:"timestamp"`
	Microtimestamp raw     `json:"microtimestamp"`
	Bids           [][]raw `json:"bids"`
	Asks           [][]raw `json:"asks"`
}

type rawTicker struct {
	Pair      string `json:"pair"`
	Last      raw    `json:"last"`
	High      raw    `json:"high"`
	Low       raw    `json:"low"`
	VWAP      raw    `json:"vwap"`
	Volume    raw    `json:"volume"`
	Bid       raw    `json:"bid"`
	Ask       raw    `json:"ask"`
	Open      raw    `json:"open"`
	Timestamp raw    `json:"timestamp"`
}

type rawTradingPair struct {
	Name            string `json:"name"`
	URLSymbol       string `json:"url_symbol"`
	BaseDecimals    int    `json:"base_decimals"`
	CounterDecimals int    `json:"counter_decimals"`
	MinimumOrder    string `json:"minimum_order"`
	Trading         string `json:"trading"`
	Description     string `json:"description"`
}

type rawOHLC struct {
	Data struct {
		Pair string `json:"pair"`
		OHLC []struct {
			Timestamp raw `json:"timestamp"`
			Open      raw `json:"open"`
			High      raw `json:"high"`
			Low       raw `json:"low"`
			Close     raw `json:"close"`
			Volume    raw `json:"volume"`
		} `json:"ohlc"`
	} `json:"data"`
}

type rawBalance struct {
	Currency  string `json:"currency"`
	Total     raw    `json:"total"`
	Available raw    `json:"available"`
	Reserved  raw    `json:"reserved"`
}

type rawOrder struct {
	ID            raw    `json:"id"`
	ClientOrderID raw    `json:"client_order_id"`
	Datetime      string `json:"datetime"`
	Type          raw    `json:"type"`
	Price         raw    `json:"price"`
	Amount        raw    `json:"amount"`
	CurrencyPair  string `json:"currency_pair"`
	Market        string `json:"market"`
}

type rawCancelAll struct {
	Success  bool       `json:"success"`
	Canceled []rawOrder `json:"canceled"`
}

// Normalizer converts Bitstamp payloads to canonical core types.
type Normalizer struct{}

func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// DecodeTrade decodes the data object of a live_trades frame. price_str and
// amount_str win over the numeric price and amount when both are present. A
// frame without type yields core.SideUnknown.
func DecodeTrade(data []byte, instrument string) (*core.Trade, error) {
	var r rawTrade
	if err := sonic.Unmarshal(data, &r); err != nil {
		return nil, core.NewDecodeError("trade: %v", err)
	}

	t := &core.Trade{Instrument: instrument, Side: core.SideUnknown}
	var err error
	if t.ID, err = parseInt(r.ID, "id"); err != nil {
		return nil, err
	}
	if t.Price, err = parseDecimal(firstPresent(r.PriceStr, r.Price), "price_str"); err != nil {
		return nil, err
	}
	if t.Amount, err = parseDecimal(firstPresent(r.AmountStr, r.Amount), "amount_str"); err != nil {
		return nil, err
	}
	if t.SellOrderID, err = parseInt(r.SellOrderID, "sell_order_id"); err != nil {
		return nil, err
	}
	if t.BuyOrderID, err = parseInt(r.BuyOrderID, "buy_order_id"); err != nil {
		return nil, err
	}
	if present(r.Type) {
		if t.Side, err = parseSide(r.Type); err != nil {
			return nil, err
		}
	}
	if t.Timestamp, err = parseTime(r.Microtimestamp, r.Timestamp); err != nil {
		return nil, err
	}
	return t, nil
}

// DecodeOrderBook decodes an order book snapshot, either the data object of an
// order_book frame or the REST order_book body. Bids come back highest first and
// asks lowest first; equal prices keep their wire order.
func DecodeOrderBook(data []byte, instrument string) (*core.OrderBook, error) {
	var r rawOrderBook
	if err := sonic.Unmarshal(data, &r); err != nil {
		return nil, core.NewDecodeError("order book: %v", err)
	}
	if r.Bids == nil {
		return nil, core.NewDecodeError("order book: missing bids")
	}
	if r.Asks == nil {
		return nil, core.NewDecodeError("order book: missing asks")
	}

	bids, err := parseLevels(r.Bids, "bids")
	if err != nil {
		return nil, err
	}
	asks, err := parseLevels(r.Asks, "asks")
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(bids, func(a, b core.OrderBookLevel) int { return b.Price.Cmp(&a.Price) })
	slices.SortStableFunc(asks, func(a, b core.OrderBookLevel) int { return a.Price.Cmp(&b.Price) })

	ts, err := parseTime(r.Microtimestamp, r.Timestamp)
	if err != nil {
		return nil, err
	}

	return &core.OrderBook{
		Instrument: instrument,
		Bids:       bids,
		Asks:       asks,
		Timestamp:  ts,
	}, nil
}

func parseLevels(levels [][]raw, side string) ([]core.OrderBookLevel, error) {
	out := make([]core.OrderBookLevel, 0, len(levels))
	for i, lvl := range levels {
		if len(lvl) < 2 {
			return nil, core.NewDecodeError("%s[%d]: want [price, amount], got %d elements", side, i, len(lvl))
		}
		price, err := parseDecimal(lvl[0], side+" price")
		if err != nil {
			return nil, err
		}
		amount, err := parseDecimal(lvl[1], side+" amount")
		if err != nil {
			return nil, err
		}
		out = append(out, core.OrderBookLevel{Price: price, Amount: amount})
	}
	return out, nil
}

// NormalizeTicker converts a ticker body. pair is used when the body has none.
func (n *Normalizer) NormalizeTicker(data []byte, pair string) (*core.Ticker, error) {
	var r rawTicker
	if err := sonic.Unmarshal(data, &r); err != nil {
		return nil, core.NewDecodeError("ticker: %v", err)
	}

	t := &core.Ticker{Pair: pair}
	if r.Pair != "" && pair == "" {
		t.Pair = pairSymbol(r.Pair)
	}

	last, err := parseDecimal(r.Last, "ticker last")
	if err != nil {
		return nil, err
	}
	t.Last = last

	fields := []struct {
		dst  *apd.Decimal
		src  raw
		name string
	}{
		{&t.High, r.High, "high"},
		{&t.Low, r.Low, "low"},
		{&t.VWAP, r.VWAP, "vwap"},
		{&t.Volume, r.Volume, "volume"},
		{&t.Bid, r.Bid, "bid"},
		{&t.Ask, r.Ask, "ask"},
		{&t.Open, r.Open, "open"},
	}
	for _, f := range fields {
		d, err := optionalDecimal(f.src, "ticker "+f.name)
		if err != nil {
			return nil, err
		}
		f.dst.Set(&d)
	}

	ts, err := parseTime(nil, r.Timestamp)
	if err != nil {
		return nil, err
	}
	t.Timestamp = ts
	return t, nil
}

func (n *Normalizer) NormalizeTradingPairs(data []byte) ([]core.TradingPair, error) {
	var rs []rawTradingPair
	if err := sonic.Unmarshal(data, &rs); err != nil {
		return nil, core.NewDecodeError("trading pairs: %v", err)
	}

	out := make([]core.TradingPair, 0, len(rs))
	for _, r := range rs {
		out = append(out, core.TradingPair{
			Name:            r.Name,
			URLSymbol:       r.URLSymbol,
			BaseDecimals:    r.BaseDecimals,
			CounterDecimals: r.CounterDecimals,
			MinimumOrder:    r.MinimumOrder,
			Enabled:         strings.EqualFold(r.Trading, "Enabled"),
			Description:     r.Description,
		})
	}
	return out, nil
}

func (n *Normalizer) NormalizeCandles(data []byte, pair string) ([]core.Candle, error) {
	var r rawOHLC
	if err := sonic.Unmarshal(data, &r); err != nil {
		return nil, core.NewDecodeError("ohlc: %v", err)
	}

	if pair == "" {
		pair = pairSymbol(r.Data.Pair)
	}
	out := make([]core.Candle, 0, len(r.Data.OHLC))
	for _, bar := range r.Data.OHLC {
		c := core.Candle{Pair: pair}
		var err error
		if c.OpenTime, err = parseTime(nil, bar.Timestamp); err != nil {
			return nil, err
		}
		for _, f := range []struct {
			dst  *apd.Decimal
			src  raw
			name string
		}{
			{&c.Open, bar.Open, "open"},
			{&c.High, bar.High, "high"},
			{&c.Low, bar.Low, "low"},
			{&c.Close, bar.Close, "close"},
			{&c.Volume, bar.Volume, "volume"},
		} {
			d, err := parseDecimal(f.src, "ohlc "+f.name)
			if err != nil {
				return nil, err
			}
			f.dst.Set(&d)
		}
		out = append(out, c)
	}
	return out, nil
}

// NormalizeBalances accepts both balance layouts: the list of
// {"currency","total","available","reserved"} objects and the flat map of
// "<cur>_balance", "<cur>_available" and "<cur>_reserved" keys. The result is
// sorted by asset.
func (n *Normalizer) NormalizeBalances(data []byte) ([]core.Balance, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var rs []rawBalance
		if err := sonic.Unmarshal(data, &rs); err != nil {
			return nil, core.NewDecodeError("balance: %v", err)
		}
		out := make([]core.Balance, 0, len(rs))
		for _, r := range rs {
			b := core.Balance{Asset: strings.ToLower(r.Currency)}
			var err error
			if b.Total, err = parseDecimal(r.Total, r.Currency+" total"); err != nil {
				return nil, err
			}
			if b.Available, err = optionalDecimal(r.Available, r.Currency+" available"); err != nil {
				return nil, err
			}
			if b.Reserved, err = optionalDecimal(r.Reserved, r.Currency+" reserved"); err != nil {
				return nil, err
			}
			out = append(out, b)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
		return out, nil
	}

	var flat map[string]raw
	if err := sonic.Unmarshal(data, &flat); err != nil {
		return nil, core.NewDecodeError("balance: %v", err)
	}

	byAsset := make(map[string]*core.Balance)
	for key, val := range flat {
		asset, kind, ok := strings.Cut(key, "_")
		if !ok {
			continue
		}
		var dst func(*core.Balance) *apd.Decimal
		switch kind {
		case "balance":
			dst = func(b *core.Balance) *apd.Decimal { return &b.Total }
		case "available":
			dst = func(b *core.Balance) *apd.Decimal { return &b.Available }
		case "reserved":
			dst = func(b *core.Balance) *apd.Decimal { return &b.Reserved }
		default:
			// fee keys like "btcusd_fee"
			continue
		}
		d, err := parseDecimal(val, key)
		if err != nil {
			return nil, err
		}
		b, ok := byAsset[asset]
		if !ok {
			b = &core.Balance{Asset: asset}
			byAsset[asset] = b
		}
		dst(b).Set(&d)
	}

	out := make([]core.Balance, 0, len(byAsset))
	for _, b := range byAsset {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out, nil
}

// NormalizeOrder converts an order body. typ overrides the order type, which the
// order endpoints do not echo back.
func (n *Normalizer) NormalizeOrder(data []byte, pair string, typ core.OrderType) (*core.Order, error) {
	var r rawOrder
	if err := sonic.Unmarshal(data, &r); err != nil {
		return nil, core.NewDecodeError("order: %v", err)
	}
	return n.convertOrder(&r, pair, typ, core.StatusOpen)
}

func (n *Normalizer) NormalizeOrders(data []byte) ([]core.Order, error) {
	var rs []rawOrder
	if err := sonic.Unmarshal(data, &rs); err != nil {
		return nil, core.NewDecodeError("orders: %v", err)
	}
	out := make([]core.Order, 0, len(rs))
	for i := range rs {
		o, err := n.convertOrder(&rs[i], "", core.TypeLimit, core.StatusOpen)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, nil
}

// NormalizeCanceled converts a cancel_order body.
func (n *Normalizer) NormalizeCanceled(data []byte) (*core.Order, error) {
	var r rawOrder
	if err := sonic.Unmarshal(data, &r); err != nil {
		return nil, core.NewDecodeError("cancel order: %v", err)
	}
	return n.convertOrder(&r, "", core.TypeLimit, core.StatusCanceled)
}

// NormalizeCancelAll converts a cancel_all_orders body. A bare true or false is
// also accepted and yields no orders.
func (n *Normalizer) NormalizeCancelAll(data []byte) ([]core.Order, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "true" || trimmed == "false" {
		return []core.Order{}, nil
	}

	var r rawCancelAll
	if err := sonic.Unmarshal(data, &r); err != nil {
		return nil, core.NewDecodeError("cancel all orders: %v", err)
	}
	out := make([]core.Order, 0, len(r.Canceled))
	for i := range r.Canceled {
		o, err := n.convertOrder(&r.Canceled[i], "", core.TypeLimit, core.StatusCanceled)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, nil
}

func (n *Normalizer) convertOrder(r *rawOrder, pair string, typ core.OrderType, status core.OrderStatus) (*core.Order, error) {
	id := literal(r.ID)
	if id == "" {
		return nil, core.NewDecodeError("order: missing id")
	}

	o := &core.Order{
		ID:            id,
		ClientOrderID: literal(r.ClientOrderID),
		Pair:          pair,
		Type:          typ,
		Status:        status,
	}
	if o.Pair == "" {
		o.Pair = pairSymbol(firstNonEmpty(r.CurrencyPair, r.Market))
	}

	var err error
	if present(r.Type) {
		if o.Side, err = parseSide(r.Type); err != nil {
			return nil, err
		}
	}
	if o.Price, err = optionalDecimal(r.Price, "order price"); err != nil {
		return nil, err
	}
	if o.Amount, err = optionalDecimal(r.Amount, "order amount"); err != nil {
		return nil, err
	}
	if r.Datetime != "" {
		if o.CreatedAt, err = parseDatetime(r.Datetime); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// transaction keys that are not per-currency amounts.
var transactionMeta = map[string]bool{
	"id": true, "order_id": true, "type": true, "fee": true, "datetime": true,
}

// NormalizeTransactions converts user_transactions. Per-currency deltas appear as
// plain currency keys ("usd", "btc"); the execution rate appears under the pair
// key ("btc_usd").
func (n *Normalizer) NormalizeTransactions(data []byte) ([]core.Transaction, error) {
	var rs []map[string]raw
	if err := sonic.Unmarshal(data, &rs); err != nil {
		return nil, core.NewDecodeError("user transactions: %v", err)
	}

	out := make([]core.Transaction, 0, len(rs))
	for _, r := range rs {
		tx := core.Transaction{Amounts: make(map[string]apd.Decimal)}
		var err error
		if tx.ID, err = parseInt(r["id"], "id"); err != nil {
			return nil, err
		}
		if present(r["order_id"]) {
			if tx.OrderID, err = parseInt(r["order_id"], "order_id"); err != nil {
				return nil, err
			}
		}
		typ, err := parseInt(r["type"], "type")
		if err != nil {
			return nil, err
		}
		tx.Type = core.TransactionType(typ)
		if tx.Fee, err = optionalDecimal(r["fee"], "fee"); err != nil {
			return nil, err
		}
		if dt := literal(r["datetime"]); dt != "" {
			if tx.Timestamp, err = parseDatetime(dt); err != nil {
				return nil, err
			}
		}

		for key, val := range r {
			if transactionMeta[key] || !present(val) {
				continue
			}
			d, err := parseDecimal(val, key)
			if err != nil {
				// non-numeric extras are ignored
				continue
			}
			if strings.Contains(key, "_") {
				tx.Pair = key
				tx.Rate = d
				continue
			}
			tx.Amounts[key] = d
		}
		out = append(out, tx)
	}
	return out, nil
}

func present(r raw) bool {
	s := strings.TrimSpace(string(r))
	return s != "" && s != "null"
}

func firstPresent(rs ...raw) raw {
	for _, r := range rs {
		if present(r) {
			return r
		}
	}
	return nil
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}

// literal returns the text of a JSON string or number, or "" for absent and null.
func literal(r raw) string {
	s := strings.TrimSpace(string(r))
	if s == "" || s == "null" {
		return ""
	}
	if strings.HasPrefix(s, `"`) {
		if u, err := strconv.Unquote(s); err == nil {
			return strings.TrimSpace(u)
		}
		return ""
	}
	return s
}

func parseDecimal(r raw, field string) (apd.Decimal, error) {
	s := literal(r)
	if s == "" {
		return apd.Decimal{}, core.NewDecodeError("missing %s", field)
	}
	d, _, err := apd.NewFromString(s)
	if err != nil {
		return apd.Decimal{}, core.NewDecodeError("invalid %s %q: %v", field, s, err)
	}
	if d.Form != apd.Finite {
		return apd.Decimal{}, core.NewDecodeError("invalid %s %q: not finite", field, s)
	}
	return *d, nil
}

func optionalDecimal(r raw, field string) (apd.Decimal, error) {
	if !present(r) {
		return apd.Decimal{}, nil
	}
	return parseDecimal(r, field)
}

func parseInt(r raw, field string) (int64, error) {
	s := literal(r)
	if s == "" {
		return 0, core.NewDecodeError("missing %s", field)
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, core.NewDecodeError("invalid %s %q: %v", field, s, err)
	}
	return v, nil
}

func parseSide(r raw) (core.OrderSide, error) {
	switch literal(r) {
	case "0":
		return core.SideBuy, nil
	case "1":
		return core.SideSell, nil
	default:
		return 0, core.NewDecodeError("invalid type %s", string(r))
	}
}

// parseTime prefers microseconds and falls back to seconds. Both absent is the
// zero time.
func parseTime(micros, secs raw) (time.Time, error) {
	if present(micros) {
		v, err := parseInt(micros, "microtimestamp")
		if err != nil {
			return time.Time{}, err
		}
		return time.UnixMicro(v).UTC(), nil
	}
	if present(secs) {
		v, err := parseInt(secs, "timestamp")
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(v, 0).UTC(), nil
	}
	return time.Time{}, nil
}

// parseDatetime reads Bitstamp's UTC "2006-01-02 15:04:05[.999999]" format.
// time.Parse accepts the optional fraction without it being in the layout.
func parseDatetime(s string) (time.Time, error) {
	t, err := time.Parse(time.DateTime, s)
	if err != nil {
		return time.Time{}, core.NewDecodeError("invalid datetime %q: %v", s, err)
	}
	return t.UTC(), nil
}

// pairSymbol turns "BTC/USD" into "btcusd".
func pairSymbol(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, "/", ""))
}
