package stream

import (
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/apd/v3"

	"github.com/webclinic017/trading-tools-2/pkg/core"
)

// Quote is the latest trade price and top of book for one instrument.
type Quote struct {
	Instrument string
	Last       apd.Decimal
	Bid        apd.Decimal
	Ask        apd.Decimal
	HasLast    bool
	HasBid     bool
	HasAsk     bool
	UpdatedAt  time.Time
}

func (q Quote) String() string {
	return fmt.Sprintf("%s: Price - Bid/Ask: %s - %s/%s",
		q.Instrument, text(q.Last, q.HasLast), text(q.Bid, q.HasBid), text(q.Ask, q.HasAsk))
}

func text(d apd.Decimal, ok bool) string {
	if !ok {
		return "-"
	}
	return d.Text('f')
}

// QuoteTracker folds trades and order book snapshots into per-instrument quotes.
// It is a Sink; onChange, if set, fires after every push that moved a quote.
type QuoteTracker struct {
	mu       sync.Mutex
	quotes   map[string]*Quote
	onChange func(Quote)
}

func NewQuoteTracker(onChange func(Quote)) *QuoteTracker {
	return &QuoteTracker{
		quotes:   make(map[string]*Quote),
		onChange: onChange,
	}
}

// Push implements Sink.
func (t *QuoteTracker) Push(ev core.Event) {
	q, changed := t.Apply(ev)
	if changed && t.onChange != nil {
		t.onChange(q)
	}
}

// Apply updates the quote for ev's instrument and reports whether the last price,
// best bid or best ask changed. An empty book side leaves that side untouched.
func (t *QuoteTracker) Apply(ev core.Event) (Quote, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	q, ok := t.quotes[ev.InstrumentName()]
	if !ok {
		q = &Quote{Instrument: ev.InstrumentName()}
		t.quotes[q.Instrument] = q
	}

	changed := false
	switch e := ev.(type) {
	case *core.Trade:
		changed = update(&q.Last, &q.HasLast, &e.Price)
		q.UpdatedAt = e.Timestamp
	case *core.OrderBook:
		if bid, ok := e.BestBid(); ok {
			changed = update(&q.Bid, &q.HasBid, &bid.Price) || changed
		}
		if ask, ok := e.BestAsk(); ok {
			changed = update(&q.Ask, &q.HasAsk, &ask.Price) || changed
		}
		q.UpdatedAt = e.Timestamp
	}
	return *q, changed
}

// Quote returns the current quote for instrument.
func (t *QuoteTracker) Quote(instrument string) (Quote, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	q, ok := t.quotes[instrument]
	if !ok {
		return Quote{}, false
	}
	return *q, true
}

func update(dst *apd.Decimal, has *bool, v *apd.Decimal) bool {
	if *has && dst.Cmp(v) == 0 {
		return false
	}
	dst.Set(v)
	*has = true
	return true
}
