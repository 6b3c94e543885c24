// Package circuitbreaker stops the REST transport from hammering Bitstamp while it is
// failing at the network or 5xx level.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/webclinic017/trading-tools-2/pkg/core"
)

type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

type Config struct {
	FailThreshold    int           `json:"fail_threshold"`
	SuccessThreshold int           `json:"success_threshold"`
	Timeout          time.Duration `json:"timeout"`
}

// FromConfig extracts the breaker settings from the session config.
func FromConfig(c *core.Config) Config {
	return Config{
		FailThreshold:    c.CircuitBreakerFailThreshold,
		SuccessThreshold: c.CircuitBreakerSuccessThreshold,
		Timeout:          c.CircuitBreakerTimeout,
	}
}

// Breaker is a classic three-state breaker. Open rejects calls until Timeout has
// elapsed since the last failure, then lets trial requests through in half-open.
type Breaker struct {
	mu        sync.Mutex
	config    Config
	state     State
	failures  int
	successes int
	openedAt  time.Time
	now       func() time.Time

	total    int64
	rejected int64
	changes  int32
}

func New(config Config) *Breaker {
	return &Breaker{
		config: config,
		state:  StateClosed,
		now:    time.Now,
	}
}

// Allow reports whether a call may proceed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.total++
	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) < b.config.Timeout {
			b.rejected++
			return false
		}
		b.transition(StateHalfOpen)
	}
	return true
}

// Record feeds the outcome of a call that Allow let through.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.config.Timeout {
		b.transition(StateHalfOpen)
	}

	switch b.state {
	case StateClosed:
		if success {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.config.FailThreshold {
			b.trip()
		}
	case StateHalfOpen:
		if !success {
			b.trip()
			return
		}
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.transition(StateClosed)
		}
	}
}

func (b *Breaker) trip() {
	b.openedAt = b.now()
	b.transition(StateOpen)
}

func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	b.state = to
	b.failures = 0
	b.successes = 0
	b.changes++
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateClosed)
	b.failures = 0
	b.successes = 0
}

func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func (b *Breaker) Successes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.successes
}

func (b *Breaker) Metrics() MetricsSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return MetricsSnapshot{
		TotalRequests:    b.total,
		RejectedRequests: b.rejected,
		StateChanges:     b.changes,
		CurrentState:     b.state.String(),
	}
}

type MetricsSnapshot struct {
	TotalRequests    int64
	RejectedRequests int64
	StateChanges     int32
	CurrentState     string
}
