package exchange

import (
	"time"
)

type Option func(*Options)

type Options struct {
	// Pair narrows account calls to one market.
	Pair      string
	Limit     int
	Offset    int
	Step      time.Duration
	StartTime time.Time
	EndTime   time.Time
}

func WithPair(pair string) Option {
	return func(o *Options) {
		o.Pair = pair
	}
}

func WithLimit(limit int) Option {
	return func(o *Options) {
		o.Limit = limit
	}
}

func WithOffset(offset int) Option {
	return func(o *Options) {
		o.Offset = offset
	}
}

// WithStep sets the candle width for GetOHLC.
func WithStep(step time.Duration) Option {
	return func(o *Options) {
		o.Step = step
	}
}

func WithTimeRange(start, end time.Time) Option {
	return func(o *Options) {
		o.StartTime = start
		o.EndTime = end
	}
}

func ApplyOptions(opts ...Option) *Options {
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
