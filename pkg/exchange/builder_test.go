package exchange

import (
	"testing"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webclinic017/trading-tools-2/pkg/core"
)

func TestOrderBuilder_Build(t *testing.T) {
	tests := []struct {
		name       string
		build      func() (*OrderRequest, error)
		wantErr    bool
		errContain string
	}{
		{
			name: "valid limit buy",
			build: func() (*OrderRequest, error) {
				return NewOrderBuilder("btcusd").Buy().Limit().Price("50000.00").Amount("0.1").Build()
			},
		},
		{
			name: "valid market sell",
			build: func() (*OrderRequest, error) {
				return NewOrderBuilder("ethusd").Sell().Market().Amount("1.5").Build()
			},
		},
		{
			name: "valid instant buy",
			build: func() (*OrderRequest, error) {
				return NewOrderBuilder("btcusd").Buy().Instant().Amount("100").Build()
			},
		},
		{
			name: "valid ioc limit with client id",
			build: func() (*OrderRequest, error) {
				return NewOrderBuilder("btcusd").Buy().Limit().Price("1").Amount("1").IOC().ClientOrderID("c-1").Build()
			},
		},
		{
			name: "decimal setters",
			build: func() (*OrderRequest, error) {
				var price, amount apd.Decimal
				price.SetString("50000.50")
				amount.SetString("0.25")
				return NewOrderBuilder("btcusd").Sell().Limit().PriceDecimal(price).AmountDecimal(amount).FOK().Build()
			},
		},
		{
			name: "missing pair",
			build: func() (*OrderRequest, error) {
				return NewOrderBuilder("").Buy().Market().Amount("1").Build()
			},
			wantErr:    true,
			errContain: "pair is required",
		},
		{
			name: "zero amount",
			build: func() (*OrderRequest, error) {
				return NewOrderBuilder("btcusd").Buy().Market().Amount("0").Build()
			},
			wantErr:    true,
			errContain: "amount must be positive",
		},
		{
			name: "limit without price",
			build: func() (*OrderRequest, error) {
				return NewOrderBuilder("btcusd").Buy().Limit().Amount("1").Build()
			},
			wantErr:    true,
			errContain: "price must be positive",
		},
		{
			name: "invalid price text sticks",
			build: func() (*OrderRequest, error) {
				return NewOrderBuilder("btcusd").Price("abc").Amount("1").Build()
			},
			wantErr:    true,
			errContain: "parse price",
		},
		{
			name: "invalid amount text",
			build: func() (*OrderRequest, error) {
				return NewOrderBuilder("btcusd").Market().Amount("1..2").Build()
			},
			wantErr:    true,
			errContain: "parse amount",
		},
		{
			name: "time in force on market order",
			build: func() (*OrderRequest, error) {
				return NewOrderBuilder("btcusd").Market().Amount("1").FOK().Build()
			},
			wantErr:    true,
			errContain: "limit orders only",
		},
		{
			name: "invalid side",
			build: func() (*OrderRequest, error) {
				return NewOrderBuilder("btcusd").Side(core.OrderSide(7)).Market().Amount("1").Build()
			},
			wantErr:    true,
			errContain: "invalid order side",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := tt.build()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContain)
				assert.Nil(t, req)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, req)
		})
	}
}

func TestOrderBuilder_Fields(t *testing.T) {
	req, err := NewOrderBuilder("btcusd").Sell().Limit().Price("123.45").Amount("0.5").IOC().ClientOrderID("abc").Build()
	require.NoError(t, err)

	assert.Equal(t, "btcusd", req.Pair)
	assert.Equal(t, core.SideSell, req.Side)
	assert.Equal(t, core.TypeLimit, req.Type)
	assert.Equal(t, "123.45", req.Price.Text('f'))
	assert.Equal(t, "0.5", req.Amount.Text('f'))
	assert.Equal(t, core.IOC, req.TimeInForce)
	assert.Equal(t, "abc", req.ClientOrderID)
}

func TestApplyOptions(t *testing.T) {
	start := time.Unix(1700000000, 0)
	end := start.Add(time.Hour)

	o := ApplyOptions(
		WithPair("btcusd"),
		WithLimit(50),
		WithOffset(10),
		WithStep(time.Minute),
		WithTimeRange(start, end),
	)

	assert.Equal(t, "btcusd", o.Pair)
	assert.Equal(t, 50, o.Limit)
	assert.Equal(t, 10, o.Offset)
	assert.Equal(t, time.Minute, o.Step)
	assert.Equal(t, start, o.StartTime)
	assert.Equal(t, end, o.EndTime)

	assert.Equal(t, &Options{}, ApplyOptions())
}
