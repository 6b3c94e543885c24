package core

import (
	"testing"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/stretchr/testify/assert"
)

func TestNewRequest(t *testing.T) {
	req := NewRequest("GET", "/api/v2/ticker/btcusd/")

	assert.Equal(t, "GET", req.Method)
	assert.Equal(t, "/api/v2/ticker/btcusd/", req.Path)
	assert.NotNil(t, req.Query)
	assert.NotNil(t, req.Form)
	assert.False(t, req.RequireAuth)
}

func TestRequest_SetQuery(t *testing.T) {
	req := NewRequest("GET", "/api/v2/ohlc/btcusd/")
	result := req.SetQuery("step", 60)

	assert.Equal(t, req, result)
	assert.Equal(t, 60, req.Query["step"])
}

func TestRequest_SetForm(t *testing.T) {
	req := NewRequest("POST", "/api/v2/cancel_order/")
	result := req.SetForm("id", "12345")

	assert.Equal(t, req, result)
	assert.Equal(t, "12345", req.Form["id"])
}

func TestRequest_SetCache(t *testing.T) {
	req := NewRequest("GET", "/api/v2/ticker/btcusd/")
	result := req.SetCache("ticker:btcusd", 5*time.Second)

	assert.Equal(t, req, result)
	assert.Equal(t, "ticker:btcusd", req.CacheKey)
	assert.Equal(t, 5*time.Second, req.CacheTTL)
}

func TestRequest_SetQueryParams(t *testing.T) {
	req := NewRequest("GET", "/api/v2/ohlc/btcusd/")
	params := Params{
		"step":  60,
		"limit": 100,
	}
	result := req.SetQueryParams(params)

	assert.Equal(t, req, result)
	assert.Equal(t, 60, req.Query["step"])
	assert.Equal(t, 100, req.Query["limit"])
}

func TestRequest_PathWithQuery(t *testing.T) {
	req := NewRequest("GET", "/api/v2/ohlc/btcusd/")
	assert.Equal(t, "/api/v2/ohlc/btcusd/", req.PathWithQuery())

	req.SetQuery("step", 60).SetQuery("limit", 2)
	assert.Equal(t, "/api/v2/ohlc/btcusd/?limit=2&step=60", req.PathWithQuery())
}

func TestParams_Values(t *testing.T) {
	price, _, _ := apd.NewFromString("29000.10")
	params := Params{
		"price":      *price,
		"amount":     price,
		"ioc_order":  true,
		"offset":     int64(7),
		"client_id":  "abc",
		"skipped":    nil,
		"expiration": time.Unix(1700000000, 0),
	}

	values := params.Values()

	assert.Equal(t, "29000.10", values.Get("price"))
	assert.Equal(t, "29000.10", values.Get("amount"))
	assert.Equal(t, "True", values.Get("ioc_order"))
	assert.Equal(t, "7", values.Get("offset"))
	assert.Equal(t, "abc", values.Get("client_id"))
	assert.Equal(t, "1700000000", values.Get("expiration"))
	assert.False(t, values.Has("skipped"))
}
