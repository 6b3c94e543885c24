package http

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{"missing base url", &Config{Timeout: time.Second}},
		{"bad base url", &Config{BaseURL: "::", Timeout: time.Second}},
		{"zero timeout", &Config{BaseURL: "http://localhost"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(tt.config)
			assert.Error(t, err)
			assert.Nil(t, c)
		})
	}
}

func TestClient_GetAndPost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Method", r.Method)
		w.Header().Set("X-Default", r.Header.Get("User-Agent-Extra"))
		w.Header().Set("X-Content-Type", r.Header.Get("Content-Type"))
		w.Header().Set("X-Custom", r.Header.Get("X-Custom"))
		_, _ = w.Write(append([]byte(r.URL.RequestURI()+"|"), body...))
	}))
	defer server.Close()

	c, err := NewClient(&Config{
		BaseURL: server.URL,
		Timeout: time.Second,
		Headers: map[string]string{"User-Agent-Extra": "bitstamp-go"},
	})
	require.NoError(t, err)
	c.SetLogger(zerolog.Nop())
	defer c.Close()

	resp, err := c.Get(context.Background(), "/api/v2/ticker/btcusd/?x=1", WithHeader("X-Custom", "a"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, "/api/v2/ticker/btcusd/?x=1|", string(resp.Bytes()))
	assert.Equal(t, "GET", resp.Header().Get("X-Method"))
	assert.Equal(t, "bitstamp-go", resp.Header().Get("X-Default"))
	assert.Equal(t, "a", resp.Header().Get("X-Custom"))

	resp, err = c.Post(context.Background(), "/api/v2/balance/", []byte("a=1"),
		WithHeaders(map[string]string{"Content-Type": "application/x-www-form-urlencoded"}))
	require.NoError(t, err)
	assert.Equal(t, "/api/v2/balance/|a=1", string(resp.Bytes()))
	assert.Equal(t, "application/x-www-form-urlencoded", resp.Header().Get("X-Content-Type"))

	resp, err = c.Post(context.Background(), "/api/v2/balance/", nil)
	require.NoError(t, err)
	assert.Equal(t, "/api/v2/balance/|", string(resp.Bytes()))
	assert.Empty(t, resp.Header().Get("X-Content-Type"))
}

func TestClient_NoRetries(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c, err := NewClient(&Config{BaseURL: server.URL, Timeout: time.Second})
	require.NoError(t, err)
	defer c.Close()

	resp, err := c.Post(context.Background(), "/x/", []byte("a=1"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode())
	assert.Equal(t, int32(1), hits.Load())
}

func TestClient_Closed(t *testing.T) {
	c, err := NewClient(&Config{BaseURL: "http://localhost", Timeout: time.Second})
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err = c.Get(context.Background(), "/")
	assert.ErrorContains(t, err, "closed")
	_, err = c.Post(context.Background(), "/", nil)
	assert.ErrorContains(t, err, "closed")
}
