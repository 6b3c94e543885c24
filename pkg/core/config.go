package core

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// Production endpoints.
const (
	DefaultBaseURL = "https://www.bitstamp.net"
	DefaultWSURL   = "wss://ws.bitstamp.net"
)

// Credentials holds the API key pair used to sign private requests.
type Credentials struct {
	// ClientID is the Bitstamp customer id. Only informational; signing does not use it.
	ClientID string `json:"client_id,omitempty" yaml:"client_id"`
	// APIKey is the public API key identifier sent in X-Auth.
	APIKey string `json:"api_key" yaml:"api_key" validate:"required"`
	// SecretKey is the HMAC secret. It never leaves the signer.
	SecretKey string `json:"secret_key" yaml:"secret_key" validate:"required"`
}

// StreamConfig controls the streaming connection supervisor.
type StreamConfig struct {
	URL                  string        `json:"url" yaml:"url" validate:"required,url"`
	HandshakeTimeout     time.Duration `json:"handshake_timeout" yaml:"handshake_timeout" validate:"min=1ms"`
	PingInterval         time.Duration `json:"ping_interval" yaml:"ping_interval" validate:"min=0"`
	PongWait             time.Duration `json:"pong_wait" yaml:"pong_wait" validate:"min=0"`
	ReconnectBaseWait    time.Duration `json:"reconnect_base_wait" yaml:"reconnect_base_wait" validate:"min=1ms"`
	ReconnectMaxWait     time.Duration `json:"reconnect_max_wait" yaml:"reconnect_max_wait" validate:"gtefield=ReconnectBaseWait"`
	MaxReconnectAttempts int           `json:"max_reconnect_attempts" yaml:"max_reconnect_attempts" validate:"min=0"` // 0 = unlimited
}

// DefaultStreamConfig mirrors the reference client: ping every 10s, reconnect forever.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		URL:               DefaultWSURL,
		HandshakeTimeout:  10 * time.Second,
		PingInterval:      10 * time.Second,
		PongWait:          20 * time.Second,
		ReconnectBaseWait: time.Second,
		ReconnectMaxWait:  30 * time.Second,
	}
}

// Config contains all configuration options for a Bitstamp session.
type Config struct {
	BaseURL     string       `json:"base_url" yaml:"base_url" validate:"required,url"`
	Credentials *Credentials `json:"credentials,omitempty" yaml:"credentials"`

	// Timeout is the maximum duration for HTTP requests.
	Timeout time.Duration `json:"timeout" yaml:"timeout" validate:"min=1ms"`

	RateLimitRequests int           `json:"rate_limit_requests" yaml:"rate_limit_requests" validate:"min=1"`
	RateLimitPeriod   time.Duration `json:"rate_limit_period" yaml:"rate_limit_period" validate:"min=1ms"`

	CacheEnabled bool          `json:"cache_enabled" yaml:"cache_enabled"`
	CacheTTL     time.Duration `json:"cache_ttl" yaml:"cache_ttl" validate:"min=0"`

	CircuitBreakerEnabled          bool          `json:"circuit_breaker_enabled" yaml:"circuit_breaker_enabled"`
	CircuitBreakerFailThreshold    int           `json:"circuit_breaker_fail_threshold" yaml:"circuit_breaker_fail_threshold"`
	CircuitBreakerSuccessThreshold int           `json:"circuit_breaker_success_threshold" yaml:"circuit_breaker_success_threshold"`
	CircuitBreakerTimeout          time.Duration `json:"circuit_breaker_timeout" yaml:"circuit_breaker_timeout"`

	Stream StreamConfig `json:"stream" yaml:"stream"`

	LogLevel string `json:"log_level" yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// DefaultConfig returns a Config with production endpoints and Bitstamp's published
// limit of 8000 requests per 10 minutes.
func DefaultConfig() *Config {
	return &Config{
		BaseURL: DefaultBaseURL,
		Timeout: 10 * time.Second,

		RateLimitRequests: 8000,
		RateLimitPeriod:   10 * time.Minute,

		CacheEnabled: true,
		CacheTTL:     1 * time.Second,

		CircuitBreakerEnabled:          true,
		CircuitBreakerFailThreshold:    5,
		CircuitBreakerSuccessThreshold: 2,
		CircuitBreakerTimeout:          30 * time.Second,

		Stream: DefaultStreamConfig(),

		LogLevel: "info",
	}
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.CircuitBreakerEnabled {
		if c.CircuitBreakerFailThreshold <= 0 {
			return errors.New("CircuitBreakerFailThreshold must be positive when enabled")
		}
		if c.CircuitBreakerSuccessThreshold <= 0 {
			return errors.New("CircuitBreakerSuccessThreshold must be positive when enabled")
		}
		if c.CircuitBreakerTimeout <= 0 {
			return errors.New("CircuitBreakerTimeout must be positive when enabled")
		}
	}
	return nil
}

// Level parses LogLevel, falling back to info.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

// WithCredentials sets the API credentials and returns the config for chaining.
func (c *Config) WithCredentials(creds *Credentials) *Config {
	c.Credentials = creds
	return c
}

// WithBaseURL points the REST client at another host, typically an httptest server.
func (c *Config) WithBaseURL(baseURL string) *Config {
	c.BaseURL = baseURL
	return c
}

// WithStreamURL points the streaming client at another endpoint.
func (c *Config) WithStreamURL(wsURL string) *Config {
	c.Stream.URL = wsURL
	return c
}

// WithTimeout sets the request timeout and returns the config for chaining.
func (c *Config) WithTimeout(timeout time.Duration) *Config {
	c.Timeout = timeout
	return c
}

// WithRateLimit sets the rate limiting parameters and returns the config for chaining.
func (c *Config) WithRateLimit(requests int, period time.Duration) *Config {
	c.RateLimitRequests = requests
	c.RateLimitPeriod = period
	return c
}

// WithCache enables or disables caching with the specified TTL and returns the config for chaining.
func (c *Config) WithCache(enabled bool, ttl time.Duration) *Config {
	c.CacheEnabled = enabled
	c.CacheTTL = ttl
	return c
}

// WithCircuitBreaker toggles the REST circuit breaker.
func (c *Config) WithCircuitBreaker(enabled bool) *Config {
	c.CircuitBreakerEnabled = enabled
	return c
}
