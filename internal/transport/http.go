// Package transport executes public and signed private REST calls against Bitstamp.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"

	"github.com/webclinic017/trading-tools-2/internal/auth"
	"github.com/webclinic017/trading-tools-2/internal/circuitbreaker"
	httpclient "github.com/webclinic017/trading-tools-2/internal/http"
	"github.com/webclinic017/trading-tools-2/internal/keyring"
	"github.com/webclinic017/trading-tools-2/internal/ratelimit"
	"github.com/webclinic017/trading-tools-2/pkg/core"
)

// Response represents an HTTP response with its status code, body, and headers.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// IsSuccess returns true if the response status code indicates success (2xx).
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// IsError returns true if the response status code indicates an error (4xx or 5xx).
func (r *Response) IsError() bool {
	return r.StatusCode >= http.StatusBadRequest
}

// Unmarshal parses the response body into the provided value using sonic.
func (r *Response) Unmarshal(v any) error {
	return sonic.Unmarshal(r.Body, v)
}

// Transport owns the HTTP client and signs private calls. It never retries; the
// caller decides what to do with a failure.
type Transport struct {
	client    *httpclient.Client
	authority string
	signer    *auth.Signer
	keys      *keyring.KeyRing
	limiter   *ratelimit.RateLimiter
	breaker   *circuitbreaker.Breaker
	logger    zerolog.Logger
}

type Option func(*Transport)

// WithSigner signs private calls with s instead of the config credentials.
func WithSigner(s *auth.Signer) Option {
	return func(t *Transport) {
		t.signer = s
	}
}

// WithKeyRing signs private calls with the ring's current key and reports failures
// back to it. It takes precedence over a single signer.
func WithKeyRing(k *keyring.KeyRing) Option {
	return func(t *Transport) {
		t.keys = k
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// New validates the config and builds a transport. Credentials are optional; without
// them only GetPublic works.
func New(config *core.Config, opts ...Option) (*Transport, error) {
	if err := config.Validate(); err != nil {
		return nil, core.NewExchangeError(core.ErrorTypeUnknown, 0, err.Error()).
			WithCode(core.ErrCodeInvalidConfig).
			WithRaw(err)
	}

	base, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	client, err := httpclient.NewClient(&httpclient.Config{
		BaseURL: strings.TrimRight(config.BaseURL, "/"),
		Timeout: config.Timeout,
		Headers: defaultHeaders,
	})
	if err != nil {
		return nil, err
	}

	t := &Transport{
		client:    client,
		authority: base.Host,
		limiter:   ratelimit.New(config.RateLimitRequests, config.RateLimitPeriod),
		logger:    zerolog.Nop(),
	}
	if config.CircuitBreakerEnabled {
		t.breaker = circuitbreaker.New(circuitbreaker.FromConfig(config))
	}
	if config.Credentials != nil {
		signer, err := auth.NewSigner(*config.Credentials)
		if err != nil {
			return nil, err
		}
		t.signer = signer
	}

	for _, opt := range opts {
		opt(t)
	}
	client.SetLogger(t.logger)

	return t, nil
}

var defaultHeaders = map[string]string{
	"Accept":     "application/json",
	"User-Agent": userAgent,
}

const userAgent = "trading-tools-bitstamp/2"

// Close releases the underlying HTTP client.
func (t *Transport) Close() error {
	return t.client.Close()
}

// HasCredentials reports whether private calls can be signed.
func (t *Transport) HasCredentials() bool {
	return t.signer != nil || (t.keys != nil && t.keys.Current() != nil)
}

// SignatureURL is the string signed for path: the base URL without scheme, a single
// slash and the path, e.g. "www.bitstamp.net/api/v2/balance/".
func (t *Transport) SignatureURL(path string) string {
	return t.authority + "/" + strings.TrimLeft(path, "/")
}

// GetPublic performs an unauthenticated GET. Non-2xx responses are transport errors.
func (t *Transport) GetPublic(ctx context.Context, path string) (*Response, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, limiterError(err)
	}
	if err := t.allow(); err != nil {
		return nil, err
	}

	resp, err := t.client.Get(ctx, "/"+strings.TrimLeft(path, "/"))
	if err != nil {
		t.record(false)
		return nil, requestError(err)
	}

	out := toResponse(resp.StatusCode(), resp.Bytes(), resp.Header())
	t.record(out.StatusCode < http.StatusInternalServerError)
	if !out.IsSuccess() {
		return nil, statusError(out)
	}
	return out, nil
}

// CallPrivate signs and POSTs payload to path, then verifies the response signature.
// A response whose X-Server-Auth-Signature does not match is an authentication
// error even when the status is 2xx.
func (t *Transport) CallPrivate(ctx context.Context, path string, payload url.Values) (*Response, error) {
	signer, keyID, err := t.nextSigner()
	if err != nil {
		return nil, err
	}

	if err := t.limiter.WaitKey(ctx, signer.APIKey()); err != nil {
		return nil, limiterError(err)
	}
	if err := t.allow(); err != nil {
		return nil, err
	}

	body := payload.Encode()
	contentType := ""
	if body != "" {
		contentType = auth.ContentTypeForm
	}

	signed := signer.Sign(http.MethodPost, t.SignatureURL(path), contentType, body)

	resp, err := t.client.Post(ctx, "/"+strings.TrimLeft(path, "/"), []byte(body),
		httpclient.WithHeaders(signed.Headers()))
	if err != nil {
		t.record(false)
		return nil, t.fail(keyID, requestError(err))
	}

	out := toResponse(resp.StatusCode(), resp.Bytes(), resp.Header())
	t.record(out.StatusCode < http.StatusInternalServerError)
	if !out.IsSuccess() {
		return nil, t.fail(keyID, statusError(out))
	}

	claimed := out.Headers.Get(auth.HeaderServerSignature)
	if !signer.Verify(signed.Nonce, signed.Timestamp, out.Headers.Get("Content-Type"), out.Body, claimed) {
		t.logger.Warn().
			Str("path", path).
			Int("status", out.StatusCode).
			Msg("response signature mismatch")
		return nil, t.fail(keyID, core.NewExchangeError(core.ErrorTypeAuthentication, out.StatusCode,
			"response signature mismatch").
			WithCode(core.ErrCodeSignatureMismatch).
			WithRaw(out.Body))
	}

	return out, nil
}

func (t *Transport) nextSigner() (*auth.Signer, string, error) {
	if t.keys != nil {
		key, err := t.keys.Next()
		if err != nil {
			return nil, "", err
		}
		return key.Signer, key.ID, nil
	}
	if t.signer == nil {
		return nil, "", core.NewExchangeError(core.ErrorTypeAuthentication, 0, core.ErrNoCredentials.Error()).
			WithCode(core.ErrCodeNoCredentials).
			WithRaw(core.ErrNoCredentials)
	}
	return t.signer, t.signer.APIKey(), nil
}

func (t *Transport) fail(keyID string, err error) error {
	if t.keys != nil && (core.IsRateLimitError(err) || core.IsAuthenticationError(err)) {
		t.keys.OnError(keyID, err)
	}
	return err
}

func (t *Transport) allow() error {
	if t.breaker != nil && !t.breaker.Allow() {
		return core.NewExchangeError(core.ErrorTypeServerError, 0, core.ErrCircuitBreakerOpen.Error()).
			WithCode(core.ErrCodeCircuitBreaker).
			WithRaw(core.ErrCircuitBreakerOpen)
	}
	return nil
}

func (t *Transport) record(success bool) {
	if t.breaker != nil {
		t.breaker.Record(success)
	}
}

func toResponse(status int, body []byte, headers http.Header) *Response {
	return &Response{
		StatusCode: status,
		Body:       body,
		Headers:    headers,
	}
}

func limiterError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return core.NewExchangeError(core.ErrorTypeTimeout, 0, "rate limiter wait exceeded deadline").
			WithCode(core.ErrCodeTimeout).
			WithRaw(err)
	}
	return core.NewExchangeError(core.ErrorTypeRateLimit, 0, err.Error()).
		WithCode(core.ErrCodeRateLimit).
		WithRaw(err)
}

func requestError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return core.NewExchangeError(core.ErrorTypeTimeout, 0, err.Error()).
			WithCode(core.ErrCodeTimeout).
			WithRaw(err)
	}
	return core.NewExchangeError(core.ErrorTypeNetwork, 0, err.Error()).
		WithCode(core.ErrCodeNetwork).
		WithRaw(err)
}

// errorBody is the shape Bitstamp uses for failures, e.g.
// {"status":"error","reason":"Invalid signature","code":"API0005"}.
type errorBody struct {
	Status string `json:"status"`
	Reason any    `json:"reason"`
	Code   string `json:"code"`
}

func statusError(resp *Response) error {
	errType, code := classifyStatus(resp.StatusCode)

	msg := http.StatusText(resp.StatusCode)
	var eb errorBody
	if err := sonic.Unmarshal(resp.Body, &eb); err == nil {
		if eb.Code != "" {
			code = core.ErrorCode(eb.Code)
		}
		if eb.Reason != nil {
			msg = fmt.Sprint(eb.Reason)
		}
	}

	return core.NewExchangeError(errType, resp.StatusCode, msg).
		WithCode(code).
		WithRaw(resp.Body)
}

func classifyStatus(status int) (core.ErrorType, core.ErrorCode) {
	switch {
	case status == http.StatusTooManyRequests:
		return core.ErrorTypeRateLimit, core.ErrCodeRateLimit
	case status == http.StatusNotFound:
		return core.ErrorTypeNotFound, core.ErrCodeNotFound
	case status >= http.StatusInternalServerError:
		return core.ErrorTypeServerError, core.ErrCodeServerError
	default:
		return core.ErrorTypeBadRequest, core.ErrCodeBadRequest
	}
}
