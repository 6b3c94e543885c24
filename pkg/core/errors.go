package core

import (
	"errors"
	"fmt"
	"time"
)

// ExchangeName is the value carried in ExchangeError.Exchange for every error raised by this module.
const ExchangeName = "bitstamp"

// ErrorType represents the category of an error raised by the connectivity layer.
type ErrorType int

// Error type constants. Everything from ErrorTypeNetwork to ErrorTypeServerError is a
// transport failure; the rest describe local or payload-level failures.
const (
	// ErrorTypeUnknown indicates an unclassified error.
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeNetwork indicates the request never produced an HTTP response.
	ErrorTypeNetwork
	// ErrorTypeTimeout indicates the request exceeded its deadline.
	ErrorTypeTimeout
	// ErrorTypeRateLimit indicates HTTP 429 or a local limiter rejection.
	ErrorTypeRateLimit
	// ErrorTypeAuthentication indicates a response signature mismatch or unusable credentials.
	ErrorTypeAuthentication
	// ErrorTypeBadRequest indicates a 4xx response not covered by a narrower type.
	ErrorTypeBadRequest
	// ErrorTypeNotFound indicates HTTP 404.
	ErrorTypeNotFound
	// ErrorTypeServerError indicates a 5xx response.
	ErrorTypeServerError
	// ErrorTypeInsufficientFunds indicates the account lacks required balance.
	ErrorTypeInsufficientFunds
	// ErrorTypeInvalidOrder indicates the exchange rejected an order or cancel.
	ErrorTypeInvalidOrder
	// ErrorTypeDecode indicates a frame or body that could not be turned into a domain value.
	ErrorTypeDecode
	// ErrorTypeConnection indicates the streaming connection could not be kept up.
	ErrorTypeConnection
)

var errorTypeNames = [...]string{
	"UNKNOWN",
	"NETWORK",
	"TIMEOUT",
	"RATE_LIMIT",
	"AUTHENTICATION",
	"BAD_REQUEST",
	"NOT_FOUND",
	"SERVER_ERROR",
	"INSUFFICIENT_FUNDS",
	"INVALID_ORDER",
	"DECODE",
	"CONNECTION",
}

// String returns the string representation of the error type.
func (t ErrorType) String() string {
	if t < 0 || int(t) >= len(errorTypeNames) {
		return errorTypeNames[ErrorTypeUnknown]
	}
	return errorTypeNames[t]
}

// IsTransport reports whether the type belongs to the HTTP transport family.
func (t ErrorType) IsTransport() bool {
	return t >= ErrorTypeNetwork && t <= ErrorTypeServerError && t != ErrorTypeAuthentication
}

// Sentinel errors for common error conditions.
var (
	// ErrClientClosed is returned when attempting to use a closed client.
	ErrClientClosed = errors.New("client is closed")
	// ErrStreamStopping is returned when Start races a Stop still in progress.
	ErrStreamStopping = errors.New("stream is stopping")
	// ErrCircuitBreakerOpen is returned when circuit breaker is open.
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
	// ErrNoCredentials is returned when no API credentials are configured.
	ErrNoCredentials = errors.New("no credentials configured")
	// ErrNoAPIKey is returned when the key ring has no usable key.
	ErrNoAPIKey = errors.New("no available API key")
	// ErrNoInstruments is returned when a stream is built without instruments.
	ErrNoInstruments = errors.New("at least one instrument is required")
)

// ExchangeError is the structured error returned by every fallible operation in the module.
type ExchangeError struct {
	// Type categorizes the error for programmatic handling.
	Type ErrorType `json:"type"`
	// StatusCode is the HTTP status code, zero when no response was received.
	StatusCode int `json:"status_code"`
	// Code is the Bitstamp error code or one of the ErrorCode constants.
	Code string `json:"code"`
	// Message is the human-readable error description.
	Message string `json:"message"`
	// RawError holds the response body or the underlying Go error.
	RawError  any       `json:"raw_error,omitempty"`
	Exchange  string    `json:"exchange"`
	Timestamp time.Time `json:"timestamp"`
}

// Error implements the error interface for ExchangeError.
func (e *ExchangeError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("[%s] %s (%d/%s): %s",
			e.Exchange, e.Type, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s (%d): %s",
		e.Exchange, e.Type, e.StatusCode, e.Message)
}

// Unwrap exposes RawError when it is itself an error.
func (e *ExchangeError) Unwrap() error {
	if err, ok := e.RawError.(error); ok {
		return err
	}
	return nil
}

// Body returns RawError as bytes when it holds a response body.
func (e *ExchangeError) Body() []byte {
	switch v := e.RawError.(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	}
	return nil
}

// WithCode sets the error code and returns the receiver.
func (e *ExchangeError) WithCode(code ErrorCode) *ExchangeError {
	e.Code = string(code)
	return e
}

// WithRaw attaches the raw body or cause and returns the receiver.
func (e *ExchangeError) WithRaw(raw any) *ExchangeError {
	e.RawError = raw
	return e
}

// NewExchangeError creates a new ExchangeError stamped with the current time.
func NewExchangeError(errorType ErrorType, statusCode int, message string) *ExchangeError {
	return &ExchangeError{
		Type:       errorType,
		StatusCode: statusCode,
		Message:    message,
		Exchange:   ExchangeName,
		Timestamp:  time.Now(),
	}
}

// NewDecodeError reports a frame that is missing a field or holds an unparseable value.
func NewDecodeError(format string, args ...any) *ExchangeError {
	return NewExchangeError(ErrorTypeDecode, 0, fmt.Sprintf(format, args...)).WithCode(ErrCodeDecode)
}

func typeOf(err error) (ErrorType, bool) {
	var e *ExchangeError
	if errors.As(err, &e) {
		return e.Type, true
	}
	return ErrorTypeUnknown, false
}

// IsNetworkError returns true if the error is a network connectivity issue.
func IsNetworkError(err error) bool {
	t, ok := typeOf(err)
	return ok && t == ErrorTypeNetwork
}

// IsTimeoutError returns true if the error is a timeout.
func IsTimeoutError(err error) bool {
	t, ok := typeOf(err)
	return ok && t == ErrorTypeTimeout
}

// IsRateLimitError returns true if the error is a rate limit violation.
func IsRateLimitError(err error) bool {
	t, ok := typeOf(err)
	return ok && t == ErrorTypeRateLimit
}

// IsAuthenticationError returns true for signature mismatches and credential failures.
func IsAuthenticationError(err error) bool {
	t, ok := typeOf(err)
	return ok && t == ErrorTypeAuthentication
}

// IsTransportError returns true for any failure of the HTTP exchange itself:
// no response, timeout, or a non-2xx status.
func IsTransportError(err error) bool {
	t, ok := typeOf(err)
	return ok && t.IsTransport()
}

// IsDecodeError returns true if a payload could not be decoded.
func IsDecodeError(err error) bool {
	t, ok := typeOf(err)
	return ok && t == ErrorTypeDecode
}

// IsConnectionError returns true if the stream gave up reconnecting.
func IsConnectionError(err error) bool {
	t, ok := typeOf(err)
	return ok && t == ErrorTypeConnection
}

// IsTerminalError returns true if retrying the same request cannot succeed.
func IsTerminalError(err error) bool {
	t, ok := typeOf(err)
	return ok && (t == ErrorTypeInsufficientFunds ||
		t == ErrorTypeInvalidOrder ||
		t == ErrorTypeNotFound ||
		t == ErrorTypeAuthentication)
}
