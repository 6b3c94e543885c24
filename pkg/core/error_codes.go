package core

import "errors"

// ErrorCode is a stable, machine-readable error identifier. Bitstamp's own codes
// (for example "API0005") are carried verbatim in ExchangeError.Code instead.
type ErrorCode string

const (
	ErrCodeNetwork           ErrorCode = "NETWORK_ERROR"
	ErrCodeTimeout           ErrorCode = "TIMEOUT"
	ErrCodeRateLimit         ErrorCode = "RATE_LIMIT"
	ErrCodeBadRequest        ErrorCode = "BAD_REQUEST"
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeServerError       ErrorCode = "SERVER_ERROR"
	ErrCodeInsufficientFunds ErrorCode = "INSUFFICIENT_FUNDS"
	ErrCodeInvalidOrder      ErrorCode = "INVALID_ORDER"
	ErrCodeInvalidSymbol     ErrorCode = "INVALID_SYMBOL"

	// Configuration errors
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"

	// Client state errors
	ErrCodeClientClosed ErrorCode = "CLIENT_CLOSED"
	ErrCodeInvalidState ErrorCode = "INVALID_STATE"

	// Stream errors
	ErrCodeReconnectExhausted ErrorCode = "RECONNECT_EXHAUSTED"

	// Payload errors
	ErrCodeDecode ErrorCode = "DECODE_ERROR"

	// Circuit breaker errors
	ErrCodeCircuitBreaker ErrorCode = "CIRCUIT_BREAKER_OPEN"

	// Authentication errors
	ErrCodeSignatureMismatch ErrorCode = "SIGNATURE_MISMATCH"
	ErrCodeNoCredentials     ErrorCode = "NO_CREDENTIALS"
	ErrCodeNoAPIKey          ErrorCode = "NO_API_KEY"

	ErrCodeUnsupported ErrorCode = "UNSUPPORTED_METHOD"
)

// IsErrorCode checks if the error matches the specified error code.
func IsErrorCode(err error, code ErrorCode) bool {
	var exErr *ExchangeError
	if errors.As(err, &exErr) {
		return ErrorCode(exErr.Code) == code
	}
	return false
}
