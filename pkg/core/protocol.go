package core

import "context"

// Protocol turns operations into REST requests and raw response bodies into domain
// values. It does no I/O; the exchange client pairs it with a transport.
type Protocol interface {
	// Name returns the exchange identifier.
	Name() string

	// Version returns the API version being used.
	Version() string

	// BuildRequest constructs the request for an operation from its parameters.
	BuildRequest(ctx context.Context, op Operation, params Params) (*Request, error)

	// ParseResponse decodes a successful response body for the operation.
	ParseResponse(op Operation, body []byte) (any, error)

	// SupportedOperations returns the list of operations this protocol supports.
	SupportedOperations() []Operation
}
