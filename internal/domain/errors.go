package domain

import "errors"

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a transport-level error that may be retriable
type NetworkError struct {
	Op        string // Operation that failed (e.g., "dial", "read", "subscribe")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// EntitlementError marks symbols the account has no market-data rights for.
// It is never retriable: affected symbols stay excluded until restart.
type EntitlementError struct {
	Symbols []string
}

func (e *EntitlementError) Error() string {
	msg := "not entitled"
	for i, s := range e.Symbols {
		if i == 0 {
			msg += ": " + s
		} else {
			msg += ", " + s
		}
	}
	return msg
}

func (e *EntitlementError) IsRetriable() bool {
	return false
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	// ErrAuthExpired is returned when the broker rejects a request with an
	// expired or invalid session token.
	ErrAuthExpired = errors.New("auth token expired")

	// ErrNotConnected is returned when an operation requires a live session.
	ErrNotConnected = errors.New("not connected")

	// ErrUnknownOrder indicates a caller bug: an order id that was never
	// created or has been cancelled. Fail fast, do not retry.
	ErrUnknownOrder = errors.New("unknown order id")

	// ErrUnknownSlice indicates a slice id not belonging to the order.
	ErrUnknownSlice = errors.New("unknown slice id")

	// ErrOrderTerminal is returned when mutating a COMPLETED/CANCELLED order.
	ErrOrderTerminal = errors.New("order is terminal")

	// ErrInvalidSymbol is returned when a symbol is not supported or malformed.
	ErrInvalidSymbol = errors.New("invalid symbol")
)
