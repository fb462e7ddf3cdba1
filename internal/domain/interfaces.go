package domain

import (
	"context"
	"time"
)

// BrokerAPI is the upstream broker's REST surface consumed by the feed
// client and the execution bridge.
type BrokerAPI interface {
	// Authenticate exchanges credentials for a session token. A false
	// return without error means the broker refused the credentials.
	Authenticate(ctx context.Context) (bool, error)

	// CreateSession requests a streaming session id. Requires a valid token.
	CreateSession(ctx context.Context) (string, error)

	// SubscribeQuotes issues the primary REST subscription for the session.
	SubscribeQuotes(ctx context.Context, sessionID string, symbols []string) error

	// SubmitOrder places an order. Rejections come back as an OrderResult
	// with status REJECTED, not as an error.
	SubmitOrder(ctx context.Context, ticket OrderTicket) (*OrderResult, error)

	// CancelOrder cancels a working order by broker id.
	CancelOrder(ctx context.Context, brokerID string) error

	// OrderStatus fetches the current status of a working order.
	OrderStatus(ctx context.Context, brokerID string) (*OrderResult, error)

	// Positions lists open positions for the account.
	Positions(ctx context.Context) ([]Position, error)

	// TokenValid reports whether the current session token is present and
	// not past its expiry.
	TokenValid() bool

	// Token returns the current session token for the stream transport.
	Token() string
}

// AuditLogger is the fire-and-forget activity log collaborator. Failures
// must be swallowed by implementations, never surfaced to the core.
type AuditLogger interface {
	LogEvent(eventType, severity, title, summary string, payload map[string]any, traceID string)
}

// InstrumentSource resolves per-symbol contract metadata.
type InstrumentSource interface {
	GetInstrumentSpec(symbol string) (*InstrumentSpec, error)
}

// BarSource provides historical bars for volume-profile construction.
type BarSource interface {
	GetBars(symbol string, since time.Time) ([]Bar, error)
}

// Clock abstracts wall-clock access and sleeping so backoff and slice
// scheduling are testable without real timers.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is the cancellable handle returned by Clock.AfterFunc.
type Timer interface {
	Stop() bool
}
