package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderTicket is a broker order request.
type OrderTicket struct {
	ID       string
	Symbol   string
	Side     string          // "BUY", "SELL"
	Type     string          // "LIMIT", "MARKET"
	Price    decimal.Decimal // limit price, zero for market orders
	Quantity decimal.Decimal
}

// OrderResult is the outcome of a submission attempt. Order-level failures
// are carried as a REJECTED status plus reason, never as a Go error.
type OrderResult struct {
	OrderID    string
	BrokerID   string
	Status     string // "FILLED", "REJECTED"
	FillPrice  decimal.Decimal
	FillTime   time.Time
	Commission decimal.Decimal
	Simulated  bool
	Reason     string // populated on rejection
}

// Position is a broker-reported open position.
type Position struct {
	Symbol   string
	Quantity decimal.Decimal // signed: negative for short
	AvgPrice decimal.Decimal
}

const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	OrderTypeLimit  = "LIMIT"
	OrderTypeMarket = "MARKET"

	OrderStatusFilled   = "FILLED"
	OrderStatusRejected = "REJECTED"
)

// Filled reports whether the submission ended in a fill.
func (r *OrderResult) Filled() bool {
	return r.Status == OrderStatusFilled
}
