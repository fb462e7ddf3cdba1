package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AlgoKind distinguishes the two slicing algorithms.
type AlgoKind string

const (
	AlgoTWAP AlgoKind = "TWAP"
	AlgoVWAP AlgoKind = "VWAP"
)

// AlgoOrder statuses. PENDING -> EXECUTING -> COMPLETED is the only forward
// path; CANCELLED is reachable from any non-terminal status. COMPLETED and
// CANCELLED are terminal.
const (
	AlgoStatusPending   = "PENDING"
	AlgoStatusExecuting = "EXECUTING"
	AlgoStatusCompleted = "COMPLETED"
	AlgoStatusCancelled = "CANCELLED"
)

// Slice statuses. FILLED and FAILED are terminal.
const (
	SliceStatusScheduled = "SCHEDULED"
	SliceStatusExecuting = "EXECUTING"
	SliceStatusFilled    = "FILLED"
	SliceStatusFailed    = "FAILED"
)

// Slice is one scheduled child order of an AlgoOrder.
type Slice struct {
	ID            string          `json:"id"`
	OrderID       string          `json:"order_id"`
	Index         int             `json:"index"` // bucket index for VWAP
	Quantity      decimal.Decimal `json:"quantity"`
	ScheduledTime time.Time       `json:"scheduled_time"`
	Status        string          `json:"status"`
	FillPrice     decimal.Decimal `json:"fill_price"`
	FillTime      time.Time       `json:"fill_time"`
	MarketVolume  decimal.Decimal `json:"market_volume"` // traded volume matched to the slice window
}

// AlgoOrder is a parent order sliced by TWAP or VWAP scheduling.
type AlgoOrder struct {
	ID             string                `json:"id"`
	Kind           AlgoKind              `json:"kind"`
	Symbol         string                `json:"symbol"`
	Side           string                `json:"side"`
	TotalQuantity  decimal.Decimal       `json:"total_quantity"`
	ExecutedQty    decimal.Decimal       `json:"executed_quantity"`
	RemainingQty   decimal.Decimal       `json:"remaining_quantity"`
	Slices         []*Slice              `json:"slices"`
	StartTime      time.Time             `json:"start_time"`
	EndTime        time.Time             `json:"end_time"`
	Status         string                `json:"status"`
	AvgFillPrice   decimal.Decimal       `json:"avg_fill_price"`
	BenchmarkPrice decimal.Decimal       `json:"benchmark_price"`
	Slippage       decimal.Decimal       `json:"slippage"`          // signed, relative to benchmark
	Profile        []VolumeProfileBucket `json:"profile,omitempty"` // VWAP only
}

// VolumeProfileBucket is one time-of-day bucket of a symbol's intraday
// volume distribution. Weights across a profile sum to 1.0.
type VolumeProfileBucket struct {
	Hour       int             `json:"hour"`
	Minute     int             `json:"minute"` // floored to the bucket width
	Weight     decimal.Decimal `json:"weight"`
	Cumulative decimal.Decimal `json:"cumulative"`
}

// Terminal reports whether the order can no longer transition.
func (o *AlgoOrder) Terminal() bool {
	return o.Status == AlgoStatusCompleted || o.Status == AlgoStatusCancelled
}

// VerifyQuantityInvariant panics if executed + remaining drifts from total.
// Drift indicates a programming error in slice accounting, not a runtime
// condition, so it fails fast.
func (o *AlgoOrder) VerifyQuantityInvariant() {
	if !o.ExecutedQty.Add(o.RemainingQty).Equal(o.TotalQuantity) {
		panic(fmt.Sprintf("ALGO_QTY_INVARIANT: order %s executed=%s remaining=%s total=%s",
			o.ID, o.ExecutedQty, o.RemainingQty, o.TotalQuantity))
	}
}

// SliceByID returns the slice with the given id, or nil.
func (o *AlgoOrder) SliceByID(sliceID string) *Slice {
	for _, s := range o.Slices {
		if s.ID == sliceID {
			return s
		}
	}
	return nil
}

// FilledSlices counts slices in terminal FILLED state.
func (o *AlgoOrder) FilledSlices() int {
	n := 0
	for _, s := range o.Slices {
		if s.Status == SliceStatusFilled {
			n++
		}
	}
	return n
}
