// Package algo implements the TWAP and VWAP order slicing algorithms:
// pure scheduling and quantity-allocation logic plus post-hoc execution
// quality metrics. Timer-driven execution lives in the execution bridge.
package algo

import (
	"fmt"
	"time"

	"futures_go/internal/domain"

	"github.com/shopspring/decimal"
)

// ExecuteSlice records a fill for one slice and folds it into the parent
// order's accounting: executed/remaining quantities, the incrementally
// recomputed volume-weighted average fill price, signed slippage versus
// the benchmark, and the PENDING -> EXECUTING -> COMPLETED transitions.
// marketVolume is the traded market volume matched to the slice window
// (used later for participation), and may be zero.
func ExecuteSlice(order *domain.AlgoOrder, sliceID string, fillPrice decimal.Decimal, fillTime time.Time, marketVolume decimal.Decimal) error {
	if order == nil {
		return domain.ErrUnknownOrder
	}
	if order.Terminal() {
		return fmt.Errorf("%w: %s is %s", domain.ErrOrderTerminal, order.ID, order.Status)
	}

	slice := order.SliceByID(sliceID)
	if slice == nil {
		return fmt.Errorf("%w: %s on order %s", domain.ErrUnknownSlice, sliceID, order.ID)
	}
	if slice.Status == domain.SliceStatusFilled || slice.Status == domain.SliceStatusFailed {
		return fmt.Errorf("slice %s already terminal (%s)", sliceID, slice.Status)
	}

	prevExecuted := order.ExecutedQty

	slice.Status = domain.SliceStatusFilled
	slice.FillPrice = fillPrice
	slice.FillTime = fillTime
	slice.MarketVolume = marketVolume

	order.ExecutedQty = order.ExecutedQty.Add(slice.Quantity)
	order.RemainingQty = order.TotalQuantity.Sub(order.ExecutedQty)

	// Incremental volume-weighted average fill.
	notional := order.AvgFillPrice.Mul(prevExecuted).Add(fillPrice.Mul(slice.Quantity))
	order.AvgFillPrice = notional.Div(order.ExecutedQty)

	order.Slippage = slippageVs(order.AvgFillPrice, order.BenchmarkPrice, order.Side)

	if order.Status == domain.AlgoStatusPending {
		order.Status = domain.AlgoStatusExecuting
	}
	if !order.RemainingQty.IsPositive() {
		order.RemainingQty = decimal.Zero
		order.Status = domain.AlgoStatusCompleted
	}

	order.VerifyQuantityInvariant()
	return nil
}

// MarkSliceExecuting flips a scheduled slice into EXECUTING ahead of
// submission.
func MarkSliceExecuting(order *domain.AlgoOrder, sliceID string) error {
	slice := order.SliceByID(sliceID)
	if slice == nil {
		return fmt.Errorf("%w: %s on order %s", domain.ErrUnknownSlice, sliceID, order.ID)
	}
	if slice.Status != domain.SliceStatusScheduled {
		return fmt.Errorf("slice %s not schedulable (%s)", sliceID, slice.Status)
	}
	slice.Status = domain.SliceStatusExecuting
	if order.Status == domain.AlgoStatusPending {
		order.Status = domain.AlgoStatusExecuting
	}
	return nil
}

// MarkSliceFailed abandons a slice after retries are exhausted. The
// parent stays EXECUTING with a reduced achievable fill.
func MarkSliceFailed(order *domain.AlgoOrder, sliceID string) error {
	slice := order.SliceByID(sliceID)
	if slice == nil {
		return fmt.Errorf("%w: %s on order %s", domain.ErrUnknownSlice, sliceID, order.ID)
	}
	if slice.Status == domain.SliceStatusFilled {
		return fmt.Errorf("slice %s already filled", sliceID)
	}
	slice.Status = domain.SliceStatusFailed
	if order.Status == domain.AlgoStatusPending {
		order.Status = domain.AlgoStatusExecuting
	}
	return nil
}

// Cancel moves a non-terminal order to CANCELLED. Terminal orders are
// left untouched and reported as such.
func Cancel(order *domain.AlgoOrder) error {
	if order == nil {
		return domain.ErrUnknownOrder
	}
	if order.Terminal() {
		return fmt.Errorf("%w: %s is %s", domain.ErrOrderTerminal, order.ID, order.Status)
	}
	order.Status = domain.AlgoStatusCancelled
	return nil
}

// slippageVs computes (fill - benchmark) / benchmark, sign-flipped for
// SELL so that positive always means adverse.
func slippageVs(fill, benchmark decimal.Decimal, side string) decimal.Decimal {
	if !benchmark.IsPositive() {
		return decimal.Zero
	}
	slip := fill.Sub(benchmark).Div(benchmark)
	if side == domain.SideSell {
		slip = slip.Neg()
	}
	return slip
}

// ExecutionQuality is the post-hoc report for a sliced order.
type ExecutionQuality struct {
	OrderID           string          `json:"order_id"`
	Kind              domain.AlgoKind `json:"kind"`
	Slippage          decimal.Decimal `json:"slippage"`
	VolWeightedSlip   decimal.Decimal `json:"volume_weighted_slippage"`
	ParticipationRate decimal.Decimal `json:"participation_rate"`
	CompletionRate    decimal.Decimal `json:"completion_rate"`
	AvgFillPrice      decimal.Decimal `json:"avg_fill_price"`
	ExecutedQty       decimal.Decimal `json:"executed_quantity"`
}

// Quality computes execution-quality metrics for an order at any point in
// its lifecycle.
func Quality(order *domain.AlgoOrder) ExecutionQuality {
	q := ExecutionQuality{
		OrderID:      order.ID,
		Kind:         order.Kind,
		Slippage:     order.Slippage,
		AvgFillPrice: order.AvgFillPrice,
		ExecutedQty:  order.ExecutedQty,
	}

	if len(order.Slices) > 0 {
		q.CompletionRate = decimal.NewFromInt(int64(order.FilledSlices())).
			Div(decimal.NewFromInt(int64(len(order.Slices))))
	}

	marketVolume := decimal.Zero
	weightedSlip := decimal.Zero
	for _, s := range order.Slices {
		if s.Status != domain.SliceStatusFilled {
			continue
		}
		marketVolume = marketVolume.Add(s.MarketVolume)
		weightedSlip = weightedSlip.Add(slippageVs(s.FillPrice, order.BenchmarkPrice, order.Side).Mul(s.Quantity))
	}
	if marketVolume.IsPositive() {
		q.ParticipationRate = order.ExecutedQty.Div(marketVolume)
	}
	if order.ExecutedQty.IsPositive() {
		q.VolWeightedSlip = weightedSlip.Div(order.ExecutedQty)
	}
	return q
}
