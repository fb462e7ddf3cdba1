package algo

import (
	"fmt"
	"math/rand"
	"time"

	"futures_go/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TWAPConfig controls time-weighted slicing.
type TWAPConfig struct {
	DurationMinutes int
	NumSlices       int
	MinSliceSize    decimal.Decimal
	RandomizeTiming bool // jitter non-first slices by up to ±20% of the interval
	RandomizeSize   bool // scale non-final slices to 80-120% of the even split
}

const (
	sizeJitter   = 0.20 // ±20% around the even split
	timingJitter = 0.20 // ±20% of the slice interval
)

// NewTWAPOrder divides totalQty across equal time intervals. The final
// slice always takes the exact remaining quantity, so the slice quantities
// conserve the total regardless of rounding or randomization.
func NewTWAPOrder(symbol, side string, totalQty, benchmark decimal.Decimal, cfg TWAPConfig, now time.Time, rng *rand.Rand) (*domain.AlgoOrder, error) {
	if err := validateSliceRequest(symbol, side, totalQty, cfg.NumSlices, cfg.DurationMinutes); err != nil {
		return nil, err
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(now.UnixNano()))
	}

	duration := time.Duration(cfg.DurationMinutes) * time.Minute
	interval := duration / time.Duration(cfg.NumSlices)
	base := totalQty.Div(decimal.NewFromInt(int64(cfg.NumSlices))).Round(0)

	order := &domain.AlgoOrder{
		ID:             uuid.NewString(),
		Kind:           domain.AlgoTWAP,
		Symbol:         symbol,
		Side:           side,
		TotalQuantity:  totalQty,
		RemainingQty:   totalQty,
		StartTime:      now,
		EndTime:        now.Add(duration),
		Status:         domain.AlgoStatusPending,
		BenchmarkPrice: benchmark,
	}

	remaining := totalQty
	for i := 0; i < cfg.NumSlices; i++ {
		if !remaining.IsPositive() {
			break
		}

		var qty decimal.Decimal
		if i == cfg.NumSlices-1 {
			qty = remaining
		} else {
			qty = base
			if cfg.RandomizeSize {
				factor := 1 - sizeJitter + 2*sizeJitter*rng.Float64()
				qty = base.Mul(decimal.NewFromFloat(factor)).Round(0)
			}
			if qty.LessThan(cfg.MinSliceSize) {
				qty = cfg.MinSliceSize
			}
			if qty.GreaterThan(remaining) {
				qty = remaining
			}
			if !qty.IsPositive() {
				continue
			}
		}

		scheduled := now.Add(time.Duration(i) * interval)
		if cfg.RandomizeTiming && i > 0 {
			jitter := time.Duration((2*rng.Float64() - 1) * timingJitter * float64(interval))
			scheduled = scheduled.Add(jitter)
		}

		order.Slices = append(order.Slices, &domain.Slice{
			ID:            uuid.NewString(),
			OrderID:       order.ID,
			Index:         i,
			Quantity:      qty,
			ScheduledTime: scheduled,
			Status:        domain.SliceStatusScheduled,
		})
		remaining = remaining.Sub(qty)
	}

	order.VerifyQuantityInvariant()
	return order, nil
}

func validateSliceRequest(symbol, side string, totalQty decimal.Decimal, numSlices, durationMinutes int) error {
	if symbol == "" {
		return domain.ErrInvalidSymbol
	}
	if side != domain.SideBuy && side != domain.SideSell {
		return fmt.Errorf("invalid side %q", side)
	}
	if !totalQty.IsPositive() {
		return fmt.Errorf("total quantity must be positive, got %s", totalQty)
	}
	if numSlices <= 0 {
		return fmt.Errorf("numSlices must be positive, got %d", numSlices)
	}
	if durationMinutes <= 0 {
		return fmt.Errorf("durationMinutes must be positive, got %d", durationMinutes)
	}
	return nil
}
