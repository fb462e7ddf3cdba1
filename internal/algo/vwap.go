package algo

import (
	"time"

	"futures_go/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// VWAPConfig controls volume-weighted slicing.
type VWAPConfig struct {
	DurationMinutes int
	NumSlices       int
	MinSliceSize    decimal.Decimal
	BucketMinutes   int
}

// NewVWAPOrder allocates totalQty proportionally to the volume profile's
// weight in each slice's time bucket. Matched weights are renormalized
// over the execution window, and the last slice absorbs whatever rounding
// leaves over. Buckets whose allocation rounds to zero after the
// remaining-quantity cap are skipped rather than emitted as empty slices.
func NewVWAPOrder(symbol, side string, totalQty, benchmark decimal.Decimal, cfg VWAPConfig, profile []domain.VolumeProfileBucket, now time.Time) (*domain.AlgoOrder, error) {
	if err := validateSliceRequest(symbol, side, totalQty, cfg.NumSlices, cfg.DurationMinutes); err != nil {
		return nil, err
	}
	bucketMinutes := cfg.BucketMinutes
	if bucketMinutes <= 0 {
		bucketMinutes = DefaultBucketMinutes
	}
	if len(profile) == 0 {
		profile = DefaultProfile(bucketMinutes)
	}

	duration := time.Duration(cfg.DurationMinutes) * time.Minute
	interval := duration / time.Duration(cfg.NumSlices)

	// Match each slice time to its profile bucket and renormalize the
	// matched weights so the window's allocations sum to the full order.
	weights := make([]decimal.Decimal, cfg.NumSlices)
	weightSum := decimal.Zero
	for i := 0; i < cfg.NumSlices; i++ {
		t := now.Add(time.Duration(i) * interval)
		weights[i] = bucketWeight(profile, t, bucketMinutes)
		weightSum = weightSum.Add(weights[i])
	}
	if !weightSum.IsPositive() {
		// Window misses the profile entirely (e.g. overnight); fall back
		// to an even split.
		even := decimal.NewFromInt(1)
		for i := range weights {
			weights[i] = even
		}
		weightSum = even.Mul(decimal.NewFromInt(int64(cfg.NumSlices)))
	}

	order := &domain.AlgoOrder{
		ID:             uuid.NewString(),
		Kind:           domain.AlgoVWAP,
		Symbol:         symbol,
		Side:           side,
		TotalQuantity:  totalQty,
		RemainingQty:   totalQty,
		StartTime:      now,
		EndTime:        now.Add(duration),
		Status:         domain.AlgoStatusPending,
		BenchmarkPrice: benchmark,
		Profile:        profile,
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
			qty = totalQty.Mul(weights[i]).Div(weightSum).Round(0)
			if qty.IsPositive() && qty.LessThan(cfg.MinSliceSize) {
				qty = cfg.MinSliceSize
			}
			if qty.GreaterThan(remaining) {
				qty = remaining
			}
			if !qty.IsPositive() {
				continue // skip zero-allocation buckets
			}
		}

		order.Slices = append(order.Slices, &domain.Slice{
			ID:            uuid.NewString(),
			OrderID:       order.ID,
			Index:         i,
			Quantity:      qty,
			ScheduledTime: now.Add(time.Duration(i) * interval),
			Status:        domain.SliceStatusScheduled,
		})
		remaining = remaining.Sub(qty)
	}

	order.VerifyQuantityInvariant()
	return order, nil
}

// bucketWeight finds the profile weight for the bucket containing t.
func bucketWeight(profile []domain.VolumeProfileBucket, t time.Time, bucketMinutes int) decimal.Decimal {
	hour := t.Hour()
	minute := (t.Minute() / bucketMinutes) * bucketMinutes
	for _, b := range profile {
		if b.Hour == hour && b.Minute == minute {
			return b.Weight
		}
	}
	return decimal.Zero
}
