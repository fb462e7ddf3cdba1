package algo_test

import (
	"math/rand"
	"testing"
	"time"

	"futures_go/internal/algo"
	"futures_go/internal/domain"

	"github.com/shopspring/decimal"
)

func TestNewTWAPOrder_EvenSplit(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	cfg := algo.TWAPConfig{
		DurationMinutes: 30,
		NumSlices:       10,
	}

	order, err := algo.NewTWAPOrder("ESZ6", domain.SideBuy, decimal.NewFromInt(100),
		decimal.NewFromFloat(5000.25), cfg, now, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("NewTWAPOrder: %v", err)
	}

	if order.Kind != domain.AlgoTWAP {
		t.Errorf("kind: got %s", order.Kind)
	}
	if order.Status != domain.AlgoStatusPending {
		t.Errorf("status: got %s", order.Status)
	}
	if len(order.Slices) != 10 {
		t.Fatalf("expected 10 slices, got %d", len(order.Slices))
	}

	ten := decimal.NewFromInt(10)
	for i, s := range order.Slices {
		if !s.Quantity.Equal(ten) {
			t.Errorf("slice %d: expected qty 10, got %s", i, s.Quantity)
		}
		expected := now.Add(time.Duration(i) * 3 * time.Minute)
		if !s.ScheduledTime.Equal(expected) {
			t.Errorf("slice %d: expected %v, got %v", i, expected, s.ScheduledTime)
		}
		if s.Status != domain.SliceStatusScheduled {
			t.Errorf("slice %d: status %s", i, s.Status)
		}
	}
}

func TestNewTWAPOrder_RandomizedConservesTotal(t *testing.T) {
	now := time.Now()
	cfg := algo.TWAPConfig{
		DurationMinutes: 60,
		NumSlices:       12,
		MinSliceSize:    decimal.NewFromInt(2),
		RandomizeTiming: true,
		RandomizeSize:   true,
	}
	total := decimal.NewFromInt(97)

	for seed := int64(0); seed < 20; seed++ {
		order, err := algo.NewTWAPOrder("ESZ6", domain.SideSell, total,
			decimal.NewFromInt(5000), cfg, now, rand.New(rand.NewSource(seed)))
		if err != nil {
			t.Fatalf("seed %d: %v", seed, err)
		}

		sum := decimal.Zero
		for i, s := range order.Slices {
			sum = sum.Add(s.Quantity)
			if i < len(order.Slices)-1 && s.Quantity.LessThan(cfg.MinSliceSize) {
				t.Errorf("seed %d slice %d below min size: %s", seed, i, s.Quantity)
			}
		}
		if !sum.Equal(total) {
			t.Errorf("seed %d: slices sum %s, want %s", seed, sum, total)
		}

		// First slice fires at the start time, unjittered.
		if !order.Slices[0].ScheduledTime.Equal(now) {
			t.Errorf("seed %d: first slice jittered to %v", seed, order.Slices[0].ScheduledTime)
		}

		interval := 5 * time.Minute
		for i, s := range order.Slices[1:] {
			nominal := now.Add(time.Duration(i+1) * interval)
			drift := s.ScheduledTime.Sub(nominal)
			if drift < 0 {
				drift = -drift
			}
			if drift > interval/5 {
				t.Errorf("seed %d slice %d drift %v exceeds 20%% of interval", seed, i+1, drift)
			}
		}
	}
}

func TestNewTWAPOrder_Validation(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name   string
		symbol string
		side   string
		qty    decimal.Decimal
		cfg    algo.TWAPConfig
	}{
		{"empty symbol", "", domain.SideBuy, decimal.NewFromInt(10), algo.TWAPConfig{DurationMinutes: 10, NumSlices: 2}},
		{"bad side", "ESZ6", "HOLD", decimal.NewFromInt(10), algo.TWAPConfig{DurationMinutes: 10, NumSlices: 2}},
		{"zero quantity", "ESZ6", domain.SideBuy, decimal.Zero, algo.TWAPConfig{DurationMinutes: 10, NumSlices: 2}},
		{"zero slices", "ESZ6", domain.SideBuy, decimal.NewFromInt(10), algo.TWAPConfig{DurationMinutes: 10}},
		{"zero duration", "ESZ6", domain.SideBuy, decimal.NewFromInt(10), algo.TWAPConfig{NumSlices: 2}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := algo.NewTWAPOrder(tc.symbol, tc.side, tc.qty, decimal.Zero, tc.cfg, now, nil); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestNewTWAPOrder_SmallQuantityFewerSlices(t *testing.T) {
	// 3 contracts across 10 requested slices: the min-size floor consumes
	// the total early and the schedule ends short.
	cfg := algo.TWAPConfig{
		DurationMinutes: 10,
		NumSlices:       10,
		MinSliceSize:    decimal.NewFromInt(1),
	}
	order, err := algo.NewTWAPOrder("ESZ6", domain.SideBuy, decimal.NewFromInt(3),
		decimal.NewFromInt(5000), cfg, time.Now(), rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("NewTWAPOrder: %v", err)
	}

	sum := decimal.Zero
	for _, s := range order.Slices {
		if !s.Quantity.IsPositive() {
			t.Errorf("zero-quantity slice emitted")
		}
		sum = sum.Add(s.Quantity)
	}
	if !sum.Equal(decimal.NewFromInt(3)) {
		t.Errorf("slices sum %s, want 3", sum)
	}
	if len(order.Slices) > 10 {
		t.Errorf("more slices than requested: %d", len(order.Slices))
	}
}
