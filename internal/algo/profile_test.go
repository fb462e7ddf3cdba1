package algo_test

import (
	"errors"
	"testing"
	"time"

	"futures_go/internal/algo"
	"futures_go/internal/domain"

	"github.com/shopspring/decimal"
)

func TestBuildVolumeProfile(t *testing.T) {
	day1 := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)

	var bars []domain.Bar
	add := func(day time.Time, hour, minute int, volume int64) {
		bars = append(bars, domain.Bar{
			Symbol:   "ES",
			OpenTime: day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute),
			Volume:   decimal.NewFromInt(volume),
		})
	}

	// 09:30 bucket averages 600 per bar against 200 in the 10:00 bucket.
	add(day1, 9, 30, 600)
	add(day1, 9, 45, 600)
	add(day1, 10, 0, 200)
	add(day2, 9, 30, 600)
	add(day2, 9, 45, 600)
	add(day2, 10, 0, 200)

	profile := algo.BuildVolumeProfile(bars, 30)
	if len(profile) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(profile))
	}

	sum := decimal.Zero
	for _, b := range profile {
		sum = sum.Add(b.Weight)
	}
	if !sum.Round(8).Equal(decimal.NewFromInt(1)) {
		t.Errorf("weights sum %s, want 1", sum)
	}

	if profile[0].Hour != 9 || profile[0].Minute != 30 {
		t.Fatalf("first bucket at %d:%02d", profile[0].Hour, profile[0].Minute)
	}
	// 600 vs 200 average volume -> 0.75 vs 0.25.
	if !profile[0].Weight.Equal(decimal.NewFromFloat(0.75)) {
		t.Errorf("open bucket weight: expected 0.75, got %s", profile[0].Weight)
	}
	if !profile[1].Weight.Equal(decimal.NewFromFloat(0.25)) {
		t.Errorf("second bucket weight: expected 0.25, got %s", profile[1].Weight)
	}
	if !profile[1].Cumulative.Round(8).Equal(decimal.NewFromInt(1)) {
		t.Errorf("last cumulative: got %s", profile[1].Cumulative)
	}
}

func TestBuildVolumeProfile_Empty(t *testing.T) {
	if p := algo.BuildVolumeProfile(nil, 30); p != nil {
		t.Errorf("expected nil profile for no bars, got %d buckets", len(p))
	}
}

func TestDefaultProfile(t *testing.T) {
	profile := algo.DefaultProfile(30)
	if len(profile) == 0 {
		t.Fatal("expected buckets")
	}

	sum := decimal.Zero
	for _, b := range profile {
		sum = sum.Add(b.Weight)
	}
	if !sum.Round(6).Equal(decimal.NewFromInt(1)) {
		t.Errorf("weights sum %s, want 1", sum)
	}

	// U-shape: the open bucket outweighs the lunch bucket.
	var open, lunch decimal.Decimal
	for _, b := range profile {
		if b.Hour == 9 && b.Minute == 30 {
			open = b.Weight
		}
		if b.Hour == 13 && b.Minute == 0 {
			lunch = b.Weight
		}
	}
	if !open.GreaterThan(lunch) {
		t.Errorf("open weight %s not above lunch weight %s", open, lunch)
	}
}

// stubBarSource serves canned bars for one symbol.
type stubBarSource struct {
	bars  []domain.Bar
	err   error
	calls int
}

func (s *stubBarSource) GetBars(symbol string, since time.Time) ([]domain.Bar, error) {
	s.calls++
	return s.bars, s.err
}

func TestProfileCache(t *testing.T) {
	source := &stubBarSource{
		bars: []domain.Bar{
			{Symbol: "ES", OpenTime: time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC), Volume: decimal.NewFromInt(100)},
			{Symbol: "ES", OpenTime: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC), Volume: decimal.NewFromInt(100)},
		},
	}
	cache := algo.NewProfileCache(source, 20*24*time.Hour, 30)

	first := cache.ProfileFor("ES")
	if len(first) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(first))
	}
	cache.ProfileFor("ES")
	if source.calls != 1 {
		t.Errorf("expected 1 source call after caching, got %d", source.calls)
	}

	cache.Rebuild("ES")
	if source.calls != 2 {
		t.Errorf("expected rebuild to hit the source, got %d calls", source.calls)
	}
}

func TestProfileCache_FallsBackToDefault(t *testing.T) {
	source := &stubBarSource{err: errors.New("db down")}
	cache := algo.NewProfileCache(source, time.Hour, 30)

	profile := cache.ProfileFor("ES")
	if len(profile) == 0 {
		t.Fatal("expected the default profile on source failure")
	}
}
