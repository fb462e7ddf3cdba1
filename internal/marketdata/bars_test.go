package marketdata_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"futures_go/internal/domain"
	"futures_go/internal/marketdata"

	"github.com/shopspring/decimal"
)

// stepClock releases one sweep per value sent on steps, jumping its view
// of now to that value.
type stepClock struct {
	mu    sync.Mutex
	now   time.Time
	steps chan time.Time
}

func newStepClock(start time.Time) *stepClock {
	return &stepClock{now: start, steps: make(chan time.Time)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case t := <-c.steps:
		c.mu.Lock()
		c.now = t
		c.mu.Unlock()
		return nil
	}
}

func (c *stepClock) AfterFunc(d time.Duration, f func()) domain.Timer {
	return time.AfterFunc(d, f)
}

func quoteAt(symbol string, ts time.Time, last float64, size int64) *domain.Quote {
	return &domain.Quote{
		Symbol:    symbol,
		Last:      decimal.NewFromFloat(last),
		LastSize:  decimal.NewFromInt(size),
		Timestamp: ts,
	}
}

func TestBarBuilder_MinuteAggregation(t *testing.T) {
	var emitted []*domain.Bar
	builder := marketdata.NewBarBuilder("1m", time.Minute, nil, func(bar *domain.Bar) {
		emitted = append(emitted, bar)
	})

	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	// Two ticks inside 10:00, one tick at 10:01 closing the first bucket.
	builder.OnQuote(quoteAt("ESZ6", base.Add(5*time.Second), 5001.25, 3))
	builder.OnQuote(quoteAt("ESZ6", base.Add(40*time.Second), 5000.50, 2))
	builder.OnQuote(quoteAt("ESZ6", base.Add(65*time.Second), 5002.00, 1))

	if len(emitted) != 1 {
		t.Fatalf("expected 1 emitted bar, got %d", len(emitted))
	}
	bar := emitted[0]
	if !bar.OpenTime.Equal(base) {
		t.Errorf("open time: expected %v, got %v", base, bar.OpenTime)
	}
	if !bar.Open.Equal(decimal.NewFromFloat(5001.25)) {
		t.Errorf("open: got %s", bar.Open)
	}
	if !bar.High.Equal(decimal.NewFromFloat(5001.25)) {
		t.Errorf("high: got %s", bar.High)
	}
	if !bar.Low.Equal(decimal.NewFromFloat(5000.50)) {
		t.Errorf("low: got %s", bar.Low)
	}
	if !bar.Close.Equal(decimal.NewFromFloat(5000.50)) {
		t.Errorf("close: got %s", bar.Close)
	}
	if !bar.Volume.Equal(decimal.NewFromInt(5)) {
		t.Errorf("volume: expected 5, got %s", bar.Volume)
	}
	if bar.TickCount != 2 {
		t.Errorf("tick count: expected 2, got %d", bar.TickCount)
	}

	// The 10:01 bucket is still open.
	if builder.OpenBuilders() != 1 {
		t.Errorf("expected 1 open builder, got %d", builder.OpenBuilders())
	}

	builder.FlushAll()
	if len(emitted) != 2 {
		t.Fatalf("expected 2 bars after flush, got %d", len(emitted))
	}
	second := emitted[1]
	if second.TickCount != 1 || !second.Close.Equal(decimal.NewFromFloat(5002.00)) {
		t.Errorf("second bar: ticks=%d close=%s", second.TickCount, second.Close)
	}
}

func TestBarBuilder_QuoteOnlyUsesMid(t *testing.T) {
	var emitted []*domain.Bar
	builder := marketdata.NewBarBuilder("1m", time.Minute, nil, func(bar *domain.Bar) {
		emitted = append(emitted, bar)
	})

	ts := time.Date(2026, 3, 2, 10, 0, 30, 0, time.UTC)
	builder.OnQuote(&domain.Quote{
		Symbol:    "NQZ6",
		Bid:       decimal.NewFromInt(18000),
		Ask:       decimal.NewFromInt(18001),
		Timestamp: ts,
	})
	builder.FlushAll()

	if len(emitted) != 1 {
		t.Fatalf("expected 1 bar, got %d", len(emitted))
	}
	if !emitted[0].Open.Equal(decimal.NewFromFloat(18000.5)) {
		t.Errorf("expected mid 18000.5, got %s", emitted[0].Open)
	}
}

func TestBarBuilder_IgnoresEmptyQuotes(t *testing.T) {
	builder := marketdata.NewBarBuilder("1m", time.Minute, nil, nil)
	builder.OnQuote(&domain.Quote{Symbol: "ESZ6", Timestamp: time.Now()})
	if builder.OpenBuilders() != 0 {
		t.Errorf("empty quote must not open a builder")
	}
}

func TestBarBuilder_SweepFlushesElapsedBucket(t *testing.T) {
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	clk := newStepClock(base)

	emitted := make(chan *domain.Bar, 1)
	builder := marketdata.NewBarBuilder("1m", time.Minute, clk, func(bar *domain.Bar) {
		emitted <- bar
	})
	builder.Start(context.Background())
	defer builder.Stop()

	builder.OnQuote(quoteAt("ESZ6", base.Add(5*time.Second), 5000.25, 1))

	// Step past the bucket boundary; the sweep must flush without a new tick.
	clk.steps <- base.Add(time.Minute)

	select {
	case bar := <-emitted:
		if !bar.OpenTime.Equal(base) || bar.TickCount != 1 {
			t.Errorf("swept bar: open=%v ticks=%d", bar.OpenTime, bar.TickCount)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("sweep never flushed the elapsed bucket")
	}

	if builder.OpenBuilders() != 0 {
		t.Errorf("expected no open builders after sweep, got %d", builder.OpenBuilders())
	}
}

func TestBarBuilder_SeparateSymbols(t *testing.T) {
	builder := marketdata.NewBarBuilder("1m", time.Minute, nil, nil)
	ts := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	builder.OnQuote(quoteAt("ESZ6", ts, 5000, 1))
	builder.OnQuote(quoteAt("NQZ6", ts, 18000, 1))
	if builder.OpenBuilders() != 2 {
		t.Errorf("expected 2 open builders, got %d", builder.OpenBuilders())
	}
}
