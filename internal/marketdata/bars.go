package marketdata

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"futures_go/internal/domain"
	"futures_go/internal/infra"
)

const sweepInterval = 1 * time.Second

// BarHandler receives emitted bars.
type BarHandler func(*domain.Bar)

// barState is the open builder for one symbol's current time bucket.
type barState struct {
	bucket time.Time
	bar    domain.Bar
}

// BarBuilder aggregates a stream of quotes into fixed-width OHLCV bars,
// one open builder per symbol. A bar is emitted when a new bucket starts,
// when the periodic sweep notices the bucket has fully elapsed, or on Stop.
type BarBuilder struct {
	timeframe time.Duration
	tag       string
	onBar     BarHandler
	clock     domain.Clock

	mu       sync.Mutex
	builders map[string]*barState

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBarBuilder creates a builder for one timeframe. tag is the label
// written into emitted bars (e.g. "1m"). A nil clock falls back to the
// system clock.
func NewBarBuilder(tag string, timeframe time.Duration, clock domain.Clock, onBar BarHandler) *BarBuilder {
	if clock == nil {
		clock = infra.SystemClock{}
	}
	return &BarBuilder{
		timeframe: timeframe,
		tag:       tag,
		onBar:     onBar,
		clock:     clock,
		builders:  make(map[string]*barState),
	}
}

// Start launches the periodic sweep that flushes elapsed buckets even
// during low-tick periods.
func (b *BarBuilder) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			if err := b.clock.Sleep(ctx, sweepInterval); err != nil {
				return
			}
			b.sweep(b.clock.Now())
		}
	}()
}

// Stop halts the sweep and flushes every open builder.
func (b *BarBuilder) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
	b.FlushAll()
}

// OnQuote folds one quote into the symbol's open builder, emitting the
// previous bar first if the quote starts a new time bucket.
func (b *BarBuilder) OnQuote(q *domain.Quote) {
	price := q.Last
	if !price.IsPositive() {
		if !q.HasBook() {
			return
		}
		price = q.Mid()
	}

	bucket := q.Timestamp.Truncate(b.timeframe)

	b.mu.Lock()
	defer b.mu.Unlock()

	state, ok := b.builders[q.Symbol]
	if ok && state.bucket.Equal(bucket) {
		bar := &state.bar
		if price.GreaterThan(bar.High) {
			bar.High = price
		}
		if price.LessThan(bar.Low) {
			bar.Low = price
		}
		bar.Close = price
		bar.Volume = bar.Volume.Add(q.LastSize)
		bar.TickCount++
		return
	}

	if ok {
		b.emitLocked(state)
	}

	b.builders[q.Symbol] = &barState{
		bucket: bucket,
		bar: domain.Bar{
			Symbol:    q.Symbol,
			Timeframe: b.tag,
			OpenTime:  bucket,
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    q.LastSize,
			TickCount: 1,
		},
	}
}

// sweep flushes builders whose bucket has fully elapsed as of now.
func (b *BarBuilder) sweep(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for symbol, state := range b.builders {
		if !now.Before(state.bucket.Add(b.timeframe)) {
			b.emitLocked(state)
			delete(b.builders, symbol)
		}
	}
}

// FlushAll emits every open builder and discards them.
func (b *BarBuilder) FlushAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for symbol, state := range b.builders {
		b.emitLocked(state)
		delete(b.builders, symbol)
	}
}

// emitLocked hands a finished bar to the consumer. Builders always carry at
// least one tick, so the tick-count emission invariant holds by construction.
func (b *BarBuilder) emitLocked(state *barState) {
	if state.bar.TickCount == 0 {
		return
	}
	bar := state.bar
	if b.onBar != nil {
		b.onBar(&bar)
	} else {
		slog.Debug("bar emitted without consumer",
			slog.String("symbol", bar.Symbol),
			slog.Time("open", bar.OpenTime),
		)
	}
}

// OpenBuilders returns the number of live builders (for status reporting).
func (b *BarBuilder) OpenBuilders() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.builders)
}
