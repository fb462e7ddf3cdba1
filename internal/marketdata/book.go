package marketdata

import (
	"math"
	"sync"
	"time"

	"futures_go/internal/domain"

	"github.com/shopspring/decimal"
)

// Weights and scales of the composite liquidity score.
var (
	spreadWeight = decimal.NewFromFloat(0.6)
	volumeWeight = decimal.NewFromFloat(0.4)
	hundred      = decimal.NewFromInt(100)
	volumeUnit   = decimal.NewFromInt(10000)
	volumeScale  = decimal.NewFromInt(20)
	two          = decimal.NewFromInt(2)
	defaultTick  = decimal.NewFromFloat(0.01)
	volWeight    = decimal.NewFromFloat(0.1)
	imbalWeight  = decimal.NewFromFloat(0.5)
)

// sample is one timestamped observation in a rolling series.
type sample struct {
	ts    time.Time
	value decimal.Decimal
}

// rollingSeries is a bounded ring buffer of samples. Oldest entries are
// evicted once capacity is reached.
type rollingSeries struct {
	buf   []sample
	head  int
	count int
}

func newRollingSeries(capacity int) *rollingSeries {
	return &rollingSeries{buf: make([]sample, capacity)}
}

func (r *rollingSeries) append(ts time.Time, v decimal.Decimal) {
	r.buf[r.head] = sample{ts: ts, value: v}
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// since returns samples newer than the cutoff, oldest first.
func (r *rollingSeries) since(cutoff time.Time) []sample {
	out := make([]sample, 0, r.count)
	idx := r.head - r.count
	if idx < 0 {
		idx += len(r.buf)
	}
	for i := 0; i < r.count; i++ {
		s := r.buf[idx]
		if s.ts.After(cutoff) {
			out = append(out, s)
		}
		idx = (idx + 1) % len(r.buf)
	}
	return out
}

func avgOf(samples []sample) decimal.Decimal {
	if len(samples) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, s := range samples {
		sum = sum.Add(s.value)
	}
	return sum.Div(decimal.NewFromInt(int64(len(samples))))
}

// BookSynthesizer turns top-of-book quotes into one-level order book
// snapshots and maintains rolling spread/price histories per symbol.
// This is a synthesis from quotes, not true depth.
type BookSynthesizer struct {
	mu          sync.RWMutex
	books       map[string]*domain.OrderBookSnapshot
	spreadHist  map[string]*rollingSeries
	priceHist   map[string]*rollingSeries
	historyCap  int
	instruments domain.InstrumentSource
}

// NewBookSynthesizer creates a synthesizer. instruments may be nil, in which
// case slippage suggestions assume a 0.01 tick.
func NewBookSynthesizer(historyCap int, instruments domain.InstrumentSource) *BookSynthesizer {
	if historyCap <= 0 {
		historyCap = 3600
	}
	return &BookSynthesizer{
		books:       make(map[string]*domain.OrderBookSnapshot),
		spreadHist:  make(map[string]*rollingSeries),
		priceHist:   make(map[string]*rollingSeries),
		historyCap:  historyCap,
		instruments: instruments,
	}
}

// OnQuote rebuilds the symbol's snapshot from a qualifying quote. Quotes
// with neither side present are ignored.
func (s *BookSynthesizer) OnQuote(q *domain.Quote) {
	if !q.HasBook() {
		return
	}

	bid := q.BestBid()
	ask := q.BestAsk()
	bidSize := q.BestBidSize()
	askSize := q.BestAskSize()

	spread := ask.Sub(bid)
	mid := bid.Add(ask).Div(two)

	spreadPct := decimal.Zero
	if mid.IsPositive() {
		spreadPct = spread.Div(mid)
	}

	imbalance := decimal.Zero
	if total := bidSize.Add(askSize); total.IsPositive() {
		imbalance = bidSize.Sub(askSize).Div(total)
	}

	snap := &domain.OrderBookSnapshot{
		Symbol:        q.Symbol,
		Timestamp:     q.Timestamp,
		Bid:           domain.BookLevel{Price: bid, Size: bidSize},
		Ask:           domain.BookLevel{Price: ask, Size: askSize},
		Spread:        spread,
		SpreadPct:     spreadPct,
		Mid:           mid,
		Imbalance:     imbalance,
		Liquidity:     liquidityScore(spreadPct, q.Volume),
		SessionVolume: q.Volume,
	}

	price := q.Last
	if !price.IsPositive() {
		price = mid
	}

	s.mu.Lock()
	s.books[q.Symbol] = snap
	s.historyFor(s.spreadHist, q.Symbol).append(q.Timestamp, spread)
	s.historyFor(s.priceHist, q.Symbol).append(q.Timestamp, price)
	s.mu.Unlock()
}

func (s *BookSynthesizer) historyFor(m map[string]*rollingSeries, symbol string) *rollingSeries {
	h, ok := m[symbol]
	if !ok {
		h = newRollingSeries(s.historyCap)
		m[symbol] = h
	}
	return h
}

// liquidityScore blends a spread score and a volume score into 0..100.
func liquidityScore(spreadPct, volume decimal.Decimal) decimal.Decimal {
	spreadScore := hundred.Sub(spreadPct.Mul(hundred))
	if spreadScore.IsNegative() {
		spreadScore = decimal.Zero
	}
	volumeScore := volume.Div(volumeUnit).Mul(volumeScale)
	if volumeScore.GreaterThan(hundred) {
		volumeScore = hundred
	}
	return spreadWeight.Mul(spreadScore).Add(volumeWeight.Mul(volumeScore))
}

// Snapshot returns the current book for a symbol, or nil if none exists.
func (s *BookSynthesizer) Snapshot(symbol string) *domain.OrderBookSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.books[symbol]
	if !ok {
		return nil
	}
	out := *snap
	return &out
}

// Microstructure computes trailing spread averages, short-horizon return
// volatility and a suggested slippage allowance in ticks for a symbol.
func (s *BookSynthesizer) Microstructure(symbol string) *domain.MicrostructureMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.books[symbol]
	if !ok {
		return nil
	}

	now := snap.Timestamp
	spreads := s.spreadHist[symbol]
	prices := s.priceHist[symbol]

	m := &domain.MicrostructureMetrics{
		Symbol:     symbol,
		LastUpdate: now,
	}
	if spreads != nil {
		m.AvgSpread5m = avgOf(spreads.since(now.Add(-5 * time.Minute)))
		m.AvgSpread1h = avgOf(spreads.since(now.Add(-1 * time.Hour)))
	}
	if prices != nil {
		m.Volatility5m = returnVolatility(prices.since(now.Add(-5 * time.Minute)))
	}

	m.SuggestedSlipTicks = s.suggestedSlippageTicks(snap, m.Volatility5m)
	return m
}

// returnVolatility is the standard deviation of consecutive percentage
// price changes.
func returnVolatility(samples []sample) decimal.Decimal {
	if len(samples) < 2 {
		return decimal.Zero
	}
	returns := make([]float64, 0, len(samples)-1)
	for i := 1; i < len(samples); i++ {
		prev := samples[i-1].value
		if !prev.IsPositive() {
			continue
		}
		r, _ := samples[i].value.Sub(prev).Div(prev).Float64()
		returns = append(returns, r)
	}
	if len(returns) < 2 {
		return decimal.Zero
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	return decimal.NewFromFloat(math.Sqrt(variance))
}

// suggestedSlippageTicks allows half the spread, a volatility buffer and an
// imbalance penalty, floored at one tick.
func (s *BookSynthesizer) suggestedSlippageTicks(snap *domain.OrderBookSnapshot, vol decimal.Decimal) decimal.Decimal {
	tick := defaultTick
	if s.instruments != nil {
		if spec, err := s.instruments.GetInstrumentSpec(snap.Symbol); err == nil && spec != nil && spec.TickSize.IsPositive() {
			tick = spec.TickSize
		}
	}

	halfSpread := snap.Spread.Div(two)
	buffer := vol.Mul(snap.Mid).Mul(volWeight)
	penalty := snap.Imbalance.Abs().Mul(halfSpread).Mul(imbalWeight)

	ticks := halfSpread.Add(buffer).Add(penalty).Div(tick)
	if ticks.LessThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return ticks
}
