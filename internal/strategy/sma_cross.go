package strategy

import (
	"futures_go/internal/domain"

	"github.com/shopspring/decimal"
)

// SMACrossStrategy implements a simple SMA Crossover strategy over bar
// closes. It is stateful and deterministic. A ring buffer holds the close
// history so the per-bar path allocates nothing.
type SMACrossStrategy struct {
	symbol      string
	shortPeriod int
	longPeriod  int
	orderQty    decimal.Decimal

	// State (Ring Buffer)
	closes []decimal.Decimal
	head   int             // Current write position
	count  int             // Number of elements filled
	sum    decimal.Decimal // Running sum for the longest period

	prevShortSMA decimal.Decimal
	prevLongSMA  decimal.Decimal
}

// NewSMACrossStrategy creates a new instance.
func NewSMACrossStrategy(symbol string, shortPeriod, longPeriod int, orderQty decimal.Decimal) *SMACrossStrategy {
	if shortPeriod >= longPeriod {
		panic("SMACrossStrategy: shortPeriod must be less than longPeriod")
	}
	return &SMACrossStrategy{
		symbol:      symbol,
		shortPeriod: shortPeriod,
		longPeriod:  longPeriod,
		orderQty:    orderQty,
		closes:      make([]decimal.Decimal, longPeriod), // Fixed size allocation
	}
}

// OnBar processes a closed bar and generates signals.
func (s *SMACrossStrategy) OnBar(bar domain.Bar) []Action {
	// 1. Filter by symbol
	if bar.Symbol != s.symbol {
		return nil
	}

	currentClose := bar.Close

	// 2. Update Close History (Ring Buffer)
	// If full, subtract the oldest value from sum before overwriting
	if s.count == s.longPeriod {
		oldest := s.closes[s.head] // s.head points to the oldest value when full
		s.sum = s.sum.Sub(oldest)
	}

	s.closes[s.head] = currentClose
	s.sum = s.sum.Add(currentClose)
	s.head = (s.head + 1) % s.longPeriod
	if s.count < s.longPeriod {
		s.count++
	}

	// 3. Check if we have enough data
	if s.count < s.longPeriod {
		return nil
	}

	// 4. Calculate SMAs
	currLongSMA := s.sum.Div(decimal.NewFromInt(int64(s.longPeriod)))
	currShortSMA := s.calculateShortSMA()

	var actions []Action

	// 5. Check for Cross
	if s.prevShortSMA.IsPositive() && s.prevLongSMA.IsPositive() {
		// Golden Cross: Short goes above Long
		if s.prevShortSMA.LessThanOrEqual(s.prevLongSMA) && currShortSMA.GreaterThan(currLongSMA) {
			actions = append(actions, Action{
				Type:   ActionBuy,
				Symbol: s.symbol,
				Price:  currentClose,
				Qty:    s.orderQty,
			})
		}

		// Dead Cross: Short goes below Long
		if s.prevShortSMA.GreaterThanOrEqual(s.prevLongSMA) && currShortSMA.LessThan(currLongSMA) {
			actions = append(actions, Action{
				Type:   ActionSell,
				Symbol: s.symbol,
				Price:  currentClose,
				Qty:    s.orderQty,
			})
		}
	}

	// 6. Update State
	s.prevShortSMA = currShortSMA
	s.prevLongSMA = currLongSMA

	return actions
}

// calculateShortSMA calculates the SMA for the short period using the ring buffer.
func (s *SMACrossStrategy) calculateShortSMA() decimal.Decimal {
	sum := decimal.Zero
	// Walk backwards from current head (head-1 is the latest entry)
	idx := s.head
	for i := 0; i < s.shortPeriod; i++ {
		idx--
		if idx < 0 {
			idx = s.longPeriod - 1
		}
		sum = sum.Add(s.closes[idx])
	}
	return sum.Div(decimal.NewFromInt(int64(s.shortPeriod)))
}
