package execution

import (
	"sync"
	"time"

	"futures_go/internal/domain"

	"github.com/shopspring/decimal"
)

// Metrics tracks bridge-level execution counters. Averages are maintained
// incrementally: avg_n = (avg_{n-1}*(n-1) + x_n) / n.
type Metrics struct {
	mu sync.Mutex

	totalOrders     int64
	filledOrders    int64
	rejectedOrders  int64
	simulatedOrders int64
	liveOrders      int64
	submitErrors    int64
	twapOrders      int64
	vwapOrders      int64

	avgLatencyMS    float64
	latencySamples  int64
	avgSlippage     decimal.Decimal
	slippageSamples int64
	totalCommission decimal.Decimal
}

// MetricsSnapshot is a point-in-time copy of the bridge counters.
type MetricsSnapshot struct {
	TotalOrders     int64           `json:"total_orders"`
	FilledOrders    int64           `json:"filled_orders"`
	RejectedOrders  int64           `json:"rejected_orders"`
	SimulatedOrders int64           `json:"simulated_orders"`
	LiveOrders      int64           `json:"live_orders"`
	SubmitErrors    int64           `json:"submit_errors"`
	TWAPOrders      int64           `json:"twap_orders"`
	VWAPOrders      int64           `json:"vwap_orders"`
	AvgLatencyMS    float64         `json:"avg_latency_ms"`
	AvgSlippage     decimal.Decimal `json:"avg_slippage"`
	TotalCommission decimal.Decimal `json:"total_commission"`
}

func (m *Metrics) recordOrder(result *domain.OrderResult, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalOrders++
	if result.Filled() {
		m.filledOrders++
	} else {
		m.rejectedOrders++
	}
	if result.Simulated {
		m.simulatedOrders++
	} else {
		m.liveOrders++
	}

	m.latencySamples++
	ms := float64(latency.Microseconds()) / 1000.0
	m.avgLatencyMS = (m.avgLatencyMS*float64(m.latencySamples-1) + ms) / float64(m.latencySamples)

	m.totalCommission = m.totalCommission.Add(result.Commission)
}

func (m *Metrics) recordError() {
	m.mu.Lock()
	m.submitErrors++
	m.mu.Unlock()
}

func (m *Metrics) recordAlgo(kind domain.AlgoKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch kind {
	case domain.AlgoTWAP:
		m.twapOrders++
	case domain.AlgoVWAP:
		m.vwapOrders++
	}
}

func (m *Metrics) recordSlippage(slippage decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slippageSamples++
	n := decimal.NewFromInt(m.slippageSamples)
	m.avgSlippage = m.avgSlippage.Mul(n.Sub(decimal.NewFromInt(1))).Add(slippage).Div(n)
}

func (m *Metrics) snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MetricsSnapshot{
		TotalOrders:     m.totalOrders,
		FilledOrders:    m.filledOrders,
		RejectedOrders:  m.rejectedOrders,
		SimulatedOrders: m.simulatedOrders,
		LiveOrders:      m.liveOrders,
		SubmitErrors:    m.submitErrors,
		TWAPOrders:      m.twapOrders,
		VWAPOrders:      m.vwapOrders,
		AvgLatencyMS:    m.avgLatencyMS,
		AvgSlippage:     m.avgSlippage,
		TotalCommission: m.totalCommission,
	}
}
