package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BookLevel is a single synthesized price level.
type BookLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// OrderBookSnapshot is a one-level order book synthesized from top-of-book
// quotes. It is replaced wholesale on every qualifying quote; there is no
// versioning of previous snapshots.
type OrderBookSnapshot struct {
	Symbol    string          `json:"symbol"`
	Timestamp time.Time       `json:"timestamp"`
	Bid       BookLevel       `json:"bid"`
	Ask       BookLevel       `json:"ask"`
	Spread    decimal.Decimal `json:"spread"`
	SpreadPct decimal.Decimal `json:"spread_pct"`
	Mid       decimal.Decimal `json:"mid"`
	Imbalance decimal.Decimal `json:"imbalance"` // (bidSize-askSize)/(bidSize+askSize), in [-1, 1]
	Liquidity decimal.Decimal `json:"liquidity"` // 0..100 composite score

	// SessionVolume is the cumulative session volume carried on the quote
	// the snapshot was built from. Consumers difference it for windowed
	// participation rates.
	SessionVolume decimal.Decimal `json:"session_volume"`
}

// MicrostructureMetrics summarizes trailing spread/volatility state for a symbol.
type MicrostructureMetrics struct {
	Symbol             string          `json:"symbol"`
	AvgSpread5m        decimal.Decimal `json:"avg_spread_5m"`
	AvgSpread1h        decimal.Decimal `json:"avg_spread_1h"`
	Volatility5m       decimal.Decimal `json:"volatility_5m"` // stdev of consecutive pct returns
	SuggestedSlipTicks decimal.Decimal `json:"suggested_slippage_ticks"`
	LastUpdate         time.Time       `json:"last_update"`
}
