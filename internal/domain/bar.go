package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bar is a fixed-width OHLCV aggregate of quotes for one symbol.
// OpenTime is floored to the timeframe boundary.
type Bar struct {
	Symbol    string          `json:"symbol"`
	Timeframe string          `json:"timeframe"`
	OpenTime  time.Time       `json:"open_time"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	TickCount int             `json:"tick_count"`
}

// TypicalPrice returns (H+L+C)/3, the price used for volume weighting.
func (b *Bar) TypicalPrice() decimal.Decimal {
	return b.High.Add(b.Low).Add(b.Close).Div(decimal.NewFromInt(3))
}
