package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// InstrumentSpec holds per-symbol contract metadata used for fill rounding
// and commission. Persisted via gorm.
type InstrumentSpec struct {
	Symbol     string          `gorm:"primaryKey" json:"symbol"`
	Name       string          `json:"name"`
	Exchange   string          `json:"exchange"`
	Currency   string          `json:"currency"`
	TickSize   decimal.Decimal `gorm:"type:text" json:"tick_size"`
	PointValue decimal.Decimal `gorm:"type:text" json:"point_value"`
	PriceMin   decimal.Decimal `gorm:"type:text" json:"price_min"`
	PriceMax   decimal.Decimal `gorm:"type:text" json:"price_max"`
	IsActive   bool            `gorm:"index" json:"is_active"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// RoundToTick snaps a price to the nearest tick. A zero tick size leaves the
// price untouched.
func (s *InstrumentSpec) RoundToTick(price decimal.Decimal) decimal.Decimal {
	if !s.TickSize.IsPositive() {
		return price
	}
	ticks := price.Div(s.TickSize).Round(0)
	return ticks.Mul(s.TickSize)
}

// HistoricalBar is a persisted daily-session minute bar used to build
// VWAP volume profiles.
type HistoricalBar struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	Symbol    string          `gorm:"index:idx_symbol_open" json:"symbol"`
	Timeframe string          `json:"timeframe"`
	OpenTime  time.Time       `gorm:"index:idx_symbol_open" json:"open_time"`
	Open      decimal.Decimal `gorm:"type:text" json:"open"`
	High      decimal.Decimal `gorm:"type:text" json:"high"`
	Low       decimal.Decimal `gorm:"type:text" json:"low"`
	Close     decimal.Decimal `gorm:"type:text" json:"close"`
	Volume    decimal.Decimal `gorm:"type:text" json:"volume"`
	CreatedAt time.Time       `json:"created_at"`
}

// AppConfig is a user/operator key-value setting (bot stages, overrides).
type AppConfig struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
