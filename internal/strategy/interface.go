package strategy

import (
	"futures_go/internal/domain"

	"github.com/shopspring/decimal"
)

// ActionType defines the type of trading action
type ActionType int

const (
	ActionBuy  ActionType = iota + 1
	ActionSell            // Sell
)

// String returns the string representation of ActionType
func (a ActionType) String() string {
	switch a {
	case ActionBuy:
		return "BUY"
	case ActionSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Side maps the action to an order side.
func (a ActionType) Side() string {
	if a == ActionSell {
		return domain.SideSell
	}
	return domain.SideBuy
}

// Action represents a decision made by the strategy
type Action struct {
	Type   ActionType
	Symbol string
	Price  decimal.Decimal
	Qty    decimal.Decimal
}

// Strategy is the interface that all trading strategies must implement.
// It is called synchronously by the Engine on every completed bar.
type Strategy interface {
	// OnBar is called when a bar closes. It returns a list of Actions
	// to be executed.
	OnBar(bar domain.Bar) []Action
}
