package domain

import "time"

// EventType identifies the kind of feed event.
type EventType string

const (
	EventQuote              EventType = "quote"
	EventBar                EventType = "bar"
	EventOrderBook          EventType = "orderbook"
	EventConnected          EventType = "connected"
	EventDisconnected       EventType = "disconnected"
	EventStaleData          EventType = "stale_data"
	EventSubscriptionFailed EventType = "subscription_failed"
)

// Event is a single feed notification fanned out to subscribers.
// Exactly one of the payload pointers is set for data events; lifecycle
// events carry Symbols/Reason only.
type Event struct {
	Type      EventType          `json:"type"`
	Timestamp time.Time          `json:"timestamp"`
	Quote     *Quote             `json:"quote,omitempty"`
	Bar       *Bar               `json:"bar,omitempty"`
	Book      *OrderBookSnapshot `json:"book,omitempty"`
	Symbols   []string           `json:"symbols,omitempty"`
	Reason    string             `json:"reason,omitempty"`
}
