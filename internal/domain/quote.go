package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote represents a single top-of-book market data update for one symbol.
// Quotes are ephemeral: produced by the feed, consumed immediately, never persisted.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	BidSize   decimal.Decimal `json:"bid_size"`
	AskSize   decimal.Decimal `json:"ask_size"`
	Last      decimal.Decimal `json:"last"`
	LastSize  decimal.Decimal `json:"last_size"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Open      decimal.Decimal `json:"open"`
	Volume    decimal.Decimal `json:"volume"`
	Timestamp time.Time       `json:"timestamp"`
}

// HasBook returns true if at least one side of the book is present.
func (q *Quote) HasBook() bool {
	return q.Bid.IsPositive() || q.Ask.IsPositive()
}

// BestBid returns the bid, falling back to the last trade price when the
// bid side is absent from the update.
func (q *Quote) BestBid() decimal.Decimal {
	if q.Bid.IsPositive() {
		return q.Bid
	}
	return q.Last
}

// BestAsk returns the ask, falling back to the last trade price when the
// ask side is absent from the update.
func (q *Quote) BestAsk() decimal.Decimal {
	if q.Ask.IsPositive() {
		return q.Ask
	}
	return q.Last
}

// Mid returns the midpoint of best bid and best ask.
func (q *Quote) Mid() decimal.Decimal {
	return q.BestBid().Add(q.BestAsk()).Div(decimal.NewFromInt(2))
}

// BestBidSize returns the bid size, proxied by the last trade size when the
// vendor update carries no depth.
func (q *Quote) BestBidSize() decimal.Decimal {
	if q.BidSize.IsPositive() {
		return q.BidSize
	}
	return q.LastSize
}

// BestAskSize returns the ask size, proxied by the last trade size when the
// vendor update carries no depth.
func (q *Quote) BestAskSize() decimal.Decimal {
	if q.AskSize.IsPositive() {
		return q.AskSize
	}
	return q.LastSize
}
