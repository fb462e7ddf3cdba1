package broker

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"futures_go/internal/domain"

	"github.com/shopspring/decimal"
)

// apiEnvelope wraps every REST response.
type apiEnvelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

const apiCodeOK = "0"

// Known vendor error text fragments.
const entitlementErrText = "not entitled"

// IsEntitlementReject reports whether a broker error message indicates a
// market-data entitlement rejection rather than a transient failure.
func IsEntitlementReject(msg string) bool {
	return strings.Contains(strings.ToLower(msg), entitlementErrText)
}

type authResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int64  `json:"expiresIn"` // seconds; fallback when the token is opaque
}

type sessionResponse struct {
	SessionID string `json:"sessionId"`
}

type orderResponse struct {
	OrderID    string  `json:"orderId"`
	Status     string  `json:"status"` // Filled, Rejected, Working
	FillPrice  float64 `json:"fillPrice"`
	FillTimeMS int64   `json:"fillTime"`
	Commission float64 `json:"commission"`
	Reason     string  `json:"reason"`
}

type positionResponse struct {
	Symbol   string  `json:"symbol"`
	NetPos   float64 `json:"netPos"`
	AvgPrice float64 `json:"avgPrice"`
}

// wireQuote mirrors the vendor's streaming quote payload. The vendor has
// shipped several field-name generations, so most fields carry aliases.
type wireQuote struct {
	Symbol         string `json:"symbol"`
	ContractSymbol string `json:"contractSymbol"`

	Bid      float64 `json:"bid"`
	BidPrice float64 `json:"bidPrice"`
	BidSize  float64 `json:"bidSize"`

	Ask      float64 `json:"ask"`
	AskPrice float64 `json:"askPrice"`
	AskSize  float64 `json:"askSize"`

	Last      float64 `json:"last"`
	LastPrice float64 `json:"lastPrice"`
	Price     float64 `json:"price"`
	LastSize  float64 `json:"lastSize"`
	Size      float64 `json:"size"`

	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Open        float64 `json:"open"`
	Volume      float64 `json:"volume"`
	TotalVolume float64 `json:"totalVolume"`

	TimestampMS int64  `json:"timestamp"`
	Time        string `json:"time"` // RFC3339, older payload generation
}

// ParseQuote converts a raw streaming message into a domain Quote. All
// vendor field-name fallbacks live here and nowhere else.
func ParseQuote(raw []byte) (*domain.Quote, error) {
	var w wireQuote
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("quote parse: %w", err)
	}

	symbol := w.Symbol
	if symbol == "" {
		symbol = w.ContractSymbol
	}
	if symbol == "" {
		return nil, fmt.Errorf("quote parse: missing symbol")
	}

	last := firstPositive(w.Last, w.LastPrice, w.Price)
	bid := firstPositive(w.Bid, w.BidPrice)
	ask := firstPositive(w.Ask, w.AskPrice)
	if last == 0 && bid == 0 && ask == 0 {
		return nil, fmt.Errorf("quote parse: no price fields for %s", symbol)
	}

	ts := time.Now()
	if w.TimestampMS > 0 {
		ts = time.UnixMilli(w.TimestampMS)
	} else if w.Time != "" {
		if parsed, err := time.Parse(time.RFC3339, w.Time); err == nil {
			ts = parsed
		}
	}

	return &domain.Quote{
		Symbol:    symbol,
		Bid:       decimal.NewFromFloat(bid),
		Ask:       decimal.NewFromFloat(ask),
		BidSize:   decimal.NewFromFloat(w.BidSize),
		AskSize:   decimal.NewFromFloat(w.AskSize),
		Last:      decimal.NewFromFloat(last),
		LastSize:  decimal.NewFromFloat(firstPositive(w.LastSize, w.Size)),
		High:      decimal.NewFromFloat(w.High),
		Low:       decimal.NewFromFloat(w.Low),
		Open:      decimal.NewFromFloat(w.Open),
		Volume:    decimal.NewFromFloat(firstPositive(w.Volume, w.TotalVolume)),
		Timestamp: ts,
	}, nil
}

func firstPositive(values ...float64) float64 {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func toOrderResult(w *orderResponse) *domain.OrderResult {
	res := &domain.OrderResult{
		BrokerID:   w.OrderID,
		Commission: decimal.NewFromFloat(w.Commission),
		Reason:     w.Reason,
	}
	switch strings.ToUpper(w.Status) {
	case "FILLED":
		res.Status = domain.OrderStatusFilled
		res.FillPrice = decimal.NewFromFloat(w.FillPrice)
		if w.FillTimeMS > 0 {
			res.FillTime = time.UnixMilli(w.FillTimeMS)
		}
	case "REJECTED":
		res.Status = domain.OrderStatusRejected
	default:
		res.Status = strings.ToUpper(w.Status)
	}
	return res
}
