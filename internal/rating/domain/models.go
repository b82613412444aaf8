package domain

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// DisplayPlaces is the minor-unit precision costs are rounded to for display.
const DisplayPlaces = 2

// Rate is the fixed per-minute price attached to a billing line.
type Rate struct {
	BillingLineID string          `json:"billing_line_id,omitempty"`
	UnitAmount    decimal.Decimal `json:"unit_amount"`
	Currency      string          `json:"currency"`
}

// Quote is a derived cost. Cost is exact; only DisplayCost rounds.
type Quote struct {
	Quantity   int64
	UnitAmount decimal.Decimal
	Cost       decimal.Decimal
	Currency   string
}

func (q Quote) DisplayCost() string {
	return q.Cost.StringFixed(DisplayPlaces)
}

func (q Quote) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Quantity   int64  `json:"quantity"`
		UnitAmount string `json:"unit_amount"`
		Cost       string `json:"cost"`
		Currency   string `json:"currency"`
	}{
		Quantity:   q.Quantity,
		UnitAmount: q.UnitAmount.String(),
		Cost:       q.DisplayCost(),
		Currency:   q.Currency,
	})
}
