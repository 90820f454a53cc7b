package domain

import "time"

// MarketStatus is the user-facing lifecycle label of a market.
type MarketStatus string

const (
	MarketStatusOpen                 MarketStatus = "Open"
	MarketStatusAwaitingFinalization MarketStatus = "Awaiting finalization"
	MarketStatusClosed               MarketStatus = "Closed"
)

// Outcome is one possible resolution of a market together with the connected
// account's holding and the current marginal price.
type Outcome struct {
	Label      string `json:"label"`
	PositionID string `json:"positionId"`
	Balance    string `json:"balance"` // integer string, wei-like
	Price      string `json:"price"`   // decimal string in [0,1]
	Correct    bool   `json:"correct"`
}

// Market is the derived view of one futarchy market, keyed by ConditionID.
type Market struct {
	ConditionID string    `json:"conditionId"`
	Creator     string    `json:"creator"`
	Question    string    `json:"question"`
	Outcomes    []Outcome `json:"outcomes"`
	Timestamp   int64     `json:"timestamp"`
	EndsAt      int64     `json:"endsAt"`
	Open        bool      `json:"open"`
	Redeemed    bool      `json:"redeemed"`

	Payouts                 []string `json:"payouts,omitempty"`
	MarginalPricesAtClosure []string `json:"marginalPricesAtClosure,omitempty"`

	QuestionID         string `json:"questionId,omitempty"`
	RealitioQuestionID string `json:"realitioQuestionId,omitempty"`
	CollateralToken    string `json:"collateralToken,omitempty"`
	MarketMaker        string `json:"marketMaker,omitempty"`
	Oracle             string `json:"oracle,omitempty"`
}

// Status derives the display status: a market still open past EndsAt is
// awaiting oracle finalization.
func (m Market) Status(now time.Time) MarketStatus {
	if !m.Open {
		return MarketStatusClosed
	}
	if m.EndsAt < now.Unix() {
		return MarketStatusAwaitingFinalization
	}
	return MarketStatusOpen
}

// Labels returns the outcome labels in on-chain index order.
func (m Market) Labels() []string {
	labels := make([]string, len(m.Outcomes))
	for i, o := range m.Outcomes {
		labels[i] = o.Label
	}
	return labels
}

// MarketData is the metadata returned by the futarchy app's getMarketData
// view. Question is still in its padded on-chain encoding.
type MarketData struct {
	Creator            string
	Oracle             string
	Question           string
	Timestamp          int64
	EndsAt             int64
	QuestionID         string
	RealitioQuestionID string
	MarketMaker        string
	CollateralToken    string
}
