package domain

import (
	"context"
	"math/big"
)

// ChainReader is the read-only call surface of the deployed contracts. IDs
// and addresses are 0x-prefixed hex strings; amounts are base-10 integer
// strings.
type ChainReader interface {
	MarketData(ctx context.Context, conditionID string) (MarketData, error)
	CollectionID(ctx context.Context, parentCollectionID, conditionID string, indexSet *big.Int) (string, error)
	PositionID(ctx context.Context, collateralToken, collectionID string) (string, error)
	BalanceOf(ctx context.Context, account, positionID string) (string, error)
	// MarginalPrice returns the raw 2^64 fixed-point marginal price.
	MarginalPrice(ctx context.Context, marketMaker string, outcomeIndex int) (string, error)
}

// EventSource delivers chain events in (block, log index) order, at least
// once, starting after the given cursor. It returns when ctx is cancelled or
// the underlying subscription fails.
type EventSource interface {
	Run(ctx context.Context, after Cursor, emit func(context.Context, Event) error) error
}

// WriteCall names a state-changing call of the futarchy app.
type WriteCall string

const (
	CallCreateMarket    WriteCall = "createMarket"
	CallBuy             WriteCall = "buy"
	CallSell            WriteCall = "sell"
	CallCloseMarket     WriteCall = "closeMarket"
	CallRedeemPositions WriteCall = "redeemPositions"
)

// TxRequest is unsigned calldata for an external wallet to sign and submit.
type TxRequest struct {
	To    string `json:"to"`
	Data  string `json:"data"`
	Value string `json:"value"`
}

// WriteArgs carries the union of write-call arguments. Each call reads only
// the fields it needs.
type WriteArgs struct {
	ConditionID string `json:"conditionId"`

	// createMarket
	CollateralToken string   `json:"collateralToken"`
	Funding         string   `json:"funding"`
	Question        string   `json:"question"`
	Outcomes        []string `json:"outcomes"`
	EndsAt          int64    `json:"endsAt"`

	// buy / sell: signed per-outcome amounts and the collateral bound (max
	// cost for buy, min return for sell).
	OutcomeTokenAmounts []string `json:"outcomeTokenAmounts"`
	CollateralLimit     string   `json:"collateralLimit"`
}

// ChainWriter builds calldata for the futarchy app's write calls.
type ChainWriter interface {
	Build(call WriteCall, args WriteArgs) (TxRequest, error)
}
