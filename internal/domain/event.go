package domain

// EventKind tags an action delivered to the reducer.
type EventKind string

const (
	EventSyncStarted     EventKind = "SYNC_STATUS_SYNCING"
	EventSyncFinished    EventKind = "SYNC_STATUS_SYNCED"
	EventAccountChanged  EventKind = "ACCOUNTS_TRIGGER"
	EventCreateMarket    EventKind = "CreateMarket"
	EventCloseMarket     EventKind = "CloseMarket"
	EventTrade           EventKind = "Trade"
	EventRedeemPositions EventKind = "RedeemPositions"
)

// Event is one ordered input to the reducer. Chain events carry their log
// position; sync and account signals leave it zero.
type Event struct {
	Kind        EventKind `json:"event"`
	ConditionID string    `json:"conditionId,omitempty"`

	// Account is the new account for EventAccountChanged, the trader for
	// EventTrade and the redeemer for EventRedeemPositions.
	Account string `json:"account,omitempty"`

	// Outcomes holds the padded outcome labels of EventCreateMarket.
	Outcomes []string `json:"outcomes,omitempty"`

	// Payouts and MarginalPricesAtClosure are set by EventCloseMarket.
	Payouts                 []string `json:"payouts,omitempty"`
	MarginalPricesAtClosure []string `json:"marginalPricesAtClosure,omitempty"`

	Cursor Cursor `json:"cursor"`
	TxHash string `json:"txHash,omitempty"`
}

// FromChain reports whether the event was read from the chain log and thus
// has a meaningful cursor.
func (e Event) FromChain() bool {
	switch e.Kind {
	case EventCreateMarket, EventCloseMarket, EventTrade, EventRedeemPositions:
		return !e.Cursor.IsZero()
	default:
		return false
	}
}
