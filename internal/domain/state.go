package domain

import (
	"encoding/json"
	"math"
	"time"
)

// State is the derived application state. Markets are keyed by condition ID
// with a separate insertion-order index, so keyed updates never shift
// positions. A State value is never mutated after construction; every With*
// method returns a new value.
type State struct {
	Syncing         bool
	SelectedAccount string // empty when no account is connected

	markets map[string]Market
	order   []string
}

// NewState returns an empty state with no markets.
func NewState() State {
	return State{markets: make(map[string]Market)}
}

// Len returns the number of markets.
func (s State) Len() int { return len(s.order) }

// Market looks up a market by condition ID.
func (s State) Market(conditionID string) (Market, bool) {
	m, ok := s.markets[conditionID]
	return m, ok
}

// Markets returns the markets in event arrival order.
func (s State) Markets() []Market {
	out := make([]Market, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.markets[id])
	}
	return out
}

// ConditionIDs returns the market keys in event arrival order.
func (s State) ConditionIDs() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// WithSyncing returns a copy of s with the syncing flag set.
func (s State) WithSyncing(syncing bool) State {
	s.Syncing = syncing
	return s
}

// WithSelectedAccount returns a copy of s with the selected account replaced.
func (s State) WithSelectedAccount(account string) State {
	s.SelectedAccount = account
	return s
}

// WithMarket returns a copy of s in which m replaces the market with the same
// condition ID, or is appended when no such market exists yet.
func (s State) WithMarket(m Market) State {
	markets := make(map[string]Market, len(s.markets)+1)
	for k, v := range s.markets {
		markets[k] = v
	}
	order := s.order
	if _, exists := s.markets[m.ConditionID]; !exists {
		order = make([]string, len(s.order), len(s.order)+1)
		copy(order, s.order)
		order = append(order, m.ConditionID)
	}
	markets[m.ConditionID] = m
	s.markets = markets
	s.order = order
	return s
}

type stateJSON struct {
	Syncing         bool     `json:"syncing"`
	SelectedAccount *string  `json:"selectedAccount"`
	Markets         []Market `json:"markets"`
}

// MarshalJSON renders the presentation-layer shape
// {syncing, selectedAccount|null, markets[]}.
func (s State) MarshalJSON() ([]byte, error) {
	out := stateJSON{Syncing: s.Syncing, Markets: s.Markets()}
	if s.SelectedAccount != "" {
		acct := s.SelectedAccount
		out.SelectedAccount = &acct
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores a state previously produced by MarshalJSON. A later
// duplicate condition ID overwrites the earlier entry in place.
func (s *State) UnmarshalJSON(data []byte) error {
	var in stateJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	restored := NewState()
	restored.Syncing = in.Syncing
	if in.SelectedAccount != nil {
		restored.SelectedAccount = *in.SelectedAccount
	}
	for _, m := range in.Markets {
		restored = restored.WithMarket(m)
	}
	*s = restored
	return nil
}

// Cursor is the chain position (block number, log index) of an event.
type Cursor struct {
	Block    uint64 `json:"block"`
	LogIndex uint   `json:"logIndex"`
}

// IsZero reports whether the cursor has never been set.
func (c Cursor) IsZero() bool { return c.Block == 0 && c.LogIndex == 0 }

// After reports whether c is strictly later than o in chain order.
func (c Cursor) After(o Cursor) bool {
	if c.Block != o.Block {
		return c.Block > o.Block
	}
	return c.LogIndex > o.LogIndex
}

// MaxLogIndex bounds log indexes within a block. It fits the INTEGER column
// the cursor is checkpointed in.
const MaxLogIndex = math.MaxInt32

// Before returns the position immediately preceding c: c is After it and
// nothing earlier than c is.
func (c Cursor) Before() Cursor {
	if c.LogIndex > 0 {
		return Cursor{Block: c.Block, LogIndex: c.LogIndex - 1}
	}
	if c.Block == 0 {
		return Cursor{}
	}
	return Cursor{Block: c.Block - 1, LogIndex: MaxLogIndex}
}

// Snapshot is the last known derived state plus the position of the last
// chain event folded into it.
type Snapshot struct {
	State   State     `json:"state"`
	Cursor  Cursor    `json:"cursor"`
	TakenAt time.Time `json:"takenAt"`
}
