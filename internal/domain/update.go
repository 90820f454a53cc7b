package domain

// Bus channel and stream names shared by the indexer and API processes. The
// bus scopes them to the futarchy app it was created for.
const (
	// ChannelState carries an Update after every commit.
	ChannelState = "state"
	// ChannelCommands carries account-change requests from API processes to
	// the indexer.
	ChannelCommands = "commands"
	// StreamEvents is the durable log of committed events.
	StreamEvents = "events"
)

// Update is pushed to subscribers after every commit.
type Update struct {
	Type    string    `json:"type"` // always "state"
	Event   EventKind `json:"event"`
	Changed []string  `json:"changed,omitempty"`
	Cursor  Cursor    `json:"cursor"`
	Error   string    `json:"error,omitempty"`
	State   State     `json:"state"`
}
