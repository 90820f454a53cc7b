package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/futarchyd/internal/domain"
)

// Dispatcher queues an event for the reducer.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev domain.Event) error
}

// AccountSwitcher changes the selected account.
type AccountSwitcher interface {
	SelectAccount(ctx context.Context, account string) error
}

// DirectSwitcher dispatches account changes to the in-process store.
type DirectSwitcher struct {
	store Dispatcher
}

// NewDirectSwitcher creates a DirectSwitcher.
func NewDirectSwitcher(store Dispatcher) *DirectSwitcher {
	return &DirectSwitcher{store: store}
}

// SelectAccount dispatches an account-changed event.
func (d *DirectSwitcher) SelectAccount(ctx context.Context, account string) error {
	return d.store.Dispatch(ctx, domain.Event{Kind: domain.EventAccountChanged, Account: account})
}

// CommandRelay carries account changes from API-only processes to the
// indexer over the signal bus.
type CommandRelay struct {
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewCommandRelay creates a CommandRelay.
func NewCommandRelay(bus domain.SignalBus, logger *slog.Logger) *CommandRelay {
	return &CommandRelay{bus: bus, logger: logger.With(slog.String("component", "command_relay"))}
}

// SelectAccount publishes an account-changed command.
func (r *CommandRelay) SelectAccount(ctx context.Context, account string) error {
	payload, err := json.Marshal(domain.Event{Kind: domain.EventAccountChanged, Account: account})
	if err != nil {
		return fmt.Errorf("command_relay: marshal: %w", err)
	}
	if err := r.bus.Publish(ctx, domain.ChannelCommands, payload); err != nil {
		return fmt.Errorf("command_relay: %w", err)
	}
	return nil
}

// Forward subscribes to relayed commands and dispatches them to store until
// ctx is cancelled. Only account changes are accepted; chain events never
// arrive through this path.
func (r *CommandRelay) Forward(ctx context.Context, store Dispatcher) error {
	msgs, err := r.bus.Subscribe(ctx, domain.ChannelCommands)
	if err != nil {
		return fmt.Errorf("command_relay: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-msgs:
			if !ok {
				return fmt.Errorf("command_relay: subscription closed")
			}
			var ev domain.Event
			if err := json.Unmarshal(payload, &ev); err != nil || ev.Kind != domain.EventAccountChanged {
				r.logger.WarnContext(ctx, "ignoring relayed command", slog.Int("bytes", len(payload)))
				continue
			}
			if err := store.Dispatch(ctx, domain.Event{Kind: ev.Kind, Account: ev.Account}); err != nil {
				return fmt.Errorf("command_relay: dispatch: %w", err)
			}
		}
	}
}
