package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/futarchyd/internal/domain"
)

// LogClient is the subset of ethclient.Client the event source needs.
type LogClient interface {
	ethereum.LogFilterer
	ethereum.BlockNumberReader
}

// SourceConfig configures an EventSource.
type SourceConfig struct {
	AppAddress string
	// StartBlock is the first block scanned when no cursor is known, usually
	// the app's deployment block.
	StartBlock uint64
	// Chunk is the block window of one eth_getLogs backfill request.
	Chunk uint64
}

// EventSource backfills the futarchy app's logs and then follows the chain
// head. Delivery is in (block, log index) order and at least once: the
// subscription overlaps the tail of the backfill, so consumers must skip
// positions they have already applied.
type EventSource struct {
	client LogClient
	cfg    SourceConfig
	app    common.Address
	logger *slog.Logger
}

// NewEventSource creates an EventSource.
func NewEventSource(client LogClient, cfg SourceConfig, logger *slog.Logger) *EventSource {
	if cfg.Chunk == 0 {
		cfg.Chunk = 5000
	}
	return &EventSource{
		client: client,
		cfg:    cfg,
		app:    common.HexToAddress(cfg.AppAddress),
		logger: logger.With(slog.String("component", "event_source")),
	}
}

// Run emits sync-start, every historical event after the cursor, sync-end
// and then live events until ctx ends or the subscription fails.
func (s *EventSource) Run(ctx context.Context, after domain.Cursor, emit func(context.Context, domain.Event) error) error {
	from := s.cfg.StartBlock
	if after.Block > from {
		from = after.Block
	}

	if err := emit(ctx, domain.Event{Kind: domain.EventSyncStarted}); err != nil {
		return err
	}

	head, err := s.client.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("chain: block number: %w", err)
	}
	next, err := s.backfill(ctx, from, head, emit)
	if err != nil {
		return err
	}

	logs := make(chan types.Log, 256)
	sub, err := s.client.SubscribeFilterLogs(ctx, s.query(nil, nil), logs)
	if err != nil {
		return fmt.Errorf("chain: subscribe logs: %w", err)
	}
	defer sub.Unsubscribe()

	// Close the window between the last backfill and the subscription.
	head, err = s.client.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("chain: block number: %w", err)
	}
	if _, err := s.backfill(ctx, next, head, emit); err != nil {
		return err
	}

	if err := emit(ctx, domain.Event{Kind: domain.EventSyncFinished}); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "following chain head", slog.Uint64("head", head))

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Err():
			return fmt.Errorf("chain: log subscription: %w", err)
		case l := <-logs:
			if err := s.deliver(ctx, l, emit); err != nil {
				return err
			}
		}
	}
}

// backfill emits the logs of blocks [from, to] in Chunk-sized windows and
// returns the first block it did not scan.
func (s *EventSource) backfill(ctx context.Context, from, to uint64, emit func(context.Context, domain.Event) error) (uint64, error) {
	if from > to {
		return from, nil
	}
	for start := from; start <= to; start += s.cfg.Chunk {
		end := start + s.cfg.Chunk - 1
		if end > to {
			end = to
		}
		logs, err := s.client.FilterLogs(ctx, s.query(new(big.Int).SetUint64(start), new(big.Int).SetUint64(end)))
		if err != nil {
			return start, fmt.Errorf("chain: filter logs %d-%d: %w", start, end, err)
		}
		s.logger.DebugContext(ctx, "backfilled block range",
			slog.Uint64("from", start),
			slog.Uint64("to", end),
			slog.Int("logs", len(logs)),
		)
		for _, l := range logs {
			if err := s.deliver(ctx, l, emit); err != nil {
				return start, err
			}
		}
	}
	return to + 1, nil
}

func (s *EventSource) deliver(ctx context.Context, l types.Log, emit func(context.Context, domain.Event) error) error {
	if l.Removed {
		s.logger.WarnContext(ctx, "ignoring log removed by reorg",
			slog.String("tx_hash", l.TxHash.Hex()),
			slog.Uint64("block", l.BlockNumber),
		)
		return nil
	}
	ev, err := DecodeLog(l)
	if errors.Is(err, errUnknownTopic) {
		return nil
	}
	if err != nil {
		s.logger.WarnContext(ctx, "undecodable log",
			slog.String("tx_hash", l.TxHash.Hex()),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return emit(ctx, ev)
}

func (s *EventSource) query(from, to *big.Int) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		FromBlock: from,
		ToBlock:   to,
		Addresses: []common.Address{s.app},
		Topics:    [][]common.Hash{Topics()},
	}
}

var _ domain.EventSource = (*EventSource)(nil)
