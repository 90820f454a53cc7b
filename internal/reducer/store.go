package reducer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/alanyoungcy/futarchyd/internal/domain"
	"github.com/alanyoungcy/futarchyd/internal/metrics"
)

// OverflowPolicy decides what Dispatch does when the queue is full.
type OverflowPolicy string

const (
	// OverflowBlock makes Dispatch wait for room.
	OverflowBlock OverflowPolicy = "block"
	// OverflowDropOldest evicts the oldest queued event with a warning.
	OverflowDropOldest OverflowPolicy = "drop_oldest"
)

// Commit describes one applied event. Err is non-nil when the handler failed;
// Next then equals Prev, apart from the partial account switch documented on
// Reducer.Reduce.
type Commit struct {
	Event  domain.Event
	Prev   domain.State
	Next   domain.State
	Cursor domain.Cursor
	Err    error
}

// Changed returns the condition IDs whose market differs between Prev and
// Next.
func (c Commit) Changed() []string {
	var ids []string
	for _, id := range c.Next.ConditionIDs() {
		after, _ := c.Next.Market(id)
		before, ok := c.Prev.Market(id)
		if !ok || !marketEqual(before, after) {
			ids = append(ids, id)
		}
	}
	return ids
}

// CommitHook is called after every event, in commit order, from the store's
// processing goroutine. A slow hook delays the next event.
type CommitHook func(ctx context.Context, c Commit)

// Options configures a Store.
type Options struct {
	QueueSize int
	Overflow  OverflowPolicy
	// Cursor is the position of the last chain event already folded into the
	// initial state. Chain events at or before it are skipped.
	Cursor domain.Cursor
	Hooks  []CommitHook
	Logger *slog.Logger
	// Retries is how many more times a chain event that failed with a read
	// error is applied before it is committed as failed. RetryBackoff is the
	// first wait and doubles after each attempt.
	Retries      int
	RetryBackoff time.Duration
}

// Store owns the derived state. Events queue FIFO behind the one in flight
// and are applied strictly one at a time.
type Store struct {
	reducer  *Reducer
	queue    chan domain.Event
	overflow OverflowPolicy
	hooks    []CommitHook
	logger   *slog.Logger
	retries  int
	backoff  time.Duration

	mu     sync.RWMutex
	state  domain.State
	cursor domain.Cursor
	// pending holds chain events that failed to read. They are applied again
	// when redelivered and hold the resume cursor back until they succeed.
	pending map[domain.Cursor]struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// NewStore creates a Store seeded with initial. Call Run to start applying
// events.
func NewStore(r *Reducer, initial domain.State, opts Options) *Store {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Overflow == "" {
		opts.Overflow = OverflowBlock
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 500 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		reducer:  r,
		queue:    make(chan domain.Event, opts.QueueSize),
		overflow: opts.Overflow,
		hooks:    opts.Hooks,
		logger:   logger.With(slog.String("component", "store")),
		retries:  max(opts.Retries, 0),
		backoff:  opts.RetryBackoff,
		state:    initial,
		cursor:   opts.Cursor,
		pending:  make(map[domain.Cursor]struct{}),
		done:     make(chan struct{}),
	}
}

// OnCommit registers a hook. It must be called before Run.
func (s *Store) OnCommit(h CommitHook) {
	s.hooks = append(s.hooks, h)
}

// State returns the last committed state.
func (s *Store) State() domain.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Snapshot returns the last committed state together with its resume cursor.
func (s *Store) Snapshot() domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.Snapshot{State: s.state, Cursor: s.resumeLocked(), TakenAt: time.Now().UTC()}
}

// Cursor returns the position a source must replay from so that no chain
// event is lost. It is the last committed chain event, or the position just
// before the earliest event whose chain reads failed.
func (s *Store) Cursor() domain.Cursor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resumeLocked()
}

func (s *Store) resumeLocked() domain.Cursor {
	if len(s.pending) == 0 {
		return s.cursor
	}
	var earliest domain.Cursor
	first := true
	for c := range s.pending {
		if first || earliest.After(c) {
			earliest, first = c, false
		}
	}
	return earliest.Before()
}

// Pending returns how many chain events are waiting to be redelivered after
// failed reads.
func (s *Store) Pending() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pending)
}

// Dispatch queues ev. With OverflowBlock it waits for room until ctx ends;
// with OverflowDropOldest it never waits.
func (s *Store) Dispatch(ctx context.Context, ev domain.Event) error {
	select {
	case <-s.done:
		return domain.ErrStoreClosed
	default:
	}

	if s.overflow == OverflowDropOldest {
		s.dispatchDropOldest(ctx, ev)
		return nil
	}

	select {
	case s.queue <- ev:
		metrics.QueueDepth.Set(float64(len(s.queue)))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("store: dispatch %s: %w", ev.Kind, ctx.Err())
	case <-s.done:
		return domain.ErrStoreClosed
	}
}

func (s *Store) dispatchDropOldest(ctx context.Context, ev domain.Event) {
	for {
		select {
		case s.queue <- ev:
			metrics.QueueDepth.Set(float64(len(s.queue)))
			return
		default:
		}
		select {
		case dropped := <-s.queue:
			metrics.EventsDropped.Inc()
			s.logger.WarnContext(ctx, "event queue full, dropped oldest event",
				slog.String("event", string(dropped.Kind)),
				slog.String("condition_id", dropped.ConditionID),
				slog.Uint64("block", dropped.Cursor.Block),
			)
		default:
		}
	}
}

// Run applies queued events until ctx is cancelled or Close is called.
// Events still queued at that point are discarded.
func (s *Store) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "store started",
		slog.Int("markets", s.State().Len()),
		slog.Uint64("cursor_block", s.Cursor().Block),
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case ev := <-s.queue:
			metrics.QueueDepth.Set(float64(len(s.queue)))
			s.apply(ctx, ev)
		}
	}
}

// Close stops Run and rejects further dispatches. It is safe to call more
// than once.
func (s *Store) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Store) apply(ctx context.Context, ev domain.Event) {
	prev := s.State()

	if s.isReplay(ev) {
		metrics.EventsSkipped.Inc()
		s.logger.DebugContext(ctx, "skipping replayed event",
			slog.String("event", string(ev.Kind)),
			slog.Uint64("block", ev.Cursor.Block),
			slog.Uint64("log_index", uint64(ev.Cursor.LogIndex)),
		)
		return
	}

	next, err := s.reduce(ctx, prev, ev)

	// Shutdown mid-event: leave the cursor where it was so the event is
	// replayed on restart.
	if ctx.Err() != nil {
		return
	}

	s.mu.Lock()
	s.state = next
	if ev.FromChain() {
		if errors.Is(err, domain.ErrReadFailure) {
			s.pending[ev.Cursor] = struct{}{}
		} else {
			delete(s.pending, ev.Cursor)
		}
		if ev.Cursor.After(s.cursor) {
			s.cursor = ev.Cursor
		}
	}
	cursor := s.resumeLocked()
	pending := len(s.pending)
	s.mu.Unlock()
	metrics.EventsPending.Set(float64(pending))

	if err != nil {
		metrics.EventsFailed.WithLabelValues(string(ev.Kind), failureReason(err)).Inc()
		s.logger.WarnContext(ctx, "event not applied",
			slog.String("event", string(ev.Kind)),
			slog.String("condition_id", ev.ConditionID),
			slog.Int("pending", pending),
			slog.String("error", err.Error()),
		)
	} else {
		metrics.EventsApplied.WithLabelValues(string(ev.Kind)).Inc()
	}
	recordMarkets(next)

	c := Commit{Event: ev, Prev: prev, Next: next, Cursor: cursor, Err: err}
	for _, h := range s.hooks {
		h(ctx, c)
	}
}

// isReplay reports whether ev is a chain event at or before the highest
// applied position that is not waiting for redelivery.
func (s *Store) isReplay(ev domain.Event) bool {
	if !ev.FromChain() {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cursor.IsZero() || ev.Cursor.After(s.cursor) {
		return false
	}
	_, retry := s.pending[ev.Cursor]
	return !retry
}

// reduce applies ev, retrying chain events whose reads failed with
// exponential backoff.
func (s *Store) reduce(ctx context.Context, prev domain.State, ev domain.Event) (domain.State, error) {
	wait := s.backoff
	for attempt := 0; ; attempt++ {
		start := time.Now()
		next, err := s.reducer.Reduce(ctx, prev, ev)
		metrics.ReduceLatency.WithLabelValues(string(ev.Kind)).Observe(time.Since(start).Seconds())

		if err == nil || !ev.FromChain() || !errors.Is(err, domain.ErrReadFailure) || attempt >= s.retries {
			return next, err
		}
		s.logger.InfoContext(ctx, "chain read failed, retrying event",
			slog.String("event", string(ev.Kind)),
			slog.String("condition_id", ev.ConditionID),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", wait),
			slog.String("error", err.Error()),
		)
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return next, err
		case <-s.done:
			timer.Stop()
			return next, err
		}
		wait *= 2
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrUnknownConditionID):
		return "unknown_condition_id"
	case errors.Is(err, domain.ErrReadFailure):
		return "read_failure"
	case errors.Is(err, domain.ErrDecodeFailure):
		return "decode_failure"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "other"
	}
}

func recordMarkets(s domain.State) {
	var open, closed int
	for _, m := range s.Markets() {
		if m.Open {
			open++
		} else {
			closed++
		}
	}
	metrics.Markets.WithLabelValues("true").Set(float64(open))
	metrics.Markets.WithLabelValues("false").Set(float64(closed))
}

func marketEqual(a, b domain.Market) bool {
	return a.ConditionID == b.ConditionID && a.Open == b.Open && a.Redeemed == b.Redeemed &&
		slices.Equal(a.Outcomes, b.Outcomes) &&
		slices.Equal(a.Payouts, b.Payouts) &&
		slices.Equal(a.MarginalPricesAtClosure, b.MarginalPricesAtClosure)
}
