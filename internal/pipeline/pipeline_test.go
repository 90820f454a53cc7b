package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/futarchyd/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseCronField(t *testing.T) {
	cases := []struct {
		field string
		lo    int
		hi    int
		want  []int
	}{
		{"5", 0, 59, []int{5}},
		{"1,15", 1, 31, []int{1, 15}},
		{"9-12", 0, 23, []int{9, 10, 11, 12}},
		{"*/20", 0, 59, []int{0, 20, 40}},
		{"0-30/10", 0, 59, []int{0, 10, 20, 30}},
		{"50/5", 0, 59, []int{50, 55}},
	}
	for _, tc := range cases {
		t.Run(tc.field, func(t *testing.T) {
			f, err := parseCronField(tc.field, tc.lo, tc.hi)
			require.NoError(t, err)
			assert.Equal(t, tc.want, f.values)
		})
	}

	f, err := parseCronField("*", 0, 59)
	require.NoError(t, err)
	assert.True(t, f.wildcard)

	for _, bad := range []string{"x", "60", "5-1", "*/0", "1-x"} {
		_, err := parseCronField(bad, 0, 59)
		assert.Error(t, err, bad)
	}
}

func TestParseCronRejectsWrongFieldCount(t *testing.T) {
	_, err := parseCron("0 3 * *")
	assert.Error(t, err)
}

func TestCronNext(t *testing.T) {
	c, err := parseCron("0 3 * * *")
	require.NoError(t, err)

	after := time.Date(2026, 10, 18, 3, 0, 0, 0, time.UTC)
	next, err := c.next(after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 19, 3, 0, 0, 0, time.UTC), next)

	c, err = parseCron("*/15 * * * *")
	require.NoError(t, err)
	next, err = c.next(time.Date(2026, 10, 18, 3, 7, 30, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 18, 3, 15, 0, 0, time.UTC), next)

	// February 31st never happens.
	c, err = parseCron("0 0 31 2 *")
	require.NoError(t, err)
	_, err = c.next(after)
	assert.Error(t, err)
}

type fakeArchiver struct {
	got []domain.Snapshot
	err error
}

func (f *fakeArchiver) Archive(_ context.Context, snap domain.Snapshot) (string, error) {
	f.got = append(f.got, snap)
	return "snapshots/x.json", f.err
}

func TestArchiverRun(t *testing.T) {
	snap := domain.Snapshot{State: domain.NewState(), Cursor: domain.Cursor{Block: 9}}
	fa := &fakeArchiver{}
	a := NewArchiver(func() domain.Snapshot { return snap }, fa, discardLogger())

	require.NoError(t, a.Run(context.Background()))
	require.Len(t, fa.got, 1)
	assert.Equal(t, uint64(9), fa.got[0].Cursor.Block)

	fa.err = errors.New("bucket gone")
	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket gone")
}

func TestArchiverRunCronBadExpression(t *testing.T) {
	a := NewArchiver(func() domain.Snapshot { return domain.Snapshot{} }, &fakeArchiver{}, discardLogger())
	assert.Error(t, a.RunCron(context.Background(), "every day"))
}

// scriptedSource fails its first runs and then blocks until cancelled.
type scriptedSource struct {
	mu     sync.Mutex
	fails  int
	afters []domain.Cursor
	events []domain.Event
}

func (s *scriptedSource) Run(ctx context.Context, after domain.Cursor, emit func(context.Context, domain.Event) error) error {
	s.mu.Lock()
	s.afters = append(s.afters, after)
	fail := len(s.afters) <= s.fails
	s.mu.Unlock()

	for _, ev := range s.events {
		if err := emit(ctx, ev); err != nil {
			return err
		}
	}
	if fail {
		return errors.New("subscription dropped")
	}
	<-ctx.Done()
	return nil
}

func (s *scriptedSource) runs() []domain.Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Cursor(nil), s.afters...)
}

type memDispatcher struct {
	mu     sync.Mutex
	events []domain.Event
	cursor domain.Cursor
	closed bool
}

func (d *memDispatcher) Dispatch(_ context.Context, ev domain.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return domain.ErrStoreClosed
	}
	d.events = append(d.events, ev)
	if ev.Cursor.After(d.cursor) {
		d.cursor = ev.Cursor
	}
	return nil
}

func (d *memDispatcher) Cursor() domain.Cursor {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cursor
}

func TestIngesterReconnectsFromCursor(t *testing.T) {
	src := &scriptedSource{
		fails:  2,
		events: []domain.Event{{Kind: domain.EventTrade, ConditionID: "0xa", Cursor: domain.Cursor{Block: 7, LogIndex: 1}}},
	}
	d := &memDispatcher{}
	ing := NewIngester(src, d, time.Millisecond, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ing.RunLoop(ctx) }()

	require.Eventually(t, func() bool { return len(src.runs()) == 3 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	runs := src.runs()
	assert.True(t, runs[0].IsZero())
	assert.Equal(t, domain.Cursor{Block: 7, LogIndex: 1}, runs[1])
	assert.Equal(t, domain.Cursor{Block: 7, LogIndex: 1}, runs[2])
}

func TestIngesterStopsWhenStoreClosed(t *testing.T) {
	src := &scriptedSource{events: []domain.Event{{Kind: domain.EventSyncStarted}}}
	d := &memDispatcher{closed: true}
	ing := NewIngester(src, d, time.Millisecond, discardLogger())

	err := ing.RunLoop(context.Background())
	assert.ErrorIs(t, err, domain.ErrStoreClosed)
	assert.Len(t, src.runs(), 1)
}

type blockingRunner struct{ err error }

func (b blockingRunner) Run(ctx context.Context) error {
	if b.err != nil {
		return b.err
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestOrchestratorCleanShutdown(t *testing.T) {
	src := &scriptedSource{}
	ing := NewIngester(src, &memDispatcher{}, time.Millisecond, discardLogger())
	o := NewOrchestrator(blockingRunner{}, ing, nil, "", discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	require.Eventually(t, func() bool { return len(src.runs()) == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

func TestOrchestratorPropagatesFailure(t *testing.T) {
	ing := NewIngester(&scriptedSource{}, &memDispatcher{}, time.Millisecond, discardLogger())
	o := NewOrchestrator(blockingRunner{err: errors.New("boom")}, ing, nil, "", discardLogger())

	err := o.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store: boom")
}
