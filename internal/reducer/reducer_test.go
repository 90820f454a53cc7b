package reducer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/futarchyd/internal/chain/chaintest"
	"github.com/alanyoungcy/futarchyd/internal/codec"
	"github.com/alanyoungcy/futarchyd/internal/domain"
	"github.com/alanyoungcy/futarchyd/internal/enricher"
)

const (
	alice       = "0xa11ce00000000000000000000000000000000001"
	bob         = "0xb0b0000000000000000000000000000000000002"
	collateral  = "0xc011000000000000000000000000000000000000"
	marketMaker = "0x4d4d000000000000000000000000000000000000"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	chain   *chaintest.Reader
	reducer *Reducer
}

func newFixture(t *testing.T, conditionIDs ...string) *fixture {
	t.Helper()
	chain := chaintest.NewReader()
	for i, id := range conditionIDs {
		chain.AddMarket(id, domain.MarketData{
			Creator:         alice,
			Oracle:          "0x0racle",
			Question:        codec.EncodeText("Will it rain?", 32),
			Timestamp:       1_700_000_000 + int64(i),
			EndsAt:          1_800_000_000,
			QuestionID:      "0xq" + id,
			MarketMaker:     marketMaker,
			CollateralToken: collateral,
		})
	}
	enr := enricher.New(chain, time.Second, discard())
	return &fixture{chain: chain, reducer: New(chain, enr, discard())}
}

func createMarket(conditionID string, labels ...string) domain.Event {
	padded := make([]string, len(labels))
	for i, l := range labels {
		padded[i] = codec.EncodeText(l, 32)
	}
	return domain.Event{Kind: domain.EventCreateMarket, ConditionID: conditionID, Outcomes: padded}
}

func trade(conditionID string) domain.Event {
	return domain.Event{Kind: domain.EventTrade, ConditionID: conditionID, Account: alice}
}

func closeMarket(conditionID string, payouts ...string) domain.Event {
	return domain.Event{Kind: domain.EventCloseMarket, ConditionID: conditionID, Payouts: payouts}
}

func TestCreateMarketAppends(t *testing.T) {
	f := newFixture(t, "0xA")
	ctx := context.Background()

	s, err := f.reducer.Reduce(ctx, domain.NewState(), createMarket("0xA", "Yes", "No"))
	require.NoError(t, err)
	require.Equal(t, 1, s.Len())

	m, ok := s.Market("0xA")
	require.True(t, ok)
	assert.Equal(t, "Will it rain?", m.Question)
	assert.Equal(t, []string{"Yes", "No"}, m.Labels())
	assert.True(t, m.Open)
	assert.False(t, m.Redeemed)
	assert.Equal(t, alice, m.Creator)
	assert.Equal(t, int64(1_800_000_000), m.EndsAt)
	assert.Equal(t, "0xq0xA", m.QuestionID)
	for _, o := range m.Outcomes {
		assert.Equal(t, "0.5", o.Price)
		assert.Equal(t, "0", o.Balance)
		assert.NotContains(t, o.Label, "\x00")
	}
}

func TestCreateMarketKeepsArrivalOrder(t *testing.T) {
	f := newFixture(t, "0xB", "0xA", "0xC")

	s, errs := f.reducer.Fold(context.Background(), domain.NewState(),
		createMarket("0xB", "Yes", "No"),
		createMarket("0xA", "Yes", "No"),
		createMarket("0xC", "Yes", "No"),
	)
	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"0xB", "0xA", "0xC"}, s.ConditionIDs())
}

func TestCreateMarketDuplicateIsUpsert(t *testing.T) {
	f := newFixture(t, "0xA", "0xB")
	ctx := context.Background()

	s, _ := f.reducer.Fold(ctx, domain.NewState(),
		createMarket("0xA", "Yes", "No"),
		createMarket("0xB", "Up", "Down"),
	)
	f.chain.SetPrice(marketMaker, 0, new(big.Int).Lsh(big.NewInt(1), 64).String())

	s, err := f.reducer.Reduce(ctx, s, createMarket("0xA", "Other", "Labels", "Ignored"))
	require.NoError(t, err)
	require.Equal(t, 2, s.Len())
	assert.Equal(t, []string{"0xA", "0xB"}, s.ConditionIDs())

	m, _ := s.Market("0xA")
	assert.Equal(t, []string{"Yes", "No"}, m.Labels())
	assert.Equal(t, "1", m.Outcomes[0].Price)
	assert.Equal(t, 2, f.chain.Calls("MarketData"))
}

func TestCreateMarketUndecodableQuestion(t *testing.T) {
	f := newFixture(t)
	f.chain.AddMarket("0xA", domain.MarketData{
		Question:        "0xff00",
		MarketMaker:     marketMaker,
		CollateralToken: collateral,
	})

	s, err := f.reducer.Reduce(context.Background(), domain.NewState(), createMarket("0xA", "Yes", "No"))
	require.NoError(t, err)
	m, ok := s.Market("0xA")
	require.True(t, ok)
	assert.Empty(t, m.Question)
	assert.Equal(t, []string{"Yes", "No"}, m.Labels())
}

func TestCreateMarketUndecodableLabelKeepsRaw(t *testing.T) {
	f := newFixture(t)
	f.chain.AddMarket("0xA", domain.MarketData{
		Question:        codec.EncodeText("Will it rain?", 64),
		MarketMaker:     marketMaker,
		CollateralToken: collateral,
	})
	ev := createMarket("0xA", "Yes", "No")
	ev.Outcomes[0] = "0xff00"

	s, err := f.reducer.Reduce(context.Background(), domain.NewState(), ev)
	require.NoError(t, err)
	m, ok := s.Market("0xA")
	require.True(t, ok)
	assert.Equal(t, "Will it rain?", m.Question)
	assert.Equal(t, []string{"0xff00", "No"}, m.Labels())
}

func TestCreateMarketReadFailureLeavesState(t *testing.T) {
	f := newFixture(t)
	initial := domain.NewState()

	s, err := f.reducer.Reduce(context.Background(), initial, createMarket("0xMissing", "Yes", "No"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrReadFailure)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, initial, s)
}

func TestTradeUnknownMarket(t *testing.T) {
	f := newFixture(t, "0xA")
	ctx := context.Background()
	s, err := f.reducer.Reduce(ctx, domain.NewState(), createMarket("0xA", "Yes", "No"))
	require.NoError(t, err)

	next, err := f.reducer.Reduce(ctx, s, trade("0xZ"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnknownConditionID)
	assert.Equal(t, s, next)
	assert.Equal(t, 2, f.chain.Calls("CollectionID"))
}

func TestTradeRefreshesOutcomes(t *testing.T) {
	f := newFixture(t, "0xA")
	ctx := context.Background()

	s, err := f.reducer.Reduce(ctx, domain.NewState().WithSelectedAccount(alice), createMarket("0xA", "Yes", "No"))
	require.NoError(t, err)
	before, _ := s.Market("0xA")

	f.chain.SetBalance(alice, collateral, "0xA", 0, "250")
	f.chain.SetPrice(marketMaker, 0, new(big.Int).Lsh(big.NewInt(1), 62).String())

	next, err := f.reducer.Reduce(ctx, s, trade("0xA"))
	require.NoError(t, err)

	after, _ := next.Market("0xA")
	assert.Equal(t, "250", after.Outcomes[0].Balance)
	assert.Equal(t, "0.25", after.Outcomes[0].Price)
	assert.Equal(t, before.Open, after.Open)
	assert.Equal(t, before.Timestamp, after.Timestamp)

	// The input state is untouched.
	unchanged, _ := s.Market("0xA")
	assert.Equal(t, "0", unchanged.Outcomes[0].Balance)
}

func TestTradeIsIdempotent(t *testing.T) {
	f := newFixture(t, "0xA")
	ctx := context.Background()
	s, err := f.reducer.Reduce(ctx, domain.NewState(), createMarket("0xA", "Yes", "No"))
	require.NoError(t, err)

	once, err := f.reducer.Reduce(ctx, s, trade("0xA"))
	require.NoError(t, err)
	twice, err := f.reducer.Reduce(ctx, once, trade("0xA"))
	require.NoError(t, err)

	a, _ := once.Market("0xA")
	b, _ := twice.Market("0xA")
	assert.Equal(t, a.Outcomes, b.Outcomes)
}

func TestTradeEnrichmentFailureKeepsSnapshot(t *testing.T) {
	f := newFixture(t, "0xA")
	ctx := context.Background()
	s, err := f.reducer.Reduce(ctx, domain.NewState(), createMarket("0xA", "Yes", "No"))
	require.NoError(t, err)

	f.chain.FailOn("MarginalPrice", errors.New("node unavailable"))
	next, err := f.reducer.Reduce(ctx, s, trade("0xA"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrReadFailure)

	var enrichErr *domain.EnrichmentError
	assert.ErrorAs(t, err, &enrichErr)
	assert.Equal(t, s, next)
}

func TestEndToEndScenario(t *testing.T) {
	f := newFixture(t, "0xA")

	s, errs := f.reducer.Fold(context.Background(), domain.NewState(),
		createMarket("0xA", "Yes", "No"),
		trade("0xA"),
		closeMarket("0xA", "1", "0"),
	)
	for _, err := range errs {
		require.NoError(t, err)
	}

	require.Equal(t, 1, s.Len())
	m := s.Markets()[0]
	assert.False(t, m.Open)
	assert.True(t, m.Outcomes[0].Correct)
	assert.False(t, m.Outcomes[1].Correct)
	assert.Equal(t, []string{"1", "0"}, m.Payouts)
	assert.Equal(t, domain.MarketStatusClosed, m.Status(time.Now()))
}

func TestCloseUsesClosurePrices(t *testing.T) {
	f := newFixture(t, "0xA")
	ctx := context.Background()
	s, err := f.reducer.Reduce(ctx, domain.NewState(), createMarket("0xA", "Yes", "No"))
	require.NoError(t, err)

	ev := closeMarket("0xA", "0", "1")
	ev.MarginalPricesAtClosure = []string{"0", new(big.Int).Lsh(big.NewInt(1), 64).String()}
	s, err = f.reducer.Reduce(ctx, s, ev)
	require.NoError(t, err)

	m, _ := s.Market("0xA")
	assert.Equal(t, "0.5", m.Outcomes[0].Price)
	assert.Equal(t, "1", m.Outcomes[1].Price)
	assert.True(t, m.Outcomes[1].Correct)
}

func TestClosedMarketNeverReopens(t *testing.T) {
	f := newFixture(t, "0xA")

	s, errs := f.reducer.Fold(context.Background(), domain.NewState(),
		createMarket("0xA", "Yes", "No"),
		closeMarket("0xA", "0", "1"),
		createMarket("0xA", "Yes", "No"),
		trade("0xA"),
		domain.Event{Kind: domain.EventRedeemPositions, ConditionID: "0xA", Account: bob},
		domain.Event{Kind: domain.EventAccountChanged, Account: bob},
	)
	for _, err := range errs {
		require.NoError(t, err)
	}

	m, _ := s.Market("0xA")
	assert.False(t, m.Open)
	assert.True(t, m.Outcomes[1].Correct)
	assert.Len(t, m.Outcomes, 2)
}

func TestRedeemPositions(t *testing.T) {
	f := newFixture(t, "0xA")
	ctx := context.Background()

	s, errs := f.reducer.Fold(ctx, domain.NewState().WithSelectedAccount(alice),
		createMarket("0xA", "Yes", "No"),
		closeMarket("0xA", "1", "0"),
	)
	for _, err := range errs {
		require.NoError(t, err)
	}

	t.Run("other account", func(t *testing.T) {
		next, err := f.reducer.Reduce(ctx, s, domain.Event{Kind: domain.EventRedeemPositions, ConditionID: "0xA", Account: bob})
		require.NoError(t, err)
		m, _ := next.Market("0xA")
		assert.False(t, m.Redeemed)
	})

	t.Run("selected account", func(t *testing.T) {
		f.chain.SetBalance(alice, collateral, "0xA", 0, "0")
		next, err := f.reducer.Reduce(ctx, s, domain.Event{
			Kind:        domain.EventRedeemPositions,
			ConditionID: "0xA",
			Account:     "0xA11CE00000000000000000000000000000000001",
		})
		require.NoError(t, err)
		m, _ := next.Market("0xA")
		assert.True(t, m.Redeemed)
		assert.True(t, m.Outcomes[0].Correct)
	})

	t.Run("unknown market", func(t *testing.T) {
		next, err := f.reducer.Reduce(ctx, s, domain.Event{Kind: domain.EventRedeemPositions, ConditionID: "0xZ", Account: alice})
		assert.ErrorIs(t, err, domain.ErrUnknownConditionID)
		assert.Equal(t, s, next)
	})
}

func TestSyncSignals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.reducer.Reduce(ctx, domain.NewState(), domain.Event{Kind: domain.EventSyncStarted})
	require.NoError(t, err)
	assert.True(t, s.Syncing)

	s, err = f.reducer.Reduce(ctx, s, domain.Event{Kind: domain.EventSyncFinished})
	require.NoError(t, err)
	assert.False(t, s.Syncing)
}

func TestUnknownEventIsNoop(t *testing.T) {
	f := newFixture(t, "0xA")
	ctx := context.Background()
	s, err := f.reducer.Reduce(ctx, domain.NewState(), createMarket("0xA", "Yes", "No"))
	require.NoError(t, err)

	next, err := f.reducer.Reduce(ctx, s, domain.Event{Kind: "Transfer", ConditionID: "0xA"})
	require.NoError(t, err)
	assert.Equal(t, s, next)
}

func TestAccountChangeReenrichesBalances(t *testing.T) {
	f := newFixture(t, "0xA", "0xB")
	ctx := context.Background()

	s, _ := f.reducer.Fold(ctx, domain.NewState(),
		createMarket("0xA", "Yes", "No"),
		createMarket("0xB", "Yes", "No"),
	)
	f.chain.SetBalance(bob, collateral, "0xA", 1, "42")
	f.chain.SetBalance(bob, collateral, "0xB", 0, "9")

	next, err := f.reducer.Reduce(ctx, s, domain.Event{Kind: domain.EventAccountChanged, Account: bob})
	require.NoError(t, err)
	assert.Equal(t, bob, next.SelectedAccount)

	a, _ := next.Market("0xA")
	b, _ := next.Market("0xB")
	assert.Equal(t, "42", a.Outcomes[1].Balance)
	assert.Equal(t, "9", b.Outcomes[0].Balance)
}

func TestAccountChangeFailureKeepsMarket(t *testing.T) {
	f := newFixture(t, "0xA")
	ctx := context.Background()

	s, err := f.reducer.Reduce(ctx, domain.NewState(), createMarket("0xA", "Yes", "No"))
	require.NoError(t, err)
	f.chain.FailOn("BalanceOf", errors.New("rpc down"))

	next, err := f.reducer.Reduce(ctx, s, domain.Event{Kind: domain.EventAccountChanged, Account: bob})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrReadFailure)
	assert.Equal(t, bob, next.SelectedAccount)

	before, _ := s.Market("0xA")
	after, _ := next.Market("0xA")
	assert.Equal(t, before, after)
}

func TestAccountDisconnect(t *testing.T) {
	f := newFixture(t)
	s, err := f.reducer.Reduce(context.Background(), domain.NewState().WithSelectedAccount(alice),
		domain.Event{Kind: domain.EventAccountChanged})
	require.NoError(t, err)
	assert.Empty(t, s.SelectedAccount)
}

func TestFoldEqualsSnapshotResume(t *testing.T) {
	events := []domain.Event{
		{Kind: domain.EventSyncStarted},
		createMarket("0xA", "Yes", "No"),
		createMarket("0xB", "Up", "Flat", "Down"),
		trade("0xA"),
		{Kind: domain.EventSyncFinished},
		{Kind: domain.EventAccountChanged, Account: alice},
		closeMarket("0xB", "0", "0", "1"),
		trade("0xZ"),
	}
	ctx := context.Background()

	for split := 0; split <= len(events); split++ {
		f := newFixture(t, "0xA", "0xB")
		whole, _ := f.reducer.Fold(ctx, domain.NewState(), events...)

		g := newFixture(t, "0xA", "0xB")
		head, _ := g.reducer.Fold(ctx, domain.NewState(), events[:split]...)
		raw, err := json.Marshal(head)
		require.NoError(t, err)
		var restored domain.State
		require.NoError(t, json.Unmarshal(raw, &restored))
		resumed, _ := g.reducer.Fold(ctx, restored, events[split:]...)

		wantJSON, err := json.Marshal(whole)
		require.NoError(t, err)
		gotJSON, err := json.Marshal(resumed)
		require.NoError(t, err)
		assert.JSONEq(t, string(wantJSON), string(gotJSON), "split at %d", split)
	}
}
