package chain

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/futarchyd/internal/codec"
	"github.com/alanyoungcy/futarchyd/internal/domain"
)

var (
	appAddr     = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tokensAddr  = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	makerAddr   = common.HexToAddress("0x00000000000000000000000000000000000000dd")
	creatorAddr = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	condition   = common.HexToHash("0x0a")
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func label(s string) [32]byte {
	var out [32]byte
	copy(out[:], s)
	return out
}

func createMarketLog(t *testing.T, block uint64, index uint) types.Log {
	t.Helper()
	data, err := appABI.Events["CreateMarket"].Inputs.NonIndexed().Pack(makerAddr, [][32]byte{label("Yes"), label("No")})
	require.NoError(t, err)
	return types.Log{
		Address:     appAddr,
		Topics:      []common.Hash{topicCreateMarket, common.BytesToHash(creatorAddr.Bytes()), condition},
		Data:        data,
		BlockNumber: block,
		Index:       index,
		TxHash:      common.HexToHash("0xfeed"),
	}
}

func closeMarketLog(t *testing.T, block uint64, index uint) types.Log {
	t.Helper()
	two64 := new(big.Int).Lsh(big.NewInt(1), 64)
	data, err := appABI.Events["CloseMarket"].Inputs.NonIndexed().Pack(
		[]*big.Int{big.NewInt(1), big.NewInt(0)},
		[]*big.Int{two64, big.NewInt(0)},
	)
	require.NoError(t, err)
	return types.Log{
		Address:     appAddr,
		Topics:      []common.Hash{topicCloseMarket, condition},
		Data:        data,
		BlockNumber: block,
		Index:       index,
	}
}

func TestTopicsMatchABI(t *testing.T) {
	assert.Equal(t, appABI.Events["CreateMarket"].ID, topicCreateMarket)
	assert.Equal(t, appABI.Events["Trade"].ID, topicTrade)
	assert.Equal(t, appABI.Events["CloseMarket"].ID, topicCloseMarket)
	assert.Equal(t, appABI.Events["RedeemPositions"].ID, topicRedeemPositions)
}

func TestDecodeCreateMarket(t *testing.T) {
	ev, err := DecodeLog(createMarketLog(t, 100, 4))
	require.NoError(t, err)

	assert.Equal(t, domain.EventCreateMarket, ev.Kind)
	assert.Equal(t, condition.Hex(), ev.ConditionID)
	assert.Equal(t, creatorAddr.Hex(), ev.Account)
	assert.Equal(t, domain.Cursor{Block: 100, LogIndex: 4}, ev.Cursor)
	require.Len(t, ev.Outcomes, 2)

	yes, err := codec.DecodeText(ev.Outcomes[0])
	require.NoError(t, err)
	assert.Equal(t, "Yes", yes)
	assert.True(t, ev.FromChain())
}

func TestDecodeCloseMarket(t *testing.T) {
	ev, err := DecodeLog(closeMarketLog(t, 101, 0))
	require.NoError(t, err)

	assert.Equal(t, domain.EventCloseMarket, ev.Kind)
	assert.Equal(t, []string{"1", "0"}, ev.Payouts)
	assert.Equal(t, []string{"18446744073709551616", "0"}, ev.MarginalPricesAtClosure)
}

func TestDecodeTradeAndRedeem(t *testing.T) {
	trader := common.HexToAddress("0x00000000000000000000000000000000000000b0")
	tradeData, err := appABI.Events["Trade"].Inputs.NonIndexed().Pack([]*big.Int{big.NewInt(5), big.NewInt(-5)}, big.NewInt(3))
	require.NoError(t, err)

	ev, err := DecodeLog(types.Log{
		Topics:      []common.Hash{topicTrade, common.BytesToHash(trader.Bytes()), condition},
		Data:        tradeData,
		BlockNumber: 7,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.EventTrade, ev.Kind)
	assert.Equal(t, trader.Hex(), ev.Account)

	redeemData, err := appABI.Events["RedeemPositions"].Inputs.NonIndexed().Pack(big.NewInt(10))
	require.NoError(t, err)
	ev, err = DecodeLog(types.Log{
		Topics:      []common.Hash{topicRedeemPositions, common.BytesToHash(trader.Bytes()), condition},
		Data:        redeemData,
		BlockNumber: 8,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.EventRedeemPositions, ev.Kind)
	assert.Equal(t, condition.Hex(), ev.ConditionID)
}

func TestDecodeUnknownTopic(t *testing.T) {
	_, err := DecodeLog(types.Log{Topics: []common.Hash{common.HexToHash("0x01")}})
	assert.ErrorIs(t, err, errUnknownTopic)

	_, err = DecodeLog(types.Log{})
	assert.ErrorIs(t, err, errUnknownTopic)
}

// fakeCaller answers eth_call by method selector.
type fakeCaller struct {
	mu      sync.Mutex
	answers map[string][]byte // hex(to) + selector
	calls   int
	// hold, when set, delays conditionalTokens() until closed or the call's
	// context ends.
	hold chan struct{}
}

func (f *fakeCaller) answer(to common.Address, selector []byte, outputs []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.answers == nil {
		f.answers = make(map[string][]byte)
	}
	f.answers[to.Hex()+hexutil.Encode(selector)] = outputs
}

func (f *fakeCaller) CallContract(ctx context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	hold := f.hold
	f.mu.Unlock()
	if hold != nil && bytes.Equal(msg.Data[:4], appABI.Methods["conditionalTokens"].ID) {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	out, ok := f.answers[msg.To.Hex()+hexutil.Encode(msg.Data[:4])]
	if !ok {
		return nil, ethereum.NotFound
	}
	return out, nil
}

func TestReaderMarketData(t *testing.T) {
	question := []byte("Will it rain?")
	out, err := appABI.Methods["getMarketData"].Outputs.Pack(
		creatorAddr, common.HexToAddress("0x0e"), question,
		big.NewInt(1700000000), big.NewInt(1800000000),
		label("qid"), label("rid"), makerAddr, tokensAddr,
	)
	require.NoError(t, err)

	caller := &fakeCaller{}
	caller.answer(appAddr, appABI.Methods["getMarketData"].ID, out)

	md, err := NewReader(caller, appAddr.Hex(), tokensAddr.Hex()).MarketData(context.Background(), condition.Hex())
	require.NoError(t, err)
	assert.Equal(t, creatorAddr.Hex(), md.Creator)
	assert.Equal(t, int64(1800000000), md.EndsAt)
	assert.Equal(t, makerAddr.Hex(), md.MarketMaker)

	text, err := codec.DecodeText(md.Question)
	require.NoError(t, err)
	assert.Equal(t, "Will it rain?", text)
}

func TestReaderOutcomeCalls(t *testing.T) {
	caller := &fakeCaller{}
	collection := common.HexToHash("0xc0")

	out, err := appABI.Methods["conditionalTokens"].Outputs.Pack(tokensAddr)
	require.NoError(t, err)
	caller.answer(appAddr, appABI.Methods["conditionalTokens"].ID, out)

	out, err = tokensABI.Methods["getCollectionId"].Outputs.Pack([32]byte(collection))
	require.NoError(t, err)
	caller.answer(tokensAddr, tokensABI.Methods["getCollectionId"].ID, out)

	out, err = tokensABI.Methods["getPositionId"].Outputs.Pack(big.NewInt(777))
	require.NoError(t, err)
	caller.answer(tokensAddr, tokensABI.Methods["getPositionId"].ID, out)

	out, err = tokensABI.Methods["balanceOf"].Outputs.Pack(big.NewInt(12345))
	require.NoError(t, err)
	caller.answer(tokensAddr, tokensABI.Methods["balanceOf"].ID, out)

	out, err = marketMakerABI.Methods["calcMarginalPrice"].Outputs.Pack(new(big.Int).Lsh(big.NewInt(1), 63))
	require.NoError(t, err)
	caller.answer(makerAddr, marketMakerABI.Methods["calcMarginalPrice"].ID, out)

	r := NewReader(caller, appAddr.Hex(), "")
	ctx := context.Background()

	coll, err := r.CollectionID(ctx, common.Hash{}.Hex(), condition.Hex(), big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, collection.Hex(), coll)

	pos, err := r.PositionID(ctx, tokensAddr.Hex(), coll)
	require.NoError(t, err)
	assert.Equal(t, "777", pos)

	bal, err := r.BalanceOf(ctx, creatorAddr.Hex(), pos)
	require.NoError(t, err)
	assert.Equal(t, "12345", bal)

	price, err := r.MarginalPrice(ctx, makerAddr.Hex(), 1)
	require.NoError(t, err)
	assert.Equal(t, "9223372036854775808", price)

	// conditionalTokens() is resolved once: 4 reads plus one lookup.
	assert.Equal(t, 5, caller.calls)
}

func TestReaderTokensLookupDoesNotSerializeCallers(t *testing.T) {
	caller := &fakeCaller{hold: make(chan struct{})}
	out, err := appABI.Methods["conditionalTokens"].Outputs.Pack(tokensAddr)
	require.NoError(t, err)
	caller.answer(appAddr, appABI.Methods["conditionalTokens"].ID, out)
	out, err = tokensABI.Methods["balanceOf"].Outputs.Pack(big.NewInt(5))
	require.NoError(t, err)
	caller.answer(tokensAddr, tokensABI.Methods["balanceOf"].ID, out)

	r := NewReader(caller, appAddr.Hex(), "")

	slow := make(chan error, 1)
	go func() {
		_, err := r.BalanceOf(context.Background(), creatorAddr.Hex(), "1")
		slow <- err
	}()

	// A second caller with a short deadline gives up on its own deadline
	// instead of waiting behind the first lookup.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = r.BalanceOf(ctx, creatorAddr.Hex(), "1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)

	close(caller.hold)
	require.NoError(t, <-slow)

	bal, err := r.BalanceOf(context.Background(), creatorAddr.Hex(), "1")
	require.NoError(t, err)
	assert.Equal(t, "5", bal)
}

func TestReaderTokensLookupFailureNotCached(t *testing.T) {
	caller := &fakeCaller{}
	out, err := tokensABI.Methods["balanceOf"].Outputs.Pack(big.NewInt(5))
	require.NoError(t, err)
	caller.answer(tokensAddr, tokensABI.Methods["balanceOf"].ID, out)

	r := NewReader(caller, appAddr.Hex(), "")
	_, err = r.BalanceOf(context.Background(), creatorAddr.Hex(), "1")
	require.Error(t, err)

	out, err = appABI.Methods["conditionalTokens"].Outputs.Pack(tokensAddr)
	require.NoError(t, err)
	caller.answer(appAddr, appABI.Methods["conditionalTokens"].ID, out)

	bal, err := r.BalanceOf(context.Background(), creatorAddr.Hex(), "1")
	require.NoError(t, err)
	assert.Equal(t, "5", bal)
}

func TestReaderRejectsBadInput(t *testing.T) {
	r := NewReader(&fakeCaller{}, appAddr.Hex(), tokensAddr.Hex())
	ctx := context.Background()

	_, err := r.BalanceOf(ctx, "not-an-address", "1")
	assert.Error(t, err)
	_, err = r.BalanceOf(ctx, creatorAddr.Hex(), "0xzz")
	assert.Error(t, err)
	_, err = r.MarketData(ctx, "condition")
	assert.Error(t, err)
	_, err = r.MarginalPrice(ctx, makerAddr.Hex(), 300)
	assert.Error(t, err)
}

func TestWriterBuy(t *testing.T) {
	w := NewWriter(appAddr.Hex())
	tx, err := w.Build(domain.CallBuy, domain.WriteArgs{
		ConditionID:         condition.Hex(),
		OutcomeTokenAmounts: []string{"100", "-50"},
		CollateralLimit:     "1000",
	})
	require.NoError(t, err)
	assert.Equal(t, appAddr.Hex(), tx.To)
	assert.Equal(t, "0", tx.Value)

	data, err := hexutil.Decode(tx.Data)
	require.NoError(t, err)
	method := appABI.Methods["buy"]
	require.True(t, bytes.Equal(method.ID, data[:4]))

	args, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	assert.Equal(t, [32]byte(condition), args[0])
	amounts, ok := args[1].([]*big.Int)
	require.True(t, ok)
	require.Len(t, amounts, 2)
	assert.Equal(t, "100", amounts[0].String())
	assert.Equal(t, "-50", amounts[1].String())
	assert.Equal(t, "1000", args[2].(*big.Int).String())
}

func TestWriterCreateMarket(t *testing.T) {
	w := NewWriter(appAddr.Hex())
	tx, err := w.Build(domain.CallCreateMarket, domain.WriteArgs{
		CollateralToken: tokensAddr.Hex(),
		Funding:         "1000000000000000000",
		Question:        "Adopt proposal 12?",
		Outcomes:        []string{"Yes", "No"},
		EndsAt:          1800000000,
	})
	require.NoError(t, err)

	data, err := hexutil.Decode(tx.Data)
	require.NoError(t, err)
	args, err := appABI.Methods["createMarket"].Inputs.Unpack(data[4:])
	require.NoError(t, err)
	assert.Equal(t, []byte("Adopt proposal 12?"), args[2])
	assert.Equal(t, [][32]byte{label("Yes"), label("No")}, args[3])
}

func TestWriterErrors(t *testing.T) {
	w := NewWriter(appAddr.Hex())

	_, err := w.Build("transfer", domain.WriteArgs{})
	assert.ErrorIs(t, err, domain.ErrUnknownCall)

	_, err = w.Build(domain.CallCloseMarket, domain.WriteArgs{ConditionID: "nope"})
	assert.Error(t, err)

	_, err = w.Build(domain.CallCreateMarket, domain.WriteArgs{
		CollateralToken: tokensAddr.Hex(),
		Funding:         "1",
		Question:        "q",
		Outcomes:        []string{"only one"},
		EndsAt:          1,
	})
	assert.Error(t, err)

	_, err = w.Build(domain.CallSell, domain.WriteArgs{
		ConditionID:         condition.Hex(),
		OutcomeTokenAmounts: []string{"1.5"},
		CollateralLimit:     "0",
	})
	assert.Error(t, err)
}

func TestWriterRedeem(t *testing.T) {
	tx, err := NewWriter(appAddr.Hex()).Build(domain.CallRedeemPositions, domain.WriteArgs{ConditionID: condition.Hex()})
	require.NoError(t, err)
	data, err := hexutil.Decode(tx.Data)
	require.NoError(t, err)
	assert.Len(t, data, 4+32)
}

// fakeLogs serves FilterLogs from a fixed log set and pushes live logs
// through the subscription channel.
type fakeLogs struct {
	head    uint64
	history []types.Log
	live    []types.Log
	ranges  [][2]uint64
	sub     *fakeSub
}

type fakeSub struct {
	errc chan error
	once sync.Once
}

func (s *fakeSub) Err() <-chan error { return s.errc }
func (s *fakeSub) Unsubscribe()      { s.once.Do(func() { close(s.errc) }) }

func (f *fakeLogs) BlockNumber(context.Context) (uint64, error) { return f.head, nil }

func (f *fakeLogs) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	from, to := q.FromBlock.Uint64(), q.ToBlock.Uint64()
	f.ranges = append(f.ranges, [2]uint64{from, to})
	var out []types.Log
	for _, l := range f.history {
		if l.BlockNumber >= from && l.BlockNumber <= to {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeLogs) SubscribeFilterLogs(_ context.Context, _ ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	f.sub = &fakeSub{errc: make(chan error, 1)}
	go func() {
		for _, l := range f.live {
			ch <- l
		}
	}()
	return f.sub, nil
}

func TestEventSourceBackfillThenLive(t *testing.T) {
	client := &fakeLogs{
		head:    25,
		history: []types.Log{createMarketLog(t, 12, 0), closeMarketLog(t, 24, 1)},
		live:    []types.Log{closeMarketLog(t, 30, 0)},
	}
	src := NewEventSource(client, SourceConfig{AppAddress: appAddr.Hex(), StartBlock: 10, Chunk: 10}, discard())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var kinds []domain.EventKind
	var cursors []domain.Cursor
	err := src.Run(ctx, domain.Cursor{}, func(_ context.Context, ev domain.Event) error {
		kinds = append(kinds, ev.Kind)
		cursors = append(cursors, ev.Cursor)
		if ev.Cursor.Block == 30 {
			cancel()
		}
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []domain.EventKind{
		domain.EventSyncStarted,
		domain.EventCreateMarket,
		domain.EventCloseMarket,
		domain.EventSyncFinished,
		domain.EventCloseMarket,
	}, kinds)
	assert.Equal(t, domain.Cursor{Block: 12}, cursors[1])
	assert.Equal(t, [][2]uint64{{10, 19}, {20, 25}}, client.ranges)
}

func TestEventSourceResumesFromCursor(t *testing.T) {
	client := &fakeLogs{head: 40}
	src := NewEventSource(client, SourceConfig{AppAddress: appAddr.Hex(), StartBlock: 10, Chunk: 100}, discard())

	ctx, cancel := context.WithCancel(context.Background())
	err := src.Run(ctx, domain.Cursor{Block: 33, LogIndex: 2}, func(_ context.Context, ev domain.Event) error {
		if ev.Kind == domain.EventSyncFinished {
			cancel()
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, [][2]uint64{{33, 40}}, client.ranges)
}
