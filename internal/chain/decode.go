package chain

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/futarchyd/internal/domain"
)

// errUnknownTopic marks a log that is not one of the futarchy app events.
var errUnknownTopic = errors.New("unknown event topic")

// Topics returns the topic0 filter for the futarchy app events.
func Topics() []common.Hash {
	return []common.Hash{topicCreateMarket, topicTrade, topicCloseMarket, topicRedeemPositions}
}

// DecodeLog turns a futarchy app log into a domain event. Logs with an
// unrelated topic return errUnknownTopic.
func DecodeLog(l types.Log) (domain.Event, error) {
	if len(l.Topics) == 0 {
		return domain.Event{}, errUnknownTopic
	}
	ev := domain.Event{
		Cursor: domain.Cursor{Block: l.BlockNumber, LogIndex: l.Index},
		TxHash: l.TxHash.Hex(),
	}

	switch l.Topics[0] {
	case topicCreateMarket:
		if len(l.Topics) < 3 {
			return domain.Event{}, fmt.Errorf("chain: CreateMarket: %d topics", len(l.Topics))
		}
		var data struct {
			MarketMaker common.Address
			Outcomes    [][32]byte
		}
		if err := appABI.UnpackIntoInterface(&data, "CreateMarket", l.Data); err != nil {
			return domain.Event{}, fmt.Errorf("chain: unpack CreateMarket: %w", err)
		}
		ev.Kind = domain.EventCreateMarket
		ev.Account = common.BytesToAddress(l.Topics[1].Bytes()).Hex()
		ev.ConditionID = l.Topics[2].Hex()
		ev.Outcomes = make([]string, len(data.Outcomes))
		for i, o := range data.Outcomes {
			ev.Outcomes[i] = hexutil.Encode(o[:])
		}

	case topicTrade:
		if len(l.Topics) < 3 {
			return domain.Event{}, fmt.Errorf("chain: Trade: %d topics", len(l.Topics))
		}
		ev.Kind = domain.EventTrade
		ev.Account = common.BytesToAddress(l.Topics[1].Bytes()).Hex()
		ev.ConditionID = l.Topics[2].Hex()

	case topicCloseMarket:
		if len(l.Topics) < 2 {
			return domain.Event{}, fmt.Errorf("chain: CloseMarket: %d topics", len(l.Topics))
		}
		var data struct {
			Payouts                 []*big.Int
			MarginalPricesAtClosure []*big.Int
		}
		if err := appABI.UnpackIntoInterface(&data, "CloseMarket", l.Data); err != nil {
			return domain.Event{}, fmt.Errorf("chain: unpack CloseMarket: %w", err)
		}
		ev.Kind = domain.EventCloseMarket
		ev.ConditionID = l.Topics[1].Hex()
		ev.Payouts = bigStrings(data.Payouts)
		ev.MarginalPricesAtClosure = bigStrings(data.MarginalPricesAtClosure)

	case topicRedeemPositions:
		if len(l.Topics) < 3 {
			return domain.Event{}, fmt.Errorf("chain: RedeemPositions: %d topics", len(l.Topics))
		}
		ev.Kind = domain.EventRedeemPositions
		ev.Account = common.BytesToAddress(l.Topics[1].Bytes()).Hex()
		ev.ConditionID = l.Topics[2].Hex()

	default:
		return domain.Event{}, errUnknownTopic
	}
	return ev, nil
}

func bigStrings(in []*big.Int) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = v.String()
	}
	return out
}
