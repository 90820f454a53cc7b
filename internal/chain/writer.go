package chain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/futarchyd/internal/domain"
)

// Writer builds unsigned calldata for the futarchy app's write calls.
// Signing and submission are left to the caller's wallet.
type Writer struct {
	app common.Address
}

// NewWriter creates a Writer targeting the app at appAddress.
func NewWriter(appAddress string) *Writer {
	return &Writer{app: common.HexToAddress(appAddress)}
}

// Build packs call with args.
func (w *Writer) Build(call domain.WriteCall, args domain.WriteArgs) (domain.TxRequest, error) {
	var (
		data []byte
		err  error
	)
	switch call {
	case domain.CallCreateMarket:
		data, err = packCreateMarket(args)
	case domain.CallBuy, domain.CallSell:
		data, err = packTrade(call, args)
	case domain.CallCloseMarket, domain.CallRedeemPositions:
		var id [32]byte
		if id, err = parseBytes32(args.ConditionID); err == nil {
			data, err = appABI.Pack(string(call), id)
		}
	default:
		return domain.TxRequest{}, fmt.Errorf("chain: %q: %w", call, domain.ErrUnknownCall)
	}
	if err != nil {
		return domain.TxRequest{}, fmt.Errorf("chain: build %s: %w", call, err)
	}
	return domain.TxRequest{To: w.app.Hex(), Data: hexutil.Encode(data), Value: "0"}, nil
}

func packCreateMarket(args domain.WriteArgs) ([]byte, error) {
	collateral, err := parseAddress(args.CollateralToken)
	if err != nil {
		return nil, err
	}
	funding, err := parseUint(args.Funding, "funding")
	if err != nil {
		return nil, err
	}
	if args.Question == "" {
		return nil, fmt.Errorf("question is required")
	}
	if len(args.Outcomes) < 2 {
		return nil, fmt.Errorf("at least two outcomes are required, got %d", len(args.Outcomes))
	}
	outcomes := make([][32]byte, len(args.Outcomes))
	for i, label := range args.Outcomes {
		if len(label) > 32 {
			return nil, fmt.Errorf("outcome %d longer than 32 bytes", i)
		}
		copy(outcomes[i][:], label)
	}
	if args.EndsAt <= 0 {
		return nil, fmt.Errorf("endsAt must be positive")
	}
	return appABI.Pack("createMarket", collateral, funding, []byte(args.Question), outcomes, big.NewInt(args.EndsAt))
}

func packTrade(call domain.WriteCall, args domain.WriteArgs) ([]byte, error) {
	id, err := parseBytes32(args.ConditionID)
	if err != nil {
		return nil, err
	}
	if len(args.OutcomeTokenAmounts) == 0 {
		return nil, fmt.Errorf("outcomeTokenAmounts is required")
	}
	amounts := make([]*big.Int, len(args.OutcomeTokenAmounts))
	for i, a := range args.OutcomeTokenAmounts {
		v, ok := new(big.Int).SetString(a, 10)
		if !ok {
			return nil, fmt.Errorf("outcomeTokenAmounts[%d] %q is not an integer", i, a)
		}
		amounts[i] = v
	}
	limit, err := parseUint(args.CollateralLimit, "collateralLimit")
	if err != nil {
		return nil, err
	}
	return appABI.Pack(string(call), id, amounts, limit)
}

func parseUint(s, field string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%s %q is not an unsigned integer", field, s)
	}
	return v, nil
}

var _ domain.ChainWriter = (*Writer)(nil)
