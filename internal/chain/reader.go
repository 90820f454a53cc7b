package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/futarchyd/internal/domain"
)

// Reader implements domain.ChainReader with eth_call against the futarchy
// app, its conditional tokens contract and the per-market LMSR makers.
type Reader struct {
	caller ethereum.ContractCaller
	app    common.Address

	mu     sync.Mutex
	tokens common.Address
}

// NewReader creates a Reader for the app at appAddress. conditionalTokens may
// be empty, in which case it is read from the app on first use.
func NewReader(caller ethereum.ContractCaller, appAddress, conditionalTokens string) *Reader {
	r := &Reader{caller: caller, app: common.HexToAddress(appAddress)}
	if conditionalTokens != "" {
		r.tokens = common.HexToAddress(conditionalTokens)
	}
	return r
}

// MarketData reads getMarketData(conditionId). The question is returned as
// 0x-prefixed hex for the text codec.
func (r *Reader) MarketData(ctx context.Context, conditionID string) (domain.MarketData, error) {
	id, err := parseBytes32(conditionID)
	if err != nil {
		return domain.MarketData{}, err
	}
	res, err := r.call(ctx, r.app, appABI, "getMarketData", id)
	if err != nil {
		return domain.MarketData{}, err
	}

	var out struct {
		Creator            common.Address
		Oracle             common.Address
		Question           []byte
		Timestamp          *big.Int
		EndsAt             *big.Int
		QuestionId         [32]byte
		RealitioQuestionId [32]byte
		MarketMaker        common.Address
		CollateralToken    common.Address
	}
	if err := appABI.UnpackIntoInterface(&out, "getMarketData", res); err != nil {
		return domain.MarketData{}, fmt.Errorf("chain: unpack getMarketData: %w", err)
	}
	if out.Creator == (common.Address{}) {
		return domain.MarketData{}, fmt.Errorf("chain: market %s: %w", conditionID, domain.ErrNotFound)
	}

	return domain.MarketData{
		Creator:            out.Creator.Hex(),
		Oracle:             out.Oracle.Hex(),
		Question:           hexutil.Encode(out.Question),
		Timestamp:          out.Timestamp.Int64(),
		EndsAt:             out.EndsAt.Int64(),
		QuestionID:         common.Hash(out.QuestionId).Hex(),
		RealitioQuestionID: common.Hash(out.RealitioQuestionId).Hex(),
		MarketMaker:        out.MarketMaker.Hex(),
		CollateralToken:    out.CollateralToken.Hex(),
	}, nil
}

func (r *Reader) CollectionID(ctx context.Context, parentCollectionID, conditionID string, indexSet *big.Int) (string, error) {
	parent, err := parseBytes32(parentCollectionID)
	if err != nil {
		return "", err
	}
	id, err := parseBytes32(conditionID)
	if err != nil {
		return "", err
	}
	tokens, err := r.conditionalTokens(ctx)
	if err != nil {
		return "", err
	}
	res, err := r.call(ctx, tokens, tokensABI, "getCollectionId", parent, id, indexSet)
	if err != nil {
		return "", err
	}
	v, err := unpackOne[[32]byte](tokensABI, "getCollectionId", res)
	if err != nil {
		return "", err
	}
	return common.Hash(v).Hex(), nil
}

func (r *Reader) PositionID(ctx context.Context, collateralToken, collectionID string) (string, error) {
	collateral, err := parseAddress(collateralToken)
	if err != nil {
		return "", err
	}
	coll, err := parseBytes32(collectionID)
	if err != nil {
		return "", err
	}
	tokens, err := r.conditionalTokens(ctx)
	if err != nil {
		return "", err
	}
	res, err := r.call(ctx, tokens, tokensABI, "getPositionId", collateral, coll)
	if err != nil {
		return "", err
	}
	v, err := unpackOne[*big.Int](tokensABI, "getPositionId", res)
	if err != nil {
		return "", err
	}
	return v.String(), nil
}

func (r *Reader) BalanceOf(ctx context.Context, account, positionID string) (string, error) {
	owner, err := parseAddress(account)
	if err != nil {
		return "", err
	}
	id, ok := new(big.Int).SetString(positionID, 10)
	if !ok {
		return "", fmt.Errorf("chain: position id %q is not an integer", positionID)
	}
	tokens, err := r.conditionalTokens(ctx)
	if err != nil {
		return "", err
	}
	res, err := r.call(ctx, tokens, tokensABI, "balanceOf", owner, id)
	if err != nil {
		return "", err
	}
	v, err := unpackOne[*big.Int](tokensABI, "balanceOf", res)
	if err != nil {
		return "", err
	}
	return v.String(), nil
}

func (r *Reader) MarginalPrice(ctx context.Context, marketMaker string, outcomeIndex int) (string, error) {
	mm, err := parseAddress(marketMaker)
	if err != nil {
		return "", err
	}
	if outcomeIndex < 0 || outcomeIndex > 255 {
		return "", fmt.Errorf("chain: outcome index %d out of range", outcomeIndex)
	}
	res, err := r.call(ctx, mm, marketMakerABI, "calcMarginalPrice", uint8(outcomeIndex))
	if err != nil {
		return "", err
	}
	v, err := unpackOne[*big.Int](marketMakerABI, "calcMarginalPrice", res)
	if err != nil {
		return "", err
	}
	return v.String(), nil
}

// conditionalTokens returns the conditional tokens address, reading it from
// the app when it was not configured. The lock is not held across the call;
// concurrent first lookups may each read it and a failed read is not cached.
func (r *Reader) conditionalTokens(ctx context.Context) (common.Address, error) {
	r.mu.Lock()
	tokens := r.tokens
	r.mu.Unlock()
	if tokens != (common.Address{}) {
		return tokens, nil
	}

	res, err := r.call(ctx, r.app, appABI, "conditionalTokens")
	if err != nil {
		return common.Address{}, err
	}
	addr, err := unpackOne[common.Address](appABI, "conditionalTokens", res)
	if err != nil {
		return common.Address{}, err
	}

	r.mu.Lock()
	r.tokens = addr
	r.mu.Unlock()
	return addr, nil
}

func (r *Reader) call(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...any) ([]byte, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	res, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: call %s: %w", method, err)
	}
	return res, nil
}

func unpackOne[T any](contract abi.ABI, method string, data []byte) (T, error) {
	var zero T
	out, err := contract.Unpack(method, data)
	if err != nil {
		return zero, fmt.Errorf("chain: unpack %s: %w", method, err)
	}
	if len(out) != 1 {
		return zero, fmt.Errorf("chain: unpack %s: %d values", method, len(out))
	}
	v, ok := out[0].(T)
	if !ok {
		return zero, fmt.Errorf("chain: unpack %s: unexpected type %T", method, out[0])
	}
	return v, nil
}

func parseBytes32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hexutil.Decode(s)
	if err != nil {
		return out, fmt.Errorf("chain: bytes32 %q: %w", s, err)
	}
	if len(b) > 32 {
		return out, fmt.Errorf("chain: bytes32 %q: %d bytes", s, len(b))
	}
	return common.BytesToHash(b), nil
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("chain: invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

var _ domain.ChainReader = (*Reader)(nil)
