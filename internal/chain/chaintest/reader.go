// Package chaintest provides an in-memory domain.ChainReader for tests.
package chaintest

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/futarchyd/internal/domain"
)

// Reader is a scriptable in-memory chain. Balances and prices default to "0"
// and the 2^63 (0.5) fixed-point value respectively.
type Reader struct {
	mu       sync.Mutex
	markets  map[string]domain.MarketData
	balances map[string]string // account|positionID
	prices   map[string]string // marketMaker|index
	fail     map[string]error  // method -> error
	failNext map[string]int    // method -> calls left to fail with fail[method]
	delay    time.Duration
	calls    map[string]int
}

// HalfPrice is the raw fixed-point encoding of 0.5.
var HalfPrice = new(big.Int).Lsh(big.NewInt(1), 63).String()

// NewReader returns an empty chain.
func NewReader() *Reader {
	return &Reader{
		markets:  make(map[string]domain.MarketData),
		balances: make(map[string]string),
		prices:   make(map[string]string),
		fail:     make(map[string]error),
		failNext: make(map[string]int),
		calls:    make(map[string]int),
	}
}

// AddMarket registers getMarketData output for conditionID.
func (r *Reader) AddMarket(conditionID string, md domain.MarketData) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markets[conditionID] = md
}

// SetBalance sets the balance of account for outcome index of a market.
func (r *Reader) SetBalance(account, collateralToken, conditionID string, index int, balance string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balances[strings.ToLower(account)+"|"+PositionIDFor(collateralToken, conditionID, index)] = balance
}

// SetPrice sets the raw fixed-point marginal price of an outcome.
func (r *Reader) SetPrice(marketMaker string, index int, raw string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prices[fmt.Sprintf("%s|%d", marketMaker, index)] = raw
}

// FailOn makes every call of method return err; a nil err clears it.
func (r *Reader) FailOn(method string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.fail, method)
		delete(r.failNext, method)
		return
	}
	r.fail[method] = err
	delete(r.failNext, method)
}

// FailNext makes the next n calls of method return err; later calls succeed.
func (r *Reader) FailNext(method string, err error, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail[method] = err
	r.failNext[method] = n
}

// SetDelay makes every call block for d or until its context ends.
func (r *Reader) SetDelay(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delay = d
}

// Calls returns how many times method was called.
func (r *Reader) Calls(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[method]
}

// PositionIDFor is the position ID the fake derives for an outcome.
func PositionIDFor(collateralToken, conditionID string, index int) string {
	return fmt.Sprintf("pos:%s:%s", strings.ToLower(collateralToken), collectionID(conditionID, new(big.Int).Lsh(big.NewInt(1), uint(index))))
}

func collectionID(conditionID string, indexSet *big.Int) string {
	return fmt.Sprintf("coll:%s:%s", conditionID, indexSet.String())
}

func (r *Reader) enter(ctx context.Context, method string) error {
	r.mu.Lock()
	r.calls[method]++
	err := r.fail[method]
	if left, ok := r.failNext[method]; ok {
		if left <= 1 {
			delete(r.failNext, method)
			delete(r.fail, method)
		} else {
			r.failNext[method] = left - 1
		}
	}
	delay := r.delay
	r.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (r *Reader) MarketData(ctx context.Context, conditionID string) (domain.MarketData, error) {
	if err := r.enter(ctx, "MarketData"); err != nil {
		return domain.MarketData{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	md, ok := r.markets[conditionID]
	if !ok {
		return domain.MarketData{}, fmt.Errorf("market %s: %w", conditionID, domain.ErrNotFound)
	}
	return md, nil
}

func (r *Reader) CollectionID(ctx context.Context, parentCollectionID, conditionID string, indexSet *big.Int) (string, error) {
	if err := r.enter(ctx, "CollectionID"); err != nil {
		return "", err
	}
	return collectionID(conditionID, indexSet), nil
}

func (r *Reader) PositionID(ctx context.Context, collateralToken, collectionID string) (string, error) {
	if err := r.enter(ctx, "PositionID"); err != nil {
		return "", err
	}
	return fmt.Sprintf("pos:%s:%s", strings.ToLower(collateralToken), collectionID), nil
}

func (r *Reader) BalanceOf(ctx context.Context, account, positionID string) (string, error) {
	if err := r.enter(ctx, "BalanceOf"); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.balances[strings.ToLower(account)+"|"+positionID]; ok {
		return b, nil
	}
	return "0", nil
}

func (r *Reader) MarginalPrice(ctx context.Context, marketMaker string, outcomeIndex int) (string, error) {
	if err := r.enter(ctx, "MarginalPrice"); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.prices[fmt.Sprintf("%s|%d", marketMaker, outcomeIndex)]; ok {
		return p, nil
	}
	return HalfPrice, nil
}

var _ domain.ChainReader = (*Reader)(nil)
