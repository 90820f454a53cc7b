// Package enricher derives the per-outcome positions, balances, prices and
// correctness flags of a market from chain reads.
package enricher

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/futarchyd/internal/codec"
	"github.com/alanyoungcy/futarchyd/internal/domain"
	"github.com/alanyoungcy/futarchyd/internal/metrics"
)

// rootCollectionID is the empty parent collection of a top-level condition.
const rootCollectionID = "0x0000000000000000000000000000000000000000000000000000000000000000"

// Request describes one market to enrich. Payouts and closure prices are nil
// for markets that are still open.
type Request struct {
	Account                 string
	CollateralToken         string
	MarketMaker             string
	ConditionID             string
	Labels                  []string
	Payouts                 []string
	MarginalPricesAtClosure []string
}

// Enricher queries a ChainReader for outcome data. Every call is bounded by
// callTimeout.
type Enricher struct {
	reader      domain.ChainReader
	callTimeout time.Duration
	logger      *slog.Logger
}

// New creates an Enricher. A zero callTimeout leaves calls unbounded.
func New(reader domain.ChainReader, callTimeout time.Duration, logger *slog.Logger) *Enricher {
	return &Enricher{
		reader:      reader,
		callTimeout: callTimeout,
		logger:      logger.With(slog.String("component", "enricher")),
	}
}

// Enrich returns one Outcome per label, in label order. Per-outcome reads run
// concurrently; the first failure cancels the rest and is returned as an
// *domain.EnrichmentError. No partial result is ever returned.
func (e *Enricher) Enrich(ctx context.Context, req Request) ([]domain.Outcome, error) {
	outcomes := make([]domain.Outcome, len(req.Labels))

	g, gctx := errgroup.WithContext(ctx)
	for i := range req.Labels {
		g.Go(func() error {
			o, err := e.outcome(gctx, req, i)
			if err != nil {
				return &domain.EnrichmentError{ConditionID: req.ConditionID, OutcomeIndex: i, Err: err}
			}
			outcomes[i] = o
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		e.logger.WarnContext(ctx, "enrichment failed",
			slog.String("condition_id", req.ConditionID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	return outcomes, nil
}

func (e *Enricher) outcome(ctx context.Context, req Request, i int) (domain.Outcome, error) {
	indexSet := new(big.Int).Lsh(big.NewInt(1), uint(i))

	collectionID, err := Bounded(ctx, e.callTimeout, "CollectionID", func(ctx context.Context) (string, error) {
		return e.reader.CollectionID(ctx, rootCollectionID, req.ConditionID, indexSet)
	})
	if err != nil {
		return domain.Outcome{}, err
	}

	positionID, err := Bounded(ctx, e.callTimeout, "PositionID", func(ctx context.Context) (string, error) {
		return e.reader.PositionID(ctx, req.CollateralToken, collectionID)
	})
	if err != nil {
		return domain.Outcome{}, err
	}

	balance := "0"
	if req.Account != "" {
		balance, err = Bounded(ctx, e.callTimeout, "BalanceOf", func(ctx context.Context) (string, error) {
			return e.reader.BalanceOf(ctx, req.Account, positionID)
		})
		if err != nil {
			return domain.Outcome{}, err
		}
	}

	rawPrice := at(req.MarginalPricesAtClosure, i)
	if codec.IsZero(rawPrice) {
		rawPrice, err = Bounded(ctx, e.callTimeout, "MarginalPrice", func(ctx context.Context) (string, error) {
			return e.reader.MarginalPrice(ctx, req.MarketMaker, i)
		})
		if err != nil {
			return domain.Outcome{}, err
		}
	}
	price, err := codec.NormalizePrice(rawPrice)
	if err != nil {
		return domain.Outcome{}, &domain.ReadError{Op: "MarginalPrice", Err: err}
	}

	return domain.Outcome{
		Label:      req.Labels[i],
		PositionID: positionID,
		Balance:    balance,
		Price:      price,
		Correct:    at(req.Payouts, i) == "1",
	}, nil
}

func at(values []string, i int) string {
	if i < len(values) {
		return values[i]
	}
	return ""
}

// Bounded runs one chain read with a deadline. It returns as soon as the
// deadline passes even if fn ignores its context. Failures come back as
// *domain.ReadError.
func Bounded[T any](ctx context.Context, timeout time.Duration, op string, fn func(context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		ch <- result{v, err}
	}()

	var r result
	select {
	case r = <-ch:
	case <-ctx.Done():
		r.err = ctx.Err()
	}

	if r.err != nil {
		metrics.ChainReads.WithLabelValues(op, "error").Inc()
		var zero T
		return zero, &domain.ReadError{Op: op, Err: r.err}
	}
	metrics.ChainReads.WithLabelValues(op, "ok").Inc()
	return r.v, nil
}
