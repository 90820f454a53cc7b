package reducer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/futarchyd/internal/codec"
	"github.com/alanyoungcy/futarchyd/internal/domain"
	"github.com/alanyoungcy/futarchyd/internal/enricher"
)

// createMarket appends a new market, or refreshes the outcomes of an existing
// one when the event is replayed.
func (r *Reducer) createMarket(ctx context.Context, s domain.State, ev domain.Event) (domain.State, error) {
	if existing, ok := s.Market(ev.ConditionID); ok {
		r.logger.InfoContext(ctx, "duplicate market creation, refreshing outcomes",
			slog.String("condition_id", ev.ConditionID),
		)
		return r.refresh(ctx, s, existing)
	}

	md, err := r.reader.MarketData(ctx, ev.ConditionID)
	if err != nil {
		return s, &domain.ReadError{Op: "MarketData", Err: err}
	}

	question, err := codec.DecodeText(md.Question)
	if err != nil {
		r.logDecodeFailure(ctx, &domain.DecodeError{Field: "question", Raw: md.Question, Err: err}, ev.ConditionID)
		question = ""
	}

	labels := make([]string, len(ev.Outcomes))
	for i, raw := range ev.Outcomes {
		label, err := codec.DecodeText(raw)
		if err != nil {
			r.logDecodeFailure(ctx, &domain.DecodeError{Field: fmt.Sprintf("outcome[%d]", i), Raw: raw, Err: err}, ev.ConditionID)
			label = raw
		}
		labels[i] = label
	}

	outcomes, err := r.enricher.Enrich(ctx, enricher.Request{
		Account:         s.SelectedAccount,
		CollateralToken: md.CollateralToken,
		MarketMaker:     md.MarketMaker,
		ConditionID:     ev.ConditionID,
		Labels:          labels,
	})
	if err != nil {
		return s, err
	}

	return s.WithMarket(domain.Market{
		ConditionID:        ev.ConditionID,
		Creator:            md.Creator,
		Question:           question,
		Outcomes:           outcomes,
		Timestamp:          md.Timestamp,
		EndsAt:             md.EndsAt,
		Open:               true,
		Redeemed:           false,
		QuestionID:         md.QuestionID,
		RealitioQuestionID: md.RealitioQuestionID,
		CollateralToken:    md.CollateralToken,
		MarketMaker:        md.MarketMaker,
		Oracle:             md.Oracle,
	}), nil
}

func (r *Reducer) trade(ctx context.Context, s domain.State, ev domain.Event) (domain.State, error) {
	m, err := lookup(s, ev.ConditionID)
	if err != nil {
		return s, err
	}
	return r.refresh(ctx, s, m)
}

// closeMarket settles a market. Closing an already closed market re-applies
// the payouts but never reopens it.
func (r *Reducer) closeMarket(ctx context.Context, s domain.State, ev domain.Event) (domain.State, error) {
	m, err := lookup(s, ev.ConditionID)
	if err != nil {
		return s, err
	}
	m.Open = false
	m.Payouts = cloneStrings(ev.Payouts)
	m.MarginalPricesAtClosure = cloneStrings(ev.MarginalPricesAtClosure)
	return r.refresh(ctx, s, m)
}

func (r *Reducer) redeemPositions(ctx context.Context, s domain.State, ev domain.Event) (domain.State, error) {
	m, err := lookup(s, ev.ConditionID)
	if err != nil {
		return s, err
	}
	if s.SelectedAccount != "" && strings.EqualFold(ev.Account, s.SelectedAccount) {
		m.Redeemed = true
	}
	return r.refresh(ctx, s, m)
}

// accountChanged switches the selected account and re-enriches every market
// so balances follow the account. A market whose enrichment fails keeps its
// previous outcomes.
func (r *Reducer) accountChanged(ctx context.Context, s domain.State, ev domain.Event) (domain.State, error) {
	next := s.WithSelectedAccount(ev.Account)

	var errs []error
	for _, m := range next.Markets() {
		refreshed, err := r.refresh(ctx, next, m)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		next = refreshed
	}
	if err := errors.Join(errs...); err != nil {
		return next, fmt.Errorf("reducer: %s: %w", ev.Kind, err)
	}
	return next, nil
}

// refresh re-enriches m for the state's selected account, using the payouts
// and closure prices stored on m, and writes it back into s.
func (r *Reducer) refresh(ctx context.Context, s domain.State, m domain.Market) (domain.State, error) {
	outcomes, err := r.enricher.Enrich(ctx, enricher.Request{
		Account:                 s.SelectedAccount,
		CollateralToken:         m.CollateralToken,
		MarketMaker:             m.MarketMaker,
		ConditionID:             m.ConditionID,
		Labels:                  m.Labels(),
		Payouts:                 m.Payouts,
		MarginalPricesAtClosure: m.MarginalPricesAtClosure,
	})
	if err != nil {
		return s, err
	}
	m.Outcomes = outcomes
	return s.WithMarket(m), nil
}

func (r *Reducer) logDecodeFailure(ctx context.Context, err error, conditionID string) {
	r.logger.WarnContext(ctx, "text field left undecoded",
		slog.String("condition_id", conditionID),
		slog.String("error", err.Error()),
	)
}

func lookup(s domain.State, conditionID string) (domain.Market, error) {
	m, ok := s.Market(conditionID)
	if !ok {
		return domain.Market{}, fmt.Errorf("market %s: %w", conditionID, domain.ErrUnknownConditionID)
	}
	return m, nil
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
