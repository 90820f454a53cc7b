package notify

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/futarchyd/internal/codec"
	"github.com/alanyoungcy/futarchyd/internal/domain"
)

// Alert event types, matched against notify.events in the config.
const (
	EventMarketCreated    = "market_created"
	EventMarketClosed     = "market_closed"
	EventEnrichmentFailed = "enrichment_failed"
)

// Field is one labelled line of an alert.
type Field struct {
	Name  string
	Value string
}

// Alert is a market lifecycle notification. Senders render it in their own
// format.
type Alert struct {
	Event       string
	Title       string
	ConditionID string
	Fields      []Field
	At          time.Time
}

// MarketCreated describes a newly indexed market.
func MarketCreated(m domain.Market, at time.Time) Alert {
	return Alert{
		Event:       EventMarketCreated,
		Title:       "Market created",
		ConditionID: m.ConditionID,
		Fields: []Field{
			{"Question", questionOf(m)},
			{"Outcomes", strings.Join(m.Labels(), ", ")},
			{"Ends", time.Unix(m.EndsAt, 0).UTC().Format(time.RFC3339)},
			{"Creator", m.Creator},
		},
		At: at,
	}
}

// MarketClosed describes a resolved market: its winning outcomes and the
// marginal prices it closed at, normalized from 2^64 fixed point.
func MarketClosed(m domain.Market, at time.Time) Alert {
	fields := []Field{
		{"Question", questionOf(m)},
		{"Winning", winning(m)},
	}
	if prices := closingPrices(m); prices != "" {
		fields = append(fields, Field{"Closing prices", prices})
	}
	return Alert{
		Event:       EventMarketClosed,
		Title:       "Market closed",
		ConditionID: m.ConditionID,
		Fields:      fields,
		At:          at,
	}
}

// EnrichmentFailed reports a chain event whose outcome reads failed. The
// market keeps its previous snapshot until the event is redelivered.
func EnrichmentFailed(kind domain.EventKind, err *domain.EnrichmentError, at time.Time) Alert {
	fields := []Field{
		{"Event", string(kind)},
		{"Outcome", fmt.Sprintf("%d", err.OutcomeIndex)},
	}
	var readErr *domain.ReadError
	if errors.As(err, &readErr) {
		fields = append(fields, Field{"Call", readErr.Op})
	}
	fields = append(fields, Field{"Error", err.Err.Error()})
	return Alert{
		Event:       EventEnrichmentFailed,
		Title:       "Enrichment failed",
		ConditionID: err.ConditionID,
		Fields:      fields,
		At:          at,
	}
}

func questionOf(m domain.Market) string {
	if m.Question == "" {
		return "(undecodable question)"
	}
	return m.Question
}

func winning(m domain.Market) string {
	var labels []string
	for _, o := range m.Outcomes {
		if o.Correct {
			labels = append(labels, o.Label)
		}
	}
	if len(labels) == 0 {
		return "none"
	}
	return strings.Join(labels, ", ")
}

func closingPrices(m domain.Market) string {
	if len(m.MarginalPricesAtClosure) != len(m.Outcomes) {
		return ""
	}
	parts := make([]string, len(m.Outcomes))
	for i, o := range m.Outcomes {
		price, err := codec.NormalizePrice(m.MarginalPricesAtClosure[i])
		if err != nil {
			price = m.MarginalPricesAtClosure[i]
		}
		parts[i] = o.Label + " " + price
	}
	return strings.Join(parts, ", ")
}
