package promotion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Guizzs26/go-paysync/internal/db"
	"github.com/Guizzs26/go-paysync/internal/models"
)

// Chain lists the staged keys derived from one payment
type Chain struct {
	PaymentKey      string
	RegistrationKey string
	CustomerKey     string
	AttendeeKeys    []string
	ContactKeys     []string
	TicketKeys      []string
}

func (c Chain) keys(m Mapping) []string {
	switch m.Collection {
	case models.Payments:
		return nonEmpty(c.PaymentKey)
	case models.Registrations:
		return nonEmpty(c.RegistrationKey)
	case models.Customers:
		return nonEmpty(c.CustomerKey)
	case models.Attendees:
		return c.AttendeeKeys
	case models.Contacts:
		return c.ContactKeys
	case models.Tickets:
		return c.TicketKeys
	}
	return nil
}

func nonEmpty(k string) []string {
	if k == "" {
		return nil
	}
	return []string{k}
}

// Summary aggregates outcomes per production collection
type Summary struct {
	Outcomes           map[string]map[Outcome]int
	Failed             map[string]int
	TicketStageAborted bool
	TicketReasons      []string
}

func newSummary() *Summary {
	return &Summary{Outcomes: map[string]map[Outcome]int{}, Failed: map[string]int{}}
}

func (s *Summary) add(collection string, o Outcome) {
	if s.Outcomes[collection] == nil {
		s.Outcomes[collection] = map[Outcome]int{}
	}
	s.Outcomes[collection][o]++
}

// Count returns the number of documents of a collection with the given outcome
func (s *Summary) Count(collection string, o Outcome) int {
	return s.Outcomes[collection][o]
}

// Writes returns how many production documents were created or updated
func (s *Summary) Writes() int {
	n := 0
	for _, byOutcome := range s.Outcomes {
		n += byOutcome[OutcomeCreated] + byOutcome[OutcomeUpdated]
	}
	return n
}

// Pipeline runs the Promoter in dependency order, gating tickets with the Validator
type Pipeline struct {
	store     db.Store
	promoter  *Promoter
	validator *Validator
	logger    *slog.Logger
}

func NewPipeline(store db.Store, promoter *Promoter, validator *Validator, logger *slog.Logger) *Pipeline {
	return &Pipeline{store: store, promoter: promoter, validator: validator, logger: logger}
}

// Promoter exposes the underlying promoter
func (p *Pipeline) Promoter() *Promoter { return p.promoter }

// PromoteChain promotes one payment's staged chain. A failure in payments,
// registrations or customers stops the chain; later stages record and continue.
func (p *Pipeline) PromoteChain(ctx context.Context, chain Chain) (*Summary, error) {
	summary := newSummary()
	l := p.logger.With("payment_id", chain.PaymentKey, "registration_id", chain.RegistrationKey)

	for _, m := range Order {
		keys := chain.keys(m)
		if len(keys) == 0 {
			continue
		}
		docs, err := p.loadStaged(ctx, m, keys)
		if err != nil {
			return summary, err
		}

		if m.Collection == models.Tickets {
			docs = p.gateTickets(ctx, docs, ValidateOptions{}, summary, l)
		}

		for _, doc := range docs {
			outcome, err := p.promoter.Promote(ctx, m, doc)
			if err != nil {
				summary.Failed[m.Collection]++
				if isChainCritical(m) {
					return summary, fmt.Errorf("promote %s %s: %w", m.Collection, doc.Key(), err)
				}
				l.Error("Promotion failed", "collection", m.Collection, "key", doc.Key(), "error", err)
				continue
			}
			summary.add(m.Collection, outcome)
		}
	}
	return summary, nil
}

// PromoteAll walks whole staging collections. The presence layer of the
// validator runs before tickets.
func (p *Pipeline) PromoteAll(ctx context.Context) (*Summary, error) {
	summary := newSummary()

	for _, m := range Order {
		docs, err := p.store.Find(ctx, m.Staged(), nil)
		if err != nil {
			return summary, fmt.Errorf("load %s: %w", m.Staged(), err)
		}
		l := p.logger.With("collection", m.Collection)
		l.Info("Promoting collection", "staged", len(docs))

		if m.Collection == models.Tickets {
			docs = p.gateTickets(ctx, docs, ValidateOptions{CheckPresence: true}, summary, l)
		}

		for _, doc := range docs {
			select {
			case <-ctx.Done():
				return summary, ctx.Err()
			default:
			}
			outcome, err := p.promoter.Promote(ctx, m, doc)
			if err != nil {
				summary.Failed[m.Collection]++
				l.Error("Promotion failed", "key", doc.Key(), "error", err)
				continue
			}
			summary.add(m.Collection, outcome)
		}

		l.Info("Collection promoted",
			"created", summary.Count(m.Collection, OutcomeCreated),
			"updated", summary.Count(m.Collection, OutcomeUpdated),
			"unchanged", summary.Count(m.Collection, OutcomeUnchanged),
			"skipped", summary.Count(m.Collection, OutcomeSkipped),
			"failed", summary.Failed[m.Collection],
		)
	}
	return summary, nil
}

// gateTickets returns the candidates admitted by the validator. A failed gate
// aborts only the ticket stage.
func (p *Pipeline) gateTickets(ctx context.Context, docs []models.Document, opts ValidateOptions, summary *Summary, l *slog.Logger) []models.Document {
	if len(docs) == 0 {
		return nil
	}
	report, err := p.validator.CanPromoteTickets(ctx, docs, opts)
	if err != nil {
		l.Error("Ticket validation failed, skipping ticket stage", "error", err)
		summary.TicketStageAborted = true
		summary.TicketReasons = append(summary.TicketReasons, err.Error())
		return nil
	}
	if !report.OK {
		l.Warn("Ticket stage aborted by validator", "reasons", report.Reasons)
		summary.TicketStageAborted = true
		summary.TicketReasons = append(summary.TicketReasons, report.Reasons...)
		return nil
	}
	if len(report.Excluded) > 0 {
		l.Warn("Tickets held back", "excluded", len(report.Excluded), "eligible", len(report.Eligible))
		summary.TicketReasons = append(summary.TicketReasons, report.Reasons...)
	}
	return report.Eligible
}

func (p *Pipeline) loadStaged(ctx context.Context, m Mapping, keys []string) ([]models.Document, error) {
	docs := make([]models.Document, 0, len(keys))
	for _, key := range keys {
		doc, err := db.GetOptional(ctx, p.store, m.Staged(), key)
		if err != nil {
			return nil, fmt.Errorf("load %s/%s: %w", m.Staged(), key, err)
		}
		if doc != nil {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func isChainCritical(m Mapping) bool {
	switch m.Collection {
	case models.Payments, models.Registrations, models.Customers:
		return true
	}
	return false
}
