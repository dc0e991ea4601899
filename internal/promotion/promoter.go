package promotion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Guizzs26/go-paysync/internal/db"
	"github.com/Guizzs26/go-paysync/internal/models"
	"github.com/Guizzs26/go-paysync/internal/transform"
	"github.com/Guizzs26/go-paysync/pkg/metrics"
)

type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeSkipped   Outcome = "skipped"
)

// Mapping binds a production collection to its staging twin and business key
type Mapping struct {
	Collection      string
	KeyField        string
	OriginalIDField string
}

// Staged returns the staging collection name
func (m Mapping) Staged() string { return models.Staged(m.Collection) }

var (
	Payments      = Mapping{Collection: models.Payments, KeyField: "id"}
	Registrations = Mapping{Collection: models.Registrations, KeyField: "registrationId"}
	Customers     = Mapping{Collection: models.Customers, KeyField: "hash"}
	Attendees     = Mapping{Collection: models.Attendees, KeyField: "attendeeId", OriginalIDField: "originalAttendeeId"}
	Contacts      = Mapping{Collection: models.Contacts, KeyField: "email"}
	Tickets       = Mapping{Collection: models.Tickets, KeyField: "ticketId", OriginalIDField: "originalTicketId"}
)

// Order is the promotion order. Later collections reference earlier ones.
var Order = []Mapping{Payments, Registrations, Customers, Attendees, Contacts, Tickets}

// EventPublisher announces promoted documents
type EventPublisher interface {
	Publish(ctx context.Context, evt models.PromotionEvent) error
}

// NopPublisher drops every event
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, models.PromotionEvent) error { return nil }

// Promoter creates or selectively updates production documents from staging
type Promoter struct {
	store     db.Store
	expander  *transform.PackageExpander
	publisher EventPublisher
	logger    *slog.Logger
	runID     string
	now       func() time.Time
}

func NewPromoter(store db.Store, expander *transform.PackageExpander, publisher EventPublisher, logger *slog.Logger) *Promoter {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &Promoter{
		store:     store,
		expander:  expander,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetRunID tags published events with the current sync run
func (p *Promoter) SetRunID(id string) { p.runID = id }

// Promote moves one staged document to production
func (p *Promoter) Promote(ctx context.Context, m Mapping, staged models.Document) (outcome Outcome, err error) {
	defer func() {
		status := string(outcome)
		if err != nil {
			status = "error"
		}
		metrics.Promotions.WithLabelValues(m.Collection, status).Inc()
	}()

	if move, present := staged.Bool(models.ShouldMoveField); present && !move {
		return OutcomeSkipped, nil
	}

	key := p.businessKey(m, staged)
	if key == "" {
		return OutcomeSkipped, fmt.Errorf("%s document %q has no business key", m.Staged(), staged.Key())
	}
	l := p.logger.With("collection", m.Collection, "key", key)

	existing, err := p.resolveProduction(ctx, m, staged, key)
	if err != nil {
		return "", err
	}

	if existing == nil {
		if err := p.create(ctx, m, staged, key); err != nil {
			return "", err
		}
		l.Debug("Document promoted")
		return OutcomeCreated, nil
	}

	return p.update(ctx, m, staged, existing, key, l)
}

func (p *Promoter) businessKey(m Mapping, staged models.Document) string {
	if m.OriginalIDField != "" {
		if v := staged.String(m.OriginalIDField); v != "" {
			return v
		}
	}
	if v := staged.String(m.KeyField); v != "" {
		return v
	}
	return staged.Key()
}

// resolveProduction looks up the production copy by backlink, then by business key
func (p *Promoter) resolveProduction(ctx context.Context, m Mapping, staged models.Document, key string) (models.Document, error) {
	if ref := staged.String(models.ProductionMetaField + ".productionRef"); ref != "" {
		doc, err := db.FindOne(ctx, p.store, m.Collection, db.Filter{models.IDField: ref})
		if err == nil {
			return doc, nil
		}
		if !errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("resolve %s by ref: %w", m.Collection, err)
		}
	}
	doc, err := db.GetOptional(ctx, p.store, m.Collection, key)
	if err != nil {
		return nil, fmt.Errorf("resolve %s/%s: %w", m.Collection, key, err)
	}
	return doc, nil
}

func (p *Promoter) create(ctx context.Context, m Mapping, staged models.Document, key string) error {
	now := p.now()
	doc := staged.Payload()
	doc[m.KeyField] = key
	if m.Collection == models.Registrations {
		p.expandNestedTickets(ctx, doc)
	}

	ref := uuid.NewString()
	doc[models.IDField] = ref
	doc[models.ImportOriginField] = map[string]any{
		"stagedCollection": m.Staged(),
		"stagedKey":        staged.Key(),
		"promotedAt":       models.FormatTime(now),
		"lastPromotedAt":   p.sourceModifiedAt(staged, now),
	}

	if err := p.store.Insert(ctx, m.Collection, key, doc); err != nil {
		return fmt.Errorf("insert %s/%s: %w", m.Collection, key, err)
	}
	if err := p.writeBacklink(ctx, m, staged, ref, key, now); err != nil {
		return err
	}

	p.publish(ctx, models.PromotionEvent{Collection: m.Collection, Key: key, Action: models.ActionCreated})
	return nil
}

func (p *Promoter) update(ctx context.Context, m Mapping, staged, existing models.Document, key string, l *slog.Logger) (Outcome, error) {
	now := p.now()
	candidate := staged.Clone()
	candidate[m.KeyField] = key
	if m.Collection == models.Registrations {
		p.expandNestedTickets(ctx, candidate)
	}

	ref := existing.String(models.IDField)
	delta := transform.ComputeDelta(candidate, existing)
	if !delta.HasChanges {
		if staged.String(models.ProductionMetaField+".productionRef") != ref {
			if err := p.writeBacklink(ctx, m, staged, ref, existing.Key(), now); err != nil {
				return "", err
			}
		}
		return OutcomeUnchanged, nil
	}

	set := make(map[string]any, len(delta.Fields)+1)
	for k, v := range delta.Fields {
		set[k] = v
	}
	set[transform.LastPromotedPath] = p.sourceModifiedAt(staged, now)

	if err := p.store.Update(ctx, m.Collection, existing.Key(), set); err != nil {
		return "", fmt.Errorf("update %s/%s: %w", m.Collection, existing.Key(), err)
	}
	if err := p.writeBacklink(ctx, m, staged, ref, existing.Key(), now); err != nil {
		return "", err
	}

	l.Info("Production document updated", "fields", delta.Keys())
	p.publish(ctx, models.PromotionEvent{Collection: m.Collection, Key: key, Action: models.ActionUpdated, Fields: delta.Keys()})
	return OutcomeUpdated, nil
}

func (p *Promoter) writeBacklink(ctx context.Context, m Mapping, staged models.Document, ref, key string, now time.Time) error {
	err := p.store.Update(ctx, m.Staged(), staged.Key(), map[string]any{
		models.ProductionMetaField: map[string]any{
			"productionRef": ref,
			"productionKey": key,
			"lastSyncedAt":  models.FormatTime(now),
		},
	})
	if err != nil {
		return fmt.Errorf("backlink %s/%s: %w", m.Staged(), staged.Key(), err)
	}
	return nil
}

func (p *Promoter) sourceModifiedAt(staged models.Document, now time.Time) string {
	if t, ok := staged.TimeAt(transform.SourceModifiedPath); ok {
		return models.FormatTime(t)
	}
	return models.FormatTime(now)
}

// expandNestedTickets replaces package lines inside a registration's ticket lists
func (p *Promoter) expandNestedTickets(ctx context.Context, doc models.Document) {
	if p.expander == nil {
		return
	}
	for _, path := range transform.RegistrationTickets {
		lines := transform.Resolver{path}.Objects(doc)
		if !hasPackageLine(lines) {
			continue
		}
		expanded := p.expander.ExpandAll(ctx, lines)
		out := make([]any, len(expanded))
		for i := range expanded {
			out[i] = map[string]any(expanded[i])
		}
		doc.SetPath(path, out)
	}
}

func hasPackageLine(lines []models.Document) bool {
	for _, l := range lines {
		if transform.IsPackageLine(l) {
			return true
		}
	}
	return false
}

func (p *Promoter) publish(ctx context.Context, evt models.PromotionEvent) {
	evt.EventID = uuid.NewString()
	evt.RunID = p.runID
	evt.OccurredAt = p.now()
	if err := p.publisher.Publish(ctx, evt); err != nil {
		p.logger.Warn("Promotion event not published", "routing_key", evt.RoutingKey(), "error", err)
	}
}
