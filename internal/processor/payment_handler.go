package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Guizzs26/go-paysync/internal/db"
	"github.com/Guizzs26/go-paysync/internal/models"
	"github.com/Guizzs26/go-paysync/internal/promotion"
	"github.com/Guizzs26/go-paysync/internal/transform"
	"github.com/Guizzs26/go-paysync/pkg/metrics"
)

// NoMatch is the registrationId recorded on payments without a registration
const NoMatch = "no-match"

const (
	lookupTimeout = 5 * time.Second

	// payments by the same customer for the same amount closer than this are duplicates
	duplicateWindow = 60 * time.Second
)

type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeUnmatched Outcome = "unmatched"
)

// Result describes what happened to one payment
type Result struct {
	Outcome        Outcome
	Reason         string
	RegistrationID string
	Promotion      *promotion.Summary
}

// RegistrationSource finds the registration a payment paid for
type RegistrationSource interface {
	FindByPaymentCorrelationID(ctx context.Context, id string) (models.Document, error)
}

// ErrorCleaner removes stale error shadows of a payment before it is reprocessed
type ErrorCleaner interface {
	Cleanup(ctx context.Context, paymentID string) (int, error)
}

type HandlerOptions struct {
	// Immediate promotes each eligible chain right after staging it
	Immediate bool
	DryRun    bool
}

// PaymentHandler stages one provider payment together with the registration
// chain it paid for, then promotes the chain.
type PaymentHandler struct {
	store    db.Store
	source   RegistrationSource
	stager   *Stager
	builder  *ChainBuilder
	contacts *ContactUnifier
	pipeline *promotion.Pipeline
	cleaner  ErrorCleaner
	opts     HandlerOptions
	logger   *slog.Logger
}

func NewPaymentHandler(
	store db.Store,
	source RegistrationSource,
	stager *Stager,
	builder *ChainBuilder,
	contacts *ContactUnifier,
	pipeline *promotion.Pipeline,
	cleaner ErrorCleaner,
	opts HandlerOptions,
	logger *slog.Logger,
) *PaymentHandler {
	return &PaymentHandler{
		store:    store,
		source:   source,
		stager:   stager,
		builder:  builder,
		contacts: contacts,
		pipeline: pipeline,
		cleaner:  cleaner,
		opts:     opts,
		logger:   logger,
	}
}

// Contacts exposes the unifier so callers can reset it between runs
func (h *PaymentHandler) Contacts() *ContactUnifier { return h.contacts }

// WithOptions returns a handler sharing h's collaborators but running with opts
func (h *PaymentHandler) WithOptions(opts HandlerOptions) *PaymentHandler {
	c := *h
	c.opts = opts
	return &c
}

// ProcessPayment runs the per-payment sync. Duplicates and unmatched payments
// are reported through the Result; the returned error is for failures the
// caller records as FAILED.
func (h *PaymentHandler) ProcessPayment(ctx context.Context, rec models.PaymentRecord) (res Result, err error) {
	defer func() {
		outcome := string(res.Outcome)
		if err != nil {
			outcome = "error"
		}
		metrics.PaymentsProcessed.WithLabelValues(rec.Provider, outcome).Inc()
	}()

	l := h.logger.With("payment_id", rec.ID, "provider", rec.Provider)

	if rec.IsTestPayment() {
		l.Info("Test payment skipped")
		return Result{Outcome: OutcomeSkipped, Reason: "test payment"}, nil
	}

	existing, err := h.lookup(ctx, models.Payments, rec.ID)
	if err != nil {
		return Result{}, err
	}
	inProduction := existing != nil

	if !inProduction {
		res, done, err := h.checkStaged(ctx, rec, l)
		if err != nil || done {
			return res, err
		}
		reason, err := h.detectDuplicate(ctx, rec)
		if err != nil {
			return Result{}, err
		}
		if reason != "" {
			l.Warn("Duplicate payment", "reason", reason)
			return Result{Outcome: OutcomeDuplicate, Reason: reason}, nil
		}
	}

	raw, err := h.findRegistration(ctx, rec)
	if err != nil {
		return Result{}, err
	}
	var reg models.Document
	regID := NoMatch
	if raw != nil {
		reg = transform.NormalizeDocument(raw)
		regID = transform.RegistrationID.String(reg)
	}
	l = l.With("registration_id", regID)

	if h.opts.DryRun {
		l.Info("Dry run, nothing written", "eligible", rec.Eligible(), "in_production", inProduction)
		if raw == nil && rec.Eligible() {
			return Result{Outcome: OutcomeUnmatched, RegistrationID: regID, Reason: "no registration for payment"}, nil
		}
		return Result{Outcome: OutcomeProcessed, RegistrationID: regID, Reason: "dry run"}, nil
	}

	payload := transform.NormalizeDocument(rec.Payload())
	payload["registrationId"] = regID
	if _, err := h.stager.Stage(ctx, models.Payments, rec.ID, payload, StageMeta{
		Source:     rec.Provider,
		SourceID:   rec.ID,
		ModifiedAt: rec.ModifiedAt(),
		Eligible:   rec.Eligible(),
	}); err != nil {
		return Result{}, err
	}

	if raw == nil {
		if rec.Eligible() {
			l.Error("No registration found for successful payment", "correlation_id", rec.CorrelationID)
			return Result{Outcome: OutcomeUnmatched, RegistrationID: NoMatch, Reason: "no registration for payment"}, nil
		}
		l.Info("No registration for ineligible payment", "status", rec.Status)
		return Result{Outcome: OutcomeSkipped, RegistrationID: NoMatch, Reason: "ineligible and unmatched"}, nil
	}

	chain, err := h.stageChain(ctx, reg, rec)
	if err != nil {
		return Result{}, err
	}

	res = Result{Outcome: OutcomeProcessed, RegistrationID: regID}
	if inProduction {
		res.Outcome = OutcomeSkipped
		res.Reason = "already in production"
	}

	if !rec.Eligible() {
		l.Info("Payment staged, not eligible for production", "status", rec.Status, "refunded", rec.RefundedAmount)
		return res, nil
	}
	if !h.opts.Immediate {
		return res, nil
	}

	summary, err := h.pipeline.PromoteChain(ctx, chain)
	res.Promotion = summary
	if err != nil {
		return res, fmt.Errorf("promote chain of %s: %w", rec.ID, err)
	}
	if summary.TicketStageAborted {
		l.Warn("Tickets not promoted", "reasons", summary.TicketReasons)
	}
	l.Info("Payment synced", "outcome", res.Outcome, "production_writes", summary.Writes())
	return res, nil
}

// checkStaged handles a payment that was staged but never promoted. done is
// true when processing must stop with res.
func (h *PaymentHandler) checkStaged(ctx context.Context, rec models.PaymentRecord, l *slog.Logger) (res Result, done bool, err error) {
	staged, err := h.lookup(ctx, models.Staged(models.Payments), rec.ID)
	if err != nil || staged == nil {
		return Result{}, false, err
	}

	stagedAt, _ := staged.TimeAt("updatedAt")
	amount, _ := staged.Float("amountMinor")
	modified := rec.ModifiedAt()

	identical := modified.Equal(stagedAt) && int64(amount) == rec.Amount

	switch {
	case identical && !rec.Eligible():
		return Result{Outcome: OutcomeSkipped, Reason: "already imported"}, true, nil
	case identical && staged.String("registrationId") == NoMatch:
		// the registration may have been created since the last attempt
		return Result{}, false, h.cleanup(ctx, rec.ID, "Retrying registration match", l)
	case identical:
		return Result{Outcome: OutcomeDuplicate, Reason: "payment already imported with identical amount and timestamp"}, true, nil
	case modified.After(stagedAt):
		return Result{}, false, h.cleanup(ctx, rec.ID, "Payment changed since import, reprocessing", l)
	default:
		return Result{Outcome: OutcomeSkipped, Reason: "staged copy is newer"}, true, nil
	}
}

func (h *PaymentHandler) cleanup(ctx context.Context, paymentID, msg string, l *slog.Logger) error {
	if h.cleaner == nil {
		return nil
	}
	n, err := h.cleaner.Cleanup(ctx, paymentID)
	if err != nil {
		return fmt.Errorf("cleanup errors of %s: %w", paymentID, err)
	}
	l.Info(msg, "cleaned_errors", n)
	return nil
}

// detectDuplicate reports order id reuse and near-simultaneous charges
func (h *PaymentHandler) detectDuplicate(ctx context.Context, rec models.PaymentRecord) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()
	staged := models.Staged(models.Payments)

	if rec.OrderID != "" {
		docs, err := h.store.Find(ctx, staged, db.Filter{"orderId": rec.OrderID})
		if err != nil {
			return "", fmt.Errorf("find payments by order %s: %w", rec.OrderID, err)
		}
		for _, d := range docs {
			if id := d.String("id"); id != rec.ID {
				return fmt.Sprintf("order %s already attached to payment %s", rec.OrderID, id), nil
			}
		}
	}

	if rec.CustomerID != "" {
		docs, err := h.store.Find(ctx, staged, db.Filter{"customerId": rec.CustomerID, "amountMinor": rec.Amount})
		if err != nil {
			return "", fmt.Errorf("find payments of customer %s: %w", rec.CustomerID, err)
		}
		for _, d := range docs {
			if d.String("id") == rec.ID {
				continue
			}
			created, ok := d.TimeAt("createdAt")
			if !ok {
				continue
			}
			if diff := created.Sub(rec.CreatedAt).Abs(); diff <= duplicateWindow {
				return fmt.Sprintf("payment %s by the same customer for the same amount %s apart", d.String("id"), diff), nil
			}
		}
	}
	return "", nil
}

func (h *PaymentHandler) findRegistration(ctx context.Context, rec models.PaymentRecord) (models.Document, error) {
	ids := []string{rec.CorrelationID, rec.ID}
	for _, id := range ids {
		if id == "" {
			continue
		}
		lookupCtx, cancel := context.WithTimeout(ctx, lookupTimeout)
		reg, err := h.source.FindByPaymentCorrelationID(lookupCtx, id)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("registration lookup %s: %w", id, err)
		}
		if reg != nil {
			return reg, nil
		}
	}
	return nil, nil
}

// stageChain stages the registration and everything derived from it
func (h *PaymentHandler) stageChain(ctx context.Context, reg models.Document, rec models.PaymentRecord) (promotion.Chain, error) {
	built, err := h.builder.Build(ctx, reg, rec)
	if err != nil {
		return promotion.Chain{}, err
	}

	modified, ok := transform.RegistrationUpdatedAt.Value(reg)
	modifiedAt, parsed := models.ParseTime(modified)
	if !ok || !parsed {
		modifiedAt = rec.ModifiedAt()
	}
	meta := StageMeta{Source: SourceRelational, SourceID: built.RegistrationID, ModifiedAt: modifiedAt, Eligible: rec.Eligible()}

	chain := promotion.Chain{PaymentKey: rec.ID, RegistrationKey: built.RegistrationID}

	if _, err := h.stager.Stage(ctx, models.Registrations, built.RegistrationID, built.Registration, meta); err != nil {
		return chain, err
	}

	if built.Customer != nil {
		hash := built.Customer.String("hash")
		customer, err := h.withStagedRegistrations(ctx, models.Customers, hash, built.Customer)
		if err != nil {
			return chain, err
		}
		if _, err := h.stager.Stage(ctx, models.Customers, hash, customer, meta); err != nil {
			return chain, err
		}
		chain.CustomerKey = hash
	}

	for _, a := range built.Attendees {
		id := a.String("attendeeId")
		attendee, err := h.withStagedRegistrations(ctx, models.Attendees, id, a)
		if err != nil {
			return chain, err
		}
		if _, err := h.stager.Stage(ctx, models.Attendees, id, attendee, meta); err != nil {
			return chain, err
		}
		chain.AttendeeKeys = append(chain.AttendeeKeys, id)
	}

	for _, t := range built.Tickets {
		id := t.String("ticketId")
		if _, err := h.stager.Stage(ctx, models.Tickets, id, t, meta); err != nil {
			return chain, err
		}
		chain.TicketKeys = append(chain.TicketKeys, id)
	}

	chain.ContactKeys, err = h.stageContacts(ctx, reg, built, meta)
	if err != nil {
		return chain, err
	}
	return chain, nil
}

// withStagedRegistrations keeps the registrations[] entries an already staged
// document accumulated.
func (h *PaymentHandler) withStagedRegistrations(ctx context.Context, collection, key string, doc models.Document) (models.Document, error) {
	staged, err := h.stager.Load(ctx, collection, key)
	if err != nil {
		return nil, fmt.Errorf("load staged %s/%s: %w", collection, key, err)
	}
	if staged == nil {
		return doc, nil
	}
	entries, _ := models.AsSlice(doc["registrations"])
	add := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		if m, ok := models.AsMap(e); ok {
			add = append(add, m)
		}
	}
	out := doc.Clone()
	out["registrations"] = appendByRegistration(staged["registrations"], add...)
	return out, nil
}

func (h *PaymentHandler) stageContacts(ctx context.Context, reg models.Document, built *Chain, meta StageMeta) ([]string, error) {
	var keys []string
	add := func(key string) {
		if key == "" {
			return
		}
		for _, k := range keys {
			if k == key {
				return
			}
		}
		keys = append(keys, key)
	}

	links := ContactLinks{Ref: built.Ref, ModifiedAt: meta.ModifiedAt, Eligible: meta.Eligible}

	if booking := transform.BookingContact.Object(reg); booking != nil {
		bl := links
		bl.CustomerID = built.Customer.String("customerId")
		key, _, _, err := h.contacts.Upsert(ctx, booking, ContactSourceRegistration, bl)
		if err != nil {
			return nil, fmt.Errorf("booking contact: %w", err)
		}
		add(key)
	}

	raw := transform.RegistrationAttendees.Objects(reg)
	for i, a := range built.Attendees {
		person := a
		if i < len(raw) {
			person = raw[i]
		}
		al := links
		al.AttendeeID = a.String("attendeeId")
		al.Ref.AttendeeID = al.AttendeeID
		key, _, _, err := h.contacts.Upsert(ctx, person, ContactSourceAttendee, al)
		if err != nil {
			return nil, fmt.Errorf("attendee contact %s: %w", al.AttendeeID, err)
		}
		add(key)
	}
	return keys, nil
}

func (h *PaymentHandler) lookup(ctx context.Context, collection, key string) (models.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()
	doc, err := db.GetOptional(ctx, h.store, collection, key)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("load %s/%s: %w", collection, key, err)
	}
	return doc, nil
}
