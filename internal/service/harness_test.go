package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Guizzs26/go-paysync/internal/db"
	"github.com/Guizzs26/go-paysync/internal/models"
	"github.com/Guizzs26/go-paysync/internal/processor"
	"github.com/Guizzs26/go-paysync/internal/promotion"
	"github.com/Guizzs26/go-paysync/internal/provider"
	"github.com/Guizzs26/go-paysync/internal/refdata"
	"github.com/Guizzs26/go-paysync/internal/transform"
)

var paidAt = time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type registrations map[string]models.Document

func (r registrations) FindByPaymentCorrelationID(_ context.Context, id string) (models.Document, error) {
	if doc, ok := r[id]; ok {
		return doc.Clone(), nil
	}
	return nil, nil
}

// listProvider serves records in pages of the requested size; the cursor is
// the offset of the next page
type listProvider struct {
	name    string
	records []models.PaymentRecord
	err     error
	sinces  []time.Time
}

func (p *listProvider) Name() string { return p.name }

func (p *listProvider) ListPayments(_ context.Context, q provider.Query) (provider.Page, error) {
	p.sinces = append(p.sinces, q.Since)
	if p.err != nil {
		return provider.Page{}, p.err
	}
	start := 0
	if q.Cursor != "" {
		start, _ = strconv.Atoi(q.Cursor)
	}
	end := min(start+q.Limit, len(p.records))
	page := provider.Page{Records: p.records[start:end]}
	if end < len(p.records) {
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

type harness struct {
	store   *db.MemoryStore
	source  registrations
	errors  *ErrorRecorder
	runs    *RunLog
	service *SyncService
	pauses  int
}

func newHarness(t *testing.T, providers ...provider.Provider) *harness {
	t.Helper()
	l := quietLogger()
	s := db.NewMemoryStore()
	h := &harness{store: s, source: registrations{}}

	refs := refdata.New(s, time.Minute, l)
	expander := transform.NewPackageExpander(refs, l)
	stager := processor.NewStager(s, l)
	pipeline := promotion.NewPipeline(s,
		promotion.NewPromoter(s, expander, nil, l),
		promotion.NewValidator(s, refs, l),
		l,
	)
	h.errors = NewErrorRecorder(s, l)
	h.runs = NewRunLog(s, l)
	handler := processor.NewPaymentHandler(s, h.source, stager,
		processor.NewChainBuilder(refs, expander),
		processor.NewContactUnifier(s, stager, l),
		pipeline, h.errors, processor.HandlerOptions{}, l)

	h.service = NewSyncService(providers, handler, pipeline, h.errors, h.runs,
		NewOrderProcessor(s, l), NewVerifier(s, nil, l),
		Settings{PageSize: 2}, l)
	h.service.sleep = func(ctx context.Context, _ time.Duration) error {
		h.pauses++
		return ctx.Err()
	}

	h.seed(t, models.EventTickets, "et_1", models.Document{"name": "Grand Banquet", "price": 100.0})
	return h
}

func (h *harness) seed(t *testing.T, collection, key string, doc models.Document) {
	t.Helper()
	require.NoError(t, h.store.Put(context.Background(), collection, key, doc))
}

func (h *harness) count(t *testing.T, collection string, filter db.Filter) int {
	t.Helper()
	n, err := h.store.Count(context.Background(), collection, filter)
	require.NoError(t, err)
	return n
}

func (h *harness) lastRun(t *testing.T) models.Document {
	t.Helper()
	runs, err := h.store.Find(context.Background(), models.SyncLog, nil)
	require.NoError(t, err)
	require.NotEmpty(t, runs)
	latest := runs[0]
	for _, r := range runs[1:] {
		a, _ := r.TimeAt("startTimestamp")
		b, _ := latest.TimeAt("startTimestamp")
		if a.After(b) {
			latest = r
		}
	}
	return latest
}

func payment(id string) models.PaymentRecord {
	return models.PaymentRecord{
		ID:            id,
		Provider:      "stripe-main",
		Kind:          models.KindStripe,
		Amount:        10000,
		Currency:      "aud",
		Status:        models.StatusSucceeded,
		CreatedAt:     paidAt,
		UpdatedAt:     paidAt,
		CorrelationID: "pi_" + id,
	}
}

// registration is a relational row paid by payment id
func registration(regID, paymentID string) models.Document {
	return models.Document{
		"registration_id":          regID,
		"registration_type":        "individual",
		"confirmation_number":      "IND-" + regID,
		"function_id":              "fn_1",
		"stripe_payment_intent_id": "pi_" + paymentID,
		"payment_status":           "completed",
		"total_amount_paid":        110.0,
		"updated_at":               "2025-05-01T09:00:00Z",
		"registration_data": map[string]any{
			"bookingContact": map[string]any{"firstName": "Ada", "lastName": "Lovelace", "email": "ada@example.com"},
			"attendees": []any{
				map[string]any{"attendeeId": "att_" + regID, "firstName": "Ada", "lastName": "Lovelace"},
			},
			"tickets": []any{
				map[string]any{"id": "tkt_" + regID, "eventTicketId": "et_1", "attendeeId": "att_" + regID},
			},
		},
	}
}

func (h *harness) match(paymentID, regID string) {
	h.source["pi_"+paymentID] = registration(regID, paymentID)
}

var errProviderDown = errors.New("provider down")
