package processor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Guizzs26/go-paysync/internal/db"
	"github.com/Guizzs26/go-paysync/internal/models"
	"github.com/Guizzs26/go-paysync/internal/promotion"
	"github.com/Guizzs26/go-paysync/internal/refdata"
	"github.com/Guizzs26/go-paysync/internal/transform"
)

var paidAt = time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

type fakeSource map[string]models.Document

func (f fakeSource) FindByPaymentCorrelationID(_ context.Context, id string) (models.Document, error) {
	if doc, ok := f[id]; ok {
		return doc.Clone(), nil
	}
	return nil, nil
}

type countingCleaner struct{ calls []string }

func (c *countingCleaner) Cleanup(_ context.Context, paymentID string) (int, error) {
	c.calls = append(c.calls, paymentID)
	return 0, nil
}

type fixture struct {
	store   *db.MemoryStore
	source  fakeSource
	cleaner *countingCleaner
	refs    *refdata.Cache
	handler *PaymentHandler
}

func newFixture(t *testing.T, opts HandlerOptions) *fixture {
	t.Helper()
	l := quietLogger()
	s := db.NewMemoryStore()
	refs := refdata.New(s, time.Minute, l)
	expander := transform.NewPackageExpander(refs, l)
	stager := NewStager(s, l)
	pipeline := promotion.NewPipeline(s,
		promotion.NewPromoter(s, expander, nil, l),
		promotion.NewValidator(s, refs, l),
		l,
	)
	f := &fixture{store: s, source: fakeSource{}, cleaner: &countingCleaner{}, refs: refs}
	f.handler = NewPaymentHandler(s, f.source, stager, NewChainBuilder(refs, expander), NewContactUnifier(s, stager, l), pipeline, f.cleaner, opts, l)
	return f
}

func (f *fixture) seed(t *testing.T, collection, key string, doc models.Document) {
	t.Helper()
	require.NoError(t, f.store.Put(context.Background(), collection, key, doc))
}

func (f *fixture) count(t *testing.T, collection string) int {
	t.Helper()
	n, err := f.store.Count(context.Background(), collection, nil)
	require.NoError(t, err)
	return n
}

func stripePayment(id string) models.PaymentRecord {
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

// registrationRow mimics a relational row: snake_case columns, camelCase JSON payload
func registrationRow(regID string, tickets ...map[string]any) models.Document {
	lines := make([]any, len(tickets))
	for i := range tickets {
		lines[i] = tickets[i]
	}
	return models.Document{
		"registration_id":          regID,
		"registration_type":        "individual",
		"confirmation_number":      "IND-100",
		"function_id":              "fn_1",
		"stripe_payment_intent_id": "pi_pay_1",
		"payment_status":           "completed",
		"total_amount_paid":        100.0,
		"created_at":               "2025-05-01T08:55:00Z",
		"updated_at":               "2025-05-01T09:00:00Z",
		"registration_data": map[string]any{
			"bookingContact": map[string]any{
				"firstName": "Ada", "lastName": "Lovelace", "email": "Ada@Example.com", "mobile": "0400 000 000",
			},
			"attendees": []any{
				map[string]any{"attendeeId": "att_1", "firstName": "Ada", "lastName": "Lovelace", "primaryEmail": "ada@example.com"},
			},
			"tickets": lines,
		},
	}
}
