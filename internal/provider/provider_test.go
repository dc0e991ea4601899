package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guizzs26/go-paysync/internal/models"
	"github.com/Guizzs26/go-paysync/pkg/infra"
	"github.com/Guizzs26/go-paysync/pkg/metrics"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func fastRetries(c *client) {
	c.newBackoff = func() *infra.Backoff { return infra.NewBackoff(time.Millisecond, time.Millisecond, 1) }
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestStripeListsChargesWithCursor(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/charges", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		seen = append(seen, r.URL.Query().Get("starting_after"))

		switch r.URL.Query().Get("starting_after") {
		case "":
			writeJSON(t, w, map[string]any{"has_more": true, "data": []any{map[string]any{
				"id": "ch_1", "amount": 11500, "currency": "aud", "status": "succeeded", "paid": true,
				"created": 1746090000, "payment_intent": "pi_1", "receipt_email": "ada@example.com",
				"metadata":               map[string]any{"order_id": "ord_1"},
				"payment_method_details": map[string]any{"card": map[string]any{"brand": "visa", "last4": "4242"}},
			}}})
		default:
			writeJSON(t, w, map[string]any{"has_more": false, "data": []any{map[string]any{
				"id": "ch_2", "amount": 5000, "amount_refunded": 5000, "refunded": true, "paid": true,
				"currency": "aud", "status": "succeeded", "created": 1746090100,
			}}})
		}
	}))
	defer srv.Close()

	s := NewStripe("DA-LODGETIX", "sk_test", srv.URL, srv.Client(), quietLogger())
	it := NewIterator(s, "", 1, time.Time{})

	var got []models.PaymentRecord
	for it.Next(context.Background()) {
		got = append(got, it.Record())
	}
	require.NoError(t, it.Err())
	require.Len(t, got, 2)
	assert.Equal(t, []string{"", "ch_1"}, seen)
	assert.Empty(t, it.Cursor())

	first := got[0]
	assert.Equal(t, "DA-LODGETIX", first.Provider)
	assert.Equal(t, models.StatusSucceeded, first.Status)
	assert.Equal(t, "pi_1", first.CorrelationID)
	assert.Equal(t, "ord_1", first.OrderID)
	assert.Equal(t, "4242", first.CardLast4)
	assert.Equal(t, time.Unix(1746090000, 0).UTC(), first.CreatedAt)
	assert.True(t, first.Eligible())

	assert.Equal(t, models.StatusRefunded, got[1].Status)
	assert.False(t, got[1].Eligible())
}

func TestStripeSendsSinceFilter(t *testing.T) {
	since := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, fmt.Sprint(since.Unix()), r.URL.Query().Get("created[gte]"))
		writeJSON(t, w, map[string]any{"has_more": false, "data": []any{}})
	}))
	defer srv.Close()

	page, err := NewStripe("acct", "sk", srv.URL, srv.Client(), quietLogger()).ListPayments(context.Background(), Query{Limit: 1, Since: since})
	require.NoError(t, err)
	assert.Empty(t, page.Records)
	assert.Empty(t, page.NextCursor)
}

func TestSquareMapsPayments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/payments", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("Square-Version"))
		assert.Equal(t, "ASC", r.URL.Query().Get("sort_order"))
		writeJSON(t, w, map[string]any{
			"cursor": "next-page",
			"payments": []any{map[string]any{
				"id": "sq_1", "status": "COMPLETED",
				"amount_money":   map[string]any{"amount": 2300, "currency": "AUD"},
				"refunded_money": map[string]any{"amount": 300, "currency": "AUD"},
				"created_at":     "2025-05-01T10:00:00.000Z",
				"updated_at":     "2025-05-02T10:00:00.000Z",
				"order_id":       "sq_ord", "customer_id": "sq_cus",
				"card_details": map[string]any{"card": map[string]any{"card_brand": "MASTERCARD", "last_4": "1111"}},
			}},
		})
	}))
	defer srv.Close()

	page, err := NewSquare("token", srv.URL, srv.Client(), quietLogger()).ListPayments(context.Background(), Query{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, "next-page", page.NextCursor)
	require.Len(t, page.Records, 1)

	rec := page.Records[0]
	assert.Equal(t, "sq_1", rec.CorrelationID)
	assert.Equal(t, "aud", rec.Currency)
	assert.Equal(t, models.StatusSucceeded, rec.Status)
	assert.Equal(t, int64(300), rec.RefundedAmount)
	assert.True(t, rec.Eligible(), "partial refunds stay eligible")
	assert.Equal(t, time.Date(2025, 5, 2, 10, 0, 0, 0, time.UTC), rec.ModifiedAt())
	assert.Equal(t, "1111", rec.CardLast4)
}

func TestClientRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.WriteHeader(http.StatusBadGateway)
		default:
			writeJSON(t, w, map[string]any{"payments": []any{}})
		}
	}))
	defer srv.Close()

	sq := NewSquare("token", srv.URL, srv.Client(), quietLogger())
	fastRetries(sq.client)
	before := testutil.ToFloat64(metrics.ProviderRetries.WithLabelValues("square"))

	_, err := sq.ListPayments(context.Background(), Query{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, before+2, testutil.ToFloat64(metrics.ProviderRetries.WithLabelValues("square")))
}

func TestClientGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	sq := NewSquare("token", srv.URL, srv.Client(), quietLogger())
	fastRetries(sq.client)

	_, err := sq.ListPayments(context.Background(), Query{Limit: 1})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	assert.Equal(t, int32(maxAttempts), calls.Load())
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := NewStripe("acct", "sk", srv.URL, srv.Client(), quietLogger())
	fastRetries(s.client)

	_, err := s.ListPayments(context.Background(), Query{Limit: 1})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

type pagedProvider struct {
	pages map[string]Page
	calls int
}

func (p *pagedProvider) Name() string { return "paged" }

func (p *pagedProvider) ListPayments(_ context.Context, q Query) (Page, error) {
	p.calls++
	page, ok := p.pages[q.Cursor]
	if !ok {
		return Page{}, errors.New("unknown cursor")
	}
	return page, nil
}

func TestIteratorResumesFromCursor(t *testing.T) {
	p := &pagedProvider{pages: map[string]Page{
		"":   {Records: []models.PaymentRecord{{ID: "a"}}, NextCursor: "c1"},
		"c1": {Records: []models.PaymentRecord{{ID: "b"}}, NextCursor: "c2"},
		"c2": {Records: []models.PaymentRecord{{ID: "c"}}},
	}}

	it := NewIterator(p, "", 1, time.Time{})
	require.True(t, it.Next(context.Background()))
	assert.Equal(t, "a", it.Record().ID)
	assert.Equal(t, "c1", it.Cursor())

	resumed := NewIterator(p, it.Cursor(), 1, time.Time{})
	var ids []string
	for resumed.Next(context.Background()) {
		ids = append(ids, resumed.Record().ID)
	}
	require.NoError(t, resumed.Err())
	assert.Equal(t, []string{"b", "c"}, ids)
}

func TestIteratorStopsOnEmptyPageAndCanceledContext(t *testing.T) {
	p := &pagedProvider{pages: map[string]Page{"": {NextCursor: "dangling"}}}
	it := NewIterator(p, "", 1, time.Time{})
	assert.False(t, it.Next(context.Background()))
	assert.NoError(t, it.Err())
	assert.Equal(t, 1, p.calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	it = NewIterator(p, "", 1, time.Time{})
	assert.False(t, it.Next(ctx))
	assert.ErrorIs(t, it.Err(), context.Canceled)
}
