package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Guizzs26/go-paysync/internal/models"
)

// Stripe lists charges of one Stripe account through GET /v1/charges
type Stripe struct {
	account string
	client  *client
}

func NewStripe(account, secretKey, baseURL string, httpClient *http.Client, logger *slog.Logger) *Stripe {
	authorize := func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+secretKey) }
	return &Stripe{
		account: account,
		client:  newClient(account, baseURL, httpClient, authorize, logger),
	}
}

func (s *Stripe) Name() string { return s.account }

type stripeList struct {
	Data    []stripeCharge `json:"data"`
	HasMore bool           `json:"has_more"`
}

type stripeCharge struct {
	ID             string         `json:"id"`
	Amount         int64          `json:"amount"`
	AmountRefunded int64          `json:"amount_refunded"`
	Currency       string         `json:"currency"`
	Status         string         `json:"status"`
	Paid           bool           `json:"paid"`
	Refunded       bool           `json:"refunded"`
	Created        int64          `json:"created"`
	PaymentIntent  string         `json:"payment_intent"`
	Customer       string         `json:"customer"`
	ReceiptEmail   string         `json:"receipt_email"`
	Metadata       map[string]any `json:"metadata"`
	BillingDetails struct {
		Name  string `json:"name"`
		Email string `json:"email"`
		Phone string `json:"phone"`
	} `json:"billing_details"`
	PaymentMethodDetails struct {
		Card struct {
			Brand string `json:"brand"`
			Last4 string `json:"last4"`
		} `json:"card"`
	} `json:"payment_method_details"`
}

// ListPayments fetches one page of charges, newest first. The cursor is the
// id of the last charge of the previous page.
func (s *Stripe) ListPayments(ctx context.Context, q Query) (Page, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(max(q.Limit, 1)))
	if q.Cursor != "" {
		params.Set("starting_after", q.Cursor)
	}
	if !q.Since.IsZero() {
		params.Set("created[gte]", unixParam(q.Since))
	}

	var list stripeList
	if err := s.client.getJSON(ctx, "/v1/charges", params, &list); err != nil {
		return Page{}, fmt.Errorf("list stripe charges: %w", err)
	}

	page := Page{Records: make([]models.PaymentRecord, 0, len(list.Data))}
	for _, ch := range list.Data {
		page.Records = append(page.Records, s.record(ch))
	}
	if list.HasMore && len(list.Data) > 0 {
		page.NextCursor = list.Data[len(list.Data)-1].ID
	}
	return page, nil
}

func (s *Stripe) record(ch stripeCharge) models.PaymentRecord {
	created := time.Unix(ch.Created, 0).UTC()
	email := ch.ReceiptEmail
	if email == "" {
		email = ch.BillingDetails.Email
	}

	rec := models.PaymentRecord{
		ID:             ch.ID,
		Provider:       s.account,
		Kind:           models.KindStripe,
		Amount:         ch.Amount,
		Currency:       ch.Currency,
		Status:         stripeStatus(ch),
		RawStatus:      ch.Status,
		RefundedAmount: ch.AmountRefunded,
		CreatedAt:      created,
		UpdatedAt:      created,
		CorrelationID:  ch.PaymentIntent,
		CustomerID:     ch.Customer,
		ReceiptEmail:   email,
		CardBrand:      ch.PaymentMethodDetails.Card.Brand,
		CardLast4:      ch.PaymentMethodDetails.Card.Last4,
		Metadata:       ch.Metadata,
	}
	if id, ok := ch.Metadata["order_id"].(string); ok {
		rec.OrderID = id
	}
	if ch.BillingDetails.Name != "" || ch.BillingDetails.Phone != "" {
		rec.Customer = map[string]any{
			"name":  ch.BillingDetails.Name,
			"email": ch.BillingDetails.Email,
			"phone": ch.BillingDetails.Phone,
		}
	}
	return rec
}

func stripeStatus(ch stripeCharge) models.PaymentStatus {
	switch {
	case ch.Refunded && ch.AmountRefunded >= ch.Amount:
		return models.StatusRefunded
	case ch.Paid && ch.Status == "succeeded":
		return models.StatusSucceeded
	case ch.Status == "failed":
		return models.StatusFailed
	default:
		return models.StatusPending
	}
}
