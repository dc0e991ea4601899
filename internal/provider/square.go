package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Guizzs26/go-paysync/internal/models"
)

const squareVersion = "2025-01-23"

// Square lists payments through GET /v2/payments
type Square struct {
	client *client
}

func NewSquare(accessToken, baseURL string, httpClient *http.Client, logger *slog.Logger) *Square {
	authorize := func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+accessToken)
		r.Header.Set("Square-Version", squareVersion)
	}
	return &Square{client: newClient("square", baseURL, httpClient, authorize, logger)}
}

func (s *Square) Name() string { return "square" }

type squareMoney struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type squarePayment struct {
	ID                string       `json:"id"`
	Status            string       `json:"status"`
	AmountMoney       squareMoney  `json:"amount_money"`
	RefundedMoney     *squareMoney `json:"refunded_money"`
	CreatedAt         string       `json:"created_at"`
	UpdatedAt         string       `json:"updated_at"`
	OrderID           string       `json:"order_id"`
	CustomerID        string       `json:"customer_id"`
	ReferenceID       string       `json:"reference_id"`
	BuyerEmailAddress string       `json:"buyer_email_address"`
	Note              string       `json:"note"`
	LocationID        string       `json:"location_id"`
	CardDetails       *struct {
		Card struct {
			CardBrand string `json:"card_brand"`
			Last4     string `json:"last_4"`
		} `json:"card"`
	} `json:"card_details"`
}

type squareList struct {
	Payments []squarePayment `json:"payments"`
	Cursor   string          `json:"cursor"`
}

// ListPayments fetches one page of payments in ascending creation order
func (s *Square) ListPayments(ctx context.Context, q Query) (Page, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(max(q.Limit, 1)))
	params.Set("sort_order", "ASC")
	if q.Cursor != "" {
		params.Set("cursor", q.Cursor)
	}
	if !q.Since.IsZero() {
		params.Set("begin_time", models.FormatTime(q.Since))
	}

	var list squareList
	if err := s.client.getJSON(ctx, "/v2/payments", params, &list); err != nil {
		return Page{}, fmt.Errorf("list square payments: %w", err)
	}

	page := Page{Records: make([]models.PaymentRecord, 0, len(list.Payments)), NextCursor: list.Cursor}
	for _, p := range list.Payments {
		page.Records = append(page.Records, squareRecord(p))
	}
	return page, nil
}

func squareRecord(p squarePayment) models.PaymentRecord {
	created, _ := models.ParseTime(p.CreatedAt)
	updated, _ := models.ParseTime(p.UpdatedAt)

	rec := models.PaymentRecord{
		ID:            p.ID,
		Provider:      "square",
		Kind:          models.KindSquare,
		Amount:        p.AmountMoney.Amount,
		Currency:      strings.ToLower(p.AmountMoney.Currency),
		RawStatus:     p.Status,
		CreatedAt:     created,
		UpdatedAt:     updated,
		CorrelationID: p.ID,
		CustomerID:    p.CustomerID,
		OrderID:       p.OrderID,
		ReceiptEmail:  p.BuyerEmailAddress,
	}
	if p.RefundedMoney != nil {
		rec.RefundedAmount = p.RefundedMoney.Amount
	}
	if p.CardDetails != nil {
		rec.CardBrand = p.CardDetails.Card.CardBrand
		rec.CardLast4 = p.CardDetails.Card.Last4
	}
	rec.Status = squareStatus(p.Status, rec.Amount, rec.RefundedAmount)

	meta := map[string]any{}
	if p.LocationID != "" {
		meta["location_id"] = p.LocationID
	}
	if p.ReferenceID != "" {
		meta["reference_id"] = p.ReferenceID
	}
	if p.Note != "" {
		meta["note"] = p.Note
	}
	if len(meta) > 0 {
		rec.Metadata = meta
	}
	return rec
}

func squareStatus(status string, amount, refunded int64) models.PaymentStatus {
	if refunded > 0 && refunded >= amount {
		return models.StatusRefunded
	}
	switch strings.ToUpper(status) {
	case "COMPLETED":
		return models.StatusSucceeded
	case "FAILED":
		return models.StatusFailed
	case "CANCELED":
		return models.StatusCancelled
	default:
		return models.StatusPending
	}
}
