package models

import (
	"strings"
	"time"
)

type PaymentStatus string

const (
	StatusSucceeded PaymentStatus = "succeeded"
	StatusFailed    PaymentStatus = "failed"
	StatusRefunded  PaymentStatus = "refunded"
	StatusPending   PaymentStatus = "pending"
	StatusCancelled PaymentStatus = "cancelled"
)

// Provider kinds
const (
	KindStripe = "stripe"
	KindSquare = "square"
)

// PaymentRecord is a provider payment reduced to the fields the sync relies on.
// Amounts are in minor units.
type PaymentRecord struct {
	ID             string         `json:"id"`
	Provider       string         `json:"provider"`
	Kind           string         `json:"kind"`
	Amount         int64          `json:"amount"`
	Currency       string         `json:"currency"`
	Status         PaymentStatus  `json:"status"`
	RawStatus      string         `json:"raw_status"`
	RefundedAmount int64          `json:"refunded_amount"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	CorrelationID  string         `json:"correlation_id"`
	CustomerID     string         `json:"customer_id"`
	OrderID        string         `json:"order_id"`
	ReceiptEmail   string         `json:"receipt_email"`
	CardBrand      string         `json:"card_brand"`
	CardLast4      string         `json:"card_last4"`
	Customer       map[string]any `json:"customer,omitempty"`
	Order          map[string]any `json:"order,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Raw            map[string]any `json:"raw,omitempty"`
}

// Eligible reports whether the payment may be promoted to production
func (p PaymentRecord) Eligible() bool {
	if p.Status != StatusSucceeded {
		return false
	}
	return p.RefundedAmount == 0 || p.RefundedAmount < p.Amount
}

// ModifiedAt is the origin modification timestamp, falling back to creation
func (p PaymentRecord) ModifiedAt() time.Time {
	if !p.UpdatedAt.IsZero() {
		return p.UpdatedAt
	}
	return p.CreatedAt
}

// IsTestPayment flags the known internal test card used against live accounts
func (p PaymentRecord) IsTestPayment() bool {
	if p.Kind != KindStripe || p.CardLast4 != "8251" {
		return false
	}
	return strings.Contains(strings.ToLower(p.ReceiptEmail), "@allatt.me")
}

// Payload is the snake_case staging payload, normalized before it is stored
func (p PaymentRecord) Payload() map[string]any {
	payload := map[string]any{
		"id":              p.ID,
		"payment_id":      p.ID,
		"source":          p.Kind,
		"provider_name":   p.Provider,
		"amount":          float64(p.Amount) / 100,
		"amount_minor":    p.Amount,
		"currency":        p.Currency,
		"status":          string(p.Status),
		"provider_status": p.RawStatus,
		"refunded_amount": float64(p.RefundedAmount) / 100,
		"created_at":      FormatTime(p.CreatedAt),
		"updated_at":      FormatTime(p.ModifiedAt()),
		"correlation_id":  p.CorrelationID,
		"customer_id":     p.CustomerID,
		"order_id":        p.OrderID,
		"customer_email":  p.ReceiptEmail,
		"card_brand":      p.CardBrand,
		"card_last4":      p.CardLast4,
	}
	if len(p.Metadata) > 0 {
		payload["metadata"] = p.Metadata
	}
	if len(p.Customer) > 0 {
		payload["customer"] = p.Customer
	}
	if len(p.Order) > 0 {
		payload["order"] = p.Order
	}
	return payload
}
