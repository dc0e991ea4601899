// Package provider lists payments from the payment processors. Each client
// pages through its API with a cursor and retries transient failures.
package provider

import (
	"context"
	"time"

	"github.com/Guizzs26/go-paysync/internal/models"
)

// Query selects one page of payments. An empty Cursor starts from the
// beginning; a zero Since disables the created-after filter.
type Query struct {
	Cursor string
	Limit  int
	Since  time.Time
}

// Page is one API page. An empty NextCursor means the listing is exhausted.
type Page struct {
	Records    []models.PaymentRecord
	NextCursor string
}

// Provider is a payment processor account
type Provider interface {
	// Name identifies the account, e.g. "DA-LODGETIX" or "square"
	Name() string
	ListPayments(ctx context.Context, q Query) (Page, error)
}
