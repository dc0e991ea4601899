package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Guizzs26/go-paysync/internal/db"
	"github.com/Guizzs26/go-paysync/internal/models"
	"github.com/Guizzs26/go-paysync/internal/transform"
)

const gstRate = 0.10

// orderNamespace seeds the deterministic order ids
var orderNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("paysync/orders"))

type OrderOutcome string

const (
	OrderCreate OrderOutcome = "CREATE"
	OrderSkip   OrderOutcome = "SKIP"
)

type OrderStats struct {
	Created int
	Skipped int
	Failed  int
}

// OrderProcessor derives orders from promoted registrations
type OrderProcessor struct {
	store  db.Store
	logger *slog.Logger
	now    func() time.Time
}

func NewOrderProcessor(store db.Store, logger *slog.Logger) *OrderProcessor {
	return &OrderProcessor{store: store, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// OrderID is the deterministic order id of a registration
func OrderID(registrationID string) string {
	return uuid.NewSHA1(orderNamespace, []byte(registrationID)).String()
}

// ProcessAll creates the missing orders of every production registration. A
// registration that fails is counted and skipped.
func (o *OrderProcessor) ProcessAll(ctx context.Context) (OrderStats, error) {
	var stats OrderStats

	regs, err := o.store.Find(ctx, models.Registrations, nil)
	if err != nil {
		return stats, fmt.Errorf("list registrations: %w", err)
	}
	for _, reg := range regs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		outcome, err := o.ProcessRegistration(ctx, reg)
		switch {
		case err != nil:
			stats.Failed++
			o.logger.Error("Order creation failed", "registration_id", transform.RegistrationID.String(reg), "error", err)
		case outcome == OrderCreate:
			stats.Created++
		default:
			stats.Skipped++
		}
	}

	o.logger.Info("Orders processed", "created", stats.Created, "skipped", stats.Skipped, "failed", stats.Failed)
	return stats, nil
}

// ProcessRegistration creates the order of one production registration unless
// it already has one
func (o *OrderProcessor) ProcessRegistration(ctx context.Context, reg models.Document) (OrderOutcome, error) {
	regID := transform.RegistrationID.String(reg)
	if regID == "" {
		return OrderSkip, errors.New("registration has no id")
	}

	_, err := db.FindOne(ctx, o.store, models.Orders, db.Filter{"externalIds.registrationId": regID})
	if err == nil {
		return OrderSkip, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return OrderSkip, fmt.Errorf("look up order of %s: %w", regID, err)
	}

	tickets, err := o.store.Find(ctx, models.Tickets, db.Filter{"registrationId": regID})
	if err != nil {
		return OrderSkip, fmt.Errorf("tickets of %s: %w", regID, err)
	}

	items := make([]any, 0, len(tickets))
	itemsTotal := 0.0
	for _, t := range tickets {
		price, _ := t.Float("price")
		qty, ok := t.Float("quantity")
		if !ok || qty <= 0 {
			qty = 1
		}
		line := round2(price * qty)
		itemsTotal += line
		items = append(items, map[string]any{
			"ticketId":      t.String("ticketId"),
			"eventTicketId": t.String("eventTicketId"),
			"description":   t.String("eventName"),
			"quantity":      qty,
			"unitPrice":     price,
			"total":         line,
			"status":        t.String("status"),
		})
	}

	total, ok := transform.RegistrationTotal.Float(reg)
	if !ok || total <= 0 {
		total = itemsTotal
	}
	total = round2(total)
	tax := gstInclusive(total)

	orderID := OrderID(regID)
	customerID := reg.String("customerId")
	order := models.Document{
		"orderId":        orderID,
		"orderNumber":    transform.ConfirmationNumber.String(reg),
		"customerId":     customerID,
		"registrationId": regID,
		"functionId":     transform.FunctionID.String(reg),
		"orderedItems":   items,
		"subtotal":       round2(total - tax),
		"totalTax":       tax,
		"total":          total,
		"currency":       "AUD",
		"paymentStatus":  orderPaymentStatus(transform.RegistrationStatus.String(reg)),
		"paymentGateway": o.gateway(ctx, reg),
		"externalIds": map[string]any{
			"registrationId": regID,
			"paymentId":      reg.String("paymentId"),
		},
		"createdAt": models.FormatTime(o.now()),
	}

	if err := o.store.Insert(ctx, models.Orders, orderID, order); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			return OrderSkip, nil
		}
		return OrderSkip, fmt.Errorf("insert order %s: %w", orderID, err)
	}

	if hash := reg.String("bookingContactHash"); hash != "" {
		if err := o.linkCustomer(ctx, hash, order); err != nil {
			return OrderCreate, err
		}
	}

	o.logger.Debug("Order created", "order_id", orderID, "registration_id", regID, "total", total)
	return OrderCreate, nil
}

// linkCustomer pushes the order onto the customer's orderRefs and totals
func (o *OrderProcessor) linkCustomer(ctx context.Context, hash string, order models.Document) error {
	customer, err := db.GetOptional(ctx, o.store, models.Customers, hash)
	if err != nil {
		return fmt.Errorf("load customer %s: %w", hash, err)
	}
	if customer == nil {
		return nil
	}

	refs, _ := models.AsSlice(customer["orderRefs"])
	total, _ := order.Float("total")
	refs = append(refs, map[string]any{
		"orderId":        order.String("orderId"),
		"orderNumber":    order.String("orderNumber"),
		"registrationId": order.String("registrationId"),
		"total":          total,
	})
	orders, _ := customer.Float("totalOrders")
	spent, _ := customer.Float("totalSpent")

	err = o.store.Update(ctx, models.Customers, hash, map[string]any{
		"orderRefs":   refs,
		"totalOrders": orders + 1,
		"totalSpent":  round2(spent + total),
	})
	if err != nil {
		return fmt.Errorf("link order to customer %s: %w", hash, err)
	}
	return nil
}

// gateway infers the processor that took the registration's payment
func (o *OrderProcessor) gateway(ctx context.Context, reg models.Document) string {
	if id := reg.String("paymentId"); id != "" {
		if p, err := db.GetOptional(ctx, o.store, models.Payments, id); err == nil && p != nil {
			switch p.String("source") {
			case models.KindStripe, models.KindSquare:
				return p.String("source")
			}
		}
	}
	switch {
	case reg.String("stripePaymentIntentId") != "":
		return models.KindStripe
	case reg.String("squarePaymentId") != "":
		return models.KindSquare
	default:
		return "manual"
	}
}

func orderPaymentStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "paid", "complete", "completed", "succeeded":
		return "paid"
	case "partial":
		return "partial"
	case "refunded":
		return "refunded"
	case "cancelled", "canceled", "failed":
		return "cancelled"
	default:
		return "unpaid"
	}
}

// gstInclusive is the tax component of a GST-inclusive total
func gstInclusive(total float64) float64 {
	return round2(total / (1 + gstRate) * gstRate)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
