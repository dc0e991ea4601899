package processor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guizzs26/go-paysync/internal/models"
	"github.com/Guizzs26/go-paysync/internal/promotion"
)

func matchedFixture(t *testing.T, opts HandlerOptions) *fixture {
	t.Helper()
	f := newFixture(t, opts)
	f.seed(t, models.EventTickets, "et_1", models.Document{"name": "Grand Banquet", "price": 115.0})
	f.source["pi_pay_1"] = registrationRow("reg_1", map[string]any{"id": "line_1", "eventTicketId": "et_1", "attendeeId": "att_1"})
	return f
}

func TestProcessPaymentPromotesChain(t *testing.T) {
	ctx := context.Background()
	f := matchedFixture(t, HandlerOptions{Immediate: true})

	res, err := f.handler.ProcessPayment(ctx, stripePayment("pay_1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)
	assert.Equal(t, "reg_1", res.RegistrationID)
	require.NotNil(t, res.Promotion)
	assert.False(t, res.Promotion.TicketStageAborted)

	for _, c := range []string{models.Payments, models.Registrations, models.Customers, models.Attendees, models.Contacts, models.Tickets} {
		assert.Equal(t, 1, f.count(t, c), c)
	}

	customers, err := f.store.Find(ctx, models.Customers, nil)
	require.NoError(t, err)
	ticket, err := f.store.Get(ctx, models.Tickets, "line_1")
	require.NoError(t, err)
	assert.Equal(t, customers[0].String("customerId"), ticket.String("ticketOwner.ownerId"))
	assert.Equal(t, "att_1", ticket.String("ticketHolder.attendeeId"))

	payment, err := f.store.Get(ctx, models.Payments, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, "reg_1", payment["registrationId"])
	assert.NotEmpty(t, payment.String("_importOrigin.promotedAt"))
}

func TestProcessPaymentIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := matchedFixture(t, HandlerOptions{Immediate: true})

	_, err := f.handler.ProcessPayment(ctx, stripePayment("pay_1"))
	require.NoError(t, err)

	f.handler.Contacts().Reset()
	res, err := f.handler.ProcessPayment(ctx, stripePayment("pay_1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Equal(t, "already in production", res.Reason)
	require.NotNil(t, res.Promotion)
	assert.Zero(t, res.Promotion.Writes())
	assert.Equal(t, 1, f.count(t, models.Contacts))
}

func TestProcessPaymentPropagatesRegistrationChange(t *testing.T) {
	ctx := context.Background()
	f := matchedFixture(t, HandlerOptions{Immediate: true})

	_, err := f.handler.ProcessPayment(ctx, stripePayment("pay_1"))
	require.NoError(t, err)

	f.source["pi_pay_1"]["confirmation_number"] = "IND-200"
	f.handler.Contacts().Reset()
	res, err := f.handler.ProcessPayment(ctx, stripePayment("pay_1"))
	require.NoError(t, err)

	require.NotNil(t, res.Promotion)
	assert.Equal(t, 1, res.Promotion.Count(models.Registrations, promotion.OutcomeUpdated))
	assert.Equal(t, 1, res.Promotion.Writes())

	reg, err := f.store.Get(ctx, models.Registrations, "reg_1")
	require.NoError(t, err)
	assert.Equal(t, "IND-200", reg["confirmationNumber"])
}

func TestProcessPaymentStagesRefundWithoutPromoting(t *testing.T) {
	ctx := context.Background()
	f := matchedFixture(t, HandlerOptions{Immediate: true})
	rec := stripePayment("pay_1")
	rec.Status = models.StatusRefunded
	rec.RefundedAmount = rec.Amount

	res, err := f.handler.ProcessPayment(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)
	assert.Nil(t, res.Promotion)

	assert.Zero(t, f.count(t, models.Payments))
	assert.Zero(t, f.count(t, models.Tickets))

	staged, err := f.store.Get(ctx, "import_tickets", "line_1")
	require.NoError(t, err)
	eligible, present := staged.Bool(models.ShouldMoveField)
	assert.True(t, present)
	assert.False(t, eligible)

	res, err = f.handler.ProcessPayment(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Equal(t, "already imported", res.Reason)
}

func TestProcessPaymentSkipsTestCard(t *testing.T) {
	f := matchedFixture(t, HandlerOptions{Immediate: true})
	rec := stripePayment("pay_1")
	rec.CardLast4 = "8251"
	rec.ReceiptEmail = "qa@allatt.me"

	res, err := f.handler.ProcessPayment(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Zero(t, f.count(t, "import_payments"))
}

func TestProcessPaymentUnmatched(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, HandlerOptions{Immediate: true})

	res, err := f.handler.ProcessPayment(ctx, stripePayment("pay_1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnmatched, res.Outcome)

	staged, err := f.store.Get(ctx, "import_payments", "pay_1")
	require.NoError(t, err)
	assert.Equal(t, NoMatch, staged["registrationId"])
	assert.Zero(t, f.count(t, models.Payments))

	// the registration shows up before the next run
	f.seed(t, models.EventTickets, "et_1", models.Document{"name": "Grand Banquet"})
	f.source["pi_pay_1"] = registrationRow("reg_1", map[string]any{"id": "line_1", "eventTicketId": "et_1"})

	res, err = f.handler.ProcessPayment(ctx, stripePayment("pay_1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)
	assert.Equal(t, []string{"pay_1"}, f.cleaner.calls)
	assert.Equal(t, 1, f.count(t, models.Tickets))
}

func TestProcessPaymentIneligibleUnmatched(t *testing.T) {
	f := newFixture(t, HandlerOptions{Immediate: true})
	rec := stripePayment("pay_1")
	rec.Status = models.StatusFailed

	res, err := f.handler.ProcessPayment(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Equal(t, NoMatch, res.RegistrationID)
}

func TestProcessPaymentDuplicates(t *testing.T) {
	ctx := context.Background()

	t.Run("resighted payment in bulk mode", func(t *testing.T) {
		f := matchedFixture(t, HandlerOptions{})
		res, err := f.handler.ProcessPayment(ctx, stripePayment("pay_1"))
		require.NoError(t, err)
		assert.Equal(t, OutcomeProcessed, res.Outcome)
		assert.Zero(t, f.count(t, models.Payments), "bulk mode only stages")

		res, err = f.handler.ProcessPayment(ctx, stripePayment("pay_1"))
		require.NoError(t, err)
		assert.Equal(t, OutcomeDuplicate, res.Outcome)
	})

	t.Run("order reused", func(t *testing.T) {
		f := matchedFixture(t, HandlerOptions{Immediate: true})
		f.seed(t, "import_payments", "pay_0", models.Document{"id": "pay_0", "orderId": "ord_1"})
		rec := stripePayment("pay_1")
		rec.OrderID = "ord_1"

		res, err := f.handler.ProcessPayment(ctx, rec)
		require.NoError(t, err)
		assert.Equal(t, OutcomeDuplicate, res.Outcome)
		assert.Contains(t, res.Reason, "pay_0")
		assert.Zero(t, f.count(t, models.Payments))
	})

	t.Run("same customer and amount within a minute", func(t *testing.T) {
		f := matchedFixture(t, HandlerOptions{Immediate: true})
		f.seed(t, "import_payments", "pay_0", models.Document{
			"id": "pay_0", "customerId": "cus_1", "amountMinor": 10000, "createdAt": models.FormatTime(paidAt.Add(-30 * time.Second)),
		})
		rec := stripePayment("pay_1")
		rec.CustomerID = "cus_1"

		res, err := f.handler.ProcessPayment(ctx, rec)
		require.NoError(t, err)
		assert.Equal(t, OutcomeDuplicate, res.Outcome)
	})

	t.Run("same customer and amount far apart", func(t *testing.T) {
		f := matchedFixture(t, HandlerOptions{Immediate: true})
		f.seed(t, "import_payments", "pay_0", models.Document{
			"id": "pay_0", "customerId": "cus_1", "amountMinor": 10000, "createdAt": models.FormatTime(paidAt.Add(-2 * time.Minute)),
		})
		rec := stripePayment("pay_1")
		rec.CustomerID = "cus_1"

		res, err := f.handler.ProcessPayment(ctx, rec)
		require.NoError(t, err)
		assert.Equal(t, OutcomeProcessed, res.Outcome)
	})
}

func TestProcessPaymentReprocessesChangedPayment(t *testing.T) {
	ctx := context.Background()
	f := matchedFixture(t, HandlerOptions{})

	_, err := f.handler.ProcessPayment(ctx, stripePayment("pay_1"))
	require.NoError(t, err)

	newer := stripePayment("pay_1")
	newer.UpdatedAt = paidAt.Add(time.Hour)
	res, err := f.handler.ProcessPayment(ctx, newer)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)
	assert.Equal(t, []string{"pay_1"}, f.cleaner.calls)

	res, err = f.handler.ProcessPayment(ctx, stripePayment("pay_1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Equal(t, "staged copy is newer", res.Reason)
}

func TestProcessPaymentDryRunWritesNothing(t *testing.T) {
	f := matchedFixture(t, HandlerOptions{Immediate: true, DryRun: true})

	res, err := f.handler.ProcessPayment(context.Background(), stripePayment("pay_1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)
	assert.Zero(t, f.count(t, "import_payments"))
	assert.Zero(t, f.count(t, "import_registrations"))
}

func TestProcessPaymentAccumulatesSharedDocumentsInAnyOrder(t *testing.T) {
	newer := registrationRow("reg_new", map[string]any{"id": "line_new", "eventTicketId": "et_1", "attendeeId": "att_1"})
	newer["updated_at"] = "2025-06-01T09:00:00Z"

	older := registrationRow("reg_old", map[string]any{"id": "line_old", "eventTicketId": "et_1", "attendeeId": "att_2"})
	older["updated_at"] = "2025-01-01T09:00:00Z"
	older["registration_data"].(map[string]any)["attendees"] = []any{
		map[string]any{"attendeeId": "att_2", "firstName": "Ada", "lastName": "Lovelace", "primaryEmail": "ada@example.com"},
	}

	orderings := map[string][]string{
		"newest first": {"pay_new", "pay_old"},
		"oldest first": {"pay_old", "pay_new"},
	}
	for name, order := range orderings {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, HandlerOptions{Immediate: true})
			f.seed(t, models.EventTickets, "et_1", models.Document{"name": "Grand Banquet", "price": 115.0})
			f.source["pi_pay_new"] = newer.Clone()
			f.source["pi_pay_old"] = older.Clone()

			for _, id := range order {
				res, err := f.handler.ProcessPayment(ctx, stripePayment(id))
				require.NoError(t, err)
				require.Equal(t, OutcomeProcessed, res.Outcome, id)
			}

			customers, err := f.store.Find(ctx, models.Customers, nil)
			require.NoError(t, err)
			require.Len(t, customers, 1)
			regs, _ := models.AsSlice(customers[0]["registrations"])
			assert.Len(t, regs, 2)

			contact, err := f.store.Get(ctx, models.Contacts, "ada@example.com")
			require.NoError(t, err)
			regs, _ = models.AsSlice(contact["registrations"])
			assert.Len(t, regs, 2)
			attendeeIDs, _ := models.AsSlice(contact["attendeeIds"])
			assert.ElementsMatch(t, []any{"att_1", "att_2"}, attendeeIDs)

			assert.Equal(t, 2, f.count(t, models.Attendees))
			assert.Equal(t, 2, f.count(t, models.Tickets))
		})
	}
}

func TestProcessPaymentPromotesExpandedPackage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, HandlerOptions{Immediate: true})
	f.seed(t, models.Packages, "pkg_1", models.Document{
		"packageId": "pkg_1",
		"name":      "Proclamation Package",
		"includedItems": []any{
			map[string]any{"eventTicketId": "et_a", "price": 50.0},
			map[string]any{"eventTicketId": "et_b", "price": 30.0},
			map[string]any{"eventTicketId": "et_c", "price": 20.0},
		},
	})
	f.source["pi_pay_1"] = registrationRow("reg_1",
		map[string]any{"id": "line_p", "eventTicketId": "pkg_1", "isPackage": true, "attendeeId": "att_1"},
		map[string]any{"id": "line_x", "eventTicketId": "pkg_missing", "isPackage": true, "attendeeId": "att_1"},
	)

	res, err := f.handler.ProcessPayment(ctx, stripePayment("pay_1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)

	tickets, err := f.store.Find(ctx, models.Tickets, nil)
	require.NoError(t, err)
	require.Len(t, tickets, 3)
	for _, tk := range tickets {
		fromPackage, _ := tk.Bool("isFromPackage")
		assert.True(t, fromPackage, tk.Key())
		isPackage, _ := tk.Bool("isPackage")
		assert.False(t, isPackage, tk.Key())
		assert.Equal(t, "pkg_1", tk.String("parentPackageId"))
	}

	held, err := f.store.Get(ctx, "import_tickets", "line_x")
	require.NoError(t, err)
	couldNotExpand, _ := held.Bool("couldNotExpand")
	assert.True(t, couldNotExpand)
}
