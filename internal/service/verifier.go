package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/Guizzs26/go-paysync/internal/db"
	"github.com/Guizzs26/go-paysync/internal/models"
)

type VerifyStats struct {
	Checked int
	Found   int
	Missing int
	Failed  int
}

// Verifier cross-checks recorded payment errors against a secondary store. It
// never fails: lookup and write errors are logged and counted.
type Verifier struct {
	store  db.Store
	target db.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewVerifier returns a Verifier checking against target. A nil target turns
// Run into a no-op.
func NewVerifier(store, target db.Store, logger *slog.Logger) *Verifier {
	return &Verifier{store: store, target: target, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

func (v *Verifier) Run(ctx context.Context) VerifyStats {
	var stats VerifyStats
	if v.target == nil {
		return stats
	}

	docs, err := v.store.Find(ctx, models.ErrorPayments, nil)
	if err != nil {
		v.logger.Warn("Error verification skipped", "error", err)
		return stats
	}

	for _, doc := range docs {
		if ctx.Err() != nil {
			break
		}
		paymentID := doc.String("paymentId")
		if paymentID == "" {
			continue
		}
		stats.Checked++

		found, err := db.GetOptional(ctx, v.target, models.Payments, paymentID)
		if err != nil {
			stats.Failed++
			v.logger.Warn("Verification lookup failed", "payment_id", paymentID, "error", err)
			continue
		}
		exists := found != nil
		if exists {
			stats.Found++
		} else {
			stats.Missing++
		}

		err = v.store.Update(ctx, models.ErrorPayments, doc.Key(), map[string]any{
			"existsInVerificationStore": exists,
			"verifiedAt":                models.FormatTime(v.now()),
		})
		if err != nil {
			stats.Failed++
			v.logger.Warn("Verification result not saved", "payment_id", paymentID, "error", err)
		}
	}

	v.logger.Info("Payment errors verified", "checked", stats.Checked, "found", stats.Found, "missing", stats.Missing)
	return stats
}
