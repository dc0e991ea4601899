package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Guizzs26/go-paysync/internal/db"
	"github.com/Guizzs26/go-paysync/internal/models"
	"github.com/Guizzs26/go-paysync/pkg/metrics"
)

type ErrorCode string

const (
	CodeUnmatched      ErrorCode = "UNMATCHED"
	CodeFailed         ErrorCode = "FAILED"
	CodeRefunded       ErrorCode = "REFUNDED"
	CodeCleanupSuccess ErrorCode = "CLEANUP_SUCCESS"
)

type ErrorLevel string

const (
	LevelError   ErrorLevel = "ERROR"
	LevelWarning ErrorLevel = "WARNING"
	LevelInfo    ErrorLevel = "INFO"
)

// Resolution states of an error_log entry
const (
	ResolutionPending  = "pending"
	ResolutionResolved = "resolved"
)

// LogEntry is one error_log document
type LogEntry struct {
	Level      ErrorLevel
	Code       ErrorCode
	EntityType string
	EntityID   string
	Operation  string
	Message    string
	Context    map[string]any
}

// ErrorRecorder persists sync failures to error_log and error_payments and
// clears them when a payment is reprocessed.
type ErrorRecorder struct {
	store  db.Store
	logger *slog.Logger
	runID  string
	now    func() time.Time
}

func NewErrorRecorder(store db.Store, logger *slog.Logger) *ErrorRecorder {
	return &ErrorRecorder{store: store, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// SetRunID tags subsequent documents with the current sync run
func (r *ErrorRecorder) SetRunID(id string) { r.runID = id }

// Log writes an error_log entry
func (r *ErrorRecorder) Log(ctx context.Context, e LogEntry) error {
	resolution := ResolutionPending
	if e.Level == LevelInfo {
		resolution = ResolutionResolved
	}
	doc := models.Document{
		"timestamp":    models.FormatTime(r.now()),
		"syncRunId":    r.runID,
		"errorLevel":   string(e.Level),
		"entityType":   e.EntityType,
		"entityId":     e.EntityID,
		"operation":    e.Operation,
		"errorMessage": e.Message,
		"errorCode":    string(e.Code),
		"context":      e.Context,
		"resolution":   map[string]any{"status": resolution},
	}
	if err := r.store.Insert(ctx, models.ErrorLog, uuid.NewString(), doc); err != nil {
		return fmt.Errorf("write error_log: %w", err)
	}
	metrics.SyncErrors.WithLabelValues(string(e.Code)).Inc()
	return nil
}

// RecordPayment logs a payment-level failure and keeps a copy of the payment in
// error_payments. A payment failing again bumps its retry count.
func (r *ErrorRecorder) RecordPayment(ctx context.Context, code ErrorCode, rec models.PaymentRecord, message string) error {
	level := LevelError
	if code == CodeRefunded {
		level = LevelWarning
	}

	l := r.logger.With("payment_id", rec.ID, "code", code)
	if level == LevelError {
		l.Error("Payment error recorded", "message", message)
	} else {
		l.Warn("Payment warning recorded", "message", message)
	}

	if err := r.Log(ctx, LogEntry{
		Level:      level,
		Code:       code,
		EntityType: "payment",
		EntityID:   rec.ID,
		Operation:  "payment_sync",
		Message:    message,
		Context: map[string]any{
			"provider":      rec.Provider,
			"amount":        float64(rec.Amount) / 100,
			"currency":      rec.Currency,
			"status":        string(rec.Status),
			"correlationId": rec.CorrelationID,
		},
	}); err != nil {
		return err
	}
	if code == CodeRefunded {
		return nil
	}

	retries := 0
	existing, err := db.GetOptional(ctx, r.store, models.ErrorPayments, rec.ID)
	if err != nil {
		return fmt.Errorf("load error_payments/%s: %w", rec.ID, err)
	}
	if existing != nil {
		n, _ := existing.Float("metadata.retryCount")
		retries = int(n) + 1
	}

	doc := models.Document{
		"originalId":   rec.ID,
		"paymentId":    rec.ID,
		"provider":     rec.Provider,
		"errorType":    string(code),
		"errorMessage": message,
		"attemptedAt":  models.FormatTime(r.now()),
		"originalData": rec.Payload(),
		"metadata": map[string]any{
			"syncRunId":  r.runID,
			"retryCount": retries,
		},
	}
	if err := r.store.Put(ctx, models.ErrorPayments, rec.ID, doc); err != nil {
		return fmt.Errorf("write error_payments/%s: %w", rec.ID, err)
	}
	return nil
}

// Cleanup removes the error shadows of a payment about to be reprocessed: its
// error_payments documents and pending error_log entries. Anything removed is
// audited with a CLEANUP_SUCCESS entry. It satisfies processor.ErrorCleaner.
func (r *ErrorRecorder) Cleanup(ctx context.Context, paymentID string) (int, error) {
	deleted := 0

	keys := map[string]bool{}
	for _, field := range []string{"paymentId", "originalId"} {
		docs, err := r.store.Find(ctx, models.ErrorPayments, db.Filter{field: paymentID})
		if err != nil {
			return deleted, fmt.Errorf("find error_payments of %s: %w", paymentID, err)
		}
		for _, d := range docs {
			keys[d.Key()] = true
		}
	}
	for key := range keys {
		ok, err := r.store.Delete(ctx, models.ErrorPayments, key)
		if err != nil {
			return deleted, fmt.Errorf("delete error_payments/%s: %w", key, err)
		}
		if ok {
			deleted++
		}
	}

	entries, err := r.store.Find(ctx, models.ErrorLog, db.Filter{"entityId": paymentID, "resolution.status": ResolutionPending})
	if err != nil {
		return deleted, fmt.Errorf("find error_log of %s: %w", paymentID, err)
	}
	for _, e := range entries {
		ok, err := r.store.Delete(ctx, models.ErrorLog, e.Key())
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			return deleted, fmt.Errorf("delete error_log/%s: %w", e.Key(), err)
		}
		if ok {
			deleted++
		}
	}

	if deleted == 0 {
		return 0, nil
	}

	r.logger.Info("Stale payment errors cleaned", "payment_id", paymentID, "deleted", deleted)
	err = r.Log(ctx, LogEntry{
		Level:      LevelInfo,
		Code:       CodeCleanupSuccess,
		EntityType: "payment",
		EntityID:   paymentID,
		Operation:  "error_cleanup",
		Message:    fmt.Sprintf("removed %d stale error documents before reprocessing", deleted),
		Context:    map[string]any{"deleted": deleted},
	})
	return deleted, err
}
