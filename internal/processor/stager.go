package processor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Guizzs26/go-paysync/internal/db"
	"github.com/Guizzs26/go-paysync/internal/models"
	"github.com/Guizzs26/go-paysync/internal/transform"
)

// Origin systems recorded in _import.source
const (
	SourceRelational = "supabase"
)

// StageMeta is the bookkeeping attached to a staged payload
type StageMeta struct {
	Source     string
	SourceID   string
	ModifiedAt time.Time
	Eligible   bool
}

// Stager upserts normalized payloads into the import_ collections
type Stager struct {
	store  db.Store
	logger *slog.Logger
	now    func() time.Time
}

func NewStager(store db.Store, logger *slog.Logger) *Stager {
	return &Stager{store: store, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Stage writes payload under import_<collection>/<key>. The promotion backlink
// and the newest source stamp of an existing staged document survive the upsert. When neither the payload
// nor the eligibility flag changed nothing is written and false is returned.
func (s *Stager) Stage(ctx context.Context, collection, key string, payload models.Document, meta StageMeta) (bool, error) {
	staged := models.Staged(collection)
	body := transform.NormalizeDocument(payload).Payload()

	existing, err := db.GetOptional(ctx, s.store, staged, key)
	if err != nil {
		return false, fmt.Errorf("load %s/%s: %w", staged, key, err)
	}
	if existing != nil {
		prevEligible, _ := existing.Bool(models.ShouldMoveField)
		if prevEligible == meta.Eligible && transform.Equal(existing.Payload(), body) {
			return false, nil
		}
	}

	modified := meta.ModifiedAt
	if modified.IsZero() {
		modified = s.now()
	}
	// Shared documents accumulate across registrations of any age; their
	// source stamp only moves forward.
	if prev, ok := existing.TimeAt(transform.SourceModifiedPath); ok && prev.After(modified) {
		modified = prev
	}
	body[models.ImportField] = map[string]any{
		"importedAt":       models.FormatTime(s.now()),
		"sourceModifiedAt": models.FormatTime(modified),
		"source":           meta.Source,
		"sourceId":         meta.SourceID,
	}
	body[models.ShouldMoveField] = meta.Eligible
	if existing != nil {
		if link, ok := existing[models.ProductionMetaField]; ok {
			body[models.ProductionMetaField] = link
		}
	}

	if err := s.store.Put(ctx, staged, key, body); err != nil {
		return false, fmt.Errorf("stage %s/%s: %w", staged, key, err)
	}
	s.logger.Debug("Document staged", "collection", staged, "key", key, "eligible", meta.Eligible)
	return true, nil
}

// Load returns the staged document or nil
func (s *Stager) Load(ctx context.Context, collection, key string) (models.Document, error) {
	return db.GetOptional(ctx, s.store, models.Staged(collection), key)
}
