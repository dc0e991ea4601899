package transform

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Guizzs26/go-paysync/internal/models"
)

var (
	older = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	newer = older.Add(time.Hour)
)

func stagedAt(t time.Time, fields models.Document) models.Document {
	doc := fields.Clone()
	doc[models.ImportField] = map[string]any{"sourceModifiedAt": models.FormatTime(t)}
	return doc
}

func promotedAt(t time.Time, fields models.Document) models.Document {
	doc := fields.Clone()
	doc[models.ImportOriginField] = map[string]any{"lastPromotedAt": models.FormatTime(t)}
	return doc
}

func TestDeltaSingleFieldChange(t *testing.T) {
	base := models.Document{"registrationId": "reg_1", "confirmationNumber": "IND-1", "totalAmountPaid": 100.0}
	changed := base.Clone()
	changed["confirmationNumber"] = "IND-2"

	d := ComputeDelta(stagedAt(newer, changed), promotedAt(older, base))

	assert.True(t, d.HasChanges)
	assert.Equal(t, map[string]any{"confirmationNumber": "IND-2"}, d.Fields)
	assert.Equal(t, []string{"confirmationNumber"}, d.Keys())
}

func TestDeltaNoDifferences(t *testing.T) {
	base := models.Document{"registrationId": "reg_1", "nested": map[string]any{"a": 1.0, "b": "x"}}

	d := ComputeDelta(stagedAt(newer, base), promotedAt(older, base))

	assert.False(t, d.HasChanges)
	assert.Empty(t, d.Fields)
}

func TestDeltaTieGoesToStaged(t *testing.T) {
	d := ComputeDelta(
		stagedAt(older, models.Document{"status": "paid"}),
		promotedAt(older, models.Document{"status": "pending"}),
	)
	assert.Equal(t, map[string]any{"status": "paid"}, d.Fields)
}

func TestDeltaStaleStagedLoses(t *testing.T) {
	d := ComputeDelta(
		stagedAt(older, models.Document{"status": "paid"}),
		promotedAt(newer, models.Document{"status": "pending"}),
	)
	assert.False(t, d.HasChanges)
}

func TestDeltaUnknownPromotionTimeIsOlder(t *testing.T) {
	d := ComputeDelta(
		stagedAt(older, models.Document{"status": "paid"}),
		models.Document{"status": "pending"},
	)
	assert.True(t, d.HasChanges)
}

func TestDeltaIgnoresReservedKeysAndKeyOrder(t *testing.T) {
	staged := stagedAt(newer, models.Document{
		"_shouldMoveToProduction": true,
		"_key":                    "reg_1",
		"meta":                    map[string]any{"b": 2.0, "a": 1.0},
	})
	production := promotedAt(older, models.Document{
		"_id":  "native",
		"meta": map[string]any{"a": 1.0, "b": 2.0},
	})

	d := ComputeDelta(staged, production)
	assert.False(t, d.HasChanges)
}

func TestEqualTreatsIntAndFloatAlike(t *testing.T) {
	assert.True(t, Equal(int64(100), 100.0))
	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal([]any{"a", "b"}, []any{"b", "a"}))
}
