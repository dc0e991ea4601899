package processor

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guizzs26/go-paysync/internal/db"
	"github.com/Guizzs26/go-paysync/internal/models"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestStageNormalizesAndStampsBookkeeping(t *testing.T) {
	ctx := context.Background()
	s := db.NewMemoryStore()
	st := NewStager(s, quietLogger())
	modified := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	changed, err := st.Stage(ctx, models.Payments, "pay_1", models.Document{"payment_id": "pay_1", "card_last4": "4242"}, StageMeta{
		Source: "stripe-main", SourceID: "pay_1", ModifiedAt: modified, Eligible: true,
	})
	require.NoError(t, err)
	assert.True(t, changed)

	doc, err := s.Get(ctx, "import_payments", "pay_1")
	require.NoError(t, err)
	assert.Equal(t, "4242", doc["cardLast4"])
	assert.Equal(t, models.FormatTime(modified), doc.String("_import.sourceModifiedAt"))
	assert.Equal(t, "stripe-main", doc.String("_import.source"))
	eligible, present := doc.Bool(models.ShouldMoveField)
	assert.True(t, present)
	assert.True(t, eligible)
}

func TestRestageKeepsBacklinkAndSkipsUnchanged(t *testing.T) {
	ctx := context.Background()
	s := db.NewMemoryStore()
	st := NewStager(s, quietLogger())
	meta := StageMeta{Source: SourceRelational, Eligible: true}

	_, err := st.Stage(ctx, models.Registrations, "reg_1", models.Document{"confirmationNumber": "IND-1"}, meta)
	require.NoError(t, err)
	require.NoError(t, s.Update(ctx, "import_registrations", "reg_1", map[string]any{
		"_productionMeta": map[string]any{"productionRef": "ref-1"},
	}))

	changed, err := st.Stage(ctx, models.Registrations, "reg_1", models.Document{"confirmationNumber": "IND-1"}, meta)
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = st.Stage(ctx, models.Registrations, "reg_1", models.Document{"confirmationNumber": "IND-2"}, meta)
	require.NoError(t, err)
	assert.True(t, changed)

	doc, err := s.Get(ctx, "import_registrations", "reg_1")
	require.NoError(t, err)
	assert.Equal(t, "IND-2", doc["confirmationNumber"])
	assert.Equal(t, "ref-1", doc.String("_productionMeta.productionRef"))

	meta.Eligible = false
	changed, err = st.Stage(ctx, models.Registrations, "reg_1", models.Document{"confirmationNumber": "IND-2"}, meta)
	require.NoError(t, err)
	assert.True(t, changed, "eligibility flips are written")
}

func TestRestageNeverMovesSourceStampBackwards(t *testing.T) {
	ctx := context.Background()
	s := db.NewMemoryStore()
	st := NewStager(s, quietLogger())
	newer := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	older := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

	_, err := st.Stage(ctx, models.Customers, "h1", models.Document{"registrations": []any{"reg_new"}}, StageMeta{ModifiedAt: newer, Eligible: true})
	require.NoError(t, err)
	changed, err := st.Stage(ctx, models.Customers, "h1", models.Document{"registrations": []any{"reg_new", "reg_old"}}, StageMeta{ModifiedAt: older, Eligible: true})
	require.NoError(t, err)
	assert.True(t, changed)

	doc, err := s.Get(ctx, "import_customers", "h1")
	require.NoError(t, err)
	assert.Equal(t, models.FormatTime(newer), doc.String("_import.sourceModifiedAt"))
	assert.Len(t, doc["registrations"], 2)
}
