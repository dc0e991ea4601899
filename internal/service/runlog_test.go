package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guizzs26/go-paysync/internal/db"
	"github.com/Guizzs26/go-paysync/internal/models"
)

func TestRunLogLifecycle(t *testing.T) {
	ctx := context.Background()
	s := db.NewMemoryStore()
	l := NewRunLog(s, quietLogger())
	clock := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return clock }

	_, ok, err := l.LastSuccessfulRun(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	first, err := l.Start(ctx, RunConfig{Providers: []string{"square"}, Mode: "immediate"})
	require.NoError(t, err)
	doc, err := s.Get(ctx, models.SyncLog, first.RunID)
	require.NoError(t, err)
	assert.Equal(t, string(RunRunning), doc.String("status"))

	clock = clock.Add(time.Hour)
	first.AddAction("provider_sync", "provider", "square", "completed", "3 records")
	require.NoError(t, l.Finish(ctx, first, RunCompleted, Stats{TotalRecords: 3}, "done"))

	second, err := l.Start(ctx, RunConfig{})
	require.NoError(t, err)
	clock = clock.Add(time.Hour)
	require.NoError(t, l.Finish(ctx, second, RunFailed, Stats{}, "broken"))

	last, ok, err := l.LastSuccessfulRun(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, last.Equal(time.Date(2025, 6, 1, 1, 0, 0, 0, time.UTC)), "failed runs do not count")

	doc, err = s.Get(ctx, models.SyncLog, first.RunID)
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, doc.String("sessionId"))
	assert.Equal(t, "done", doc.String("summary"))
	actions, _ := models.AsSlice(doc["actions"])
	assert.Len(t, actions, 1)
	n, err := s.Count(ctx, models.SyncLog, db.Filter{"sessionId": first.SessionID})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
