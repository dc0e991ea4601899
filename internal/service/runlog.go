package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Guizzs26/go-paysync/internal/db"
	"github.com/Guizzs26/go-paysync/internal/models"
)

type RunStatus string

const (
	RunRunning     RunStatus = "running"
	RunCompleted   RunStatus = "completed"
	RunFailed      RunStatus = "failed"
	RunInterrupted RunStatus = "interrupted"
)

// Stats are the counters of one sync run
type Stats struct {
	TotalRecords int   `json:"totalRecords"`
	Processed    int   `json:"processed"`
	Successful   int   `json:"successful"`
	Failed       int   `json:"failed"`
	Skipped      int   `json:"skipped"`
	Errors       int   `json:"errors"`
	Warnings     int   `json:"warnings"`
	DurationMs   int64 `json:"durationMs"`
}

type RunConfig struct {
	Providers   []string `json:"providers"`
	Limit       int      `json:"limit"`
	Mode        string   `json:"mode"`
	DryRun      bool     `json:"dryRun"`
	Incremental bool     `json:"incremental"`
}

type Action struct {
	Timestamp string `json:"timestamp"`
	Action    string `json:"action"`
	Entity    string `json:"entity"`
	EntityID  string `json:"entityId"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
}

// Run is the sync_log document of one run
type Run struct {
	RunID          string    `json:"runId"`
	SessionID      string    `json:"sessionId"`
	StartTimestamp string    `json:"startTimestamp"`
	EndTimestamp   string    `json:"endTimestamp,omitempty"`
	Status         RunStatus `json:"status"`
	Configuration  RunConfig `json:"configuration"`
	Actions        []Action  `json:"actions"`
	Statistics     Stats     `json:"statistics"`
	Summary        string    `json:"summary,omitempty"`

	mu sync.Mutex
}

// AddAction appends a step to the run's action trail
func (r *Run) AddAction(action, entity, entityID, status, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Actions = append(r.Actions, Action{
		Timestamp: models.FormatTime(time.Now()),
		Action:    action,
		Entity:    entity,
		EntityID:  entityID,
		Status:    status,
		Message:   message,
	})
}

// RunLog keeps one sync_log document per run
type RunLog struct {
	store     db.Store
	sessionID string
	logger    *slog.Logger
	now       func() time.Time
}

func NewRunLog(store db.Store, logger *slog.Logger) *RunLog {
	return &RunLog{
		store:     store,
		sessionID: uuid.NewString(),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start writes a running sync_log document and returns it
func (l *RunLog) Start(ctx context.Context, cfg RunConfig) (*Run, error) {
	run := &Run{
		RunID:          uuid.NewString(),
		SessionID:      l.sessionID,
		StartTimestamp: models.FormatTime(l.now()),
		Status:         RunRunning,
		Configuration:  cfg,
		Actions:        []Action{},
	}
	if err := l.save(ctx, run); err != nil {
		return nil, err
	}
	l.logger.Info("Sync run started", "run_id", run.RunID, "mode", cfg.Mode, "providers", cfg.Providers)
	return run, nil
}

// Finish replaces the run document with its final state
func (l *RunLog) Finish(ctx context.Context, run *Run, status RunStatus, stats Stats, summary string) error {
	run.mu.Lock()
	run.Status = status
	run.EndTimestamp = models.FormatTime(l.now())
	run.Statistics = stats
	run.Summary = summary
	run.mu.Unlock()

	return l.save(ctx, run)
}

func (l *RunLog) save(ctx context.Context, run *Run) error {
	doc, err := toDocument(run)
	if err != nil {
		return fmt.Errorf("encode sync_log/%s: %w", run.RunID, err)
	}
	if err := l.store.Put(ctx, models.SyncLog, run.RunID, doc); err != nil {
		return fmt.Errorf("write sync_log/%s: %w", run.RunID, err)
	}
	return nil
}

// LastSuccessfulRun returns the end time of the newest completed run
func (l *RunLog) LastSuccessfulRun(ctx context.Context) (time.Time, bool, error) {
	runs, err := l.store.Find(ctx, models.SyncLog, db.Filter{"status": string(RunCompleted)})
	if err != nil {
		return time.Time{}, false, fmt.Errorf("find completed runs: %w", err)
	}

	var latest time.Time
	for _, r := range runs {
		if end, ok := r.TimeAt("endTimestamp"); ok && end.After(latest) {
			latest = end
		}
	}
	return latest, !latest.IsZero(), nil
}

func toDocument(v any) (models.Document, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc models.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
