package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Guizzs26/go-paysync/internal/models"
	"github.com/Guizzs26/go-paysync/internal/processor"
	"github.com/Guizzs26/go-paysync/internal/promotion"
	"github.com/Guizzs26/go-paysync/internal/provider"
	"github.com/Guizzs26/go-paysync/pkg/metrics"
)

type Mode string

const (
	ModeImmediate Mode = "immediate"
	ModeBulk      Mode = "bulk"
)

// shutdownGrace bounds the writes that close a run after cancellation
const shutdownGrace = 5 * time.Second

type RunOptions struct {
	// Providers restricts the run to the named providers, all when empty
	Providers   []string
	Limit       int
	Mode        Mode
	DryRun      bool
	Incremental bool
}

type Settings struct {
	PageSize       int
	RateLimitEvery int
	RateLimitPause time.Duration
}

// Archiver uploads the artifacts of a finished run
type Archiver interface {
	Archive(ctx context.Context, runID, logPath string, report any) ([]string, error)
}

// SyncService drives payments from the providers through the handler and
// closes each run with orders, verification and its sync_log document.
type SyncService struct {
	providers []provider.Provider
	handler   *processor.PaymentHandler
	pipeline  *promotion.Pipeline
	errors    *ErrorRecorder
	runs      *RunLog
	orders    *OrderProcessor
	verifier  *Verifier
	archiver  Archiver
	logPath   string
	settings  Settings
	logger    *slog.Logger
	sleep     func(context.Context, time.Duration) error
}

func NewSyncService(
	providers []provider.Provider,
	handler *processor.PaymentHandler,
	pipeline *promotion.Pipeline,
	errs *ErrorRecorder,
	runs *RunLog,
	orders *OrderProcessor,
	verifier *Verifier,
	settings Settings,
	l *slog.Logger,
) *SyncService {
	return &SyncService{
		providers: providers,
		handler:   handler,
		pipeline:  pipeline,
		errors:    errs,
		runs:      runs,
		orders:    orders,
		verifier:  verifier,
		settings:  settings,
		logger:    l,
		sleep:     sleepCtx,
	}
}

// WithArchive uploads the run report and the log file at logPath after each run
func (s *SyncService) WithArchive(a Archiver, logPath string) *SyncService {
	s.archiver = a
	s.logPath = logPath
	return s
}

// Run executes one sync run. Record-level failures are recorded and counted;
// the returned error is for failures that stop the whole run, including
// cancellation.
func (s *SyncService) Run(ctx context.Context, opts RunOptions) (Stats, error) {
	start := time.Now()
	var stats Stats
	if opts.Mode == "" {
		opts.Mode = ModeImmediate
	}

	providers, err := s.selectProviders(opts.Providers)
	if err != nil {
		return stats, err
	}
	names := make([]string, 0, len(providers))
	for _, p := range providers {
		names = append(names, p.Name())
	}

	run, err := s.runs.Start(ctx, RunConfig{
		Providers:   names,
		Limit:       opts.Limit,
		Mode:        string(opts.Mode),
		DryRun:      opts.DryRun,
		Incremental: opts.Incremental,
	})
	if err != nil {
		return stats, fmt.Errorf("start run: %w", err)
	}
	l := s.logger.With("run_id", run.RunID)

	s.errors.SetRunID(run.RunID)
	s.pipeline.Promoter().SetRunID(run.RunID)
	s.handler.Contacts().Reset()
	handler := s.handler.WithOptions(processor.HandlerOptions{
		Immediate: opts.Mode == ModeImmediate,
		DryRun:    opts.DryRun,
	})

	var since time.Time
	if opts.Incremental {
		last, ok, err := s.runs.LastSuccessfulRun(ctx)
		switch {
		case err != nil:
			l.Warn("Last run unknown, running a full sync", "error", err)
		case ok:
			since = last
			run.AddAction("incremental", "sync_log", "", "completed", "since "+models.FormatTime(since))
		}
	}

	status := RunCompleted
	for _, p := range providers {
		if err := s.syncProvider(ctx, run, handler, p, opts, since, &stats); err != nil && ctx.Err() != nil {
			status = RunInterrupted
			break
		}
	}

	if status == RunCompleted && !opts.DryRun {
		if err := s.finalize(ctx, run, opts, &stats, l); err != nil {
			l.Error("Run finalization failed", "error", err)
			status = RunFailed
			if ctx.Err() != nil {
				status = RunInterrupted
			}
		}
	}

	stats.DurationMs = time.Since(start).Milliseconds()
	summary := fmt.Sprintf("%d records: %d successful, %d failed, %d skipped, %d warnings",
		stats.TotalRecords, stats.Successful, stats.Failed, stats.Skipped, stats.Warnings)

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()

	if err := s.runs.Finish(closeCtx, run, status, stats, summary); err != nil {
		l.Error("Run log not saved", "error", err)
	}
	metrics.RunDuration.WithLabelValues(string(opts.Mode), string(status)).Observe(time.Since(start).Seconds())
	l.Info("Sync run finished", "status", status, "summary", summary, "duration_ms", stats.DurationMs)

	if s.archiver != nil && !opts.DryRun {
		keys, err := s.archiver.Archive(closeCtx, run.RunID, s.logPath, run)
		if err != nil {
			l.Warn("Run archive failed", "error", err)
		} else {
			l.Info("Run archived", "objects", keys)
		}
	}

	switch status {
	case RunInterrupted:
		return stats, fmt.Errorf("run interrupted: %w", context.Cause(ctx))
	case RunFailed:
		return stats, fmt.Errorf("run %s failed", run.RunID)
	}
	return stats, nil
}

// PromoteStaged promotes everything staged and creates the resulting orders
func (s *SyncService) PromoteStaged(ctx context.Context) (*promotion.Summary, OrderStats, error) {
	summary, err := s.pipeline.PromoteAll(ctx)
	if err != nil {
		return summary, OrderStats{}, fmt.Errorf("promote staged: %w", err)
	}
	orders, err := s.orders.ProcessAll(ctx)
	return summary, orders, err
}

func (s *SyncService) selectProviders(names []string) ([]provider.Provider, error) {
	if len(names) == 0 {
		return s.providers, nil
	}
	byName := make(map[string]provider.Provider, len(s.providers))
	for _, p := range s.providers {
		byName[p.Name()] = p
	}
	out := make([]provider.Provider, 0, len(names))
	for _, n := range names {
		p, ok := byName[n]
		if !ok {
			return nil, fmt.Errorf("unknown provider %q", n)
		}
		out = append(out, p)
	}
	return out, nil
}

// syncProvider walks one provider's listing. A listing error ends this
// provider only and is returned for the caller to log.
func (s *SyncService) syncProvider(ctx context.Context, run *Run, handler *processor.PaymentHandler, p provider.Provider, opts RunOptions, since time.Time, stats *Stats) error {
	l := s.logger.With("run_id", run.RunID, "provider", p.Name())
	l.Info("Provider sync started", "since", since, "limit", opts.Limit)

	it := provider.NewIterator(p, "", s.settings.PageSize, since)
	seen := 0
	for opts.Limit <= 0 || seen < opts.Limit {
		select {
		case <-ctx.Done():
			l.Warn("Shutdown signal received, stopping provider", "records", seen)
			run.AddAction("provider_sync", "provider", p.Name(), "interrupted", fmt.Sprintf("%d records", seen))
			return ctx.Err()
		default:
		}

		if !it.Next(ctx) {
			break
		}
		seen++
		stats.TotalRecords++
		s.handleRecord(ctx, handler, it.Record(), opts, stats, l)

		if s.settings.RateLimitEvery > 0 && seen%s.settings.RateLimitEvery == 0 {
			l.Debug("Rate limit pause", "pause", s.settings.RateLimitPause)
			if err := s.sleep(ctx, s.settings.RateLimitPause); err != nil {
				return err
			}
		}
	}

	if err := it.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.Error("Provider sync aborted", "error", err, "records", seen, "cursor", it.Cursor())
		stats.Errors++
		run.AddAction("provider_sync", "provider", p.Name(), "failed", err.Error())
		return fmt.Errorf("provider %s: %w", p.Name(), err)
	}

	l.Info("Provider sync finished", "records", seen)
	run.AddAction("provider_sync", "provider", p.Name(), "completed", fmt.Sprintf("%d records", seen))
	return nil
}

func (s *SyncService) handleRecord(ctx context.Context, handler *processor.PaymentHandler, rec models.PaymentRecord, opts RunOptions, stats *Stats, l *slog.Logger) {
	res, err := handler.ProcessPayment(ctx, rec)
	stats.Processed++

	switch {
	case err != nil:
		stats.Failed++
		stats.Errors++
		l.Error("Payment sync failed", "payment_id", rec.ID, "error", err)
		s.record(ctx, CodeFailed, rec, err.Error(), opts, l)
		return
	case res.Outcome == processor.OutcomeUnmatched:
		stats.Failed++
		stats.Errors++
		s.record(ctx, CodeUnmatched, rec, res.Reason, opts, l)
		return
	case res.Outcome == processor.OutcomeDuplicate:
		stats.Skipped++
		stats.Warnings++
		s.record(ctx, CodeFailed, rec, "duplicate payment: "+res.Reason, opts, l)
		return
	case res.Outcome == processor.OutcomeSkipped:
		stats.Skipped++
	default:
		stats.Successful++
	}

	if res.Promotion != nil && res.Promotion.TicketStageAborted {
		stats.Warnings++
	}
	if rec.Status == models.StatusRefunded && res.Reason != "already imported" && res.Reason != "test payment" {
		stats.Warnings++
		s.record(ctx, CodeRefunded, rec, "payment refunded, kept out of production", opts, l)
	}
}

func (s *SyncService) record(ctx context.Context, code ErrorCode, rec models.PaymentRecord, msg string, opts RunOptions, l *slog.Logger) {
	if opts.DryRun {
		return
	}
	if err := s.errors.RecordPayment(ctx, code, rec, msg); err != nil {
		l.Error("Payment error not recorded", "payment_id", rec.ID, "code", code, "error", err)
	}
}

// finalize runs the end-of-run steps: bulk promotion, orders and verification
func (s *SyncService) finalize(ctx context.Context, run *Run, opts RunOptions, stats *Stats, l *slog.Logger) error {
	if opts.Mode == ModeBulk {
		summary, err := s.pipeline.PromoteAll(ctx)
		if err != nil {
			run.AddAction("promote_all", "pipeline", "", "failed", err.Error())
			return fmt.Errorf("bulk promotion: %w", err)
		}
		if summary.TicketStageAborted {
			stats.Warnings++
		}
		run.AddAction("promote_all", "pipeline", "", "completed", fmt.Sprintf("%d production writes", summary.Writes()))
	}

	orders, err := s.orders.ProcessAll(ctx)
	if err != nil {
		run.AddAction("orders", "orders", "", "failed", err.Error())
		return fmt.Errorf("orders: %w", err)
	}
	run.AddAction("orders", "orders", "", "completed", fmt.Sprintf("%d created, %d skipped, %d failed", orders.Created, orders.Skipped, orders.Failed))
	stats.Warnings += orders.Failed

	v := s.verifier.Run(ctx)
	run.AddAction("verify_errors", "error_payments", "", "completed", fmt.Sprintf("%d checked, %d found", v.Checked, v.Found))
	l.Debug("Run finalized")
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
