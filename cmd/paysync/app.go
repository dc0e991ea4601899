package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/Guizzs26/go-paysync/internal/archive"
	"github.com/Guizzs26/go-paysync/internal/broker"
	"github.com/Guizzs26/go-paysync/internal/config"
	"github.com/Guizzs26/go-paysync/internal/db"
	"github.com/Guizzs26/go-paysync/internal/processor"
	"github.com/Guizzs26/go-paysync/internal/promotion"
	"github.com/Guizzs26/go-paysync/internal/provider"
	"github.com/Guizzs26/go-paysync/internal/refdata"
	"github.com/Guizzs26/go-paysync/internal/service"
	"github.com/Guizzs26/go-paysync/internal/transform"
)

// environment is what every command starts from
type environment struct {
	cfg     *config.Config
	logger  *slog.Logger
	logFile *os.File
}

// app holds the wired components of one command invocation
type app struct {
	store     db.Store
	verify    db.Store
	source    *db.RegistrationRepository
	publisher *broker.Publisher
	pipeline  *promotion.Pipeline
	errors    *service.ErrorRecorder
	sync      *service.SyncService
	logger    *slog.Logger
}

// newApp wires the sync. The relational source is only opened when
// withSource is set, since only runs read registrations.
func newApp(ctx context.Context, env *environment, withSource bool) (a *app, err error) {
	cfg, l := env.cfg, env.logger
	a = &app{logger: l}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.store, err = openStore(ctx, cfg.StoreDriver, cfg.StoreDSN); err != nil {
		return nil, fmt.Errorf("document store: %w", err)
	}
	if a.verify, err = openStore(ctx, cfg.VerifyStoreDriver, cfg.VerifyStoreDSN); err != nil {
		return nil, fmt.Errorf("verification store: %w", err)
	}

	var source processor.RegistrationSource
	if withSource {
		if a.source, err = db.NewRegistrationRepository(ctx, cfg.DatabaseURL); err != nil {
			return nil, err
		}
		source = a.source
	}

	var events promotion.EventPublisher
	if cfg.RabbitMQURL != "" {
		p, err := broker.NewPublisher(cfg.RabbitMQURL, cfg.Exchange, l)
		if err != nil {
			l.Warn("Event publisher unavailable, promoting without events", "error", err)
		} else {
			a.publisher = p
			events = p
		}
	}

	refs := refdata.New(a.store, cfg.ReferenceTTL, l)
	expander := transform.NewPackageExpander(refs, l)
	stager := processor.NewStager(a.store, l)
	a.pipeline = promotion.NewPipeline(a.store,
		promotion.NewPromoter(a.store, expander, events, l),
		promotion.NewValidator(a.store, refs, l),
		l,
	)
	a.errors = service.NewErrorRecorder(a.store, l)

	handler := processor.NewPaymentHandler(a.store, source, stager,
		processor.NewChainBuilder(refs, expander),
		processor.NewContactUnifier(a.store, stager, l),
		a.pipeline, a.errors, processor.HandlerOptions{}, l)

	a.sync = service.NewSyncService(
		providers(cfg, l),
		handler,
		a.pipeline,
		a.errors,
		service.NewRunLog(a.store, l),
		service.NewOrderProcessor(a.store, l),
		service.NewVerifier(a.store, a.verify, l),
		service.Settings{
			PageSize:       cfg.PageSize,
			RateLimitEvery: cfg.RateLimitEvery,
			RateLimitPause: cfg.RateLimitPause,
		},
		l,
	)

	if cfg.ArchiveBucket != "" {
		uploader, err := archive.New(ctx, archive.Config{
			Region:   cfg.AWSRegion,
			Bucket:   cfg.ArchiveBucket,
			Prefix:   cfg.ArchivePrefix,
			Endpoint: cfg.AWSEndpoint,
		}, l)
		if err != nil {
			l.Warn("Run archive disabled", "error", err)
		} else {
			logPath := ""
			if env.logFile != nil {
				logPath = env.logFile.Name()
			}
			a.sync.WithArchive(uploader, logPath)
		}
	}
	return a, nil
}

// Close releases connections in reverse order of opening
func (a *app) Close() {
	if a.publisher != nil {
		_ = a.publisher.Close()
	}
	if a.source != nil {
		a.source.Close()
	}
	if a.verify != nil {
		if err := a.verify.Close(); err != nil {
			a.logger.Warn("Verification store close failed", "error", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("Document store close failed", "error", err)
		}
	}
}

// openStore returns nil for an empty driver
func openStore(ctx context.Context, driver, dsn string) (db.Store, error) {
	switch driver {
	case "":
		return nil, nil
	case config.DriverMemory:
		return db.NewMemoryStore(), nil
	case config.DriverSQLite:
		s, err := db.OpenSQLiteStore(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverPostgres:
		s, err := db.OpenPostgresStore(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

// providers builds a client per configured Stripe account, then Square
func providers(cfg *config.Config, l *slog.Logger) []provider.Provider {
	httpClient := &http.Client{Timeout: cfg.RequestTimeout}

	var out []provider.Provider
	for _, acc := range cfg.StripeAccounts {
		if acc.SecretKey == "" {
			continue
		}
		out = append(out, provider.NewStripe(acc.Name, acc.SecretKey, cfg.StripeBaseURL, httpClient, l))
	}
	if cfg.SquareAccessToken != "" {
		out = append(out, provider.NewSquare(cfg.SquareAccessToken, cfg.SquareBaseURL, httpClient, l))
	}
	if len(out) == 0 {
		l.Warn("No payment providers configured")
	}
	return out
}
