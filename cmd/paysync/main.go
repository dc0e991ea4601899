package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Guizzs26/go-paysync/internal/config"
	"github.com/Guizzs26/go-paysync/pkg/infra"
)

var Version = "dev"

func main() {
	if err := execute(); err != nil {
		os.Exit(1)
	}
}

func execute() error {
	cfg := config.Load()
	logger, logFile := infra.SetupLogger(cfg)
	slog.SetDefault(logger)
	if logFile != nil {
		defer logFile.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		go startObservabilityServer(ctx, cfg.MetricsAddr, logger)
	}

	env := &environment{cfg: cfg, logger: logger, logFile: logFile}
	root := &cobra.Command{
		Use:           "paysync",
		Short:         "Sync provider payments and their registrations into the document store",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(runCmd(env))
	root.AddCommand(promoteCmd(env))
	root.AddCommand(cleanupErrorsCmd(env))
	root.AddCommand(verifyCmd(env))
	root.AddCommand(watchCmd(env))

	if err := root.ExecuteContext(ctx); err != nil {
		logger.Error("paysync failed", "error", err)
		return err
	}
	return nil
}
