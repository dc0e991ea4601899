package infra

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Guizzs26/go-paysync/internal/config"
)

// SetupLogger writes to stdout and to a per-run file under cfg.LogDir. The file
// is nil when it cannot be created; logging then goes to stdout only.
func SetupLogger(cfg *config.Config) (*slog.Logger, *os.File) {
	var level slog.Level
	switch strings.ToUpper(cfg.LogLevel) {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stdout
	logFile, err := openRunLog(cfg.LogDir, time.Now())
	if err == nil {
		out = io.MultiWriter(os.Stdout, logFile)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if strings.ToUpper(cfg.LogFormat) == "JSON" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	logger := slog.New(handler)
	if err != nil {
		logger.Warn("Run log file unavailable, logging to stdout only", "dir", cfg.LogDir, "error", err)
	}
	return logger, logFile
}

func openRunLog(dir string, now time.Time) (*os.File, error) {
	if dir == "" {
		return nil, fmt.Errorf("LOG_DIR is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	name := fmt.Sprintf("paysync-%s.log", now.UTC().Format("20060102T150405Z"))
	return os.OpenFile(filepath.Join(dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}
