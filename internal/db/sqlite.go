package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Guizzs26/go-paysync/internal/mapper"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// OpenSQLiteStore opens a file backed (or ":memory:") document store
func OpenSQLiteStore(ctx context.Context, path string) (*SQLStore, error) {
	if path == "" {
		path = "paysync.db"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// single writer; also keeps ":memory:" on one shared connection
	conn.SetMaxOpenConns(1)

	store, err := newSQLStore(ctx, conn, mapper.SQLite)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return store, nil
}
