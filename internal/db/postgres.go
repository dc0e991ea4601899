package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Guizzs26/go-paysync/internal/mapper"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
)

// OpenPostgresStore connects the document store to a Postgres database
func OpenPostgresStore(ctx context.Context, connString string) (*SQLStore, error) {
	conn, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("postgres document store not responding: %w", err)
	}

	store, err := newSQLStore(ctx, conn, mapper.Postgres)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return store, nil
}
