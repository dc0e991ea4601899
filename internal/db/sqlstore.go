package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Guizzs26/go-paysync/internal/mapper"
	"github.com/Guizzs26/go-paysync/internal/models"
)

// SQLStore is the document store over a single JSON table, shared by the
// Postgres (JSONB) and SQLite (JSON1) backends.
type SQLStore struct {
	db      *sql.DB
	builder *mapper.SQLBuilder
}

func newSQLStore(ctx context.Context, conn *sql.DB, dialect mapper.Dialect) (*SQLStore, error) {
	s := &SQLStore{db: conn, builder: mapper.NewSQLBuilder(dialect)}
	if _, err := conn.ExecContext(ctx, s.builder.Schema()); err != nil {
		return nil, fmt.Errorf("create %s documents table: %w", dialect, err)
	}
	return s, nil
}

func (s *SQLStore) Get(ctx context.Context, collection, key string) (models.Document, error) {
	query, args := s.builder.BuildGet(collection, key, false)
	var body []byte
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s/%s: %w", collection, key, ErrNotFound)
		}
		return nil, fmt.Errorf("get %s/%s: %w", collection, key, err)
	}
	return decodeBody(key, body)
}

func (s *SQLStore) Find(ctx context.Context, collection string, filter Filter) ([]models.Document, error) {
	query, args, err := s.builder.BuildSelect(collection, filter)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", collection, err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.Document
	for rows.Next() {
		var key string
		var body []byte
		if err := rows.Scan(&key, &body); err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		doc, err := decodeBody(key, body)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (s *SQLStore) Count(ctx context.Context, collection string, filter Filter) (int, error) {
	query, args, err := s.builder.BuildCount(collection, filter)
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, err)
	}
	return n, nil
}

func (s *SQLStore) Put(ctx context.Context, collection, key string, doc models.Document) error {
	body, err := encodeBody(doc)
	if err != nil {
		return err
	}
	query, args := s.builder.BuildUpsert(collection, key, body)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("put %s/%s: %w", collection, key, err)
	}
	return nil
}

func (s *SQLStore) Insert(ctx context.Context, collection, key string, doc models.Document) error {
	body, err := encodeBody(doc)
	if err != nil {
		return err
	}
	query, args := s.builder.BuildInsert(collection, key, body)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("insert %s/%s: %w", collection, key, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s/%s: %w", collection, key, ErrDuplicate)
	}
	return nil
}

// Update reads, patches and rewrites the body inside one transaction
func (s *SQLStore) Update(ctx context.Context, collection, key string, set map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update %s/%s: %w", collection, key, err)
	}
	defer func() { _ = tx.Rollback() }()

	query, args := s.builder.BuildGet(collection, key, true)
	var body []byte
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%s/%s: %w", collection, key, ErrNotFound)
		}
		return fmt.Errorf("load %s/%s: %w", collection, key, err)
	}

	doc, err := decodeBody(key, body)
	if err != nil {
		return err
	}
	if err := applySet(doc, set); err != nil {
		return err
	}
	updated, err := encodeBody(doc)
	if err != nil {
		return err
	}

	query, args = s.builder.BuildReplaceBody(collection, key, updated)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, key, err)
	}
	return tx.Commit()
}

func (s *SQLStore) Delete(ctx context.Context, collection, key string) (bool, error) {
	query, args := s.builder.BuildDelete(collection, key)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("delete %s/%s: %w", collection, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
