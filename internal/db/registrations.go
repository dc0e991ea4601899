package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Guizzs26/go-paysync/internal/models"
)

// RegistrationRepository reads registrations from the relational source of truth
type RegistrationRepository struct {
	pool *pgxpool.Pool
}

func NewRegistrationRepository(ctx context.Context, connString string) (*RegistrationRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to configure registration source pool: %w", err)
	}

	p, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create registration source pool: %w", err)
	}

	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("registration source not responding: %w", err)
	}

	return &RegistrationRepository{pool: p}, nil
}

// FindByPaymentCorrelationID returns the registration paid by the given
// provider id, or nil when none exists.
func (r *RegistrationRepository) FindByPaymentCorrelationID(ctx context.Context, id string) (models.Document, error) {
	if strings.TrimSpace(id) == "" {
		return nil, nil
	}

	query := `
		SELECT to_jsonb(r)
		FROM registrations r
		WHERE r.stripe_payment_intent_id = $1 OR r.square_payment_id = $1
		ORDER BY r.created_at DESC
		LIMIT 1
	`

	var raw []byte
	err := r.pool.QueryRow(ctx, query, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("registration lookup for %s: %w", id, err)
	}

	return DecodeRegistrationRow(raw)
}

func (r *RegistrationRepository) Close() {
	r.pool.Close()
}

// DecodeRegistrationRow parses a registration row. registration_data is stored
// as JSON text on older rows and is unwrapped into an object.
func DecodeRegistrationRow(raw []byte) (models.Document, error) {
	var row models.Document
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, fmt.Errorf("decode registration row: %w", err)
	}
	if text, ok := row["registration_data"].(string); ok && text != "" {
		var data map[string]any
		if err := json.Unmarshal([]byte(text), &data); err != nil {
			return nil, fmt.Errorf("decode registration_data: %w", err)
		}
		row["registration_data"] = data
	}
	return row, nil
}
