package db

import (
	"context"
	"errors"

	"github.com/Guizzs26/go-paysync/internal/models"
)

var (
	ErrNotFound  = errors.New("document not found")
	ErrDuplicate = errors.New("document already exists")
)

// Filter matches documents whose value at each dotted path equals the given
// scalar. An empty filter matches the whole collection.
type Filter map[string]any

// Store is the document store holding staging, production and auxiliary
// collections. Documents returned carry their store key under models.KeyField.
type Store interface {
	Get(ctx context.Context, collection, key string) (models.Document, error)
	Find(ctx context.Context, collection string, filter Filter) ([]models.Document, error)
	Count(ctx context.Context, collection string, filter Filter) (int, error)
	// Put creates or fully replaces a document
	Put(ctx context.Context, collection, key string, doc models.Document) error
	// Insert creates a document and fails with ErrDuplicate when the key exists
	Insert(ctx context.Context, collection, key string, doc models.Document) error
	// Update sets dotted paths on an existing document
	Update(ctx context.Context, collection, key string, set map[string]any) error
	Delete(ctx context.Context, collection, key string) (bool, error)
	Close() error
}

// FindOne returns the first match or ErrNotFound
func FindOne(ctx context.Context, s Store, collection string, filter Filter) (models.Document, error) {
	docs, err := s.Find(ctx, collection, filter)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return docs[0], nil
}

// GetOptional is Get that maps ErrNotFound to a nil document
func GetOptional(ctx context.Context, s Store, collection, key string) (models.Document, error) {
	doc, err := s.Get(ctx, collection, key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return doc, err
}
