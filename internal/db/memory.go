package db

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Guizzs26/go-paysync/internal/models"
)

// MemoryStore keeps documents JSON encoded in process, so reads observe the
// same value types the SQL backends return.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]map[string][]byte)}
}

func (m *MemoryStore) Get(_ context.Context, collection, key string) (models.Document, error) {
	m.mu.RLock()
	body, ok := m.collections[collection][key]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", collection, key, ErrNotFound)
	}
	return decodeBody(key, body)
}

func (m *MemoryStore) Find(_ context.Context, collection string, filter Filter) ([]models.Document, error) {
	m.mu.RLock()
	coll := m.collections[collection]
	keys := make([]string, 0, len(coll))
	bodies := make(map[string][]byte, len(coll))
	for k, v := range coll {
		keys = append(keys, k)
		bodies[k] = v
	}
	m.mu.RUnlock()

	sort.Strings(keys)
	var out []models.Document
	for _, k := range keys {
		doc, err := decodeBody(k, bodies[k])
		if err != nil {
			return nil, err
		}
		if matches(doc, filter) {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (m *MemoryStore) Count(ctx context.Context, collection string, filter Filter) (int, error) {
	docs, err := m.Find(ctx, collection, filter)
	return len(docs), err
}

func (m *MemoryStore) Put(_ context.Context, collection, key string, doc models.Document) error {
	body, err := encodeBody(doc)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collection(collection)[key] = body
	return nil
}

func (m *MemoryStore) Insert(_ context.Context, collection, key string, doc models.Document) error {
	body, err := encodeBody(doc)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	coll := m.collection(collection)
	if _, exists := coll[key]; exists {
		return fmt.Errorf("%s/%s: %w", collection, key, ErrDuplicate)
	}
	coll[key] = body
	return nil
}

func (m *MemoryStore) Update(_ context.Context, collection, key string, set map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	body, ok := m.collections[collection][key]
	if !ok {
		return fmt.Errorf("%s/%s: %w", collection, key, ErrNotFound)
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
	m.collections[collection][key] = updated
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, collection, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[collection][key]; !ok {
		return false, nil
	}
	delete(m.collections[collection], key)
	return true, nil
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) collection(name string) map[string][]byte {
	coll, ok := m.collections[name]
	if !ok {
		coll = make(map[string][]byte)
		m.collections[name] = coll
	}
	return coll
}
