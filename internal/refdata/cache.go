// Package refdata is a read-through cache over the slow-changing reference
// collections: functions, event tickets, packages, lodges and grand lodges.
package refdata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/Guizzs26/go-paysync/internal/db"
	"github.com/Guizzs26/go-paysync/internal/models"
	"github.com/Guizzs26/go-paysync/pkg/metrics"
)

const (
	DefaultTTL  = 5 * time.Minute
	DefaultSize = 4096

	UnknownFunction = "Unknown Function"
)

type kind struct {
	name       string
	collection string
	idField    string
}

var (
	kindFunction    = kind{"function", models.Functions, "functionId"}
	kindEventTicket = kind{"eventTicket", models.EventTickets, "eventTicketId"}
	kindPackage     = kind{"package", models.Packages, "packageId"}
	kindLodge       = kind{"lodge", models.Lodges, "lodgeId"}
	kindGrandLodge  = kind{"grandLodge", models.GrandLodges, "grandLodgeId"}
)

// Cache holds reference documents keyed "<kind>:<id>" with TTL eviction.
// Misses are not cached.
type Cache struct {
	store   db.Store
	entries *expirable.LRU[string, models.Document]
	logger  *slog.Logger
}

func New(store db.Store, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		store:   store,
		entries: expirable.NewLRU[string, models.Document](DefaultSize, nil, ttl),
		logger:  logger,
	}
}

func (c *Cache) get(ctx context.Context, k kind, id string) (models.Document, error) {
	if id == "" {
		return nil, nil
	}
	key := k.name + ":" + id
	if doc, ok := c.entries.Get(key); ok {
		metrics.ReferenceLookups.WithLabelValues(k.name, "hit").Inc()
		return doc.Clone(), nil
	}

	doc, err := c.store.Get(ctx, k.collection, id)
	if errors.Is(err, db.ErrNotFound) {
		doc, err = db.FindOne(ctx, c.store, k.collection, db.Filter{k.idField: id})
	}
	if errors.Is(err, db.ErrNotFound) {
		metrics.ReferenceLookups.WithLabelValues(k.name, "absent").Inc()
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s %s: %w", k.name, id, err)
	}

	metrics.ReferenceLookups.WithLabelValues(k.name, "miss").Inc()
	c.entries.Add(key, doc)
	return doc.Clone(), nil
}

// Function returns the function (event) document
func (c *Cache) Function(ctx context.Context, id string) (models.Document, error) {
	return c.get(ctx, kindFunction, id)
}

// FunctionName never fails; lookups that miss or error fall back to a placeholder
func (c *Cache) FunctionName(ctx context.Context, id string) string {
	doc, err := c.Function(ctx, id)
	if err != nil {
		c.logger.Warn("Function lookup failed", "function_id", id, "error", err)
	}
	if name := doc.String("name"); name != "" {
		return name
	}
	return UnknownFunction
}

func (c *Cache) EventTicket(ctx context.Context, id string) (models.Document, error) {
	return c.get(ctx, kindEventTicket, id)
}

// Package satisfies transform.PackageLookup
func (c *Cache) Package(ctx context.Context, id string) (models.Document, error) {
	return c.get(ctx, kindPackage, id)
}

func (c *Cache) Lodge(ctx context.Context, id string) (models.Document, error) {
	return c.get(ctx, kindLodge, id)
}

// LodgeName resolves a lodge display name, "" when unknown. The lodge number
// is appended when the document carries one.
func (c *Cache) LodgeName(ctx context.Context, id string) string {
	doc, err := c.Lodge(ctx, id)
	if err != nil {
		c.logger.Warn("Lodge lookup failed", "lodge_id", id, "error", err)
		return ""
	}
	name := doc.String("name")
	if name == "" {
		return ""
	}
	if number := models.Stringify(doc["number"]); number != "" {
		return fmt.Sprintf("%s No. %s", name, number)
	}
	return name
}

// GrandLodgeName resolves a grand lodge display name, "" when unknown
func (c *Cache) GrandLodgeName(ctx context.Context, id string) string {
	doc, err := c.get(ctx, kindGrandLodge, id)
	if err != nil {
		c.logger.Warn("Grand lodge lookup failed", "grand_lodge_id", id, "error", err)
		return ""
	}
	return doc.String("name")
}

// Len reports live entries
func (c *Cache) Len() int { return c.entries.Len() }

// Purge drops every entry
func (c *Cache) Purge() { c.entries.Purge() }
