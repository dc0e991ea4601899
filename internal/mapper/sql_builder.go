package mapper

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// DocumentsTable holds every collection of the SQL-backed document store
const DocumentsTable = "documents"

type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

func (d Dialect) String() string {
	if d == SQLite {
		return "sqlite"
	}
	return "postgres"
}

// SQLBuilder translates document store operations into dialect specific SQL over
// a single (collection, doc_key, body) table.
type SQLBuilder struct {
	dialect Dialect
	table   string
}

// NewSQLBuilder initializes a builder for the given dialect
func NewSQLBuilder(d Dialect) *SQLBuilder {
	return &SQLBuilder{dialect: d, table: DocumentsTable}
}

func (b *SQLBuilder) Dialect() Dialect { return b.dialect }

// Schema returns the DDL creating the documents table
func (b *SQLBuilder) Schema() string {
	bodyType, tsType := "JSONB", "TIMESTAMPTZ"
	if b.dialect == SQLite {
		bodyType, tsType = "TEXT", "TEXT"
	}
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		collection TEXT NOT NULL,
		doc_key TEXT NOT NULL,
		body %s NOT NULL,
		updated_at %s NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (collection, doc_key)
	)`, b.table, bodyType, tsType)
}

// Placeholder returns the n-th (1 based) bind parameter
func (b *SQLBuilder) Placeholder(n int) string {
	if b.dialect == SQLite {
		return "?"
	}
	return fmt.Sprintf("$%d", n)
}

// BuildGet selects one document body
func (b *SQLBuilder) BuildGet(collection, key string, forUpdate bool) (string, []any) {
	query := fmt.Sprintf("SELECT body FROM %s WHERE collection = %s AND doc_key = %s",
		b.table, b.Placeholder(1), b.Placeholder(2))
	if forUpdate && b.dialect == Postgres {
		query += " FOR UPDATE"
	}
	return query, []any{collection, key}
}

// BuildSelect generates a filtered SELECT ordered by key
func (b *SQLBuilder) BuildSelect(collection string, filter map[string]any) (string, []any, error) {
	where, args, err := b.buildWhere(collection, filter)
	if err != nil {
		return "", nil, err
	}
	query := fmt.Sprintf("SELECT doc_key, body FROM %s WHERE %s ORDER BY doc_key", b.table, where)
	return query, args, nil
}

// BuildCount generates a filtered COUNT
func (b *SQLBuilder) BuildCount(collection string, filter map[string]any) (string, []any, error) {
	where, args, err := b.buildWhere(collection, filter)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", b.table, where), args, nil
}

// BuildUpsert replaces or creates a document
func (b *SQLBuilder) BuildUpsert(collection, key string, body []byte) (string, []any) {
	query := fmt.Sprintf(
		"INSERT INTO %s (collection, doc_key, body) VALUES (%s, %s, %s) ON CONFLICT (collection, doc_key) DO UPDATE SET body = excluded.body, updated_at = CURRENT_TIMESTAMP",
		b.table, b.Placeholder(1), b.Placeholder(2), b.bodyPlaceholder(3),
	)
	return query, []any{collection, key, string(body)}
}

// BuildInsert creates a document, affecting zero rows when the key is taken
func (b *SQLBuilder) BuildInsert(collection, key string, body []byte) (string, []any) {
	query := fmt.Sprintf(
		"INSERT INTO %s (collection, doc_key, body) VALUES (%s, %s, %s) ON CONFLICT (collection, doc_key) DO NOTHING",
		b.table, b.Placeholder(1), b.Placeholder(2), b.bodyPlaceholder(3),
	)
	return query, []any{collection, key, string(body)}
}

// BuildReplaceBody rewrites the body of an existing document
func (b *SQLBuilder) BuildReplaceBody(collection, key string, body []byte) (string, []any) {
	query := fmt.Sprintf(
		"UPDATE %s SET body = %s, updated_at = CURRENT_TIMESTAMP WHERE collection = %s AND doc_key = %s",
		b.table, b.bodyPlaceholder(1), b.Placeholder(2), b.Placeholder(3),
	)
	return query, []any{string(body), collection, key}
}

// BuildDelete removes one document
func (b *SQLBuilder) BuildDelete(collection, key string) (string, []any) {
	query := fmt.Sprintf("DELETE FROM %s WHERE collection = %s AND doc_key = %s",
		b.table, b.Placeholder(1), b.Placeholder(2))
	return query, []any{collection, key}
}

func (b *SQLBuilder) bodyPlaceholder(n int) string {
	if b.dialect == Postgres {
		return b.Placeholder(n) + "::jsonb"
	}
	return b.Placeholder(n)
}

// buildWhere renders equality conditions on JSON paths. Keys are sorted for
// deterministic SQL generation.
func (b *SQLBuilder) buildWhere(collection string, filter map[string]any) (string, []any, error) {
	clauses := []string{"collection = " + b.Placeholder(1)}
	args := []any{collection}

	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, path := range keys {
		if path == "" || strings.ContainsAny(path, "{},'\"") {
			return "", nil, fmt.Errorf("invalid filter path %q", path)
		}
		value, err := b.formatValue(filter[path])
		if err != nil {
			return "", nil, fmt.Errorf("filter %s: %w", path, err)
		}

		switch b.dialect {
		case SQLite:
			clauses = append(clauses, fmt.Sprintf("json_extract(body, %s) = %s", b.Placeholder(len(args)+1), b.Placeholder(len(args)+2)))
			args = append(args, "$."+path, value)
		default:
			clauses = append(clauses, fmt.Sprintf("body #> %s::text[] = %s::jsonb", b.Placeholder(len(args)+1), b.Placeholder(len(args)+2)))
			args = append(args, "{"+strings.ReplaceAll(path, ".", ",")+"}", value)
		}
	}

	return strings.Join(clauses, " AND "), args, nil
}

// formatValue converts a scalar filter value for the dialect. Postgres compares
// jsonb values, SQLite compares the SQL values json_extract yields.
func (b *SQLBuilder) formatValue(v any) (any, error) {
	switch val := v.(type) {
	case string, float64, float32, int, int32, int64, bool:
	default:
		return nil, fmt.Errorf("unsupported filter value type %T", val)
	}

	if b.dialect == Postgres {
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(encoded), nil
	}

	if bv, ok := v.(bool); ok {
		if bv {
			return 1, nil
		}
		return 0, nil
	}
	return v, nil
}
