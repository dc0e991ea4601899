package provider

import (
	"context"
	"time"

	"github.com/Guizzs26/go-paysync/internal/models"
)

// Iterator walks a provider listing lazily, one page at a time. It can be
// resumed by starting a new Iterator at Cursor().
type Iterator struct {
	p        Provider
	query    Query
	buf      []models.PaymentRecord
	current  models.PaymentRecord
	finished bool
	err      error
}

func NewIterator(p Provider, start string, pageSize int, since time.Time) *Iterator {
	if pageSize <= 0 {
		pageSize = 1
	}
	return &Iterator{p: p, query: Query{Cursor: start, Limit: pageSize, Since: since}}
}

// Next advances to the next record, fetching a page when the buffer is empty.
// It returns false at the end of the listing or on error.
func (it *Iterator) Next(ctx context.Context) bool {
	if it.err != nil {
		return false
	}
	for len(it.buf) == 0 {
		if it.finished {
			return false
		}
		if err := ctx.Err(); err != nil {
			it.err = err
			return false
		}
		page, err := it.p.ListPayments(ctx, it.query)
		if err != nil {
			it.err = err
			return false
		}
		it.buf = page.Records
		it.query.Cursor = page.NextCursor
		if page.NextCursor == "" || len(page.Records) == 0 {
			it.finished = true
		}
	}
	it.current, it.buf = it.buf[0], it.buf[1:]
	return true
}

// Record returns the record Next advanced to
func (it *Iterator) Record() models.PaymentRecord { return it.current }

func (it *Iterator) Err() error { return it.err }

// Cursor is the position of the next unfetched page, "" once exhausted
func (it *Iterator) Cursor() string {
	if it.finished {
		return ""
	}
	return it.query.Cursor
}
