package transform

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"

	"github.com/Guizzs26/go-paysync/internal/models"
)

// Bookkeeping paths holding the timestamps the delta precedence rule compares
const (
	SourceModifiedPath = models.ImportField + ".sourceModifiedAt"
	LastPromotedPath   = models.ImportOriginField + ".lastPromotedAt"
)

// Delta is the minimal set of top-level fields to write to a production document
type Delta struct {
	Fields     map[string]any
	HasChanges bool
}

// Keys returns the changed field names in stable order
func (d Delta) Keys() []string {
	keys := make([]string, 0, len(d.Fields))
	for k := range d.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ComputeDelta compares a staged document against its production copy using
// the bookkeeping timestamps both documents carry.
func ComputeDelta(staged, production models.Document) Delta {
	stagedAt, _ := staged.TimeAt(SourceModifiedPath)
	promotedAt, _ := production.TimeAt(LastPromotedPath)
	return DiffFields(staged, production, stagedAt, promotedAt)
}

// DiffFields applies last-write-wins: a differing field is taken from staged when
// stagedAt is newer than or equal to promotedAt. An unknown promotedAt is older
// than anything.
func DiffFields(staged, production models.Document, stagedAt, promotedAt time.Time) Delta {
	d := Delta{Fields: map[string]any{}}
	if !promotedAt.IsZero() && stagedAt.Before(promotedAt) {
		return d
	}
	for k, v := range staged {
		if models.IsReserved(k) {
			continue
		}
		if Equal(v, production[k]) {
			continue
		}
		d.Fields[k] = v
	}
	d.HasChanges = len(d.Fields) > 0
	return d
}

// Equal compares two values by canonical serialization. encoding/json sorts map
// keys, which makes the comparison independent of key order.
func Equal(a, b any) bool {
	ea, errA := json.Marshal(a)
	eb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ea, eb)
}
