package db

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/Guizzs26/go-paysync/internal/models"
)

// encodeBody serializes a document without its store key
func encodeBody(doc models.Document) ([]byte, error) {
	body := make(map[string]any, len(doc))
	for k, v := range doc {
		if k == models.KeyField {
			continue
		}
		body[k] = v
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return b, nil
}

// decodeBody restores a document and stamps its store key
func decodeBody(key string, body []byte) (models.Document, error) {
	var doc models.Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", key, err)
	}
	if doc == nil {
		doc = models.Document{}
	}
	doc[models.KeyField] = key
	return doc, nil
}

// applySet writes dotted paths into a decoded document
func applySet(doc models.Document, set map[string]any) error {
	for path, v := range set {
		if path == "" || path == models.KeyField {
			continue
		}
		normalized, err := roundTrip(v)
		if err != nil {
			return fmt.Errorf("update %s: %w", path, err)
		}
		doc.SetPath(path, normalized)
	}
	return nil
}

func roundTrip(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// matches evaluates a Filter against a decoded document
func matches(doc models.Document, filter Filter) bool {
	for path, want := range filter {
		got, ok := doc.Path(path)
		if !ok {
			return false
		}
		wb, err := json.Marshal(want)
		if err != nil {
			return false
		}
		gb, err := json.Marshal(got)
		if err != nil || !bytes.Equal(wb, gb) {
			return false
		}
	}
	return true
}
