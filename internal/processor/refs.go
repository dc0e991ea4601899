package processor

import (
	"github.com/Guizzs26/go-paysync/internal/models"
)

// RegistrationRef is the structured back-reference people carry to the
// registrations they took part in.
type RegistrationRef struct {
	RegistrationID     string
	FunctionID         string
	FunctionName       string
	ConfirmationNumber string
	AttendeeID         string
}

func (r RegistrationRef) entry() map[string]any {
	m := map[string]any{
		"registrationId":     r.RegistrationID,
		"functionId":         r.FunctionID,
		"functionName":       r.FunctionName,
		"confirmationNumber": r.ConfirmationNumber,
	}
	if r.AttendeeID != "" {
		m["attendeeId"] = r.AttendeeID
	}
	return m
}

// appendByRegistration appends entries whose registrationId is not present yet.
// Existing entries are kept untouched.
func appendByRegistration(existing any, entries ...map[string]any) []any {
	list, _ := models.AsSlice(existing)
	out := make([]any, 0, len(list)+len(entries))
	seen := make(map[string]bool, len(list))
	for _, item := range list {
		if m, ok := models.AsMap(item); ok {
			seen[models.Stringify(m["registrationId"])] = true
		}
		out = append(out, item)
	}
	for _, e := range entries {
		id := models.Stringify(e["registrationId"])
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, e)
	}
	return out
}

// unionStrings is an insertion-ordered set union
func unionStrings(existing any, add ...string) []any {
	list, _ := models.AsSlice(existing)
	out := make([]any, 0, len(list)+len(add))
	seen := make(map[string]bool, len(list)+len(add))
	for _, item := range list {
		s := models.Stringify(item)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	for _, s := range add {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// setIfPresent overwrites dst[key] only when value is non-empty
func setIfPresent(dst models.Document, key, value string) {
	if value != "" {
		dst[key] = value
	}
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
