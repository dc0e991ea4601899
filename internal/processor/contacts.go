package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Guizzs26/go-paysync/internal/db"
	"github.com/Guizzs26/go-paysync/internal/models"
	"github.com/Guizzs26/go-paysync/internal/transform"
)

// Contact sources and the role each implies
const (
	ContactSourceRegistration = "registration"
	ContactSourceAttendee     = "attendee"

	RoleCustomer = "customer"
	RoleAttendee = "attendee"
)

// ContactLinks carries the business ids a contact is linked to
type ContactLinks struct {
	CustomerID string
	AttendeeID string
	Ref        RegistrationRef
	ModifiedAt time.Time
	Eligible   bool
}

// ContactUnifier merges booking contacts and attendees into one contact per
// normalized email. Its run map must be Reset between runs.
type ContactUnifier struct {
	store  db.Store
	stager *Stager
	logger *slog.Logger
	seen   map[string]models.Document
	reused map[string]string
}

func NewContactUnifier(store db.Store, stager *Stager, logger *slog.Logger) *ContactUnifier {
	return &ContactUnifier{
		store:  store,
		stager: stager,
		logger: logger,
		seen:   map[string]models.Document{},
		reused: map[string]string{},
	}
}

// Reset forgets the contacts seen during the current run
func (u *ContactUnifier) Reset() {
	u.seen = map[string]models.Document{}
	u.reused = map[string]string{}
}

// Upsert stages the merged contact and returns its staging key (the normalized
// email) and contactId. ok is false when the person has no email.
func (u *ContactUnifier) Upsert(ctx context.Context, person models.Document, source string, links ContactLinks) (key, contactID string, ok bool, err error) {
	email := transform.NormalizeEmail(transform.Email.String(person))
	if email == "" {
		u.logger.Warn("Contact skipped, no email",
			"source", source,
			"first_name", transform.FirstName.String(person),
			"last_name", transform.LastName.String(person),
		)
		return "", "", false, nil
	}

	if id, ok := u.reused[email]; ok {
		return "", id, true, nil
	}

	current, found := u.seen[email]
	if !found {
		current, err = u.lookupStaged(ctx, email, person)
		if err != nil {
			return "", "", false, err
		}
		if current == nil {
			prod, err := db.GetOptional(ctx, u.store, models.Contacts, email)
			if err != nil {
				return "", "", false, fmt.Errorf("load contact %s: %w", email, err)
			}
			if prod != nil {
				// production identity wins; nothing is re-staged for it
				u.reused[email] = prod.String("contactId")
				u.logger.Debug("Reusing production contact", "email", email)
				return "", prod.String("contactId"), true, nil
			}
		}
	}

	merged := mergeContact(current, person, email, source, links)
	if _, err := u.stager.Stage(ctx, models.Contacts, email, merged, StageMeta{
		Source:     SourceRelational,
		SourceID:   email,
		ModifiedAt: links.ModifiedAt,
		Eligible:   links.Eligible,
	}); err != nil {
		return "", "", false, err
	}
	u.seen[email] = merged
	return email, merged.String("contactId"), true, nil
}

// lookupStaged finds the staged contact by email, then by the composite key
// contacts were staged under before unification. A legacy document is re-keyed.
func (u *ContactUnifier) lookupStaged(ctx context.Context, email string, person models.Document) (models.Document, error) {
	staged := models.Staged(models.Contacts)
	doc, err := db.GetOptional(ctx, u.store, staged, email)
	if err != nil {
		return nil, fmt.Errorf("load staged contact %s: %w", email, err)
	}
	if doc != nil {
		return doc.Payload(), nil
	}

	legacy := transform.LegacyContactKey(email, transform.Phone.String(person), transform.LastName.String(person), transform.FirstName.String(person))
	doc, err = db.FindOne(ctx, u.store, staged, db.Filter{"uniqueKey": legacy})
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load legacy contact %s: %w", legacy, err)
	}
	if doc.Key() != email {
		if _, err := u.store.Delete(ctx, staged, doc.Key()); err != nil {
			return nil, fmt.Errorf("drop legacy contact %s: %w", doc.Key(), err)
		}
		u.logger.Info("Legacy contact re-keyed by email", "legacy_key", doc.Key(), "email", email)
	}
	return doc.Payload(), nil
}

func mergeContact(current, person models.Document, email, source string, links ContactLinks) models.Document {
	c := current.Clone()
	if c == nil {
		c = models.Document{
			"contactId":     transform.DeriveID("contact", email),
			"roles":         []any{},
			"sources":       []any{},
			"registrations": []any{},
			"orders":        []any{},
		}
	}
	c["email"] = email
	if c.String("contactId") == "" {
		c["contactId"] = transform.DeriveID("contact", email)
	}

	first := transform.FirstName.String(person)
	last := transform.LastName.String(person)
	phone := transform.Phone.String(person)
	if c.String("uniqueKey") == "" {
		c["uniqueKey"] = transform.LegacyContactKey(email, phone, last, first)
	}

	setIfPresent(c, "firstName", first)
	setIfPresent(c, "lastName", last)
	setIfPresent(c, "title", transform.Title.String(person))
	setIfPresent(c, "mobile", phone)
	setIfPresent(c, "addressLine1", transform.AddressLine1.String(person))
	setIfPresent(c, "addressLine2", transform.AddressLine2.String(person))
	setIfPresent(c, "suburb", transform.Suburb.String(person))
	setIfPresent(c, "state", transform.State.String(person))
	setIfPresent(c, "postcode", transform.Postcode.String(person))
	setIfPresent(c, "country", transform.Country.String(person))
	setIfPresent(c, "businessName", transform.BusinessName.String(person))

	role := RoleAttendee
	if source == ContactSourceRegistration {
		role = RoleCustomer
	}
	c["roles"] = unionStrings(c["roles"], role)
	c["sources"] = unionStrings(c["sources"], source)
	c["lastSeenAs"] = role

	if links.Ref.RegistrationID != "" {
		c["registrations"] = appendByRegistration(c["registrations"], links.Ref.entry())
		if source == ContactSourceRegistration {
			c["orders"] = appendByRegistration(c["orders"], links.Ref.entry())
		}
	}
	setIfPresent(c, "customerId", links.CustomerID)
	if links.AttendeeID != "" {
		c["attendeeIds"] = unionStrings(c["attendeeIds"], links.AttendeeID)
	}
	return c
}
