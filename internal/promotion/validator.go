package promotion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Guizzs26/go-paysync/internal/db"
	"github.com/Guizzs26/go-paysync/internal/models"
	"github.com/Guizzs26/go-paysync/internal/transform"
	"github.com/Guizzs26/go-paysync/pkg/metrics"
)

// OwnerTypes is the ticket owner enumeration accepted for promotion
var OwnerTypes = map[string]bool{
	"customer":     true,
	"individual":   true,
	"lodge":        true,
	"organisation": true,
}

// presenceCollections must each hold a promoted document before bulk ticket promotion
var presenceCollections = []Mapping{Payments, Registrations, Attendees, Customers, Contacts}

type ValidateOptions struct {
	// CheckPresence enables the collection-level layer, used in bulk mode
	CheckPresence bool
}

// Report is the outcome of the ticket gate. Eligible holds the candidates that
// passed every layer; Excluded maps staged ticket keys to the reason they failed.
type Report struct {
	OK       bool
	Reasons  []string
	Eligible []models.Document
	Excluded map[string]string
}

// Validator refuses ticket promotion until every dependency of a ticket exists
// in production.
type Validator struct {
	store    db.Store
	packages transform.PackageLookup
	logger   *slog.Logger
}

func NewValidator(store db.Store, packages transform.PackageLookup, logger *slog.Logger) *Validator {
	return &Validator{store: store, packages: packages, logger: logger}
}

type registrationCheck struct {
	doc    models.Document
	reason string
}

// CanPromoteTickets runs the layered checks over staged ticket candidates
func (v *Validator) CanPromoteTickets(ctx context.Context, candidates []models.Document, opts ValidateOptions) (Report, error) {
	report := Report{Excluded: map[string]string{}}

	if opts.CheckPresence {
		for _, m := range presenceCollections {
			n, err := v.store.Count(ctx, m.Collection, db.Filter{models.ImportOriginField + ".stagedCollection": m.Staged()})
			if err != nil {
				return report, fmt.Errorf("presence check %s: %w", m.Collection, err)
			}
			if n == 0 {
				report.Reasons = append(report.Reasons, fmt.Sprintf("no promoted %s", m.Collection))
			}
		}
		if len(report.Reasons) > 0 {
			metrics.TicketsExcluded.WithLabelValues("presence").Add(float64(len(candidates)))
			return report, nil
		}
	}

	registrations := map[string]*registrationCheck{}
	customers := map[string]models.Document{}
	attendees := map[string]bool{}

	for _, ticket := range candidates {
		key := ticket.Key()
		regID := ticket.String("registrationId")

		check, ok := registrations[regID]
		if !ok {
			var err error
			check, err = v.checkRegistration(ctx, regID)
			if err != nil {
				return report, err
			}
			registrations[regID] = check
			if check.reason != "" {
				report.Reasons = append(report.Reasons, check.reason)
			}
		}
		if check.reason != "" {
			v.exclude(&report, key, "registration", check.reason)
			continue
		}

		reason, err := v.checkChain(ctx, ticket, check.doc, customers, attendees)
		if err != nil {
			return report, err
		}
		if reason != "" {
			v.exclude(&report, key, "chain", reason)
			continue
		}

		reason, err = v.checkBusinessRules(ctx, ticket)
		if err != nil {
			return report, err
		}
		if reason != "" {
			v.exclude(&report, key, "business", reason)
			continue
		}

		report.Eligible = append(report.Eligible, ticket)
	}

	if len(report.Eligible) == 0 {
		report.Reasons = append(report.Reasons, "no eligible tickets")
		return report, nil
	}
	report.OK = true
	return report, nil
}

func (v *Validator) exclude(r *Report, key, layer, reason string) {
	r.Excluded[key] = reason
	metrics.TicketsExcluded.WithLabelValues(layer).Inc()
	v.logger.Debug("Ticket held back", "ticket", key, "layer", layer, "reason", reason)
}

// checkRegistration requires a promoted registration with a promoted payment
// and at least one promoted attendee.
func (v *Validator) checkRegistration(ctx context.Context, regID string) (*registrationCheck, error) {
	if regID == "" {
		return &registrationCheck{reason: "ticket has no registration"}, nil
	}
	reg, err := db.GetOptional(ctx, v.store, models.Registrations, regID)
	if err != nil {
		return nil, fmt.Errorf("load registration %s: %w", regID, err)
	}
	if reg == nil {
		return &registrationCheck{reason: fmt.Sprintf("registration %s not promoted", regID)}, nil
	}

	paid := false
	for _, path := range transform.RegistrationPaymentID {
		id := reg.String(path)
		if id == "" {
			continue
		}
		payment, err := db.GetOptional(ctx, v.store, models.Payments, id)
		if err != nil {
			return nil, fmt.Errorf("load payment %s: %w", id, err)
		}
		if payment != nil {
			paid = true
			break
		}
	}
	if !paid {
		return &registrationCheck{reason: fmt.Sprintf("registration %s has no promoted payment", regID)}, nil
	}

	n, err := v.store.Count(ctx, models.Attendees, db.Filter{"registrationId": regID})
	if err != nil {
		return nil, fmt.Errorf("count attendees of %s: %w", regID, err)
	}
	if n == 0 {
		return &registrationCheck{reason: fmt.Sprintf("registration %s has no promoted attendee", regID)}, nil
	}

	return &registrationCheck{doc: reg}, nil
}

// checkChain resolves the customer through the registration's booking contact
// hash and the ticket holder through the attendee collection.
func (v *Validator) checkChain(ctx context.Context, ticket, reg models.Document, customers map[string]models.Document, attendees map[string]bool) (string, error) {
	hash := reg.String("bookingContactHash")
	if hash == "" {
		return "registration has no booking contact", nil
	}

	customer, ok := customers[hash]
	if !ok {
		var err error
		customer, err = db.GetOptional(ctx, v.store, models.Customers, hash)
		if err != nil {
			return "", fmt.Errorf("load customer %s: %w", hash, err)
		}
		customers[hash] = customer
	}
	if customer == nil {
		return "booking contact customer not promoted", nil
	}

	if owner := ticket.String("ticketOwner.ownerId"); owner != "" && owner != customer.String("customerId") {
		return fmt.Sprintf("ticket owner %s does not match promoted customer", owner), nil
	}

	holder := ticket.String("ticketHolder.attendeeId")
	if holder == "" {
		return "", nil
	}
	present, ok := attendees[holder]
	if !ok {
		doc, err := db.GetOptional(ctx, v.store, models.Attendees, holder)
		if err != nil {
			return "", fmt.Errorf("load attendee %s: %w", holder, err)
		}
		present = doc != nil
		attendees[holder] = present
	}
	if !present {
		return fmt.Sprintf("holder %s not promoted", holder), nil
	}
	return "", nil
}

func (v *Validator) checkBusinessRules(ctx context.Context, ticket models.Document) (string, error) {
	if ticket.String("ticketOwner.ownerId") == "" {
		return "missing owner", nil
	}
	if ticket.String("eventTicketId") == "" {
		return "missing event ticket type", nil
	}
	if ownerType := ticket.String("ticketOwner.ownerType"); !OwnerTypes[ownerType] {
		return fmt.Sprintf("unknown owner type %q", ownerType), nil
	}
	if pkg, _ := ticket.Bool("isPackage"); pkg {
		return "unexpanded package line", nil
	}
	if fromPackage, _ := ticket.Bool("isFromPackage"); fromPackage {
		pkgID := ticket.String("parentPackageId")
		if pkgID == "" {
			return "package ticket without parent package", nil
		}
		pkg, err := v.packages.Package(ctx, pkgID)
		if err != nil {
			return "", fmt.Errorf("load package %s: %w", pkgID, err)
		}
		if pkg == nil {
			return fmt.Sprintf("package %s not found", pkgID), nil
		}
	}
	return "", nil
}
