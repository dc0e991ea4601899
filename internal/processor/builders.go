package processor

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/Guizzs26/go-paysync/internal/models"
	"github.com/Guizzs26/go-paysync/internal/transform"
)

// ReferenceData is the subset of the reference cache the builders read
type ReferenceData interface {
	transform.PackageLookup
	FunctionName(ctx context.Context, id string) string
	EventTicket(ctx context.Context, id string) (models.Document, error)
	LodgeName(ctx context.Context, id string) string
	GrandLodgeName(ctx context.Context, id string) string
}

const (
	RegistrationTypeLodge = "lodge"

	// lodge registrations without line quantities are priced per seat
	lodgeSeatPrice = 115.0

	unknownEvent = "Unknown Event"
)

// Chain is every document derived from one matched registration
type Chain struct {
	RegistrationID string
	Registration   models.Document
	Customer       models.Document
	Attendees      []models.Document
	Tickets        []models.Document
	Ref            RegistrationRef
}

// ChainBuilder derives customer, attendee and ticket documents from a
// normalized registration.
type ChainBuilder struct {
	refs     ReferenceData
	expander *transform.PackageExpander
}

func NewChainBuilder(refs ReferenceData, expander *transform.PackageExpander) *ChainBuilder {
	return &ChainBuilder{refs: refs, expander: expander}
}

// Build assembles the chain for reg, which must already be normalized
func (b *ChainBuilder) Build(ctx context.Context, reg models.Document, payment models.PaymentRecord) (*Chain, error) {
	regID := transform.RegistrationID.String(reg)
	if regID == "" {
		return nil, fmt.Errorf("registration without id for payment %s", payment.ID)
	}
	functionID := transform.FunctionID.String(reg)

	chain := &Chain{
		RegistrationID: regID,
		Ref: RegistrationRef{
			RegistrationID:     regID,
			FunctionID:         functionID,
			FunctionName:       b.refs.FunctionName(ctx, functionID),
			ConfirmationNumber: transform.ConfirmationNumber.String(reg),
		},
	}

	chain.Customer = b.buildCustomer(reg, chain.Ref)
	customerID := chain.Customer.String("customerId")

	chain.Attendees = b.buildAttendees(ctx, reg, chain.Ref, customerID)

	tickets, err := b.buildTickets(ctx, reg, chain.Customer, chain.Attendees, payment)
	if err != nil {
		return nil, err
	}
	chain.Tickets = tickets
	linkTickets(chain.Attendees, chain.Tickets)

	chain.Registration = b.buildRegistration(reg, chain, payment)
	return chain, nil
}

func isLodge(reg models.Document) bool {
	return strings.EqualFold(transform.RegistrationType.String(reg), RegistrationTypeLodge)
}

func (b *ChainBuilder) buildRegistration(reg models.Document, chain *Chain, payment models.PaymentRecord) models.Document {
	out := reg.Payload()
	out["registrationId"] = chain.RegistrationID
	out["paymentId"] = payment.ID
	out["gateway"] = payment.Provider
	if chain.Customer != nil {
		out["customerId"] = chain.Customer.String("customerId")
		out["bookingContactHash"] = chain.Customer.String("hash")
	}

	attendeeIDs := make([]string, 0, len(chain.Attendees))
	for _, a := range chain.Attendees {
		attendeeIDs = append(attendeeIDs, a.String("attendeeId"))
	}
	ticketIDs := make([]string, 0, len(chain.Tickets))
	for _, t := range chain.Tickets {
		ticketIDs = append(ticketIDs, t.String("ticketId"))
	}
	out["attendeeIds"] = toAnySlice(attendeeIDs)
	out["ticketIds"] = toAnySlice(ticketIDs)
	return out
}

// buildCustomer turns the booking contact into a customer. Registrations
// without a booking contact have no customer.
func (b *ChainBuilder) buildCustomer(reg models.Document, ref RegistrationRef) models.Document {
	contact := transform.BookingContact.Object(reg)
	if contact == nil {
		return nil
	}

	first := transform.FirstName.String(contact)
	last := transform.LastName.String(contact)
	email := transform.NormalizeEmail(transform.Email.String(contact))
	hash := transform.CustomerHash(first, last, email)

	lodge := isLodge(reg)
	customerID := transform.DeriveID("customer", hash)
	businessName := transform.BusinessName.String(contact)
	if lodge {
		customerID = "lodge-" + customerID
		if details := transform.LodgeDetails.Object(reg); details != nil {
			if name := transform.LodgeName.String(details); name != "" {
				businessName = name
			}
		}
	}

	customerType := "person"
	if lodge || businessName != "" {
		customerType = "business"
	}

	entry := ref.entry()
	entry["registrationType"] = transform.RegistrationType.String(reg)
	entry["customerType"] = customerType

	return models.Document{
		"hash":         hash,
		"customerId":   customerID,
		"customerType": customerType,
		"firstName":    first,
		"lastName":     last,
		"email":        email,
		"phone":        transform.Phone.String(contact),
		"businessName": businessName,
		"address": map[string]any{
			"addressLine1": transform.AddressLine1.String(contact),
			"addressLine2": transform.AddressLine2.String(contact),
			"suburb":       transform.Suburb.String(contact),
			"state":        transform.State.String(contact),
			"postcode":     transform.Postcode.String(contact),
			"country":      transform.Country.String(contact),
		},
		"registrations": []any{entry},
	}
}

func (b *ChainBuilder) buildAttendees(ctx context.Context, reg models.Document, ref RegistrationRef, customerID string) []models.Document {
	raw := transform.RegistrationAttendees.Objects(reg)
	out := make([]models.Document, 0, len(raw))
	for i, a := range raw {
		id := transform.AttendeeID.String(a)
		if id == "" {
			id = fmt.Sprintf("%s_attendee_%d", ref.RegistrationID, i)
		}

		lodgeID := transform.AttendeeLodgeID.String(a)
		lodgeName := transform.AttendeeLodge.String(a)
		if lodgeName == "" && lodgeID != "" {
			lodgeName = b.refs.LodgeName(ctx, lodgeID)
		}

		glID := transform.AttendeeGLID.String(a)
		glName := transform.AttendeeGLName.String(a)
		if glName == "" && glID != "" {
			glName = b.refs.GrandLodgeName(ctx, glID)
		}

		attendeeType := transform.AttendeeType.String(a)
		if attendeeType == "" {
			attendeeType = "mason"
		}
		primary, present := a.Bool("isPrimary")
		if !present {
			primary = i == 0
		}

		entry := ref.entry()
		entry["attendeeId"] = id

		out = append(out, models.Document{
			"attendeeId":          id,
			"originalAttendeeId":  id,
			"registrationId":      ref.RegistrationID,
			"customerId":          customerID,
			"firstName":           transform.FirstName.String(a),
			"lastName":            transform.LastName.String(a),
			"title":               transform.AttendeeTitle.String(a),
			"postNominals":        transform.AttendeePostNoms.String(a),
			"email":               transform.NormalizeEmail(transform.Email.String(a)),
			"phone":               transform.Phone.String(a),
			"attendeeType":        attendeeType,
			"isPrimary":           primary,
			"dietaryRequirements": transform.Resolver{"dietaryRequirements", "dietary"}.String(a),
			"specialNeeds":        transform.Resolver{"specialNeeds", "accessibility"}.String(a),
			"membership": map[string]any{
				"lodge":        lodgeName,
				"lodgeId":      lodgeID,
				"grandLodge":   glName,
				"grandLodgeId": glID,
				"rank":         transform.AttendeeRank.String(a),
			},
			"constitution": map[string]any{
				"name": glName,
				"id":   glID,
			},
			"registrations": []any{entry},
			"ticketIds":     []any{},
		})
	}
	return out
}

func (b *ChainBuilder) buildTickets(ctx context.Context, reg, customer models.Document, attendees []models.Document, payment models.PaymentRecord) ([]models.Document, error) {
	regID := transform.RegistrationID.String(reg)
	lines := b.expander.ExpandAll(ctx, transform.RegistrationTickets.Objects(reg))
	lodge := isLodge(reg)
	status := ticketStatus(transform.RegistrationStatus.String(reg))

	owner := map[string]any{"ownerId": "", "ownerType": "customer"}
	if customer != nil {
		owner["ownerId"] = customer.String("customerId")
		owner["customerName"] = strings.TrimSpace(customer.String("firstName") + " " + customer.String("lastName"))
		owner["customerBusinessName"] = customer.String("businessName")
	}
	if lodge {
		owner["ownerType"] = RegistrationTypeLodge
	}

	out := make([]models.Document, 0, len(lines))
	unassigned := 0
	for i, line := range lines {
		eventTicketID := transform.EventTicketID.String(line)
		ticketID := transform.Resolver{"ticketId", "id"}.String(line)
		if ticketID == "" {
			ticketID = fmt.Sprintf("%s_ticket_%d", regID, i)
		}

		details, err := b.refs.EventTicket(ctx, eventTicketID)
		if err != nil {
			return nil, fmt.Errorf("event ticket %s: %w", eventTicketID, err)
		}
		eventName := transform.Resolver{"eventName", "name"}.String(details)
		if eventName == "" {
			eventName = unknownEvent
		}
		price, ok := transform.TicketPrice.Float(details)
		if !ok {
			price, _ = transform.TicketPrice.Float(line)
		}

		quantity := 1.0
		if lodge {
			if q, ok := transform.TicketQuantity.Float(line); ok && q > 0 {
				quantity = q
			} else {
				subtotal, _ := transform.RegistrationSubtotal.Float(reg)
				quantity = math.Round(subtotal / lodgeSeatPrice)
			}
		}

		holder := transform.TicketAttendee.String(line)
		if holder == "" && len(attendees) > 0 {
			holder = attendees[unassigned%len(attendees)].String("attendeeId")
			unassigned++
		}

		fromPackage, _ := line.Bool("isFromPackage")
		isPackage, _ := line.Bool("isPackage")
		ticket := models.Document{
			"ticketId":         ticketID,
			"originalTicketId": ticketID,
			"eventTicketId":    eventTicketID,
			"eventName":        eventName,
			"price":            price,
			"quantity":         quantity,
			"status":           status,
			"ticketOwner":      cloneMap(owner),
			"ticketHolder": map[string]any{
				"attendeeId":   holder,
				"holderStatus": "current",
			},
			"isPackage":      isPackage,
			"isFromPackage":  fromPackage,
			"registrationId": regID,
			"customerId":     owner["ownerId"],
			"paymentId":      payment.ID,
			"functionId":     transform.FunctionID.String(reg),
		}
		if fromPackage {
			ticket["parentPackageId"] = line.String("parentPackageId")
			setIfPresent(ticket, "packageName", line.String("packageName"))
		}
		if couldNot, _ := line.Bool("couldNotExpand"); couldNot {
			ticket["couldNotExpand"] = true
		}
		out = append(out, ticket)
	}
	return out, nil
}

// linkTickets records on each attendee the tickets it holds
func linkTickets(attendees, tickets []models.Document) {
	byAttendee := make(map[string][]string, len(attendees))
	for _, t := range tickets {
		holder := t.String("ticketHolder.attendeeId")
		byAttendee[holder] = append(byAttendee[holder], t.String("ticketId"))
	}
	for _, a := range attendees {
		a["ticketIds"] = toAnySlice(byAttendee[a.String("attendeeId")])
	}
}

// ticketStatus derives a ticket's status from its registration's payment status
func ticketStatus(paymentStatus string) string {
	switch strings.ToLower(paymentStatus) {
	case "paid", "completed":
		return "sold"
	case "refunded":
		return "cancelled"
	default:
		return "pending"
	}
}

func cloneMap(m map[string]any) map[string]any {
	return map[string]any(models.Document(m).Clone())
}
