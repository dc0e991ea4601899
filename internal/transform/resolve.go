package transform

import "github.com/Guizzs26/go-paysync/internal/models"

// Resolver lists the dotted paths a logical attribute may live under, in
// priority order. Origin payloads are loosely typed and alias field names freely.
type Resolver []string

// Value returns the first present, non-empty value
func (r Resolver) Value(doc models.Document) (any, bool) {
	for _, path := range r {
		v, ok := doc.Path(path)
		if !ok || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr && s == "" {
			continue
		}
		return v, true
	}
	return nil, false
}

// String resolves the attribute as a string
func (r Resolver) String(doc models.Document) string {
	v, ok := r.Value(doc)
	if !ok {
		return ""
	}
	return models.Stringify(v)
}

// Float resolves the attribute as a number
func (r Resolver) Float(doc models.Document) (float64, bool) {
	v, ok := r.Value(doc)
	if !ok {
		return 0, false
	}
	return models.ToFloat(v)
}

// Object resolves the attribute as a nested object
func (r Resolver) Object(doc models.Document) models.Document {
	for _, path := range r {
		v, ok := doc.Path(path)
		if !ok {
			continue
		}
		if m, isMap := models.AsMap(v); isMap && len(m) > 0 {
			return models.Document(m)
		}
	}
	return nil
}

// Objects resolves the attribute as a list of objects, skipping non-object entries
func (r Resolver) Objects(doc models.Document) []models.Document {
	for _, path := range r {
		v, ok := doc.Path(path)
		if !ok {
			continue
		}
		items, isSlice := models.AsSlice(v)
		if !isSlice || len(items) == 0 {
			continue
		}
		out := make([]models.Document, 0, len(items))
		for _, item := range items {
			if m, isMap := models.AsMap(item); isMap {
				out = append(out, models.Document(m))
			}
		}
		return out
	}
	return nil
}

// Path returns the first path holding a value, for writers that must update in place
func (r Resolver) Path(doc models.Document) (string, bool) {
	for _, path := range r {
		if v, ok := doc.Path(path); ok && v != nil {
			return path, true
		}
	}
	return "", false
}

// Registration attributes
var (
	RegistrationID        = Resolver{"registrationId", "registration_id", "id"}
	RegistrationType      = Resolver{"registrationType", "registration_type", "registrationData.registrationType"}
	ConfirmationNumber    = Resolver{"confirmationNumber", "confirmation_number"}
	FunctionID            = Resolver{"functionId", "function_id", "registrationData.functionId", "eventId"}
	RegistrationStatus    = Resolver{"paymentStatus", "payment_status", "status"}
	RegistrationPaymentID = Resolver{"paymentId", "paymentData.id", "payment_data.id", "stripePaymentIntentId", "squarePaymentId"}
	BookingContact        = Resolver{"registrationData.bookingContact", "registrationData.billingDetails", "bookingContact", "billingDetails"}
	RegistrationAttendees = Resolver{"registrationData.attendees", "attendees"}
	RegistrationTickets   = Resolver{"registrationData.tickets", "registrationData.selectedTickets", "tickets", "selectedTickets"}
	LodgeDetails          = Resolver{"registrationData.lodgeDetails", "lodgeDetails"}
	LodgeName             = Resolver{"lodgeName", "name"}
	RegistrationSubtotal  = Resolver{"subtotal", "registrationData.subtotal", "totalAmountPaid", "totalPricePaid"}
	RegistrationTotal     = Resolver{"totalAmountPaid", "totalPricePaid", "registrationData.totalAmount", "subtotal"}
	RegistrationUpdatedAt = Resolver{"updatedAt", "updated_at", "createdAt", "created_at"}
)

// Attendee attributes
var (
	AttendeeID       = Resolver{"attendeeId", "attendee_id", "id"}
	AttendeeType     = Resolver{"attendeeType", "type"}
	AttendeeLodge    = Resolver{"lodge", "lodgeName", "lodgeNameNumber", "membership.lodge"}
	AttendeeLodgeID  = Resolver{"lodgeId", "lodge_id", "lodgeOrganisationId", "membership.lodgeId"}
	AttendeeGLID     = Resolver{"grandLodgeId", "grand_lodge_id", "grandLodgeOrganisationId", "membership.grandLodgeId"}
	AttendeeGLName   = Resolver{"grandLodge", "grandLodgeName", "membership.grandLodge"}
	AttendeeRank     = Resolver{"rank", "masonicRank", "membership.rank"}
	AttendeeTitle    = Resolver{"title", "masonicTitle"}
	AttendeePostNoms = Resolver{"postNominals", "postNominal", "suffix"}
)

// Ticket line attributes
var (
	EventTicketID   = Resolver{"eventTicketId", "event_ticket_id", "ticketId", "id"}
	TicketLineID    = Resolver{"id", "ticketId", "eventTicketId"}
	TicketAttendee  = Resolver{"attendeeId", "attendee_id", "ownerId"}
	PackageID       = Resolver{"packageId", "package_id", "eventTicketId"}
	TicketPrice     = Resolver{"price", "ticketPrice", "amount"}
	TicketQuantity  = Resolver{"quantity", "qty"}
	TicketName      = Resolver{"name", "ticketName", "eventTicketName"}
	IncludedTicket  = Resolver{"eventTicketId", "event_ticket_id", "ticketId", "id"}
	IncludedItems   = Resolver{"includedItems", "included_items", "items"}
	PackageIDOnDoc  = Resolver{"packageId", "package_id", "id"}
	PackageName     = Resolver{"name", "packageName", "title"}
)

// Person attributes shared by booking contacts and attendees
var (
	FirstName    = Resolver{"firstName", "first_name", "firstname", "givenName"}
	LastName     = Resolver{"lastName", "last_name", "lastname", "familyName", "surname"}
	Email        = Resolver{"email", "emailAddress", "primaryEmail", "email_address"}
	Phone        = Resolver{"mobile", "mobileNumber", "phone", "primaryPhone", "phoneNumber"}
	AddressLine1 = Resolver{"addressLine1", "address_line_1", "address.line1", "address"}
	AddressLine2 = Resolver{"addressLine2", "address_line_2", "address.line2"}
	Suburb       = Resolver{"suburb", "city", "address.city"}
	State        = Resolver{"stateTerritory.name", "state", "stateProvince", "address.state"}
	Postcode     = Resolver{"postcode", "postalCode", "zip", "address.postcode"}
	Country      = Resolver{"country.name", "country", "address.country"}
	BusinessName = Resolver{"businessName", "business_name", "organisationName", "lodgeName"}
	Title        = Resolver{"title", "honorific"}
)
