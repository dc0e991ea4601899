package models

// Entity collections. Staging copies live under the "import_" prefix.
const (
	Payments      = "payments"
	Registrations = "registrations"
	Customers     = "customers"
	Attendees     = "attendees"
	Contacts      = "contacts"
	Tickets       = "tickets"
	Orders        = "orders"
)

// Auxiliary collections
const (
	ErrorLog      = "error_log"
	ErrorPayments = "error_payments"
	SyncLog       = "sync_log"
)

// Reference data collections, read only from the sync's point of view
const (
	Functions    = "functions"
	EventTickets = "eventTickets"
	Lodges       = "lodges"
	Packages     = "packages"
	GrandLodges  = "grandLodges"
)

const stagingPrefix = "import_"

// Staged returns the staging collection name for an entity collection
func Staged(collection string) string {
	return stagingPrefix + collection
}
