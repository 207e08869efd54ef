package model

import "time"

// Status is the lifecycle state of a Reservation.
type Status string

const (
	StatusCreated     Status = "CREATED"
	StatusPaid        Status = "PAID"
	StatusApproved    Status = "APPROVED"
	StatusRejected    Status = "REJECTED"
	StatusRefunded    Status = "REFUNDED"
	StatusTransferred Status = "TRANSFERRED"
	StatusPostponed   Status = "POSTPONED"
	StatusCanceled    Status = "CANCELED"
	StatusMigrated    Status = "MIGRATED"
)

// Statuses lists every status in declaration order.
var Statuses = []Status{
	StatusCreated, StatusPaid, StatusApproved, StatusRejected, StatusRefunded,
	StatusTransferred, StatusPostponed, StatusCanceled, StatusMigrated,
}

// ParseStatus validates a status name coming from the outside.
func ParseStatus(s string) (Status, bool) {
	for _, st := range Statuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// Reservation (a ticket) is a priced claim on the capacity of exactly
// one ScheduledEvent.  Its lifecycle is independent of the dialogue that
// created it.
//
// Fields:
//  ID               – primary key identifier.
//  TicketTypeID     – ticket type bought.
//  ScheduledEventID – schedule the seats are taken from.
//  Seats            – capacity held, copied from the ticket type at
//                     creation so later catalog edits cannot change
//                     what gets released.
//  PriceCents       – price at creation time.
//  Status           – lifecycle state.
//  UserID / ChatID  – owning chat user and the chat to notify.
//  People           – buyer first, then dependents.
//  PaymentRef       – gateway payment id, if any.
//  Notes            – operator-visible notes, newest last.
//  MigratedFrom     – source reservation of a migration.
type Reservation struct {
	ID               uint64
	TicketTypeID     uint64
	ScheduledEventID uint64
	Seats            Seats
	PriceCents       int64
	Status           Status
	UserID           int64
	ChatID           int64
	People           []Person
	PaymentRef       *string
	Notes            string
	MigratedFrom     *uint64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Buyer returns the first attached person with the buyer role.
func (r Reservation) Buyer() (Person, bool) {
	for _, p := range r.People {
		if p.Role == RoleBuyer {
			return p, true
		}
	}
	return Person{}, false
}

// PersonRole tells the buyer apart from dependents.
type PersonRole string

const (
	RoleBuyer     PersonRole = "BUYER"
	RoleDependent PersonRole = "DEPENDENT"
)

// Person is someone attached to a reservation.
type Person struct {
	ID        uint64     `json:"id,omitempty"`
	FullName  string     `json:"full_name"`
	Role      PersonRole `json:"role"`
	Phone     string     `json:"phone,omitempty"`
	Email     string     `json:"email,omitempty"`
	BirthDate *time.Time `json:"birth_date,omitempty"`
}
