package model

// TicketType is a priced way to attend an event.  A family ticket might
// consume two child seats and one adult seat.
//
// Fields:
//  ID         – primary key identifier.
//  EventID    – event the ticket type is sold for.
//  Name       – label shown on the TICKET step.
//  Seats      – capacity consumed per ticket.
//  PriceCents – price in minor currency units.
//  Individual – negotiated ticket; staff approves it directly without
//               online payment.
//  SeasonPass – season pass holders; informational only.
type TicketType struct {
	ID         uint64 // ticket_types.id
	EventID    uint64 // ticket_types.event_id
	Name       string // ticket_types.name
	Seats      Seats  // ticket_types.child_seats / adult_seats
	PriceCents int64  // ticket_types.price_cents
	Individual bool   // ticket_types.is_individual
	SeasonPass bool   // ticket_types.is_season_pass
}
