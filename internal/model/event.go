package model

import "time"

// Event is a catalog entry such as a performance or a workshop.  It
// groups the concrete dates and times it is offered on.  Events are
// maintained elsewhere; this service only reads them.
//
// Fields:
//  ID          – primary key identifier.
//  Title       – display title shown in the EVENT step.
//  Description – optional longer text.
//  Active      – inactive events are hidden from the dialogue.
type Event struct {
	ID          uint64 // events.id
	Title       string // events.title
	Description string // events.description
	Active      bool   // events.is_active
}

// ScheduledEvent is one date/time on which an Event takes place.  It owns
// the seat counters for that date.  The counters are shared by every
// reservation for the schedule and are kept in two stores.
//
// Fields:
//  ID            – primary key identifier.
//  EventID       – catalog event this schedule belongs to.
//  StartsAt      – start time (UTC).
//  GiftEnabled   – gift certificates may be used.
//  ExtrasEnabled – extra services may be ordered.
//  Counters      – child/adult seat counters.
type ScheduledEvent struct {
	ID            uint64    // scheduled_events.id
	EventID       uint64    // scheduled_events.event_id
	StartsAt      time.Time // scheduled_events.starts_at
	GiftEnabled   bool      // scheduled_events.gift_enabled
	ExtrasEnabled bool      // scheduled_events.extras_enabled
	Counters      Counters
}

// SoldOut reports whether nobody can book this schedule any more.
func (s ScheduledEvent) SoldOut() bool { return s.Counters.ChildFree == 0 }
