package model

import "time"

// WaitlistEntry records interest in a sold-out schedule.  It never holds
// capacity; staff work through the list by hand.
type WaitlistEntry struct {
	ID               uint64
	ScheduledEventID uint64
	ChatID           int64
	Contact          string
	CreatedAt        time.Time
}

// Drift records a Store A write that failed after Store B had already
// accepted the change.  Store B stays authoritative; the reconciler
// pushes its counters to Store A until ResolvedAt is set.
type Drift struct {
	ID               uint64
	ScheduledEventID uint64
	Delta            Delta
	Counters         Counters // Store B counters after the change
	Error            string
	CreatedAt        time.Time
	ResolvedAt       *time.Time
}
