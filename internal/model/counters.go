package model

import "fmt"

// Seats is the capacity one ticket consumes.
type Seats struct {
	Child int `json:"child"`
	Adult int `json:"adult"`
}

// IsZero reports whether the ticket consumes no capacity at all.
func (s Seats) IsZero() bool { return s.Child == 0 && s.Adult == 0 }

// Counters are the capacity counters of a ScheduledEvent.  Free seats can
// be reserved; pending seats are held by reservations awaiting payment
// or approval.  Seats that are neither free nor pending are sold.
type Counters struct {
	ChildTotal   int `json:"child_total"`
	ChildFree    int `json:"child_free"`
	ChildPending int `json:"child_pending"`
	AdultTotal   int `json:"adult_total"`
	AdultFree    int `json:"adult_free"`
	AdultPending int `json:"adult_pending"`
}

// Delta is a signed change to the free and pending counters.  Totals are
// never changed by the reservation core.
type Delta struct {
	ChildFree    int `json:"child_free"`
	ChildPending int `json:"child_pending"`
	AdultFree    int `json:"adult_free"`
	AdultPending int `json:"adult_pending"`
}

func (d Delta) String() string {
	return fmt.Sprintf("child free%+d pending%+d, adult free%+d pending%+d",
		d.ChildFree, d.ChildPending, d.AdultFree, d.AdultPending)
}

// Apply returns the counters after d.  It does not validate the result.
func (c Counters) Apply(d Delta) Counters {
	c.ChildFree += d.ChildFree
	c.ChildPending += d.ChildPending
	c.AdultFree += d.AdultFree
	c.AdultPending += d.AdultPending
	return c
}

// Valid reports whether both kinds satisfy 0 <= free, 0 <= pending and
// free + pending <= total.
func (c Counters) Valid() bool {
	return within(c.ChildFree, c.ChildPending, c.ChildTotal) &&
		within(c.AdultFree, c.AdultPending, c.AdultTotal)
}

func within(free, pending, total int) bool {
	return free >= 0 && pending >= 0 && free+pending <= total
}

// Fits reports whether s can be taken from the free pool.
func (c Counters) Fits(s Seats) bool {
	return c.ChildFree >= s.Child && c.AdultFree >= s.Adult
}
