// Package session holds the per-user dialogue state.  A Session is a plain
// typed struct so it can be stored as JSON and resumed after a restart.
package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/event-seat-bot/internal/chat"
)

// Step is a dialogue step.  CANCELED and COMPLETED are exits.
type Step string

const (
	StepMonth           Step = "MONTH"
	StepEvent           Step = "EVENT"
	StepDate            Step = "DATE"
	StepTime            Step = "TIME"
	StepTicket          Step = "TICKET"
	StepAgreement       Step = "AGREEMENT"
	StepContactEmail    Step = "CONTACT_EMAIL"
	StepBuyerName       Step = "BUYER_NAME"
	StepBuyerPhone      Step = "BUYER_PHONE"
	StepDependents      Step = "DEPENDENTS"
	StepPaymentPending  Step = "PAYMENT_PENDING"
	StepWaitlistOffer   Step = "WAITLIST_OFFER"
	StepWaitlistContact Step = "WAITLIST_CONTACT"
	StepCanceled        Step = "CANCELED"
	StepCompleted       Step = "COMPLETED"
)

// Exit reports whether the step ends the dialogue.
func (s Step) Exit() bool { return s == StepCanceled || s == StepCompleted }

// Rendered is what was shown to the user for a step.
type Rendered struct {
	Text    string        `json:"text"`
	Options []chat.Option `json:"options,omitempty"`
}

// HasOption reports whether value is one of the rendered buttons.
func (r Rendered) HasOption(value string) bool {
	for _, o := range r.Options {
		if o.Value == value {
			return true
		}
	}
	return false
}

// Dependent is a person travelling on the buyer's ticket.
type Dependent struct {
	FullName  string    `json:"full_name"`
	BirthDate time.Time `json:"birth_date"`
}

// Selection is everything the user picked so far.
type Selection struct {
	Month           string      `json:"month,omitempty"` // YYYY-MM
	EventID         uint64      `json:"event_id,omitempty"`
	Date            string      `json:"date,omitempty"` // YYYY-MM-DD
	ScheduleID      uint64      `json:"schedule_id,omitempty"`
	TicketTypeID    uint64      `json:"ticket_type_id,omitempty"`
	Agreed          bool        `json:"agreed,omitempty"`
	Email           string      `json:"email,omitempty"`
	BuyerName       string      `json:"buyer_name,omitempty"`
	BuyerPhone      string      `json:"buyer_phone,omitempty"`
	Dependents      []Dependent `json:"dependents,omitempty"`
	WaitlistContact string      `json:"waitlist_contact,omitempty"`
}

// Path identifies the catalog choices that lead to step.  Two visits of a
// step share a snapshot only when they were reached the same way.
func (s Selection) Path(step Step) string {
	parts := []string{string(step)}
	add := func(v string) { parts = append(parts, v) }
	switch step {
	case StepMonth:
	case StepEvent:
		add(s.Month)
	case StepDate:
		add(s.Month)
		add(fmt.Sprint(s.EventID))
	case StepTime:
		add(s.Month)
		add(fmt.Sprint(s.EventID))
		add(s.Date)
	default:
		add(s.Month)
		add(fmt.Sprint(s.EventID))
		add(s.Date)
		add(fmt.Sprint(s.ScheduleID))
		add(fmt.Sprint(s.TicketTypeID))
	}
	return strings.Join(parts, "|")
}

// Frame is one entry of the back stack: the step, what was shown and
// the selection as it was before the user answered it.
type Frame struct {
	Step      Step      `json:"step"`
	Rendered  Rendered  `json:"rendered"`
	Selection Selection `json:"selection"`
}

// Session is one user's dialogue.
type Session struct {
	ID            string              `json:"id"`
	UserID        int64               `json:"user_id"`
	Step          Step                `json:"step"`
	Current       Rendered            `json:"current"`
	Stack         []Frame             `json:"stack,omitempty"`
	Selection     Selection           `json:"selection"`
	ReservationID uint64              `json:"reservation_id,omitempty"`
	PaymentID     string              `json:"payment_id,omitempty"`
	Snapshots     map[string]Rendered `json:"snapshots,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	LastActivity  time.Time           `json:"last_activity"`
}

// New starts a session at the first step.
func New(id string, userID int64, now time.Time) *Session {
	return &Session{
		ID:           id,
		UserID:       userID,
		Step:         StepMonth,
		Snapshots:    make(map[string]Rendered),
		CreatedAt:    now,
		LastActivity: now,
	}
}

// Push saves the current step before moving on.
func (s *Session) Push() {
	s.Stack = append(s.Stack, Frame{Step: s.Step, Rendered: s.Current, Selection: s.Selection})
}

// Pop restores the previous step, its rendering and its selection.  It
// returns false at the first step.
func (s *Session) Pop() bool {
	if len(s.Stack) == 0 {
		return false
	}
	f := s.Stack[len(s.Stack)-1]
	s.Stack = s.Stack[:len(s.Stack)-1]
	s.Step, s.Current, s.Selection = f.Step, f.Rendered, f.Selection
	return true
}

// PopTo unwinds the stack to the most recent frame of step.
func (s *Session) PopTo(step Step) bool {
	for i := len(s.Stack) - 1; i >= 0; i-- {
		if s.Stack[i].Step == step {
			s.Stack = s.Stack[:i+1]
			return s.Pop()
		}
	}
	return false
}

// Snapshot returns the stored rendering of step for the current path.
func (s *Session) Snapshot(step Step) (Rendered, bool) {
	r, ok := s.Snapshots[s.Selection.Path(step)]
	return r, ok
}

// Remember stores r as the rendering of step for the current path.
func (s *Session) Remember(step Step, r Rendered) {
	if s.Snapshots == nil {
		s.Snapshots = make(map[string]Rendered)
	}
	s.Snapshots[s.Selection.Path(step)] = r
}

// Idle reports how long the session has been inactive at now.
func (s *Session) Idle(now time.Time) time.Duration { return now.Sub(s.LastActivity) }
