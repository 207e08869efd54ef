// Package admin posts approval requests to the staff chat and applies the
// staff decisions.  Every request message is recorded as outstanding; the
// first click on it takes the record, later clicks find nothing and do
// nothing.
package admin

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/gommon/log"

	"github.com/iliyamo/event-seat-bot/internal/chat"
	"github.com/iliyamo/event-seat-bot/internal/model"
	"github.com/iliyamo/event-seat-bot/internal/reservation"
	"github.com/iliyamo/event-seat-bot/internal/ticket"
)

const (
	actionApprove = "approve"
	actionReject  = "reject"
)

// Saga is the part of the reservation service staff decisions use.
type Saga interface {
	Get(ctx context.Context, id uint64) (model.Reservation, error)
	Transition(ctx context.Context, id uint64, to model.Status, note string) (model.Reservation, error)
}

// Catalog resolves what is printed on a ticket.
type Catalog interface {
	GetByID(ctx context.Context, id uint64) (model.ScheduledEvent, error)
	GetEvent(ctx context.Context, id uint64) (model.Event, error)
}

// TicketTypes resolves ticket type names.
type TicketTypes interface {
	GetByID(ctx context.Context, id uint64) (model.TicketType, error)
}

// Channel is the staff side of the bot.
type Channel struct {
	staff     string
	sender    chat.Sender
	saga      Saga
	approvals ApprovalStore
	catalog   Catalog
	tickets   TicketTypes
	clock     clockwork.Clock
	log       *log.Logger
}

// NewChannel posts to the staff chat identified by staffSession.
func NewChannel(staffSession string, sender chat.Sender, saga Saga, approvals ApprovalStore,
	catalog Catalog, tickets TicketTypes, clock clockwork.Clock, logger *log.Logger) *Channel {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Channel{staff: staffSession, sender: sender, saga: saga, approvals: approvals,
		catalog: catalog, tickets: tickets, clock: clock, log: logger}
}

// StaffSession returns the session id of the staff chat.
func (c *Channel) StaffSession() string { return c.staff }

// RequestApproval posts res to the staff chat with approve and reject
// buttons.  A payment receipt, when given, is attached to the message.
func (c *Channel) RequestApproval(ctx context.Context, res model.Reservation, receipt *chat.Attachment) error {
	out := chat.Outbound{
		SessionID: c.staff,
		Text:      c.describe(ctx, res, receipt != nil),
		Options: []chat.Option{
			{Label: "Approve", Value: fmt.Sprintf("%s:%d", actionApprove, res.ID)},
			{Label: "Reject", Value: fmt.Sprintf("%s:%d", actionReject, res.ID)},
		},
	}
	if receipt != nil {
		out.Attachments = []chat.Attachment{*receipt}
	}
	ref, err := c.sender.Send(ctx, out)
	if err != nil {
		return fmt.Errorf("approval request for %d: %w", res.ID, err)
	}
	if err := c.approvals.Put(ctx, ref, Approval{ReservationID: res.ID, RequestedAt: c.clock.Now().UTC()}); err != nil {
		_ = c.sender.ClearControls(ctx, ref)
		return fmt.Errorf("record approval %s: %w", ref, err)
	}
	c.log.Infof("approval for reservation %d requested (%s)", res.ID, ref)
	return nil
}

func (c *Channel) describe(ctx context.Context, res model.Reservation, hasReceipt bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Reservation #%d (%s)\n", res.ID, res.Status)
	if s, err := c.catalog.GetByID(ctx, res.ScheduledEventID); err == nil {
		title := fmt.Sprintf("event %d", s.EventID)
		if ev, err := c.catalog.GetEvent(ctx, s.EventID); err == nil {
			title = ev.Title
		}
		fmt.Fprintf(&b, "%s, %s\n", title, s.StartsAt.Format("02.01.2006 15:04"))
	}
	if tt, err := c.tickets.GetByID(ctx, res.TicketTypeID); err == nil {
		fmt.Fprintf(&b, "Ticket: %s\n", tt.Name)
	}
	fmt.Fprintf(&b, "Seats: %d child, %d adult\nPrice: %s\n", res.Seats.Child, res.Seats.Adult, ticket.Price(res.PriceCents))
	for _, p := range res.People {
		switch p.Role {
		case model.RoleBuyer:
			fmt.Fprintf(&b, "Buyer: %s, %s, %s\n", p.FullName, p.Phone, p.Email)
		default:
			line := p.FullName
			if p.BirthDate != nil {
				line += ", " + p.BirthDate.Format("02.01.2006")
			}
			fmt.Fprintf(&b, "Guest: %s\n", line)
		}
	}
	if hasReceipt {
		b.WriteString("Payment receipt attached.\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// ParseAction splits a button value into the action and reservation id.
func ParseAction(value string) (action string, id uint64, ok bool) {
	action, raw, found := strings.Cut(value, ":")
	if !found || (action != actionApprove && action != actionReject) {
		return "", 0, false
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return "", 0, false
	}
	return action, id, true
}

// HandleClick applies a staff button press.  It reports whether the click
// changed anything.
func (c *Channel) HandleClick(ctx context.Context, ev chat.Inbound) (bool, error) {
	action, id, ok := ParseAction(ev.Payload)
	if !ok {
		return false, nil
	}
	a, ok, err := c.approvals.Take(ctx, ev.MessageRef)
	if err != nil {
		return false, fmt.Errorf("take approval %s: %w", ev.MessageRef, err)
	}
	if !ok {
		c.log.Debugf("click on %s without outstanding approval ignored", ev.MessageRef)
		return false, nil
	}
	if a.ReservationID != id {
		c.log.Warnf("click on %s names reservation %d, message was for %d", ev.MessageRef, id, a.ReservationID)
		_ = c.approvals.Put(ctx, ev.MessageRef, a)
		return false, nil
	}

	to, verb := model.StatusApproved, "approved"
	if action == actionReject {
		to, verb = model.StatusRejected, "rejected"
	}
	res, err := c.saga.Transition(ctx, id, to, fmt.Sprintf("%s by staff user %d", verb, ev.UserID))
	if errors.Is(err, reservation.ErrInvalidTransition) {
		c.clear(ctx, ev.MessageRef)
		c.say(ctx, fmt.Sprintf("Reservation #%d can no longer be %s.", id, verb))
		return false, nil
	}
	if err != nil {
		// Leave the request open so staff can press again.
		_ = c.approvals.Put(ctx, ev.MessageRef, a)
		c.say(ctx, fmt.Sprintf("Reservation #%d could not be %s: %v", id, verb, err))
		return false, err
	}
	c.clear(ctx, ev.MessageRef)
	c.say(ctx, fmt.Sprintf("Reservation #%d %s.", id, verb))
	c.notifyBuyer(ctx, res)
	return true, nil
}

func (c *Channel) clear(ctx context.Context, ref string) {
	if err := c.sender.ClearControls(ctx, ref); err != nil {
		c.log.Warnf("clear controls of %s: %v", ref, err)
	}
}

func (c *Channel) say(ctx context.Context, text string) {
	if _, err := c.sender.Send(ctx, chat.Outbound{SessionID: c.staff, Text: text}); err != nil {
		c.log.Warnf("staff message: %v", err)
	}
}

func (c *Channel) notifyBuyer(ctx context.Context, res model.Reservation) {
	out := chat.Outbound{SessionID: chat.SessionID(res.ChatID)}
	switch res.Status {
	case model.StatusApproved:
		out.Text = fmt.Sprintf("Your reservation #%d is confirmed. Your ticket is attached.", res.ID)
		atts, err := c.ticket(ctx, res)
		if err != nil {
			c.log.Errorf("ticket for reservation %d: %v", res.ID, err)
			out.Text = fmt.Sprintf("Your reservation #%d is confirmed. Ticket code: %s", res.ID, ticket.Code(res.ID))
		}
		out.Attachments = atts
	case model.StatusRejected:
		out.Text = fmt.Sprintf("Sorry, your reservation #%d was declined. Please contact us if you have questions.", res.ID)
	default:
		return
	}
	if _, err := c.sender.Send(ctx, out); err != nil {
		c.log.Warnf("notify buyer of %d: %v", res.ID, err)
	}
}

func (c *Channel) ticket(ctx context.Context, res model.Reservation) ([]chat.Attachment, error) {
	d := ticket.Data{
		ReservationID: res.ID,
		ChildSeats:    res.Seats.Child,
		AdultSeats:    res.Seats.Adult,
		PriceCents:    res.PriceCents,
	}
	s, err := c.catalog.GetByID(ctx, res.ScheduledEventID)
	if err != nil {
		return nil, err
	}
	d.StartsAt = s.StartsAt
	if ev, err := c.catalog.GetEvent(ctx, s.EventID); err == nil {
		d.EventTitle = ev.Title
	}
	if tt, err := c.tickets.GetByID(ctx, res.TicketTypeID); err == nil {
		d.TicketName = tt.Name
	}
	for _, p := range res.People {
		if p.Role == model.RoleBuyer {
			d.Guest = p.FullName
		} else {
			d.Dependents = append(d.Dependents, p.FullName)
		}
	}
	return ticket.Render(d)
}

// AwaitingDecision reports whether staff still have to approve or reject
// reservation id.
func (c *Channel) AwaitingDecision(ctx context.Context, id uint64) (bool, error) {
	return c.approvals.Outstanding(ctx, id)
}

// NotifyStaff posts a plain note to the staff chat.
func (c *Channel) NotifyStaff(ctx context.Context, text string) error {
	_, err := c.sender.Send(ctx, chat.Outbound{SessionID: c.staff, Text: text})
	return err
}
