package dialog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/iliyamo/event-seat-bot/internal/chat"
	"github.com/iliyamo/event-seat-bot/internal/inventory"
	"github.com/iliyamo/event-seat-bot/internal/model"
	"github.com/iliyamo/event-seat-bot/internal/reservation"
	"github.com/iliyamo/event-seat-bot/internal/session"
	"github.com/iliyamo/event-seat-bot/internal/ticket"
)

const (
	valueAgree     = "agree"
	valueOtherTime = "other_time"
	valueJoin      = "join"
)

const agreement = `Before you continue, please confirm the booking rules:
- Tickets are valid only for the chosen date and time.
- Children must be accompanied by an adult.
- Unpaid reservations are released automatically.`

var (
	backOption   = chat.Option{Label: "« Back", Value: valueBack}
	cancelOption = chat.Option{Label: "Cancel", Value: valueCancel}
)

var errUnavailable = errors.New("Something went wrong on our side. Please try again in a moment.")

func (e *Engine) step(ctx context.Context, sess *session.Session, ev chat.Inbound) {
	switch sess.Step {
	case session.StepMonth, session.StepEvent, session.StepDate, session.StepTime,
		session.StepTicket, session.StepAgreement, session.StepWaitlistOffer:
		value, ok := chosen(sess.Current, ev)
		if !ok {
			e.reject(ctx, sess, errButton)
			return
		}
		e.choose(ctx, sess, value)
	case session.StepPaymentPending:
		if ev.Kind != chat.KindAttachment || ev.Attachment == nil {
			e.reject(ctx, sess, errors.New("Please complete the payment or upload a photo of your payment receipt."))
			return
		}
		e.receipt(ctx, sess, *ev.Attachment)
	default:
		if ev.Kind != chat.KindText || strings.TrimSpace(ev.Payload) == "" {
			e.reject(ctx, sess, errText)
			return
		}
		e.answer(ctx, sess, ev.Payload)
	}
}

// chosen finds the option the event picks.  Buttons match by value, typed
// text by label.
func chosen(r session.Rendered, ev chat.Inbound) (string, bool) {
	p := strings.TrimSpace(ev.Payload)
	switch ev.Kind {
	case chat.KindButton:
		return p, r.HasOption(p)
	case chat.KindText:
		for _, o := range r.Options {
			if o.Value == valueBack || o.Value == valueCancel {
				continue
			}
			if strings.EqualFold(o.Label, p) {
				return o.Value, true
			}
		}
	}
	return "", false
}

// choose handles the button steps.
func (e *Engine) choose(ctx context.Context, sess *session.Session, value string) {
	switch sess.Step {
	case session.StepMonth:
		e.advance(ctx, sess, session.StepEvent, func(s *session.Selection) { s.Month = value })
	case session.StepEvent:
		id, _ := strconv.ParseUint(value, 10, 64)
		e.advance(ctx, sess, session.StepDate, func(s *session.Selection) { s.EventID = id })
	case session.StepDate:
		e.advance(ctx, sess, session.StepTime, func(s *session.Selection) { s.Date = value })
	case session.StepTime:
		id, _ := strconv.ParseUint(value, 10, 64)
		c, err := e.Availability.Availability(ctx, id)
		if err != nil {
			e.Log.Errorf("session %s: availability of %d: %v", sess.ID, id, err)
			e.reject(ctx, sess, errUnavailable)
			return
		}
		next := session.StepTicket
		if c.ChildFree == 0 {
			next = session.StepWaitlistOffer
		}
		e.advance(ctx, sess, next, func(s *session.Selection) { s.ScheduleID = id })
	case session.StepTicket:
		id, _ := strconv.ParseUint(value, 10, 64)
		tt, err := e.Tickets.GetByID(ctx, id)
		if err != nil {
			e.Log.Errorf("session %s: ticket type %d: %v", sess.ID, id, err)
			e.reject(ctx, sess, errUnavailable)
			return
		}
		c, err := e.Availability.Availability(ctx, sess.Selection.ScheduleID)
		if err != nil {
			e.Log.Errorf("session %s: availability of %d: %v", sess.ID, sess.Selection.ScheduleID, err)
			e.reject(ctx, sess, errUnavailable)
			return
		}
		next := session.StepAgreement
		if c.ChildFree == 0 || !c.Fits(tt.Seats) {
			next = session.StepWaitlistOffer
		}
		e.advance(ctx, sess, next, func(s *session.Selection) { s.TicketTypeID = id })
	case session.StepAgreement:
		e.advance(ctx, sess, session.StepContactEmail, func(s *session.Selection) { s.Agreed = true })
	case session.StepWaitlistOffer:
		if value == valueOtherTime {
			if !sess.PopTo(session.StepDate) {
				sess.Pop()
			}
			e.send(ctx, sess.ID, sess.Current.Text, sess.Current.Options)
			return
		}
		e.advance(ctx, sess, session.StepWaitlistContact, func(*session.Selection) {})
	}
}

// answer handles the free text steps.
func (e *Engine) answer(ctx context.Context, sess *session.Session, text string) {
	switch sess.Step {
	case session.StepContactEmail:
		email, err := ValidEmail(text)
		if err != nil {
			e.reject(ctx, sess, err)
			return
		}
		e.advance(ctx, sess, session.StepBuyerName, func(s *session.Selection) { s.Email = email })
	case session.StepBuyerName:
		name, err := ValidName(text)
		if err != nil {
			e.reject(ctx, sess, err)
			return
		}
		e.advance(ctx, sess, session.StepBuyerPhone, func(s *session.Selection) { s.BuyerName = name })
	case session.StepBuyerPhone:
		phone, err := ValidPhone(text)
		if err != nil {
			e.reject(ctx, sess, err)
			return
		}
		tt, err := e.Tickets.GetByID(ctx, sess.Selection.TicketTypeID)
		if err != nil {
			e.Log.Errorf("session %s: ticket type %d: %v", sess.ID, sess.Selection.TicketTypeID, err)
			e.reject(ctx, sess, errUnavailable)
			return
		}
		if DependentsNeeded(tt.Seats) > 0 {
			e.advance(ctx, sess, session.StepDependents, func(s *session.Selection) { s.BuyerPhone = phone })
			return
		}
		sess.Push()
		sess.Selection.BuyerPhone = phone
		e.book(ctx, sess, tt)
	case session.StepDependents:
		tt, err := e.Tickets.GetByID(ctx, sess.Selection.TicketTypeID)
		if err != nil {
			e.Log.Errorf("session %s: ticket type %d: %v", sess.ID, sess.Selection.TicketTypeID, err)
			e.reject(ctx, sess, errUnavailable)
			return
		}
		deps, err := ParseDependents(text, DependentsNeeded(tt.Seats), e.Clock.Now())
		if err != nil {
			e.reject(ctx, sess, err)
			return
		}
		sess.Push()
		sess.Selection.Dependents = deps
		e.book(ctx, sess, tt)
	case session.StepWaitlistContact:
		contact, err := ValidEmail(text)
		if err != nil {
			contact, err = ValidPhone(text)
		}
		if err != nil {
			e.reject(ctx, sess, errors.New("Please send an email address or a phone number."))
			return
		}
		e.joinWaitlist(ctx, sess, contact)
	}
}

// DependentsNeeded is how many guests besides the buyer a ticket admits.
// The buyer takes one of the adult seats.
func DependentsNeeded(s model.Seats) int {
	n := s.Child
	if s.Adult > 1 {
		n += s.Adult - 1
	}
	return n
}

// advance records the current step on the back stack, applies the answer
// and shows next.  If next cannot be rendered the session is left as it
// was.
func (e *Engine) advance(ctx context.Context, sess *session.Session, next session.Step, apply func(*session.Selection)) {
	sess.Push()
	apply(&sess.Selection)
	if err := e.show(ctx, sess, next, ""); err != nil {
		e.Log.Errorf("session %s: render %s: %v", sess.ID, next, err)
		sess.Pop()
		e.reject(ctx, sess, errUnavailable)
	}
}

// show renders step, reusing the snapshot taken when the same step was
// first reached along the same path.
func (e *Engine) show(ctx context.Context, sess *session.Session, step session.Step, prefix string) error {
	r, ok := sess.Snapshot(step)
	if !ok {
		var err error
		r, err = e.render(ctx, sess, step)
		if err != nil {
			return err
		}
		sess.Remember(step, r)
	}
	sess.Step, sess.Current = step, r
	text := r.Text
	if prefix != "" {
		text = prefix + "\n\n" + text
	}
	e.send(ctx, sess.ID, text, r.Options)
	return nil
}

func (e *Engine) render(ctx context.Context, sess *session.Session, step session.Step) (session.Rendered, error) {
	sel := sess.Selection
	nav := []chat.Option{backOption, cancelOption}
	switch step {
	case session.StepMonth:
		now := e.Clock.Now().In(e.opts.Location)
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, e.opts.Location)
		var opts []chat.Option
		for i := 0; i < e.opts.MonthsAhead; i++ {
			m := first.AddDate(0, i, 0)
			opts = append(opts, chat.Option{Label: m.Format("January 2006"), Value: m.Format("2006-01")})
		}
		return session.Rendered{Text: "Welcome! Which month would you like to visit?", Options: append(opts, cancelOption)}, nil

	case session.StepEvent:
		from, to, err := e.month(sel.Month)
		if err != nil {
			return session.Rendered{}, err
		}
		events, err := e.Catalog.ListEventsBetween(ctx, from, to)
		if err != nil {
			return session.Rendered{}, err
		}
		if len(events) == 0 {
			return session.Rendered{Text: "There are no events in this month. Please go back and pick another one.", Options: nav}, nil
		}
		var opts []chat.Option
		for _, ev := range events {
			opts = append(opts, chat.Option{Label: ev.Title, Value: strconv.FormatUint(ev.ID, 10)})
		}
		return session.Rendered{Text: "Please choose an event.", Options: append(opts, nav...)}, nil

	case session.StepDate:
		from, to, err := e.month(sel.Month)
		if err != nil {
			return session.Rendered{}, err
		}
		scheds, err := e.Catalog.ListSchedulesBetween(ctx, sel.EventID, from, to)
		if err != nil {
			return session.Rendered{}, err
		}
		var opts []chat.Option
		seen := map[string]bool{}
		for _, s := range scheds {
			local := s.StartsAt.In(e.opts.Location)
			day := local.Format("2006-01-02")
			if seen[day] {
				continue
			}
			seen[day] = true
			opts = append(opts, chat.Option{Label: local.Format("Mon 02.01"), Value: day})
		}
		title := e.title(ctx, sel.EventID)
		if len(opts) == 0 {
			return session.Rendered{Text: title + "\n\nThere are no dates left in this month.", Options: nav}, nil
		}
		return session.Rendered{Text: title + "\n\nPlease choose a date.", Options: append(opts, nav...)}, nil

	case session.StepTime:
		day, err := time.ParseInLocation("2006-01-02", sel.Date, e.opts.Location)
		if err != nil {
			return session.Rendered{}, err
		}
		from := day
		if now := e.Clock.Now(); now.After(from) {
			from = now
		}
		scheds, err := e.Catalog.ListSchedulesBetween(ctx, sel.EventID, from, day.AddDate(0, 0, 1))
		if err != nil {
			return session.Rendered{}, err
		}
		var opts []chat.Option
		for _, s := range scheds {
			label := s.StartsAt.In(e.opts.Location).Format("15:04")
			if s.SoldOut() {
				label += " (sold out)"
			}
			opts = append(opts, chat.Option{Label: label, Value: strconv.FormatUint(s.ID, 10)})
		}
		text := day.Format("Monday, 02.01.2006") + "\n\nPlease choose a time."
		if len(opts) == 0 {
			text = day.Format("Monday, 02.01.2006") + "\n\nThere are no times left on this day."
		}
		return session.Rendered{Text: text, Options: append(opts, nav...)}, nil

	case session.StepTicket:
		types, err := e.Tickets.ListByEvent(ctx, sel.EventID)
		if err != nil {
			return session.Rendered{}, err
		}
		var b strings.Builder
		b.WriteString("Please choose a ticket.\n")
		var opts []chat.Option
		for _, tt := range types {
			fmt.Fprintf(&b, "\n%s: %s (%s)", tt.Name, ticket.Price(tt.PriceCents), seatsText(tt.Seats))
			if tt.Individual {
				b.WriteString(", confirmed by our staff")
			}
			opts = append(opts, chat.Option{Label: tt.Name, Value: strconv.FormatUint(tt.ID, 10)})
		}
		return session.Rendered{Text: b.String(), Options: append(opts, nav...)}, nil

	case session.StepAgreement:
		return session.Rendered{Text: agreement, Options: append([]chat.Option{{Label: "I agree", Value: valueAgree}}, nav...)}, nil
	case session.StepContactEmail:
		return session.Rendered{Text: "Please send the email address we should send your ticket to.", Options: nav}, nil
	case session.StepBuyerName:
		return session.Rendered{Text: "Please send the full name of the buyer.", Options: nav}, nil
	case session.StepBuyerPhone:
		return session.Rendered{Text: "Please send the buyer's phone number.", Options: nav}, nil
	case session.StepDependents:
		tt, err := e.Tickets.GetByID(ctx, sel.TicketTypeID)
		if err != nil {
			return session.Rendered{}, err
		}
		n := DependentsNeeded(tt.Seats)
		return session.Rendered{
			Text: fmt.Sprintf("This ticket admits %d more guest(s). Please send one line per guest:\nFull Name, DD.MM.YYYY", n),
			Options: nav,
		}, nil
	case session.StepWaitlistOffer:
		return session.Rendered{
			Text: "Sorry, there are not enough free seats for this time. You can pick another time or join the waitlist and we will contact you if seats become available.",
			Options: []chat.Option{
				{Label: "Pick another time", Value: valueOtherTime},
				{Label: "Join the waitlist", Value: valueJoin},
				cancelOption,
			},
		}, nil
	case session.StepWaitlistContact:
		return session.Rendered{Text: "Please send an email address or phone number we can reach you at.", Options: nav}, nil
	}
	return session.Rendered{}, fmt.Errorf("no rendering for step %s", step)
}

func seatsText(s model.Seats) string {
	switch {
	case s.Child > 0 && s.Adult > 0:
		return fmt.Sprintf("%d child + %d adult", s.Child, s.Adult)
	case s.Adult > 0:
		return fmt.Sprintf("%d adult", s.Adult)
	}
	return fmt.Sprintf("%d child", s.Child)
}

// month returns the part of a YYYY-MM month that is still ahead.
func (e *Engine) month(v string) (time.Time, time.Time, error) {
	first, err := time.ParseInLocation("2006-01", v, e.opts.Location)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	from := first
	if now := e.Clock.Now(); now.After(from) {
		from = now
	}
	return from, first.AddDate(0, 1, 0), nil
}

func (e *Engine) title(ctx context.Context, eventID uint64) string {
	ev, err := e.Catalog.GetEvent(ctx, eventID)
	if err != nil {
		return "Event"
	}
	return ev.Title
}

// book creates the reservation once all details are collected.  The
// caller has already pushed the step that collected the last answer.
func (e *Engine) book(ctx context.Context, sess *session.Session, tt model.TicketType) {
	sel := sess.Selection
	chatID, _ := chat.ChatID(sess.ID)
	people := []model.Person{{FullName: sel.BuyerName, Role: model.RoleBuyer, Phone: sel.BuyerPhone, Email: sel.Email}}
	for _, d := range sel.Dependents {
		born := d.BirthDate
		people = append(people, model.Person{FullName: d.FullName, Role: model.RoleDependent, BirthDate: &born})
	}

	res, err := e.Saga.Create(ctx, reservation.CreateRequest{
		TicketTypeID:     tt.ID,
		ScheduledEventID: sel.ScheduleID,
		UserID:           sess.UserID,
		ChatID:           chatID,
		People:           people,
	})
	if errors.Is(err, inventory.ErrInsufficient) {
		if err := e.show(ctx, sess, session.StepWaitlistOffer, "Those seats were just taken by someone else."); err != nil {
			e.Log.Errorf("session %s: render waitlist offer: %v", sess.ID, err)
		}
		return
	}
	if err != nil {
		e.Log.Errorf("session %s: create reservation: %v", sess.ID, err)
		sess.Pop()
		e.reject(ctx, sess, errUnavailable)
		return
	}
	sess.ReservationID = res.ID

	if tt.Individual || res.PriceCents <= 0 {
		if err := e.Approvals.RequestApproval(ctx, res, nil); err != nil {
			e.Log.Errorf("session %s: approval request for %d: %v", sess.ID, res.ID, err)
		}
		e.say(ctx, sess.ID, fmt.Sprintf("Thank you! Reservation #%d was sent to our staff. You will get your ticket once it is confirmed.", res.ID))
		e.finish(ctx, sess, session.StepCompleted)
		return
	}

	text := fmt.Sprintf("Reservation #%d: %s for %s.\n\n", res.ID, tt.Name, ticket.Price(res.PriceCents))
	pay, err := e.Payments.CreatePayment(ctx, res.PriceCents, fmt.Sprintf("Reservation #%d", res.ID), strconv.FormatUint(res.ID, 10))
	if err == nil {
		if err := e.Saga.AttachPayment(ctx, res.ID, pay.ID); err != nil {
			e.Log.Errorf("session %s: attach payment %s to %d: %v", sess.ID, pay.ID, res.ID, err)
		}
		sess.PaymentID = pay.ID
		text += "Please pay here: " + pay.RedirectURL + "\n\nIf you paid by bank transfer, upload a photo of the receipt instead."
	} else {
		e.Log.Errorf("session %s: create payment for %d: %v", sess.ID, res.ID, err)
		text += "Online payment is unavailable right now. Please pay by bank transfer and upload a photo of the receipt."
	}
	sess.Step = session.StepPaymentPending
	sess.Current = session.Rendered{Text: text, Options: []chat.Option{cancelOption}}
	e.send(ctx, sess.ID, sess.Current.Text, sess.Current.Options)
}

func (e *Engine) receipt(ctx context.Context, sess *session.Session, att chat.Attachment) {
	res, err := e.Saga.Get(ctx, sess.ReservationID)
	if err != nil {
		e.Log.Errorf("session %s: reservation %d: %v", sess.ID, sess.ReservationID, err)
		e.reject(ctx, sess, errUnavailable)
		return
	}
	if err := e.Approvals.RequestApproval(ctx, res, &att); err != nil {
		e.Log.Errorf("session %s: forward receipt for %d: %v", sess.ID, res.ID, err)
		e.reject(ctx, sess, errUnavailable)
		return
	}
	e.say(ctx, sess.ID, "Thank you! Your receipt was forwarded to our staff. You will get your ticket once the payment is confirmed.")
	e.finish(ctx, sess, session.StepCompleted)
}

func (e *Engine) joinWaitlist(ctx context.Context, sess *session.Session, contact string) {
	chatID, _ := chat.ChatID(sess.ID)
	entry := &model.WaitlistEntry{
		ScheduledEventID: sess.Selection.ScheduleID,
		ChatID:           chatID,
		Contact:          contact,
		CreatedAt:        e.Clock.Now().UTC(),
	}
	if err := e.Waitlist.Create(ctx, entry); err != nil {
		e.Log.Errorf("session %s: waitlist: %v", sess.ID, err)
		e.reject(ctx, sess, errUnavailable)
		return
	}
	sess.Selection.WaitlistContact = contact
	e.say(ctx, sess.ID, "You are on the waitlist. We will contact you if seats become available.")
	e.finish(ctx, sess, session.StepCompleted)
}
