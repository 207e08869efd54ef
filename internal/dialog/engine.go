// Package dialog drives the booking conversation of each chat user.  The
// engine is a state machine over session.Step: every inbound event is
// validated against the step the user is on, stored in the session and
// answered with the next step.  Events of one session must be delivered
// one at a time, which the dispatcher guarantees.
package dialog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/gommon/log"

	"github.com/iliyamo/event-seat-bot/internal/chat"
	"github.com/iliyamo/event-seat-bot/internal/model"
	"github.com/iliyamo/event-seat-bot/internal/payment"
	"github.com/iliyamo/event-seat-bot/internal/reservation"
	"github.com/iliyamo/event-seat-bot/internal/session"
)

// Control values.  Both the button values and the slash commands work.
const (
	valueBack   = "back"
	valueCancel = "cancel"
	cmdStart    = "/start"
	cmdBack     = "/back"
	cmdCancel   = "/cancel"
)

// Catalog is the read side of events and schedules.
type Catalog interface {
	ListEventsBetween(ctx context.Context, from, to time.Time) ([]model.Event, error)
	ListSchedulesBetween(ctx context.Context, eventID uint64, from, to time.Time) ([]model.ScheduledEvent, error)
	GetEvent(ctx context.Context, id uint64) (model.Event, error)
	GetByID(ctx context.Context, id uint64) (model.ScheduledEvent, error)
}

// TicketTypes lists what can be bought for an event.
type TicketTypes interface {
	ListByEvent(ctx context.Context, eventID uint64) ([]model.TicketType, error)
	GetByID(ctx context.Context, id uint64) (model.TicketType, error)
}

// Availability reads live seat counters.
type Availability interface {
	Availability(ctx context.Context, scheduleID uint64) (model.Counters, error)
}

// Saga is the reservation service.
type Saga interface {
	Create(ctx context.Context, req reservation.CreateRequest) (model.Reservation, error)
	Get(ctx context.Context, id uint64) (model.Reservation, error)
	Transition(ctx context.Context, id uint64, to model.Status, note string) (model.Reservation, error)
	AttachPayment(ctx context.Context, id uint64, paymentRef string) error
}

// Payments creates payment links.
type Payments interface {
	CreatePayment(ctx context.Context, amountCents int64, description, reference string) (payment.Payment, error)
}

// Approvals forwards reservations to staff.
type Approvals interface {
	RequestApproval(ctx context.Context, res model.Reservation, receipt *chat.Attachment) error
}

// Waitlist stores waitlist signups.
type Waitlist interface {
	Create(ctx context.Context, e *model.WaitlistEntry) error
}

// Timers arms and cancels the per-session inactivity timer.
type Timers interface {
	ScheduleOnce(delay time.Duration, key string, cb func())
	Cancel(key string) bool
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Sessions     session.Store
	Sender       chat.Sender
	Catalog      Catalog
	Tickets      TicketTypes
	Availability Availability
	Saga         Saga
	Payments     Payments
	Approvals    Approvals
	Waitlist     Waitlist
	Timers       Timers
	Clock        clockwork.Clock
	Log          *log.Logger
}

// Options tune the dialogue.
type Options struct {
	Timeout     time.Duration // idle time before a session is abandoned
	MonthsAhead int           // months offered at the MONTH step
	Location    *time.Location
}

// Engine handles inbound chat events.
type Engine struct {
	Deps
	opts   Options
	submit func(chat.Inbound) error
}

func New(d Deps, opts Options) *Engine {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Minute
	}
	if opts.MonthsAhead <= 0 {
		opts.MonthsAhead = 3
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Engine{Deps: d, opts: opts}
}

// SetSubmit sets where timer fires are delivered, normally the
// dispatcher.  Without it timeouts are handled on the timer goroutine.
func (e *Engine) SetSubmit(submit func(chat.Inbound) error) { e.submit = submit }

// Handle processes one inbound event.  Errors are logged; the user gets
// a generic apology when something outside their control failed.
func (e *Engine) Handle(ctx context.Context, ev chat.Inbound) {
	sess, err := e.Sessions.Get(ctx, ev.SessionID)
	if errors.Is(err, session.ErrNotFound) {
		sess, err = nil, nil
	}
	if err != nil {
		e.Log.Errorf("session %s: load: %v", ev.SessionID, err)
		return
	}

	switch ev.Kind {
	case chat.KindTimeout:
		e.onTimeout(ctx, sess)
		return
	case chat.KindPayment:
		e.onPayment(ctx, sess, ev)
		return
	}

	cmd := command(ev)
	if sess == nil {
		if cmd != cmdStart {
			e.say(ctx, ev.SessionID, "Send /start to book seats.")
			return
		}
		sess = session.New(ev.SessionID, ev.UserID, e.Clock.Now().UTC())
		e.Log.Infof("session %s started", sess.ID)
		e.show(ctx, sess, session.StepMonth, "")
		e.persist(ctx, sess)
		return
	}

	sess.LastActivity = e.Clock.Now().UTC()
	switch cmd {
	case cmdStart:
		e.send(ctx, sess.ID, "You already have a booking in progress. Press Cancel to drop it before starting a new one.",
			[]chat.Option{{Label: "Cancel", Value: valueCancel}})
		e.persist(ctx, sess)
	case cmdCancel:
		e.cancel(ctx, sess, "Booking canceled. Send /start to begin again.")
	case cmdBack:
		if sess.Step == session.StepPaymentPending {
			e.reject(ctx, sess, errors.New("Your seats are already reserved. Pay, upload a receipt or cancel."))
		} else {
			sess.Pop()
			e.send(ctx, sess.ID, sess.Current.Text, sess.Current.Options)
		}
		e.persist(ctx, sess)
	default:
		e.step(ctx, sess, ev)
		if !sess.Step.Exit() {
			e.persist(ctx, sess)
		}
	}
}

// command maps the control buttons, their typed labels and the slash
// commands to one value.
func command(ev chat.Inbound) string {
	p := strings.TrimSpace(ev.Payload)
	switch ev.Kind {
	case chat.KindButton:
		switch p {
		case valueBack:
			return cmdBack
		case valueCancel:
			return cmdCancel
		}
	case chat.KindText:
		switch {
		case strings.EqualFold(p, backOption.Label):
			return cmdBack
		case strings.EqualFold(p, cancelOption.Label):
			return cmdCancel
		}
		f := strings.Fields(strings.ToLower(p))
		if len(f) == 0 {
			return ""
		}
		c, _, _ := strings.Cut(f[0], "@")
		switch c {
		case cmdStart, cmdBack, cmdCancel:
			return c
		}
	}
	return ""
}

// persist saves the session and re-arms its inactivity timer.
func (e *Engine) persist(ctx context.Context, sess *session.Session) {
	if err := e.Sessions.Save(ctx, sess); err != nil {
		e.Log.Errorf("session %s: save: %v", sess.ID, err)
	}
	e.arm(sess.ID, e.opts.Timeout)
}

func (e *Engine) arm(id string, delay time.Duration) {
	if e.Timers == nil {
		return
	}
	e.Timers.ScheduleOnce(delay, id, func() {
		ev := chat.Inbound{SessionID: id, Kind: chat.KindTimeout, Timestamp: e.Clock.Now().UTC()}
		if e.submit == nil {
			e.Handle(context.Background(), ev)
			return
		}
		if err := e.submit(ev); err != nil {
			e.Log.Warnf("session %s: timeout not delivered: %v", id, err)
		}
	})
}

// finish deletes the session after it reached an exit step.
func (e *Engine) finish(ctx context.Context, sess *session.Session, step session.Step) {
	sess.Step = step
	if e.Timers != nil {
		e.Timers.Cancel(sess.ID)
	}
	if err := e.Sessions.Delete(ctx, sess.ID); err != nil {
		e.Log.Errorf("session %s: delete: %v", sess.ID, err)
	}
	e.Log.Infof("session %s %s", sess.ID, strings.ToLower(string(step)))
}

// cancel drops the session and the reservation it created, if that is
// still unpaid.
func (e *Engine) cancel(ctx context.Context, sess *session.Session, text string) {
	e.releaseHold(ctx, sess, "canceled by the user")
	e.say(ctx, sess.ID, text)
	e.finish(ctx, sess, session.StepCanceled)
}

func (e *Engine) releaseHold(ctx context.Context, sess *session.Session, note string) {
	if sess.ReservationID == 0 {
		return
	}
	_, err := e.Saga.Transition(ctx, sess.ReservationID, model.StatusCanceled, note)
	switch {
	case err == nil:
	case errors.Is(err, reservation.ErrInvalidTransition):
		e.Log.Infof("session %s: reservation %d already moved on", sess.ID, sess.ReservationID)
	default:
		e.Log.Errorf("session %s: cancel reservation %d: %v", sess.ID, sess.ReservationID, err)
	}
}

func (e *Engine) onTimeout(ctx context.Context, sess *session.Session) {
	if sess == nil {
		return
	}
	if idle := sess.Idle(e.Clock.Now()); idle < e.opts.Timeout {
		e.arm(sess.ID, e.opts.Timeout-idle)
		return
	}
	e.releaseHold(ctx, sess, "session timed out")
	e.say(ctx, sess.ID, "Your booking expired because there was no activity. Any held seats have been released. Send /start to try again.")
	e.finish(ctx, sess, session.StepCanceled)
}

// PaymentPayload builds the payload of a KindPayment event.
func PaymentPayload(status payment.Status, paymentID string) string {
	return string(status) + ":" + paymentID
}

func (e *Engine) onPayment(ctx context.Context, sess *session.Session, ev chat.Inbound) {
	raw, paymentID, _ := strings.Cut(ev.Payload, ":")
	if sess == nil || sess.Step != session.StepPaymentPending || sess.PaymentID != paymentID {
		return
	}
	switch payment.Status(raw) {
	case payment.StatusSucceeded:
		e.say(ctx, sess.ID, "Payment received, thank you! You will get your ticket as soon as staff confirm the booking.")
		e.finish(ctx, sess, session.StepCompleted)
	case payment.StatusFailed:
		e.say(ctx, sess.ID, "The payment did not go through and the reservation was canceled. Send /start to try again.")
		e.finish(ctx, sess, session.StepCanceled)
	}
}

// Restore re-arms the inactivity timer of every stored session with the
// time it had left.  Sessions that expired while the process was down
// are timed out right away.
func (e *Engine) Restore(ctx context.Context) (int, error) {
	all, err := e.Sessions.List(ctx)
	if err != nil {
		return 0, err
	}
	now := e.Clock.Now()
	for _, s := range all {
		left := e.opts.Timeout - s.Idle(now)
		if left < 0 {
			left = 0
		}
		e.arm(s.ID, left)
	}
	return len(all), nil
}

func (e *Engine) say(ctx context.Context, id, text string) {
	e.send(ctx, id, text, nil)
}

func (e *Engine) send(ctx context.Context, id, text string, opts []chat.Option) {
	if _, err := e.Sender.Send(ctx, chat.Outbound{SessionID: id, Text: text, Options: opts}); err != nil {
		e.Log.Warnf("session %s: send: %v", id, err)
	}
}

// reject re-renders the current step below an error line.
func (e *Engine) reject(ctx context.Context, sess *session.Session, cause error) {
	e.send(ctx, sess.ID, fmt.Sprintf("%v\n\n%s", cause, sess.Current.Text), sess.Current.Options)
}
