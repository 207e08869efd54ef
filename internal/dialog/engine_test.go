package dialog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/event-seat-bot/internal/chat"
	"github.com/iliyamo/event-seat-bot/internal/chat/chattest"
	"github.com/iliyamo/event-seat-bot/internal/dispatcher"
	"github.com/iliyamo/event-seat-bot/internal/logging"
	"github.com/iliyamo/event-seat-bot/internal/model"
	"github.com/iliyamo/event-seat-bot/internal/payment"
	"github.com/iliyamo/event-seat-bot/internal/repository"
	"github.com/iliyamo/event-seat-bot/internal/reservation/reservationtest"
	"github.com/iliyamo/event-seat-bot/internal/scheduler"
	"github.com/iliyamo/event-seat-bot/internal/session"
)

const user = "42"

var start = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type catalog struct {
	mu     sync.Mutex
	events map[uint64]model.Event
	scheds []model.ScheduledEvent
}

func (c *catalog) add(s model.ScheduledEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scheds = append(c.scheds, s)
}

func (c *catalog) ListEventsBetween(_ context.Context, from, to time.Time) ([]model.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	seen := map[uint64]bool{}
	var out []model.Event
	for _, s := range c.scheds {
		if !s.StartsAt.Before(from) && s.StartsAt.Before(to) && !seen[s.EventID] {
			seen[s.EventID] = true
			out = append(out, c.events[s.EventID])
		}
	}
	return out, nil
}

func (c *catalog) ListSchedulesBetween(_ context.Context, eventID uint64, from, to time.Time) ([]model.ScheduledEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []model.ScheduledEvent
	for _, s := range c.scheds {
		if s.EventID == eventID && !s.StartsAt.Before(from) && s.StartsAt.Before(to) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

func (c *catalog) GetEvent(_ context.Context, id uint64) (model.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ev, ok := c.events[id]
	if !ok {
		return ev, repository.ErrNotFound
	}
	return ev, nil
}

func (c *catalog) GetByID(_ context.Context, id uint64) (model.ScheduledEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.scheds {
		if s.ID == id {
			return s, nil
		}
	}
	return model.ScheduledEvent{}, repository.ErrNotFound
}

type ticketCatalog struct{ reservationtest.Tickets }

func (t ticketCatalog) ListByEvent(_ context.Context, eventID uint64) ([]model.TicketType, error) {
	var out []model.TicketType
	for _, tt := range t.Tickets {
		if tt.EventID == eventID {
			out = append(out, tt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type payments struct{}

func (payments) CreatePayment(_ context.Context, amount int64, _, ref string) (payment.Payment, error) {
	return payment.Payment{ID: "pay-" + ref, RedirectURL: fmt.Sprintf("https://pay.example.test/%s?amount=%d", ref, amount)}, nil
}

type approval struct {
	res     model.Reservation
	receipt *chat.Attachment
}

type approvals struct {
	mu  sync.Mutex
	all []approval
}

func (a *approvals) RequestApproval(_ context.Context, res model.Reservation, receipt *chat.Attachment) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.all = append(a.all, approval{res, receipt})
	return nil
}

type waitlist struct {
	mu  sync.Mutex
	all []model.WaitlistEntry
}

func (w *waitlist) Create(_ context.Context, e *model.WaitlistEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	e.ID = uint64(len(w.all) + 1)
	w.all = append(w.all, *e)
	return nil
}

type fixture struct {
	t         *testing.T
	h         *reservationtest.Harness
	cat       *catalog
	chat      *chattest.Recorder
	sessions  *session.MemoryStore
	approvals *approvals
	waitlist  *waitlist
	timers    *scheduler.Scheduler
	engine    *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	h := reservationtest.NewHarness(start)
	h.Seed(1, model.Counters{ChildTotal: 5, ChildFree: 5, AdultTotal: 5, AdultFree: 5})
	h.Seed(2, model.Counters{ChildTotal: 5, ChildFree: 5, AdultTotal: 5, AdultFree: 5})
	h.Tickets[1] = model.TicketType{ID: 1, EventID: 10, Name: "Kids pair", Seats: model.Seats{Child: 2}, PriceCents: 2000}
	h.Tickets[2] = model.TicketType{ID: 2, EventID: 10, Name: "Solo", Seats: model.Seats{Adult: 1}, PriceCents: 1500}
	h.Tickets[3] = model.TicketType{ID: 3, EventID: 10, Name: "Group", Seats: model.Seats{Adult: 1}, PriceCents: 9000, Individual: true}

	cat := &catalog{events: map[uint64]model.Event{10: {ID: 10, Title: "Puppet theatre", Active: true}}}
	cat.add(model.ScheduledEvent{ID: 1, EventID: 10, StartsAt: time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)})
	cat.add(model.ScheduledEvent{ID: 2, EventID: 10, StartsAt: time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)})

	f := &fixture{
		t: t, h: h, cat: cat,
		chat:      &chattest.Recorder{},
		sessions:  session.NewMemoryStore(),
		approvals: &approvals{},
		waitlist:  &waitlist{},
		timers:    scheduler.New(h.Clock, logging.Discard()),
	}
	f.engine = New(Deps{
		Sessions:     f.sessions,
		Sender:       f.chat,
		Catalog:      cat,
		Tickets:      ticketCatalog{h.Tickets},
		Availability: h.Ledger,
		Saga:         h.Service,
		Payments:     payments{},
		Approvals:    f.approvals,
		Waitlist:     f.waitlist,
		Timers:       f.timers,
		Clock:        h.Clock,
		Log:          logging.Discard(),
	}, Options{Timeout: 20 * time.Minute, MonthsAhead: 3})
	d := dispatcher.New(f.engine.Handle, logging.Discard())
	f.engine.SetSubmit(d.Submit)
	t.Cleanup(func() {
		f.timers.Stop()
		_ = d.Stop(context.Background())
	})
	return f
}

func (f *fixture) send(kind chat.Kind, payload string) chat.Outbound {
	f.t.Helper()
	f.engine.Handle(context.Background(), chat.Inbound{SessionID: user, UserID: 42, Kind: kind, Payload: payload, Timestamp: f.h.Clock.Now()})
	msg, ok := f.chat.Last(user)
	require.True(f.t, ok)
	return msg
}

func (f *fixture) press(value string) chat.Outbound { return f.send(chat.KindButton, value) }
func (f *fixture) typ(text string) chat.Outbound    { return f.send(chat.KindText, text) }

func (f *fixture) session() *session.Session {
	f.t.Helper()
	s, err := f.sessions.Get(context.Background(), user)
	require.NoError(f.t, err)
	return s
}

func (f *fixture) gone() bool {
	_, err := f.sessions.Get(context.Background(), user)
	return err == session.ErrNotFound
}

// toTicket walks a new session up to the TICKET step on schedule.
func (f *fixture) toTicket(schedule string) chat.Outbound {
	f.typ("/start")
	f.press("2026-03")
	f.press("10")
	f.press("2026-03-14")
	return f.press(schedule)
}

// toPayment books ticket 1 on schedule 1.
func (f *fixture) toPayment() chat.Outbound {
	f.toTicket("1")
	f.press("1")
	f.press("agree")
	f.typ("anna@example.com")
	f.typ("Anna Smith")
	f.typ("+49 151 12345678")
	return f.typ("Tim Smith, 01.02.2018\nLea Smith, 15.07.2020")
}

func values(opts []chat.Option) []string {
	var out []string
	for _, o := range opts {
		out = append(out, o.Value)
	}
	return out
}

func TestFullBookingReachesPayment(t *testing.T) {
	f := newFixture(t)

	msg := f.typ("/start")
	assert.Equal(t, []string{"2026-03", "2026-04", "2026-05", "cancel"}, values(msg.Options))
	msg = f.press("2026-03")
	assert.Equal(t, []string{"10", "back", "cancel"}, values(msg.Options))
	msg = f.press("10")
	assert.Contains(t, msg.Text, "Puppet theatre")
	assert.Equal(t, []string{"2026-03-14", "back", "cancel"}, values(msg.Options))
	msg = f.press("2026-03-14")
	assert.Equal(t, []string{"1", "2", "back", "cancel"}, values(msg.Options))
	msg = f.press("1")
	assert.Contains(t, msg.Text, "Kids pair: 20.00 (2 child)")
	f.press("1")
	f.press("agree")
	f.typ("Anna@Example.com")
	f.typ("Anna Smith")
	msg = f.typ("+49 151 12345678")
	assert.Contains(t, msg.Text, "2 more guest(s)")
	msg = f.typ("Tim Smith, 01.02.2018\nLea Smith, 15.07.2020")
	assert.Contains(t, msg.Text, "https://pay.example.test/1?amount=2000")

	s := f.session()
	assert.Equal(t, session.StepPaymentPending, s.Step)
	assert.Equal(t, uint64(1), s.ReservationID)
	assert.Equal(t, "pay-1", s.PaymentID)

	res, err := f.h.Service.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCreated, res.Status)
	require.Len(t, res.People, 3)
	assert.Equal(t, "anna@example.com", res.People[0].Email)
	assert.Equal(t, "+4915112345678", res.People[0].Phone)
	require.NotNil(t, res.PaymentRef)
	assert.Equal(t, "pay-1", *res.PaymentRef)

	c := f.h.DB.Get(1)
	assert.Equal(t, 3, c.ChildFree)
	assert.Equal(t, 2, c.ChildPending)
}

func TestBackReplaysSnapshots(t *testing.T) {
	f := newFixture(t)
	f.typ("/start")
	eventMsg := f.press("2026-03")
	dateMsg := f.press("10")

	// The catalog changes while the user is on DATE.
	f.cat.add(model.ScheduledEvent{ID: 3, EventID: 10, StartsAt: time.Date(2026, 3, 20, 15, 0, 0, 0, time.UTC)})

	back := f.press("back")
	assert.Equal(t, eventMsg.Text, back.Text)
	assert.Equal(t, eventMsg.Options, back.Options)
	assert.Equal(t, session.StepEvent, f.session().Step)
	assert.Zero(t, f.session().Selection.EventID)

	again := f.press("10")
	assert.Equal(t, dateMsg.Text, again.Text)
	assert.Equal(t, dateMsg.Options, again.Options)
	assert.NotContains(t, values(again.Options), "2026-03-20")

	// A new session sees the new date.
	other := chat.Inbound{SessionID: "7", UserID: 7, Kind: chat.KindText, Payload: "/start"}
	f.engine.Handle(context.Background(), other)
	other.Kind, other.Payload = chat.KindButton, "2026-03"
	f.engine.Handle(context.Background(), other)
	other.Payload = "10"
	f.engine.Handle(context.Background(), other)
	fresh, _ := f.chat.Last("7")
	assert.Contains(t, values(fresh.Options), "2026-03-20")
}

func TestBackAtFirstStepResendsIt(t *testing.T) {
	f := newFixture(t)
	first := f.typ("/start")
	again := f.typ("/back")
	assert.Equal(t, first, again)
	assert.Equal(t, session.StepMonth, f.session().Step)
}

func TestValidationFailureKeepsStep(t *testing.T) {
	f := newFixture(t)
	f.toTicket("1")
	f.press("1")
	f.press("agree")

	msg := f.typ("not an email")
	assert.True(t, strings.HasPrefix(msg.Text, errEmail.Error()))
	assert.Equal(t, session.StepContactEmail, f.session().Step)

	msg = f.press("agree")
	assert.True(t, strings.HasPrefix(msg.Text, errText.Error()))

	f.typ("anna@example.com")
	f.typ("Anna Smith")
	f.typ("+49 151 12345678")
	msg = f.typ("Tim Smith, 01.02.2018")
	assert.Contains(t, msg.Text, "exactly 2 line(s)")
	assert.Equal(t, session.StepDependents, f.session().Step)
	assert.Zero(t, f.h.Repo.Count())
	assert.Zero(t, f.h.DB.ApplyCount())
}

func TestUnknownButtonIsRejected(t *testing.T) {
	f := newFixture(t)
	f.typ("/start")
	msg := f.press("2027-01")
	assert.True(t, strings.HasPrefix(msg.Text, errButton.Error()))
	assert.Equal(t, session.StepMonth, f.session().Step)

	msg = f.typ("March 2026")
	assert.Equal(t, session.StepEvent, f.session().Step)
	assert.Contains(t, values(msg.Options), "10")
}

func TestStartWhileActiveIsRejected(t *testing.T) {
	f := newFixture(t)
	f.typ("/start")
	f.press("2026-03")
	msg := f.typ("/start")
	assert.Contains(t, msg.Text, "already have a booking")
	assert.Equal(t, session.StepEvent, f.session().Step)
}

func TestNoSessionAsksForStart(t *testing.T) {
	f := newFixture(t)
	msg := f.typ("hello")
	assert.Contains(t, msg.Text, "/start")
	assert.True(t, f.gone())
}

func TestCancelReleasesReservation(t *testing.T) {
	f := newFixture(t)
	f.toPayment()
	require.Equal(t, 3, f.h.DB.Get(1).ChildFree)

	msg := f.press("cancel")
	assert.Contains(t, msg.Text, "canceled")
	assert.True(t, f.gone())
	assert.Equal(t, model.StatusCanceled, f.h.Repo.Status(1))
	c := f.h.DB.Get(1)
	assert.Equal(t, 5, c.ChildFree)
	assert.Zero(t, c.ChildPending)
}

func TestBackIsBlockedWhilePaymentPending(t *testing.T) {
	f := newFixture(t)
	f.toPayment()
	f.typ("/back")
	assert.Equal(t, session.StepPaymentPending, f.session().Step)
}

func TestInactivityTimeoutReleasesSeats(t *testing.T) {
	f := newFixture(t)
	f.toPayment()
	c := f.h.DB.Get(1)
	require.Equal(t, 3, c.ChildFree)
	require.Equal(t, 2, c.ChildPending)

	f.h.Clock.Advance(20 * time.Minute)

	require.Eventually(t, f.gone, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, model.StatusCanceled, f.h.Repo.Status(1))
	c = f.h.DB.Get(1)
	assert.Equal(t, 5, c.ChildFree)
	assert.Zero(t, c.ChildPending)
	msg, _ := f.chat.Last(user)
	assert.Contains(t, msg.Text, "expired")
}

func TestActivityPostponesTimeout(t *testing.T) {
	f := newFixture(t)
	f.typ("/start")
	f.h.Clock.Advance(15 * time.Minute)
	f.press("2026-03")
	f.h.Clock.Advance(15 * time.Minute)
	assert.False(t, f.gone())

	f.h.Clock.Advance(5 * time.Minute)
	require.Eventually(t, f.gone, 2*time.Second, 10*time.Millisecond)
}

func TestTimeoutAfterPaymentKeepsReservation(t *testing.T) {
	f := newFixture(t)
	f.toPayment()
	_, err := f.h.Service.MarkPaid(context.Background(), "pay-1")
	require.NoError(t, err)

	f.h.Clock.Advance(20 * time.Minute)
	require.Eventually(t, f.gone, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, model.StatusPaid, f.h.Repo.Status(1))
	assert.Equal(t, 2, f.h.DB.Get(1).ChildPending)
}

func TestRestoreRearmsRemainingTime(t *testing.T) {
	f := newFixture(t)
	s := session.New(user, 42, start.Add(-15*time.Minute))
	require.NoError(t, f.sessions.Save(context.Background(), s))

	n, err := f.engine.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, f.timers.Pending())

	f.h.Clock.Advance(5 * time.Minute)
	require.Eventually(t, f.gone, 2*time.Second, 10*time.Millisecond)
}

func TestSoldOutTimeOffersWaitlist(t *testing.T) {
	f := newFixture(t)
	f.h.Seed(2, model.Counters{ChildTotal: 5, AdultTotal: 5, AdultFree: 5})

	msg := f.toTicket("2")
	assert.Equal(t, session.StepWaitlistOffer, f.session().Step)
	assert.Equal(t, []string{"other_time", "join", "cancel"}, values(msg.Options))

	msg = f.press("join")
	assert.Equal(t, session.StepWaitlistContact, f.session().Step)
	msg = f.typ("nobody")
	assert.Contains(t, msg.Text, "email address or a phone number")
	msg = f.typ("anna@example.com")
	assert.Contains(t, msg.Text, "waitlist")
	assert.True(t, f.gone())

	require.Len(t, f.waitlist.all, 1)
	assert.Equal(t, uint64(2), f.waitlist.all[0].ScheduledEventID)
	assert.Equal(t, int64(42), f.waitlist.all[0].ChatID)
	assert.Equal(t, "anna@example.com", f.waitlist.all[0].Contact)
	assert.Zero(t, f.h.Repo.Count())
	assert.Zero(t, f.h.DB.ApplyCount())
}

func TestTypedCancelLabelCancels(t *testing.T) {
	f := newFixture(t)
	f.h.Seed(2, model.Counters{ChildTotal: 5, AdultTotal: 5, AdultFree: 5})
	f.toTicket("2")
	require.Equal(t, session.StepWaitlistOffer, f.session().Step)

	msg := f.typ("Cancel")
	assert.Contains(t, msg.Text, "canceled")
	assert.True(t, f.gone())
	assert.Empty(t, f.waitlist.all)
}

func TestTypedBackLabelGoesBack(t *testing.T) {
	f := newFixture(t)
	f.typ("/start")
	monthMsg := f.press("2026-03")
	require.Equal(t, session.StepEvent, f.session().Step)

	msg := f.typ("« back")
	assert.Equal(t, session.StepMonth, f.session().Step)
	assert.Zero(t, f.session().Selection.EventID)
	assert.NotEqual(t, monthMsg.Text, msg.Text)
}

func TestChosenIgnoresControlLabels(t *testing.T) {
	r := session.Rendered{Options: []chat.Option{{Label: "Puppet theatre", Value: "10"}, backOption, cancelOption}}
	v, ok := chosen(r, chat.Inbound{Kind: chat.KindText, Payload: " puppet THEATRE "})
	assert.True(t, ok)
	assert.Equal(t, "10", v)
	_, ok = chosen(r, chat.Inbound{Kind: chat.KindText, Payload: "« Back"})
	assert.False(t, ok)
	_, ok = chosen(r, chat.Inbound{Kind: chat.KindText, Payload: "Cancel"})
	assert.False(t, ok)
}

func TestTicketTooLargeOffersWaitlist(t *testing.T) {
	f := newFixture(t)
	f.h.Seed(1, model.Counters{ChildTotal: 5, ChildFree: 1, ChildPending: 4, AdultTotal: 5, AdultFree: 5})

	f.toTicket("1")
	f.press("1")
	assert.Equal(t, session.StepWaitlistOffer, f.session().Step)

	msg := f.press("other_time")
	assert.Equal(t, session.StepDate, f.session().Step)
	assert.Equal(t, []string{"2026-03-14", "back", "cancel"}, values(msg.Options))
	assert.Zero(t, f.h.DB.ApplyCount())
}

func TestIndividualTicketGoesToStaff(t *testing.T) {
	f := newFixture(t)
	f.toTicket("1")
	f.press("3")
	f.press("agree")
	f.typ("anna@example.com")
	f.typ("Anna Smith")
	msg := f.typ("+4915112345678")
	assert.Contains(t, msg.Text, "sent to our staff")
	assert.True(t, f.gone())

	require.Len(t, f.approvals.all, 1)
	assert.Nil(t, f.approvals.all[0].receipt)
	assert.Equal(t, model.StatusCreated, f.approvals.all[0].res.Status)
	assert.Equal(t, 4, f.h.DB.Get(1).AdultFree)
}

func TestReceiptUploadCompletes(t *testing.T) {
	f := newFixture(t)
	f.toPayment()

	msg := f.typ("done")
	assert.Contains(t, msg.Text, "receipt")
	assert.Equal(t, session.StepPaymentPending, f.session().Step)

	f.engine.Handle(context.Background(), chat.Inbound{
		SessionID: user, Kind: chat.KindAttachment,
		Attachment: &chat.Attachment{FileID: "photo-1", MIME: "image/jpeg"},
	})
	assert.True(t, f.gone())
	require.Len(t, f.approvals.all, 1)
	require.NotNil(t, f.approvals.all[0].receipt)
	assert.Equal(t, "photo-1", f.approvals.all[0].receipt.FileID)
	assert.Equal(t, uint64(1), f.approvals.all[0].res.ID)
}

func TestPaymentEventCompletesSession(t *testing.T) {
	f := newFixture(t)
	f.toPayment()

	f.engine.Handle(context.Background(), chat.Inbound{SessionID: user, Kind: chat.KindPayment, Payload: PaymentPayload(payment.StatusSucceeded, "other")})
	assert.False(t, f.gone())

	f.engine.Handle(context.Background(), chat.Inbound{SessionID: user, Kind: chat.KindPayment, Payload: PaymentPayload(payment.StatusSucceeded, "pay-1")})
	assert.True(t, f.gone())
	msg, _ := f.chat.Last(user)
	assert.Contains(t, msg.Text, "Payment received")
}

func TestCapacityRaceAtBookingOffersWaitlist(t *testing.T) {
	f := newFixture(t)
	f.toTicket("1")
	f.press("1")
	f.press("agree")
	f.typ("anna@example.com")
	f.typ("Anna Smith")
	f.typ("+4915112345678")

	// Somebody else takes the seats before the last answer.
	f.h.Seed(1, model.Counters{ChildTotal: 5, ChildFree: 1, ChildPending: 4, AdultTotal: 5, AdultFree: 5})
	msg := f.typ("Tim Smith, 01.02.2018\nLea Smith, 15.07.2020")
	assert.Contains(t, msg.Text, "just taken")
	assert.Equal(t, session.StepWaitlistOffer, f.session().Step)
	assert.Zero(t, f.h.Repo.Count())
}

func TestDependentsNeeded(t *testing.T) {
	assert.Equal(t, 0, DependentsNeeded(model.Seats{Adult: 1}))
	assert.Equal(t, 2, DependentsNeeded(model.Seats{Child: 2}))
	assert.Equal(t, 3, DependentsNeeded(model.Seats{Child: 2, Adult: 2}))
}
