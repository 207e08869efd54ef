package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/event-seat-bot/internal/chat"
	"github.com/iliyamo/event-seat-bot/internal/model"
	"github.com/iliyamo/event-seat-bot/internal/repository"
	"github.com/iliyamo/event-seat-bot/internal/reservation"
	"github.com/iliyamo/event-seat-bot/internal/reservation/reservationtest"
)

var start = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func fresh(child, adult int) model.Counters {
	return model.Counters{ChildTotal: child, ChildFree: child, AdultTotal: adult, AdultFree: adult}
}

func newHarness(t *testing.T) *reservationtest.Harness {
	t.Helper()
	h := reservationtest.NewHarness(start)
	h.Seed(1, fresh(5, 5))
	h.Seed(2, fresh(5, 5))
	h.Tickets[3] = model.TicketType{ID: 3, EventID: 10, Name: "Kids pair", Seats: model.Seats{Child: 2}, PriceCents: 2000}
	return h
}

func book(t *testing.T, h *reservationtest.Harness, scheduleID uint64) model.Reservation {
	t.Helper()
	res, err := h.Service.Create(context.Background(), reservation.CreateRequest{
		TicketTypeID: 3, ScheduledEventID: scheduleID, UserID: 42, ChatID: 42,
		People: []model.Person{{FullName: "Ann Lee", Role: model.RoleBuyer, Email: "ann@example.com"}},
	})
	require.NoError(t, err)
	return res
}

// do runs one request against e.
func do(e *echo.Echo, method, path, body string, header ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

type fakeWaitlist struct {
	entries map[uint64][]model.WaitlistEntry
}

func (f fakeWaitlist) ListBySchedule(_ context.Context, id uint64) ([]model.WaitlistEntry, error) {
	return f.entries[id], nil
}

type fakeSchedules map[uint64]model.ScheduledEvent

func (f fakeSchedules) GetByID(_ context.Context, id uint64) (model.ScheduledEvent, error) {
	s, ok := f[id]
	if !ok {
		return s, repository.ErrNotFound
	}
	return s, nil
}

func (f fakeSchedules) GetEvent(_ context.Context, id uint64) (model.Event, error) {
	return model.Event{ID: id, Title: "Puppet theatre", Active: true}, nil
}

func (f fakeSchedules) ListEventsBetween(ctx context.Context, from, to time.Time) ([]model.Event, error) {
	seen := map[uint64]bool{}
	var out []model.Event
	for _, s := range f {
		if s.StartsAt.Before(from) || !s.StartsAt.Before(to) || seen[s.EventID] {
			continue
		}
		seen[s.EventID] = true
		ev, _ := f.GetEvent(ctx, s.EventID)
		out = append(out, ev)
	}
	return out, nil
}

func (f fakeSchedules) ListSchedulesBetween(_ context.Context, eventID uint64, from, to time.Time) ([]model.ScheduledEvent, error) {
	var out []model.ScheduledEvent
	for id := uint64(1); id <= uint64(len(f)); id++ {
		s, ok := f[id]
		if ok && s.EventID == eventID && !s.StartsAt.Before(from) && s.StartsAt.Before(to) {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeReviewer struct {
	mu        sync.Mutex
	requested []uint64
	notes     []string
}

func (f *fakeReviewer) NotifyStaff(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, text)
	return nil
}

func (f *fakeReviewer) RequestApproval(_ context.Context, res model.Reservation, _ *chat.Attachment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested = append(f.requested, res.ID)
	return nil
}

func (f *fakeReviewer) AwaitingDecision(_ context.Context, id uint64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requested {
		if r == id {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeReviewer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requested)
}
