// Package reservationtest provides an in-memory reservation repository and
// a saga wired over in-memory inventory stores.
package reservationtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/iliyamo/event-seat-bot/internal/inventory/inventorytest"
	"github.com/iliyamo/event-seat-bot/internal/logging"
	"github.com/iliyamo/event-seat-bot/internal/model"
	"github.com/iliyamo/event-seat-bot/internal/queue"
	"github.com/iliyamo/event-seat-bot/internal/repository"
	"github.com/iliyamo/event-seat-bot/internal/reservation"
)

// Repo is an in-memory reservation.Repository.
type Repo struct {
	mu   sync.Mutex
	next uint64
	rows map[uint64]model.Reservation

	FailCreate int
	FailUpdate int
}

func NewRepo() *Repo { return &Repo{rows: make(map[uint64]model.Reservation)} }

func (r *Repo) Create(_ context.Context, res *model.Reservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailCreate > 0 {
		r.FailCreate--
		return inventorytest.ErrInjected
	}
	r.next++
	res.ID = r.next
	r.rows[res.ID] = clone(*res)
	return nil
}

func (r *Repo) GetByID(_ context.Context, id uint64) (model.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.rows[id]
	if !ok {
		return model.Reservation{}, repository.ErrNotFound
	}
	return clone(res), nil
}

func (r *Repo) GetByPaymentRef(_ context.Context, ref string) (model.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, res := range r.rows {
		if res.PaymentRef != nil && *res.PaymentRef == ref {
			return clone(res), nil
		}
	}
	return model.Reservation{}, repository.ErrNotFound
}

func (r *Repo) UpdateStatus(_ context.Context, id uint64, from, to model.Status, note string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailUpdate > 0 {
		r.FailUpdate--
		return inventorytest.ErrInjected
	}
	res, ok := r.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	if res.Status != from {
		return repository.ErrConflict
	}
	res.Status = to
	if note != "" {
		res.Notes += note + "\n"
	}
	res.UpdatedAt = at
	r.rows[id] = res
	return nil
}

func (r *Repo) SetPaymentRef(_ context.Context, id uint64, ref string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	res.PaymentRef = &ref
	res.UpdatedAt = at
	r.rows[id] = res
	return nil
}

func (r *Repo) ListByStatus(_ context.Context, status model.Status, limit int) ([]model.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Reservation
	for _, res := range r.rows {
		if res.Status == status {
			out = append(out, clone(res))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Repo) ListCreatedBefore(_ context.Context, status model.Status, cutoff time.Time, afterID uint64, limit int) ([]model.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Reservation
	for _, res := range r.rows {
		if res.Status == status && res.CreatedAt.Before(cutoff) && res.ID > afterID {
			out = append(out, clone(res))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Status returns the stored status of a reservation.
func (r *Repo) Status(id uint64) model.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[id].Status
}

// Count returns how many reservations are stored.
func (r *Repo) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

// SetCreatedAt backdates a reservation.
func (r *Repo) SetCreatedAt(id uint64, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := r.rows[id]
	res.CreatedAt = at
	r.rows[id] = res
}

func clone(res model.Reservation) model.Reservation {
	res.People = append([]model.Person(nil), res.People...)
	return res
}

// Tickets is an in-memory ticket type catalog.
type Tickets map[uint64]model.TicketType

func (t Tickets) GetByID(_ context.Context, id uint64) (model.TicketType, error) {
	tt, ok := t[id]
	if !ok {
		return model.TicketType{}, repository.ErrNotFound
	}
	return tt, nil
}

// Events records published reservation events.
type Events struct {
	mu  sync.Mutex
	All []queue.ReservationEvent
}

func (e *Events) PublishReservation(_ context.Context, ev queue.ReservationEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.All = append(e.All, ev)
	return nil
}

func (e *Events) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.All)
}

// Harness is a saga over in-memory stores.
type Harness struct {
	*inventorytest.Kit
	Repo    *Repo
	Tickets Tickets
	Events  *Events
	Clock   *clockwork.FakeClock
	Service *reservation.Service
}

// NewHarness returns a harness whose clock starts at start.
func NewHarness(start time.Time) *Harness {
	h := &Harness{
		Kit:     inventorytest.NewKit(),
		Repo:    NewRepo(),
		Tickets: Tickets{},
		Events:  &Events{},
		Clock:   clockwork.NewFakeClockAt(start),
	}
	h.Service = reservation.NewService(h.Repo, h.Ledger, h.Tickets, h.Events, h.Clock, logging.Discard())
	return h
}
