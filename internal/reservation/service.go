// Package reservation runs the reservation lifecycle.  Every status change
// goes through Transition, which applies the matching seat ledger effect
// first and then persists the new status.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/gommon/log"

	"github.com/iliyamo/event-seat-bot/internal/inventory"
	"github.com/iliyamo/event-seat-bot/internal/keylock"
	"github.com/iliyamo/event-seat-bot/internal/model"
	"github.com/iliyamo/event-seat-bot/internal/queue"
	"github.com/iliyamo/event-seat-bot/internal/repository"
)

var (
	// ErrInvalidTransition means the requested status change is not in
	// the transition table.  Nothing was changed.
	ErrInvalidTransition = errors.New("invalid reservation transition")
	// ErrMigrationFailed means the reservation could not be created on
	// the target schedule.  The source is untouched; retry later.
	ErrMigrationFailed = errors.New("migration failed, source reservation untouched")
	// ErrStatusWrite means the ledger effect was applied but the status
	// could not be saved.  Staff must set the status by hand.
	ErrStatusWrite = errors.New("reservation status write failed")
	// ErrNotFound is returned for unknown reservations or payments.
	ErrNotFound = errors.New("reservation not found")
)

// Repository is the persistence the saga needs.
type Repository interface {
	Create(ctx context.Context, res *model.Reservation) error
	GetByID(ctx context.Context, id uint64) (model.Reservation, error)
	GetByPaymentRef(ctx context.Context, ref string) (model.Reservation, error)
	UpdateStatus(ctx context.Context, id uint64, from, to model.Status, note string, at time.Time) error
	SetPaymentRef(ctx context.Context, id uint64, ref string, at time.Time) error
	ListByStatus(ctx context.Context, status model.Status, limit int) ([]model.Reservation, error)
	ListCreatedBefore(ctx context.Context, status model.Status, cutoff time.Time, afterID uint64, limit int) ([]model.Reservation, error)
}

// Inventory is the seat ledger.
type Inventory interface {
	Reserve(ctx context.Context, scheduleID uint64, seats model.Seats) (model.Counters, error)
	Settle(ctx context.Context, scheduleID uint64, seats model.Seats, outcome inventory.Outcome) (model.Counters, error)
	ReturnConsumed(ctx context.Context, scheduleID uint64, seats model.Seats) (model.Counters, error)
}

// TicketTypes resolves the ticket type of a new reservation.
type TicketTypes interface {
	GetByID(ctx context.Context, id uint64) (model.TicketType, error)
}

// Events receives every status change.  Failures are logged by the
// publisher and never block the saga.
type Events interface {
	PublishReservation(ctx context.Context, ev queue.ReservationEvent) error
}

// Service is the reservation saga.
type Service struct {
	repo    Repository
	ledger  Inventory
	tickets TicketTypes
	events  Events
	clock   clockwork.Clock
	locks   keylock.Map[uint64]
	log     *log.Logger
}

func NewService(repo Repository, ledger Inventory, tickets TicketTypes, events Events, clock clockwork.Clock, logger *log.Logger) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{repo: repo, ledger: ledger, tickets: tickets, events: events, clock: clock, log: logger}
}

// CreateRequest describes a new reservation.
type CreateRequest struct {
	TicketTypeID     uint64
	ScheduledEventID uint64
	UserID           int64
	ChatID           int64
	People           []model.Person
}

// Create reserves the seats of the ticket type and stores a CREATED
// reservation.  Capacity problems come back as inventory.ErrInsufficient.
// When the reservation cannot be stored the held seats are released.
func (s *Service) Create(ctx context.Context, req CreateRequest) (model.Reservation, error) {
	tt, err := s.tickets.GetByID(ctx, req.TicketTypeID)
	if err != nil {
		return model.Reservation{}, fmt.Errorf("ticket type %d: %w", req.TicketTypeID, err)
	}
	if _, err := s.ledger.Reserve(ctx, req.ScheduledEventID, tt.Seats); err != nil {
		return model.Reservation{}, err
	}

	now := s.clock.Now().UTC()
	res := model.Reservation{
		TicketTypeID:     tt.ID,
		ScheduledEventID: req.ScheduledEventID,
		Seats:            tt.Seats,
		PriceCents:       tt.PriceCents,
		Status:           model.StatusCreated,
		UserID:           req.UserID,
		ChatID:           req.ChatID,
		People:           req.People,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.create(ctx, &res); err != nil {
		if _, rerr := s.ledger.Settle(ctx, req.ScheduledEventID, tt.Seats, inventory.OutcomeRelease); rerr != nil {
			s.log.Errorf("schedule %d: could not release %+v after failed create: %v", req.ScheduledEventID, tt.Seats, rerr)
		}
		return model.Reservation{}, fmt.Errorf("store reservation: %w", err)
	}
	s.log.Infof("reservation %d created on schedule %d (%+v)", res.ID, res.ScheduledEventID, res.Seats)
	s.publish(ctx, res, "", "")
	return res, nil
}

func (s *Service) create(ctx context.Context, res *model.Reservation) error {
	err := s.repo.Create(ctx, res)
	if err != nil {
		s.log.Warnf("create reservation failed, retrying: %v", err)
		res.ID = 0
		err = s.repo.Create(ctx, res)
	}
	return err
}

// Get returns one reservation with its people.
func (s *Service) Get(ctx context.Context, id uint64) (model.Reservation, error) {
	res, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return res, ErrNotFound
	}
	return res, err
}

// ListByStatus returns reservations in one status, oldest first.
func (s *Service) ListByStatus(ctx context.Context, status model.Status, limit int) ([]model.Reservation, error) {
	return s.repo.ListByStatus(ctx, status, limit)
}

// ListCreatedBefore pages through reservations in one status created
// before cutoff.
func (s *Service) ListCreatedBefore(ctx context.Context, status model.Status, cutoff time.Time, afterID uint64, limit int) ([]model.Reservation, error) {
	return s.repo.ListCreatedBefore(ctx, status, cutoff, afterID, limit)
}

// Transition moves a reservation to status to.  Changes to one
// reservation are serialized.  A change outside the transition table
// returns ErrInvalidTransition and leaves everything as it was.
func (s *Service) Transition(ctx context.Context, id uint64, to model.Status, note string) (model.Reservation, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	res, err := s.Get(ctx, id)
	if err != nil {
		return res, err
	}
	return s.transition(ctx, res, to, note)
}

// transition assumes the caller holds the lock of res.ID.
func (s *Service) transition(ctx context.Context, res model.Reservation, to model.Status, note string) (model.Reservation, error) {
	from := res.Status
	eff, ok := transitions[from][to]
	if !ok {
		s.log.Warnf("reservation %d: rejected transition %s -> %s", res.ID, from, to)
		return res, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	if err := s.apply(ctx, res, eff); err != nil {
		s.log.Errorf("reservation %d: %s for %s -> %s failed: %v", res.ID, eff, from, to, err)
		return res, err
	}

	now := s.clock.Now().UTC()
	err := s.repo.UpdateStatus(ctx, res.ID, from, to, note, now)
	if err != nil {
		s.log.Warnf("reservation %d: status write %s failed, retrying: %v", res.ID, to, err)
		err = s.repo.UpdateStatus(ctx, res.ID, from, to, note, now)
	}
	if err != nil {
		s.log.Errorf("reservation %d: seats already %s but status is still %s; set %s by hand: %v",
			res.ID, eff, from, to, err)
		return res, fmt.Errorf("reservation %d -> %s: %w: %v", res.ID, to, ErrStatusWrite, err)
	}

	res.Status = to
	res.UpdatedAt = now
	s.log.Infof("reservation %d: %s -> %s (%s)", res.ID, from, to, eff)
	s.publish(ctx, res, from, note)
	return res, nil
}

func (s *Service) apply(ctx context.Context, res model.Reservation, eff effect) error {
	var err error
	switch eff {
	case effectApprove:
		_, err = s.ledger.Settle(ctx, res.ScheduledEventID, res.Seats, inventory.OutcomeApprove)
	case effectRelease:
		_, err = s.ledger.Settle(ctx, res.ScheduledEventID, res.Seats, inventory.OutcomeRelease)
	case effectReturn:
		_, err = s.ledger.ReturnConsumed(ctx, res.ScheduledEventID, res.Seats)
	}
	return err
}

// AttachPayment records the gateway payment id of a reservation.
func (s *Service) AttachPayment(ctx context.Context, id uint64, paymentRef string) error {
	unlock := s.locks.Lock(id)
	defer unlock()
	err := s.repo.SetPaymentRef(ctx, id, paymentRef, s.clock.Now().UTC())
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *Service) byPayment(ctx context.Context, paymentRef string) (model.Reservation, error) {
	res, err := s.repo.GetByPaymentRef(ctx, paymentRef)
	if errors.Is(err, repository.ErrNotFound) {
		return res, ErrNotFound
	}
	return res, err
}

// MarkPaid handles a successful payment.  A repeated notification for a
// reservation that is already paid or approved is accepted and changes
// nothing.
func (s *Service) MarkPaid(ctx context.Context, paymentRef string) (model.Reservation, error) {
	res, err := s.byPayment(ctx, paymentRef)
	if err != nil {
		return res, err
	}
	if res.Status == model.StatusPaid || res.Status == model.StatusApproved {
		return res, nil
	}
	return s.Transition(ctx, res.ID, model.StatusPaid, "payment "+paymentRef+" succeeded")
}

// PaymentFailed cancels the unpaid reservation of a failed payment.
func (s *Service) PaymentFailed(ctx context.Context, paymentRef string) (model.Reservation, error) {
	res, err := s.byPayment(ctx, paymentRef)
	if err != nil {
		return res, err
	}
	if res.Status == model.StatusCanceled {
		return res, nil
	}
	return s.Transition(ctx, res.ID, model.StatusCanceled, "payment "+paymentRef+" failed")
}

// Migrate moves an approved reservation to another schedule.  The new
// reservation is created and approved on the target first; only then is
// the source marked MIGRATED and its seats returned.  If the target has
// no room the source stays as it was and ErrMigrationFailed is returned.
func (s *Service) Migrate(ctx context.Context, id, targetScheduleID uint64) (model.Reservation, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	src, err := s.Get(ctx, id)
	if err != nil {
		return model.Reservation{}, err
	}
	if src.Status != model.StatusApproved || targetScheduleID == src.ScheduledEventID {
		return model.Reservation{}, fmt.Errorf("%w: migrate %s reservation %d to schedule %d",
			ErrInvalidTransition, src.Status, id, targetScheduleID)
	}

	if _, err := s.ledger.Reserve(ctx, targetScheduleID, src.Seats); err != nil {
		s.log.Warnf("reservation %d: migration to schedule %d failed: %v", id, targetScheduleID, err)
		return model.Reservation{}, fmt.Errorf("%w: %w", ErrMigrationFailed, err)
	}
	if _, err := s.ledger.Settle(ctx, targetScheduleID, src.Seats, inventory.OutcomeApprove); err != nil {
		s.undoReserve(ctx, targetScheduleID, src.Seats)
		return model.Reservation{}, fmt.Errorf("%w: %w", ErrMigrationFailed, err)
	}

	now := s.clock.Now().UTC()
	from := src.ID
	dst := model.Reservation{
		TicketTypeID:     src.TicketTypeID,
		ScheduledEventID: targetScheduleID,
		Seats:            src.Seats,
		PriceCents:       src.PriceCents,
		Status:           model.StatusApproved,
		UserID:           src.UserID,
		ChatID:           src.ChatID,
		PaymentRef:       nil,
		Notes:            fmt.Sprintf("migrated from reservation %d\n", src.ID),
		MigratedFrom:     &from,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	for _, p := range src.People {
		p.ID = 0
		dst.People = append(dst.People, p)
	}
	if err := s.create(ctx, &dst); err != nil {
		if _, rerr := s.ledger.ReturnConsumed(ctx, targetScheduleID, src.Seats); rerr != nil {
			s.log.Errorf("schedule %d: could not return %+v after failed migration: %v", targetScheduleID, src.Seats, rerr)
		}
		return model.Reservation{}, fmt.Errorf("%w: %w", ErrMigrationFailed, err)
	}
	s.publish(ctx, dst, "", dst.Notes)

	note := fmt.Sprintf("migrated to reservation %d on schedule %d", dst.ID, targetScheduleID)
	if _, err := s.transition(ctx, src, model.StatusMigrated, note); err != nil {
		// The new reservation stands; the source needs staff attention.
		return dst, fmt.Errorf("reservation %d created but source %d not closed: %w", dst.ID, src.ID, err)
	}
	return dst, nil
}

func (s *Service) undoReserve(ctx context.Context, scheduleID uint64, seats model.Seats) {
	if _, err := s.ledger.Settle(ctx, scheduleID, seats, inventory.OutcomeRelease); err != nil {
		s.log.Errorf("schedule %d: could not release %+v: %v", scheduleID, seats, err)
	}
}

func (s *Service) publish(ctx context.Context, res model.Reservation, from model.Status, note string) {
	if s.events == nil {
		return
	}
	_ = s.events.PublishReservation(ctx, queue.ReservationEvent{
		ReservationID:    res.ID,
		ScheduledEventID: res.ScheduledEventID,
		ChatID:           res.ChatID,
		From:             from,
		To:               res.Status,
		Seats:            res.Seats,
		PriceCents:       res.PriceCents,
		Note:             note,
		At:               res.UpdatedAt,
	})
}
