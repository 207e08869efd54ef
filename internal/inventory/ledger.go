package inventory

import (
	"context"
	"errors"

	"github.com/labstack/gommon/log"

	"github.com/iliyamo/event-seat-bot/internal/keylock"
	"github.com/iliyamo/event-seat-bot/internal/model"
)

// Outcome says how a pending hold is settled.
type Outcome int

const (
	// OutcomeApprove consumes the held seats permanently.
	OutcomeApprove Outcome = iota
	// OutcomeRelease returns the held seats to the free pool.
	OutcomeRelease
)

func (o Outcome) String() string {
	if o == OutcomeApprove {
		return "approve"
	}
	return "release"
}

// Ledger is the only component allowed to change seat counters.  Calls
// for the same schedule are serialized in-process, and each call re-reads
// the database counters right before checking them.  The database applies
// the change with a guarded update, so a second process racing this one
// is rejected rather than allowed to overbook.
type Ledger struct {
	db     CounterStore
	writer *DualWriter
	locks  keylock.Map[uint64]
	log    *log.Logger
}

func NewLedger(db CounterStore, writer *DualWriter, logger *log.Logger) *Ledger {
	return &Ledger{db: db, writer: writer, log: logger}
}

// Availability returns the current database counters of a schedule.
func (l *Ledger) Availability(ctx context.Context, scheduleID uint64) (model.Counters, error) {
	return l.read(ctx, scheduleID)
}

// Reserve moves seats from free to pending.  Nothing changes unless both
// the child and the adult part fit.
func (l *Ledger) Reserve(ctx context.Context, scheduleID uint64, seats model.Seats) (model.Counters, error) {
	d := model.Delta{
		ChildFree: -seats.Child, ChildPending: seats.Child,
		AdultFree: -seats.Adult, AdultPending: seats.Adult,
	}
	return l.change(ctx, scheduleID, seats, d, ErrInsufficient, func(c model.Counters) error {
		if !c.Fits(seats) {
			return ErrInsufficient
		}
		return nil
	})
}

// Settle finishes a pending hold.  Approve drops the seats from pending;
// release moves them back to free.  A hold that is not there any more
// (a second release) is rejected with ErrOutOfBounds.
func (l *Ledger) Settle(ctx context.Context, scheduleID uint64, seats model.Seats, outcome Outcome) (model.Counters, error) {
	d := model.Delta{ChildPending: -seats.Child, AdultPending: -seats.Adult}
	if outcome == OutcomeRelease {
		d.ChildFree = seats.Child
		d.AdultFree = seats.Adult
	}
	return l.change(ctx, scheduleID, seats, d, ErrOutOfBounds, nil)
}

// ReturnConsumed puts seats of an approved reservation back into the free
// pool.  Those seats are no longer pending, so only free grows.
func (l *Ledger) ReturnConsumed(ctx context.Context, scheduleID uint64, seats model.Seats) (model.Counters, error) {
	d := model.Delta{ChildFree: seats.Child, AdultFree: seats.Adult}
	return l.change(ctx, scheduleID, seats, d, ErrOutOfBounds, nil)
}

func (l *Ledger) change(ctx context.Context, scheduleID uint64, seats model.Seats, d model.Delta, guardErr error, check func(model.Counters) error) (model.Counters, error) {
	if seats.Child < 0 || seats.Adult < 0 {
		return model.Counters{}, ErrOutOfBounds
	}
	unlock := l.locks.Lock(scheduleID)
	defer unlock()

	cur, err := l.read(ctx, scheduleID)
	if err != nil {
		return model.Counters{}, err
	}
	if seats.IsZero() {
		return cur, nil
	}
	if check != nil {
		if err := check(cur); err != nil {
			return cur, err
		}
	}
	if !cur.Apply(d).Valid() {
		l.log.Warnf("schedule %d: rejected %s on %+v", scheduleID, d, cur)
		return cur, ErrOutOfBounds
	}

	after, err := l.writer.Apply(ctx, scheduleID, cur, d)
	if errors.Is(err, errGuard) {
		// The row moved between our read and the guarded update.
		l.log.Warnf("schedule %d: concurrent change rejected %s", scheduleID, d)
		return after, guardErr
	}
	if err != nil {
		return model.Counters{}, err
	}
	l.log.Debugf("schedule %d: applied %s -> %+v", scheduleID, d, after)
	return after, nil
}

// Lock takes the per-schedule lock the ledger uses for its own changes.
// Anything that copies counters between the stores must hold it.
func (l *Ledger) Lock(scheduleID uint64) (unlock func()) {
	return l.locks.Lock(scheduleID)
}

func (l *Ledger) read(ctx context.Context, scheduleID uint64) (model.Counters, error) {
	c, err := l.db.ReadCounters(ctx, scheduleID)
	if err != nil {
		c, err = l.db.ReadCounters(ctx, scheduleID)
	}
	if err != nil {
		return model.Counters{}, &StoreError{Store: "database", ScheduleID: scheduleID, Err: err}
	}
	return c, nil
}
