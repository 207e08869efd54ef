package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/gommon/log"

	"github.com/iliyamo/event-seat-bot/internal/model"
	"github.com/iliyamo/event-seat-bot/internal/reservation"
)

// Reservations is the part of the saga the sweep uses.
type Reservations interface {
	ListCreatedBefore(ctx context.Context, status model.Status, cutoff time.Time, afterID uint64, limit int) ([]model.Reservation, error)
	Transition(ctx context.Context, id uint64, to model.Status, note string) (model.Reservation, error)
}

// StaffNotifier posts free-form notes to the staff chat.
type StaffNotifier interface {
	NotifyStaff(ctx context.Context, text string) error
}

// Reviews tells which reservations staff are still deciding on.  Those
// are left to staff instead of being swept.
type Reviews interface {
	AwaitingDecision(ctx context.Context, id uint64) (bool, error)
}

// Sweeper cancels reservations that stayed CREATED for too long.
type Sweeper struct {
	saga      Reservations
	staff     StaffNotifier
	reviews   Reviews
	clock     clockwork.Clock
	threshold time.Duration
	batch     int
	log       *log.Logger
}

func NewSweeper(saga Reservations, staff StaffNotifier, clock clockwork.Clock, threshold time.Duration, logger *log.Logger) *Sweeper {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Sweeper{saga: saga, staff: staff, clock: clock, threshold: threshold, batch: 500, log: logger}
}

// SkipReviewed makes the sweep leave reservations with a pending staff
// decision alone.
func (w *Sweeper) SkipReviewed(r Reviews) *Sweeper {
	w.reviews = r
	return w
}

// RunOnce cancels every CREATED reservation older than the threshold and
// returns how many were canceled.  A reservation that moved on in the
// meantime is skipped.
func (w *Sweeper) RunOnce(ctx context.Context) (int, error) {
	cutoff := w.clock.Now().Add(-w.threshold)
	canceled := 0
	var after uint64
	for {
		page, err := w.saga.ListCreatedBefore(ctx, model.StatusCreated, cutoff, after, w.batch)
		if err != nil {
			return canceled, fmt.Errorf("list created: %w", err)
		}
		for _, res := range page {
			after = res.ID
			if w.sweep(ctx, res) {
				canceled++
			}
		}
		if len(page) < w.batch || ctx.Err() != nil {
			return canceled, ctx.Err()
		}
	}
}

// sweep cancels one stale reservation unless staff are deciding on it.
func (w *Sweeper) sweep(ctx context.Context, res model.Reservation) bool {
	if w.reviews != nil {
		waiting, err := w.reviews.AwaitingDecision(ctx, res.ID)
		if err != nil {
			w.log.Warnf("sweep: review state of %d: %v", res.ID, err)
			return false
		}
		if waiting {
			return false
		}
	}
	age := w.clock.Since(res.CreatedAt).Round(time.Minute)
	_, err := w.saga.Transition(ctx, res.ID, model.StatusCanceled, fmt.Sprintf("unpaid for %s, canceled by sweep", age))
	if errors.Is(err, reservation.ErrInvalidTransition) {
		return false
	}
	if err != nil {
		w.log.Errorf("sweep: reservation %d: %v", res.ID, err)
		return false
	}
	w.log.Infof("sweep: canceled reservation %d (created %s ago)", res.ID, age)
	if w.staff != nil {
		note := fmt.Sprintf("Reservation #%d was not paid within %s and has been canceled; its seats are free again.",
			res.ID, w.threshold)
		if err := w.staff.NotifyStaff(ctx, note); err != nil {
			w.log.Warnf("sweep: staff note for %d: %v", res.ID, err)
		}
	}
	return true
}

// Run is RunOnce for ScheduleRecurring.
func (w *Sweeper) Run(ctx context.Context) func() {
	return func() {
		if _, err := w.RunOnce(ctx); err != nil {
			w.log.Errorf("sweep: %v", err)
		}
	}
}
