package inventory

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/gommon/log"

	"github.com/iliyamo/event-seat-bot/internal/model"
)

// Reconciler brings the sheet back in line with the database for every
// schedule that has open drift records.
type Reconciler struct {
	db     CounterStore
	sheet  SheetStore
	drifts DriftLog
	locks  Locker
	clock  clockwork.Clock
	log    *log.Logger
}

func NewReconciler(db CounterStore, sheet SheetStore, drifts DriftLog, locks Locker, clock clockwork.Clock, logger *log.Logger) *Reconciler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Reconciler{db: db, sheet: sheet, drifts: drifts, locks: locks, clock: clock, log: logger}
}

// RunOnce pushes database counters to the sheet for each drifted
// schedule and returns how many schedules were repaired.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	open, err := r.drifts.OpenDrifts(ctx)
	if err != nil {
		return 0, fmt.Errorf("load drifts: %w", err)
	}
	seen := make(map[uint64]bool)
	repaired := 0
	for _, d := range open {
		if seen[d.ScheduledEventID] {
			continue
		}
		seen[d.ScheduledEventID] = true
		if err := r.Repair(ctx, d.ScheduledEventID); err != nil {
			r.log.Warnf("schedule %d: still drifting: %v", d.ScheduledEventID, err)
			continue
		}
		repaired++
	}
	if repaired > 0 {
		r.log.Infof("reconciled %d schedule(s)", repaired)
	}
	return repaired, nil
}

// Repair copies the database row of one schedule to the sheet and closes
// its drift records.  It holds the schedule lock throughout so a counter
// change cannot land between the read and the write.
func (r *Reconciler) Repair(ctx context.Context, scheduleID uint64) error {
	unlock := r.locks.Lock(scheduleID)
	defer unlock()

	c, err := r.db.ReadCounters(ctx, scheduleID)
	if err != nil {
		return fmt.Errorf("read database: %w", err)
	}
	if err := r.sheet.WriteCounters(ctx, scheduleID, c); err != nil {
		return fmt.Errorf("write sheet: %w", err)
	}
	return r.drifts.ResolveDrifts(ctx, scheduleID, r.clock.Now().UTC())
}

// Comparison shows both stores side by side.
type Comparison struct {
	ScheduleID uint64         `json:"schedule_id"`
	Database   model.Counters `json:"database"`
	Sheet      model.Counters `json:"sheet"`
	InSync     bool           `json:"in_sync"`
}

// Compare reads one schedule from both stores.
func (r *Reconciler) Compare(ctx context.Context, scheduleID uint64) (Comparison, error) {
	db, err := r.db.ReadCounters(ctx, scheduleID)
	if err != nil {
		return Comparison{}, fmt.Errorf("read database: %w", err)
	}
	sh, err := r.sheet.ReadCounters(ctx, scheduleID)
	if err != nil {
		return Comparison{}, fmt.Errorf("read sheet: %w", err)
	}
	return Comparison{ScheduleID: scheduleID, Database: db, Sheet: sh, InSync: db == sh}, nil
}
