package inventory

import (
	"context"
	"errors"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/gommon/log"

	"github.com/iliyamo/event-seat-bot/internal/model"
)

// errGuard is returned by DualWriter.Apply when the database refused the
// change because it would leave the counters out of bounds.
var errGuard = errors.New("database guard rejected counter change")

// DualWriter writes one counter change to both stores.  The database goes
// first and is ground truth; the sheet receives the resulting row.  A
// sheet failure is retried once and then logged as drift instead of
// being rolled back.
type DualWriter struct {
	db     CounterStore
	sheet  SheetStore
	drifts DriftLog
	alert  Alerter
	clock  clockwork.Clock
	log    *log.Logger
}

func NewDualWriter(db CounterStore, sheet SheetStore, drifts DriftLog, alert Alerter, clock clockwork.Clock, logger *log.Logger) *DualWriter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &DualWriter{db: db, sheet: sheet, drifts: drifts, alert: alert, clock: clock, log: logger}
}

// Apply writes d for the schedule and returns the database counters after
// the change.  before is the row the caller checked d against; the caller
// must hold the schedule lock.
func (w *DualWriter) Apply(ctx context.Context, scheduleID uint64, before model.Counters, d model.Delta) (model.Counters, error) {
	after, applied, err := w.db.ApplyDelta(ctx, scheduleID, d)
	if err != nil {
		w.log.Warnf("schedule %d: database write failed, retrying: %v", scheduleID, err)
		after, applied, err = w.retry(ctx, scheduleID, before, d)
	}
	if err != nil {
		serr := &StoreError{Store: "database", ScheduleID: scheduleID, Delta: d, Err: err}
		w.log.Errorf("%v", serr)
		w.raise(ctx, Alert{Kind: AlertStoreFailure, ScheduleID: scheduleID, Delta: d, Error: err.Error()})
		return model.Counters{}, serr
	}
	if !applied {
		return after, errGuard
	}

	w.propagate(ctx, scheduleID, d, after)
	return after, nil
}

// retry re-applies d unless the failed attempt was in fact committed.  The
// delta is relative, so applying it a second time would move seats twice.
func (w *DualWriter) retry(ctx context.Context, scheduleID uint64, before model.Counters, d model.Delta) (model.Counters, bool, error) {
	cur, err := w.db.ReadCounters(ctx, scheduleID)
	if err != nil {
		return model.Counters{}, false, err
	}
	if cur != before && cur == before.Apply(d) {
		w.log.Warnf("schedule %d: failed write of %s was committed, not retrying", scheduleID, d)
		return cur, true, nil
	}
	return w.db.ApplyDelta(ctx, scheduleID, d)
}

func (w *DualWriter) propagate(ctx context.Context, scheduleID uint64, d model.Delta, after model.Counters) {
	if w.sheet == nil {
		return
	}
	err := w.sheet.WriteCounters(ctx, scheduleID, after)
	if err != nil {
		w.log.Warnf("schedule %d: sheet write failed, retrying: %v", scheduleID, err)
		err = w.sheet.WriteCounters(ctx, scheduleID, after)
	}
	if err == nil {
		return
	}
	drift := model.Drift{
		ScheduledEventID: scheduleID,
		Delta:            d,
		Counters:         after,
		Error:            err.Error(),
		CreatedAt:        w.clock.Now().UTC(),
	}
	if w.drifts != nil {
		if id, derr := w.drifts.RecordDrift(ctx, drift); derr != nil {
			w.log.Errorf("schedule %d: could not record drift: %v", scheduleID, derr)
		} else {
			drift.ID = id
		}
	}
	w.log.Errorf("schedule %d: sheet is behind the database (%s): %v", scheduleID, d, err)
	w.raise(ctx, Alert{Kind: AlertDrift, ScheduleID: scheduleID, Delta: d, Counters: after, Error: err.Error()})
}

func (w *DualWriter) raise(ctx context.Context, a Alert) {
	if w.alert == nil {
		return
	}
	a.At = w.clock.Now().UTC()
	w.alert.Alert(ctx, a)
}
