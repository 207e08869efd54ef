// Package inventory owns the seat counters of scheduled events.  The
// counters live in two stores that cannot share a transaction: the
// database (authoritative) and the spreadsheet ledger of record.  The
// Ledger decides what may change; the DualWriter carries the change to
// both stores and records drift when the spreadsheet falls behind.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/event-seat-bot/internal/model"
)

var (
	// ErrInsufficient means the free pool cannot cover the request.  It
	// is a capacity outcome, not a system failure.
	ErrInsufficient = errors.New("insufficient seats")
	// ErrOutOfBounds means the change would push a counter below zero or
	// above its total, e.g. a release that was already applied.
	ErrOutOfBounds = errors.New("counter change out of bounds")
)

// CounterStore is the database side of the counters.
type CounterStore interface {
	ReadCounters(ctx context.Context, scheduleID uint64) (model.Counters, error)
	// ApplyDelta applies d only if every counter stays within
	// [0, total].  applied is false when that guard rejected the change.
	ApplyDelta(ctx context.Context, scheduleID uint64, d model.Delta) (after model.Counters, applied bool, err error)
}

// SheetStore is the spreadsheet ledger.  It only understands whole rows.
type SheetStore interface {
	ReadCounters(ctx context.Context, scheduleID uint64) (model.Counters, error)
	WriteCounters(ctx context.Context, scheduleID uint64, c model.Counters) error
}

// DriftLog persists drift records for the reconciler.
type DriftLog interface {
	RecordDrift(ctx context.Context, d model.Drift) (uint64, error)
	OpenDrifts(ctx context.Context) ([]model.Drift, error)
	ResolveDrifts(ctx context.Context, scheduleID uint64, at time.Time) error
}

// Locker serializes work on one schedule.  *Ledger is the Locker used in
// production, so repairs never interleave with counter changes.
type Locker interface {
	Lock(scheduleID uint64) (unlock func())
}

// StoreError is a store failure that survived the retry.  It carries what
// staff need to correct the counters by hand.
type StoreError struct {
	Store      string // "database" or "sheet"
	ScheduleID uint64
	Delta      model.Delta
	Err        error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s store failed for schedule %d (%s): %v", e.Store, e.ScheduleID, e.Delta, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// AlertKind classifies alerts sent to staff.
type AlertKind string

const (
	AlertDrift        AlertKind = "drift"
	AlertStoreFailure AlertKind = "store_failure"
)

// Alert is raised when the two stores disagree or the database write
// failed for good.
type Alert struct {
	Kind       AlertKind      `json:"kind"`
	ScheduleID uint64         `json:"schedule_id"`
	Delta      model.Delta    `json:"delta"`
	Counters   model.Counters `json:"counters"`
	Error      string         `json:"error"`
	At         time.Time      `json:"at"`
}

// Alerter delivers alerts; delivery failures are the alerter's problem.
type Alerter interface {
	Alert(ctx context.Context, a Alert)
}

// Alerters fans an alert out to several destinations.
type Alerters []Alerter

func (as Alerters) Alert(ctx context.Context, a Alert) {
	for _, al := range as {
		if al != nil {
			al.Alert(ctx, a)
		}
	}
}
