// Package inventorytest provides in-memory stores for tests of the
// inventory and of the packages built on top of it.
package inventorytest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/iliyamo/event-seat-bot/internal/inventory"
	"github.com/iliyamo/event-seat-bot/internal/logging"
	"github.com/iliyamo/event-seat-bot/internal/model"
)

// ErrInjected is returned by stores told to fail.
var ErrInjected = errors.New("injected store failure")

// DB is an in-memory CounterStore with the same guard as the SQL one.
type DB struct {
	mu      sync.Mutex
	rows    map[uint64]model.Counters
	Fail    int // number of upcoming ApplyDelta calls that fail
	Applies int

	// FailAfterSave makes the next ApplyDelta calls store the change and
	// still report an error, as a lost commit acknowledgement would.
	FailAfterSave int
	// BeforeApply runs inside ApplyDelta before the guard, letting tests
	// simulate a concurrent writer.
	BeforeApply func(rows map[uint64]model.Counters)
}

func NewDB() *DB { return &DB{rows: make(map[uint64]model.Counters)} }

func (d *DB) Put(id uint64, c model.Counters) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rows[id] = c
}

func (d *DB) Get(id uint64) model.Counters {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rows[id]
}

func (d *DB) ApplyCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Applies
}

func (d *DB) ReadCounters(_ context.Context, id uint64) (model.Counters, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.rows[id]
	if !ok {
		return model.Counters{}, fmt.Errorf("schedule %d not found", id)
	}
	return c, nil
}

func (d *DB) ApplyDelta(_ context.Context, id uint64, delta model.Delta) (model.Counters, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Fail > 0 {
		d.Fail--
		return model.Counters{}, false, ErrInjected
	}
	if d.BeforeApply != nil {
		d.BeforeApply(d.rows)
	}
	c, ok := d.rows[id]
	if !ok {
		return model.Counters{}, false, fmt.Errorf("schedule %d not found", id)
	}
	next := c.Apply(delta)
	if !next.Valid() {
		return c, false, nil
	}
	d.rows[id] = next
	d.Applies++
	if d.FailAfterSave > 0 {
		d.FailAfterSave--
		return model.Counters{}, false, ErrInjected
	}
	return next, true, nil
}

// Sheet is an in-memory SheetStore.
type Sheet struct {
	mu          sync.Mutex
	rows        map[uint64]model.Counters
	beforeWrite func()
	Fail        int
	Writes      int
}

func NewSheet() *Sheet { return &Sheet{rows: make(map[uint64]model.Counters)} }

func (s *Sheet) Put(id uint64, c model.Counters) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[id] = c
}

func (s *Sheet) Get(id uint64) model.Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[id]
}

func (s *Sheet) SetFail(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Fail = n
}

func (s *Sheet) ReadCounters(_ context.Context, id uint64) (model.Counters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[id], nil
}

// BeforeNextWrite runs fn once, at the start of the next WriteCounters
// call and outside the sheet's lock.
func (s *Sheet) BeforeNextWrite(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeWrite = fn
}

func (s *Sheet) WriteCounters(_ context.Context, id uint64, c model.Counters) error {
	s.mu.Lock()
	hook := s.beforeWrite
	s.beforeWrite = nil
	s.mu.Unlock()
	if hook != nil {
		hook()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail > 0 {
		s.Fail--
		return ErrInjected
	}
	s.rows[id] = c
	s.Writes++
	return nil
}

// Drifts is an in-memory DriftLog.
type Drifts struct {
	mu   sync.Mutex
	next uint64
	All  []model.Drift
}

func (d *Drifts) RecordDrift(_ context.Context, dr model.Drift) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	dr.ID = d.next
	d.All = append(d.All, dr)
	return dr.ID, nil
}

func (d *Drifts) OpenDrifts(context.Context) ([]model.Drift, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []model.Drift
	for _, dr := range d.All {
		if dr.ResolvedAt == nil {
			out = append(out, dr)
		}
	}
	return out, nil
}

func (d *Drifts) ResolveDrifts(_ context.Context, scheduleID uint64, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.All {
		if d.All[i].ScheduledEventID == scheduleID && d.All[i].ResolvedAt == nil {
			t := at
			d.All[i].ResolvedAt = &t
		}
	}
	return nil
}

// Alerts records every alert raised.
type Alerts struct {
	mu  sync.Mutex
	All []inventory.Alert
}

func (a *Alerts) Alert(_ context.Context, al inventory.Alert) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.All = append(a.All, al)
}

func (a *Alerts) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.All)
}

// Kit wires a Ledger over in-memory stores.
type Kit struct {
	DB     *DB
	Sheet  *Sheet
	Drifts *Drifts
	Alerts *Alerts
	Ledger *inventory.Ledger
}

func NewKit() *Kit {
	k := &Kit{DB: NewDB(), Sheet: NewSheet(), Drifts: &Drifts{}, Alerts: &Alerts{}}
	w := inventory.NewDualWriter(k.DB, k.Sheet, k.Drifts, k.Alerts, nil, logging.Discard())
	k.Ledger = inventory.NewLedger(k.DB, w, logging.Discard())
	return k
}

// Seed puts the same counters into both stores.
func (k *Kit) Seed(id uint64, c model.Counters) {
	k.DB.Put(id, c)
	k.Sheet.Put(id, c)
}
