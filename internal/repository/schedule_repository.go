package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/event-seat-bot/internal/model"
)

// ScheduleRepo reads the catalog (events and their schedules) and owns
// the database copy of the seat counters.  It implements
// inventory.CounterStore.
type ScheduleRepo struct {
	db *sql.DB
}

// NewScheduleRepo constructs a ScheduleRepo with the given DB handle.
func NewScheduleRepo(db *sql.DB) *ScheduleRepo { return &ScheduleRepo{db: db} }

const scheduleCols = `id, event_id, starts_at, gift_enabled, extras_enabled,
    child_total, child_free, child_pending, adult_total, adult_free, adult_pending`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (model.ScheduledEvent, error) {
	var s model.ScheduledEvent
	c := &s.Counters
	err := row.Scan(&s.ID, &s.EventID, &s.StartsAt, &s.GiftEnabled, &s.ExtrasEnabled,
		&c.ChildTotal, &c.ChildFree, &c.ChildPending, &c.AdultTotal, &c.AdultFree, &c.AdultPending)
	return s, err
}

// GetByID returns one schedule including its counters.
func (r *ScheduleRepo) GetByID(ctx context.Context, id uint64) (model.ScheduledEvent, error) {
	s, err := scanSchedule(r.db.QueryRowContext(ctx,
		`SELECT `+scheduleCols+` FROM scheduled_events WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	return s, err
}

// ReadCounters returns the counters of one schedule.
func (r *ScheduleRepo) ReadCounters(ctx context.Context, id uint64) (model.Counters, error) {
	s, err := r.GetByID(ctx, id)
	return s.Counters, err
}

// applyDeltaSQL adds the delta and only matches the row when every
// counter stays within [0, total] afterwards.
const applyDeltaSQL = `UPDATE scheduled_events SET
    child_free = child_free + ?, child_pending = child_pending + ?,
    adult_free = adult_free + ?, adult_pending = adult_pending + ?
  WHERE id = ?
    AND child_free + ? >= 0 AND child_pending + ? >= 0
    AND child_free + ? + child_pending + ? <= child_total
    AND adult_free + ? >= 0 AND adult_pending + ? >= 0
    AND adult_free + ? + adult_pending + ? <= adult_total`

// ApplyDelta applies d with a guarded update and returns the counters
// after it.  When the guard rejects the change applied is false and the
// current counters are returned unchanged.
func (r *ScheduleRepo) ApplyDelta(ctx context.Context, id uint64, d model.Delta) (model.Counters, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Counters{}, false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, applyDeltaSQL,
		d.ChildFree, d.ChildPending, d.AdultFree, d.AdultPending, id,
		d.ChildFree, d.ChildPending, d.ChildFree, d.ChildPending,
		d.AdultFree, d.AdultPending, d.AdultFree, d.AdultPending)
	if err != nil {
		return model.Counters{}, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Counters{}, false, err
	}

	s, err := scanSchedule(tx.QueryRowContext(ctx,
		`SELECT `+scheduleCols+` FROM scheduled_events WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Counters{}, false, ErrNotFound
	}
	if err != nil {
		return model.Counters{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return model.Counters{}, false, err
	}
	return s.Counters, n == 1, nil
}

// ListEventsBetween returns active events with at least one schedule that
// starts in [from, to).
func (r *ScheduleRepo) ListEventsBetween(ctx context.Context, from, to time.Time) ([]model.Event, error) {
	const q = `SELECT DISTINCT e.id, e.title, COALESCE(e.description, ''), e.is_active
               FROM events e
               JOIN scheduled_events s ON s.event_id = e.id
               WHERE e.is_active = 1 AND s.starts_at >= ? AND s.starts_at < ?
               ORDER BY e.title, e.id`
	rows, err := r.db.QueryContext(ctx, q, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Event
	for rows.Next() {
		var e model.Event
		if err := rows.Scan(&e.ID, &e.Title, &e.Description, &e.Active); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetEvent returns one catalog event.
func (r *ScheduleRepo) GetEvent(ctx context.Context, id uint64) (model.Event, error) {
	var e model.Event
	err := r.db.QueryRowContext(ctx,
		`SELECT id, title, COALESCE(description, ''), is_active FROM events WHERE id = ?`, id).
		Scan(&e.ID, &e.Title, &e.Description, &e.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return e, ErrNotFound
	}
	return e, err
}

// ListSchedulesBetween returns the schedules of one event that start in
// [from, to), ordered by start time.
func (r *ScheduleRepo) ListSchedulesBetween(ctx context.Context, eventID uint64, from, to time.Time) ([]model.ScheduledEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+scheduleCols+` FROM scheduled_events
         WHERE event_id = ? AND starts_at >= ? AND starts_at < ?
         ORDER BY starts_at, id`, eventID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.ScheduledEvent
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
