package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/event-seat-bot/internal/model"
)

// WaitlistRepo appends waitlist entries.  Entries are never updated.
type WaitlistRepo struct {
	db *sql.DB
}

func NewWaitlistRepo(db *sql.DB) *WaitlistRepo { return &WaitlistRepo{db: db} }

// Create inserts e and sets its ID.
func (r *WaitlistRepo) Create(ctx context.Context, e *model.WaitlistEntry) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO waitlist_entries (scheduled_event_id, chat_id, contact, created_at) VALUES (?, ?, ?, ?)`,
		e.ScheduledEventID, e.ChatID, e.Contact, e.CreatedAt.UTC())
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = uint64(id)
	return nil
}

// ListBySchedule returns the waitlist of a schedule in signup order.
func (r *WaitlistRepo) ListBySchedule(ctx context.Context, scheduleID uint64) ([]model.WaitlistEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, scheduled_event_id, chat_id, contact, created_at FROM waitlist_entries
         WHERE scheduled_event_id = ? ORDER BY created_at, id`, scheduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.WaitlistEntry
	for rows.Next() {
		var e model.WaitlistEntry
		if err := rows.Scan(&e.ID, &e.ScheduledEventID, &e.ChatID, &e.Contact, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
