package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/iliyamo/event-seat-bot/internal/model"
)

// DriftRepo stores the reconciliation log of the sheet ledger.  It
// implements inventory.DriftLog.
type DriftRepo struct {
	db *sql.DB
}

func NewDriftRepo(db *sql.DB) *DriftRepo { return &DriftRepo{db: db} }

// RecordDrift inserts an open drift record.
func (r *DriftRepo) RecordDrift(ctx context.Context, d model.Drift) (uint64, error) {
	counters, err := json.Marshal(d.Counters)
	if err != nil {
		return 0, err
	}
	const q = `INSERT INTO counter_drifts (scheduled_event_id, delta_child_free, delta_child_pending,
        delta_adult_free, delta_adult_pending, counters_json, error, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, d.ScheduledEventID, d.Delta.ChildFree, d.Delta.ChildPending,
		d.Delta.AdultFree, d.Delta.AdultPending, string(counters), d.Error, d.CreatedAt.UTC())
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// OpenDrifts lists unresolved drift records, oldest first.
func (r *DriftRepo) OpenDrifts(ctx context.Context) ([]model.Drift, error) {
	const q = `SELECT id, scheduled_event_id, delta_child_free, delta_child_pending, delta_adult_free,
        delta_adult_pending, counters_json, error, created_at
        FROM counter_drifts WHERE resolved_at IS NULL ORDER BY created_at, id`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Drift
	for rows.Next() {
		var (
			d        model.Drift
			counters []byte
		)
		if err := rows.Scan(&d.ID, &d.ScheduledEventID, &d.Delta.ChildFree, &d.Delta.ChildPending,
			&d.Delta.AdultFree, &d.Delta.AdultPending, &counters, &d.Error, &d.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(counters, &d.Counters); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ResolveDrifts closes every open record of a schedule.
func (r *DriftRepo) ResolveDrifts(ctx context.Context, scheduleID uint64, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE counter_drifts SET resolved_at = ? WHERE scheduled_event_id = ? AND resolved_at IS NULL`,
		at.UTC(), scheduleID)
	return err
}
