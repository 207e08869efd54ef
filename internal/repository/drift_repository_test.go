package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/event-seat-bot/internal/model"
)

func TestDriftRecordAndList(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewDriftRepo(db)
	at := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	counters := model.Counters{ChildTotal: 5, ChildFree: 4, ChildPending: 1}
	raw := `{"child_total":5,"child_free":4,"child_pending":1,"adult_total":0,"adult_free":0,"adult_pending":0}`

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO counter_drifts")).
		WithArgs(uint64(3), -1, 1, 0, 0, raw, "quota exceeded", at).
		WillReturnResult(sqlmock.NewResult(12, 1))
	id, err := repo.RecordDrift(context.Background(), model.Drift{
		ScheduledEventID: 3, Delta: model.Delta{ChildFree: -1, ChildPending: 1},
		Counters: counters, Error: "quota exceeded", CreatedAt: at,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(12), id)

	mock.ExpectQuery(regexp.QuoteMeta("FROM counter_drifts WHERE resolved_at IS NULL")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "scheduled_event_id", "delta_child_free", "delta_child_pending",
			"delta_adult_free", "delta_adult_pending", "counters_json", "error", "created_at"}).
			AddRow(12, 3, -1, 1, 0, 0, []byte(raw), "quota exceeded", at))
	open, err := repo.OpenDrifts(context.Background())
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, counters, open[0].Counters)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE counter_drifts SET resolved_at = ?")).
		WithArgs(at, uint64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.ResolveDrifts(context.Background(), 3, at))
	assert.NoError(t, mock.ExpectationsWereMet())
}
