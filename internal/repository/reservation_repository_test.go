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

var reservationColumns = []string{"id", "ticket_type_id", "scheduled_event_id", "child_seats", "adult_seats",
	"price_cents", "status", "user_id", "chat_id", "payment_ref", "notes", "migrated_from", "created_at", "updated_at"}

func newReservationRepo(t *testing.T) (*ReservationRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewReservationRepo(db), mock
}

func TestCreateInsertsReservationAndPeople(t *testing.T) {
	repo, mock := newReservationRepo(t)
	now := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	birth := time.Date(2018, 6, 1, 0, 0, 0, 0, time.UTC)
	res := &model.Reservation{
		TicketTypeID: 2, ScheduledEventID: 5, Seats: model.Seats{Child: 1, Adult: 1},
		PriceCents: 2500, Status: model.StatusCreated, UserID: 77, ChatID: 77,
		People: []model.Person{
			{FullName: "Ann Lee", Role: model.RoleBuyer, Phone: "+15550001111", Email: "ann@example.com"},
			{FullName: "Tom Lee", Role: model.RoleDependent, BirthDate: &birth},
		},
		CreatedAt: now, UpdatedAt: now,
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO reservations")).
		WithArgs(uint64(2), uint64(5), 1, 1, int64(2500), "CREATED", int64(77), int64(77), nil, "", nil, now, now).
		WillReturnResult(sqlmock.NewResult(10, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO reservation_people")).
		WithArgs(uint64(10), "Ann Lee", "BUYER", "+15550001111", "ann@example.com", nil).
		WillReturnResult(sqlmock.NewResult(100, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO reservation_people")).
		WithArgs(uint64(10), "Tom Lee", "DEPENDENT", "", "", "2018-06-01").
		WillReturnResult(sqlmock.NewResult(101, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Create(context.Background(), res))
	assert.Equal(t, uint64(10), res.ID)
	assert.Equal(t, uint64(101), res.People[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRollsBackOnPersonFailure(t *testing.T) {
	repo, mock := newReservationRepo(t)
	res := &model.Reservation{Status: model.StatusCreated, People: []model.Person{{FullName: "A B", Role: model.RoleBuyer}}}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO reservations")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO reservation_people")).WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := repo.Create(context.Background(), res)
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByIDLoadsPeople(t *testing.T) {
	repo, mock := newReservationRepo(t)
	now := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM reservations WHERE id = ?")).
		WithArgs(uint64(10)).
		WillReturnRows(sqlmock.NewRows(reservationColumns).
			AddRow(10, 2, 5, 2, 0, 3000, "PAID", 77, 77, "pay-1", "", nil, now, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM reservation_people WHERE reservation_id = ?")).
		WithArgs(uint64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "full_name", "role", "phone", "email", "birth_date"}).
			AddRow(1, "Ann Lee", "BUYER", "+15550001111", "ann@example.com", nil))

	res, err := repo.GetByID(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPaid, res.Status)
	require.NotNil(t, res.PaymentRef)
	assert.Equal(t, "pay-1", *res.PaymentRef)
	assert.Nil(t, res.MigratedFrom)
	buyer, ok := res.Buyer()
	require.True(t, ok)
	assert.Equal(t, "Ann Lee", buyer.FullName)
}

func TestGetByIDNotFound(t *testing.T) {
	repo, mock := newReservationRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM reservations WHERE id = ?")).
		WillReturnRows(sqlmock.NewRows(reservationColumns))

	_, err := repo.GetByID(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateStatusConflict(t *testing.T) {
	repo, mock := newReservationRepo(t)
	at := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE reservations SET status = ?")).
		WithArgs("CANCELED", "[2026-04-02T09:00:00Z] timeout\n", at, uint64(3), "CREATED").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM reservations WHERE id = ?")).
		WithArgs(uint64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	err := repo.UpdateStatus(context.Background(), 3, model.StatusCreated, model.StatusCanceled, "timeout", at)
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusApplied(t *testing.T) {
	repo, mock := newReservationRepo(t)
	at := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE reservations SET status = ?")).
		WithArgs("PAID", "", at, uint64(3), "CREATED").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateStatus(context.Background(), 3, model.StatusCreated, model.StatusPaid, "", at))
}

func TestListByStatusDefaultsLimit(t *testing.T) {
	repo, mock := newReservationRepo(t)
	now := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = ? ORDER BY created_at, id LIMIT ?")).
		WithArgs("CREATED", 100).
		WillReturnRows(sqlmock.NewRows(reservationColumns).
			AddRow(1, 2, 5, 1, 0, 1000, "CREATED", 7, 7, nil, "", nil, now, now).
			AddRow(2, 2, 5, 1, 0, 1000, "CREATED", 8, 8, nil, "", 1, now, now))

	got, err := repo.ListByStatus(context.Background(), model.StatusCreated, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.NotNil(t, got[1].MigratedFrom)
	assert.Equal(t, uint64(1), *got[1].MigratedFrom)
}

func TestListCreatedBeforePages(t *testing.T) {
	repo, mock := newReservationRepo(t)
	now := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	cutoff := now.Add(-30 * time.Minute)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = ? AND created_at < ? AND id > ? ORDER BY id LIMIT ?")).
		WithArgs("CREATED", cutoff, uint64(7), 50).
		WillReturnRows(sqlmock.NewRows(reservationColumns).
			AddRow(8, 2, 5, 1, 0, 1000, "CREATED", 7, 7, nil, "", nil, cutoff, cutoff))

	got, err := repo.ListCreatedBefore(context.Background(), model.StatusCreated, cutoff, 7, 50)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(8), got[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
