package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/event-seat-bot/internal/model"
)

// ReservationRepo persists reservations and the people attached to them.
// People are stored in reservation_people, the buyer first.  All
// timestamps are stored in UTC.
type ReservationRepo struct {
	db *sql.DB
}

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

const reservationCols = `id, ticket_type_id, scheduled_event_id, child_seats, adult_seats, price_cents,
    status, user_id, chat_id, payment_ref, notes, migrated_from, created_at, updated_at`

func scanReservation(row rowScanner) (model.Reservation, error) {
	var (
		r            model.Reservation
		status       string
		paymentRef   sql.NullString
		migratedFrom sql.NullInt64
	)
	err := row.Scan(&r.ID, &r.TicketTypeID, &r.ScheduledEventID, &r.Seats.Child, &r.Seats.Adult,
		&r.PriceCents, &status, &r.UserID, &r.ChatID, &paymentRef, &r.Notes, &migratedFrom,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return r, err
	}
	r.Status = model.Status(status)
	if paymentRef.Valid {
		pr := paymentRef.String
		r.PaymentRef = &pr
	}
	if migratedFrom.Valid {
		m := uint64(migratedFrom.Int64)
		r.MigratedFrom = &m
	}
	return r, nil
}

// Create inserts the reservation and its people in one transaction and
// sets the generated ids.  CreatedAt and UpdatedAt are taken from res so
// the caller's clock decides the age of a reservation.
func (r *ReservationRepo) Create(ctx context.Context, res *model.Reservation) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var migratedFrom any
	if res.MigratedFrom != nil {
		migratedFrom = *res.MigratedFrom
	}
	var paymentRef any
	if res.PaymentRef != nil {
		paymentRef = *res.PaymentRef
	}
	const q = `INSERT INTO reservations (ticket_type_id, scheduled_event_id, child_seats, adult_seats,
        price_cents, status, user_id, chat_id, payment_ref, notes, migrated_from, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := tx.ExecContext(ctx, q, res.TicketTypeID, res.ScheduledEventID, res.Seats.Child, res.Seats.Adult,
		res.PriceCents, string(res.Status), res.UserID, res.ChatID, paymentRef, res.Notes, migratedFrom,
		res.CreatedAt.UTC(), res.UpdatedAt.UTC())
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	res.ID = uint64(id)

	for i := range res.People {
		if err := insertPerson(ctx, tx, res.ID, &res.People[i]); err != nil {
			return fmt.Errorf("insert person %d: %w", i, err)
		}
	}
	return tx.Commit()
}

func insertPerson(ctx context.Context, tx *sql.Tx, reservationID uint64, p *model.Person) error {
	var birth any
	if p.BirthDate != nil {
		birth = p.BirthDate.Format("2006-01-02")
	}
	const q = `INSERT INTO reservation_people (reservation_id, full_name, role, phone, email, birth_date)
               VALUES (?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?)`
	res, err := tx.ExecContext(ctx, q, reservationID, p.FullName, string(p.Role), p.Phone, p.Email, birth)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = uint64(id)
	return nil
}

// GetByID loads a reservation and its people.  It returns ErrNotFound
// when no row matches.
func (r *ReservationRepo) GetByID(ctx context.Context, id uint64) (model.Reservation, error) {
	res, err := scanReservation(r.db.QueryRowContext(ctx,
		`SELECT `+reservationCols+` FROM reservations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return res, ErrNotFound
	}
	if err != nil {
		return res, err
	}
	res.People, err = r.people(ctx, id)
	return res, err
}

// GetByPaymentRef finds the reservation a gateway payment belongs to.
func (r *ReservationRepo) GetByPaymentRef(ctx context.Context, ref string) (model.Reservation, error) {
	var id uint64
	err := r.db.QueryRowContext(ctx, `SELECT id FROM reservations WHERE payment_ref = ?`, ref).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Reservation{}, ErrNotFound
	}
	if err != nil {
		return model.Reservation{}, err
	}
	return r.GetByID(ctx, id)
}

func (r *ReservationRepo) people(ctx context.Context, reservationID uint64) ([]model.Person, error) {
	const q = `SELECT id, full_name, role, COALESCE(phone, ''), COALESCE(email, ''), birth_date
               FROM reservation_people WHERE reservation_id = ? ORDER BY id`
	rows, err := r.db.QueryContext(ctx, q, reservationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Person
	for rows.Next() {
		var (
			p     model.Person
			role  string
			birth sql.NullTime
		)
		if err := rows.Scan(&p.ID, &p.FullName, &role, &p.Phone, &p.Email, &birth); err != nil {
			return nil, err
		}
		p.Role = model.PersonRole(role)
		if birth.Valid {
			b := birth.Time
			p.BirthDate = &b
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateStatus moves a reservation from one status to another and appends
// note to its notes.  The update only matches while the row is still in
// from; otherwise ErrConflict (or ErrNotFound) is returned and nothing
// changes.
func (r *ReservationRepo) UpdateStatus(ctx context.Context, id uint64, from, to model.Status, note string, at time.Time) error {
	if note != "" {
		note = fmt.Sprintf("[%s] %s\n", at.UTC().Format(time.RFC3339), note)
	}
	const q = `UPDATE reservations SET status = ?, notes = CONCAT(notes, ?), updated_at = ?
               WHERE id = ? AND status = ?`
	res, err := r.db.ExecContext(ctx, q, string(to), note, at.UTC(), id, string(from))
	if err != nil {
		return err
	}
	return r.expectOne(ctx, res, id)
}

// SetPaymentRef stores the gateway payment id of a reservation.
func (r *ReservationRepo) SetPaymentRef(ctx context.Context, id uint64, ref string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE reservations SET payment_ref = ?, updated_at = ? WHERE id = ?`, ref, at.UTC(), id)
	if err != nil {
		return err
	}
	return r.expectOne(ctx, res, id)
}

func (r *ReservationRepo) expectOne(ctx context.Context, res sql.Result, id uint64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var exists int
	err = r.db.QueryRowContext(ctx, `SELECT 1 FROM reservations WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrConflict
}

// ListCreatedBefore returns up to limit reservations in status that were
// created before cutoff and have an id above afterID, by id.  Callers page
// by passing the last id they saw.
func (r *ReservationRepo) ListCreatedBefore(ctx context.Context, status model.Status, cutoff time.Time, afterID uint64, limit int) ([]model.Reservation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+reservationCols+` FROM reservations WHERE status = ? AND created_at < ? AND id > ? ORDER BY id LIMIT ?`,
		string(status), cutoff.UTC(), afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// ListByStatus returns reservations in the given status, oldest first.
// People are not loaded.  A limit of zero means 100.
func (r *ReservationRepo) ListByStatus(ctx context.Context, status model.Status, limit int) ([]model.Reservation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+reservationCols+` FROM reservations WHERE status = ? ORDER BY created_at, id LIMIT ?`,
		string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}
