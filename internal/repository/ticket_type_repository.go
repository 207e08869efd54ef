package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/event-seat-bot/internal/model"
)

// TicketTypeRepo reads ticket types.  They are maintained elsewhere.
type TicketTypeRepo struct {
	db *sql.DB
}

func NewTicketTypeRepo(db *sql.DB) *TicketTypeRepo { return &TicketTypeRepo{db: db} }

const ticketTypeCols = `id, event_id, name, child_seats, adult_seats, price_cents, is_individual, is_season_pass`

func scanTicketType(row rowScanner) (model.TicketType, error) {
	var t model.TicketType
	err := row.Scan(&t.ID, &t.EventID, &t.Name, &t.Seats.Child, &t.Seats.Adult,
		&t.PriceCents, &t.Individual, &t.SeasonPass)
	return t, err
}

// GetByID returns one ticket type or ErrNotFound.
func (r *TicketTypeRepo) GetByID(ctx context.Context, id uint64) (model.TicketType, error) {
	t, err := scanTicketType(r.db.QueryRowContext(ctx,
		`SELECT `+ticketTypeCols+` FROM ticket_types WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	return t, err
}

// ListByEvent returns the ticket types sold for an event.
func (r *TicketTypeRepo) ListByEvent(ctx context.Context, eventID uint64) ([]model.TicketType, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+ticketTypeCols+` FROM ticket_types WHERE event_id = ? ORDER BY price_cents, id`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.TicketType
	for rows.Next() {
		t, err := scanTicketType(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
