// Package queue carries domain events over RabbitMQ: reservation status
// changes for the audit log and counter alerts for staff tooling.
package queue

import (
	"time"

	"github.com/iliyamo/event-seat-bot/internal/model"
)

const (
	// ReservationQueue receives one message per reservation status change.
	ReservationQueue = "reservation.status"
	// AlertQueue receives drift and store failure alerts.
	AlertQueue = "inventory.alerts"
)

// ReservationEvent is published after a reservation changed status.  It
// carries enough for downstream consumers to log or notify without
// querying the database.  From is empty for a new reservation.
type ReservationEvent struct {
	ReservationID    uint64       `json:"reservation_id"`
	ScheduledEventID uint64       `json:"scheduled_event_id"`
	ChatID           int64        `json:"chat_id"`
	From             model.Status `json:"from,omitempty"`
	To               model.Status `json:"to"`
	Seats            model.Seats  `json:"seats"`
	PriceCents       int64        `json:"price_cents"`
	Note             string       `json:"note,omitempty"`
	At               time.Time    `json:"at"`
}
