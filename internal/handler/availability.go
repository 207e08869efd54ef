package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-seat-bot/internal/model"
	"github.com/iliyamo/event-seat-bot/internal/repository"
)

// Schedules reads the catalog.
type Schedules interface {
	GetByID(ctx context.Context, id uint64) (model.ScheduledEvent, error)
	GetEvent(ctx context.Context, id uint64) (model.Event, error)
	ListEventsBetween(ctx context.Context, from, to time.Time) ([]model.Event, error)
	ListSchedulesBetween(ctx context.Context, eventID uint64, from, to time.Time) ([]model.ScheduledEvent, error)
}

// Availability reads live counters from the authoritative store.
type Availability interface {
	Availability(ctx context.Context, scheduleID uint64) (model.Counters, error)
}

// PublicHandler serves unauthenticated read-only endpoints.
type PublicHandler struct {
	Schedules    Schedules
	Availability Availability
	Clock        clockwork.Clock
}

func NewPublicHandler(s Schedules, a Availability, clock clockwork.Clock) *PublicHandler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &PublicHandler{Schedules: s, Availability: a, Clock: clock}
}

type availabilityResp struct {
	ScheduleID uint64    `json:"schedule_id"`
	EventID    uint64    `json:"event_id"`
	EventTitle string    `json:"event_title"`
	StartsAt   time.Time `json:"starts_at"`
	ChildFree  int       `json:"child_free"`
	AdultFree  int       `json:"adult_free"`
	SoldOut    bool      `json:"sold_out"`
}

// GetAvailability handles GET /v1/schedules/:id/availability.  Pending
// seats are not exposed.
func (h *PublicHandler) GetAvailability(c echo.Context) error {
	id, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid schedule id"})
	}
	ctx := c.Request().Context()
	sch, err := h.Schedules.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "schedule not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load schedule"})
	}
	ev, err := h.Schedules.GetEvent(ctx, sch.EventID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load event"})
	}
	counters, err := h.Availability.Availability(ctx, id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to read availability"})
	}
	sch.Counters = counters
	return c.JSON(http.StatusOK, availabilityResp{
		ScheduleID: sch.ID,
		EventID:    sch.EventID,
		EventTitle: ev.Title,
		StartsAt:   sch.StartsAt,
		ChildFree:  counters.ChildFree,
		AdultFree:  counters.AdultFree,
		SoldOut:    sch.SoldOut(),
	})
}
