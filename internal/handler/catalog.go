package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

const dateLayout = "2006-01-02"

// window reads ?from=YYYY-MM-DD&to=YYYY-MM-DD.  It defaults to the next 90
// days and rejects windows longer than a year.
func window(c echo.Context, now time.Time) (time.Time, time.Time, bool) {
	from, to := now, now.AddDate(0, 0, 90)
	if s := c.QueryParam("from"); s != "" {
		t, err := time.Parse(dateLayout, s)
		if err != nil {
			return from, to, false
		}
		from = t
		to = from.AddDate(0, 0, 90)
	}
	if s := c.QueryParam("to"); s != "" {
		t, err := time.Parse(dateLayout, s)
		if err != nil {
			return from, to, false
		}
		to = t.AddDate(0, 0, 1)
	}
	return from, to, to.After(from) && to.Sub(from) <= 366*24*time.Hour
}

type eventResp struct {
	ID          uint64 `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type scheduleResp struct {
	ID        uint64    `json:"id"`
	EventID   uint64    `json:"event_id"`
	StartsAt  time.Time `json:"starts_at"`
	ChildFree int       `json:"child_free"`
	AdultFree int       `json:"adult_free"`
	SoldOut   bool      `json:"sold_out"`
}

// ListEvents handles GET /v1/events: active events with at least one
// schedule in the window.
func (h *PublicHandler) ListEvents(c echo.Context) error {
	from, to, ok := window(c, h.Clock.Now().UTC())
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid date window"})
	}
	events, err := h.Schedules.ListEventsBetween(c.Request().Context(), from, to)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load events"})
	}
	items := make([]eventResp, 0, len(events))
	for _, ev := range events {
		items = append(items, eventResp{ID: ev.ID, Title: ev.Title, Description: ev.Description})
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items, "count": len(items)})
}

// ListSchedules handles GET /v1/events/:id/schedules.  Counters come from
// the schedule rows and may lag the live availability endpoint by a
// cache period.
func (h *PublicHandler) ListSchedules(c echo.Context) error {
	id, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	from, to, ok := window(c, h.Clock.Now().UTC())
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid date window"})
	}
	list, err := h.Schedules.ListSchedulesBetween(c.Request().Context(), id, from, to)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load schedules"})
	}
	items := make([]scheduleResp, 0, len(list))
	for _, s := range list {
		items = append(items, scheduleResp{
			ID: s.ID, EventID: s.EventID, StartsAt: s.StartsAt,
			ChildFree: s.Counters.ChildFree, AdultFree: s.Counters.AdultFree, SoldOut: s.SoldOut(),
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items, "count": len(items)})
}
