package handler

import (
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/event-seat-bot/internal/model"
)

func TestAvailability(t *testing.T) {
	h := newHarness(t)
	schedules := fakeSchedules{
		1: {ID: 1, EventID: 10, StartsAt: start.AddDate(0, 0, 13)},
		2: {ID: 2, EventID: 10, StartsAt: start.AddDate(0, 0, 14)},
	}
	h.Seed(2, model.Counters{ChildTotal: 4, AdultTotal: 4, ChildPending: 4, AdultFree: 4})
	p := NewPublicHandler(schedules, h.Ledger, h.Clock)
	e := echo.New()
	e.GET("/v1/schedules/:id/availability", p.GetAvailability)

	book(t, h, 1)
	rec := do(e, http.MethodGet, "/v1/schedules/1/availability", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"child_free":3`)
	assert.Contains(t, rec.Body.String(), `"event_title":"Puppet theatre"`)
	assert.Contains(t, rec.Body.String(), `"sold_out":false`)

	rec = do(e, http.MethodGet, "/v1/schedules/2/availability", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"sold_out":true`)

	assert.Equal(t, http.StatusNotFound, do(e, http.MethodGet, "/v1/schedules/9/availability", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(e, http.MethodGet, "/v1/schedules/x/availability", "").Code)
}

func TestCatalogListing(t *testing.T) {
	h := newHarness(t)
	schedules := fakeSchedules{
		1: {ID: 1, EventID: 10, StartsAt: start.AddDate(0, 0, 13), Counters: fresh(5, 5)},
		2: {ID: 2, EventID: 10, StartsAt: start.AddDate(0, 0, 14), Counters: model.Counters{ChildTotal: 2, ChildPending: 2}},
		3: {ID: 3, EventID: 10, StartsAt: start.AddDate(0, 6, 0), Counters: fresh(5, 5)},
	}
	p := NewPublicHandler(schedules, h.Ledger, h.Clock)
	e := echo.New()
	e.GET("/v1/events", p.ListEvents)
	e.GET("/v1/events/:id/schedules", p.ListSchedules)

	rec := do(e, http.MethodGet, "/v1/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"title":"Puppet theatre"`)

	rec = do(e, http.MethodGet, "/v1/events/10/schedules", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":2`)
	assert.Contains(t, rec.Body.String(), `"sold_out":true`)

	rec = do(e, http.MethodGet, "/v1/events/10/schedules?from=2026-08-01&to=2026-09-30", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)

	assert.Equal(t, http.StatusBadRequest, do(e, http.MethodGet, "/v1/events?from=01.03.2026", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(e, http.MethodGet, "/v1/events?from=2026-05-01&to=2026-04-01", "").Code)
}
