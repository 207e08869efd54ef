package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-seat-bot/internal/inventory"
	"github.com/iliyamo/event-seat-bot/internal/model"
	"github.com/iliyamo/event-seat-bot/internal/reservation"
)

// Saga is the part of the reservation service the staff API drives.
type Saga interface {
	Get(ctx context.Context, id uint64) (model.Reservation, error)
	ListByStatus(ctx context.Context, status model.Status, limit int) ([]model.Reservation, error)
	Transition(ctx context.Context, id uint64, to model.Status, note string) (model.Reservation, error)
	Migrate(ctx context.Context, id, targetScheduleID uint64) (model.Reservation, error)
}

// WaitlistReader lists waitlist entries.
type WaitlistReader interface {
	ListBySchedule(ctx context.Context, scheduleID uint64) ([]model.WaitlistEntry, error)
}

// Drifts lists unrepaired Store A failures.
type Drifts interface {
	OpenDrifts(ctx context.Context) ([]model.Drift, error)
}

// Reconciler repairs Store A from Store B.
type Reconciler interface {
	RunOnce(ctx context.Context) (int, error)
	Compare(ctx context.Context, scheduleID uint64) (inventory.Comparison, error)
}

// StaffHandler serves /v1/staff.
type StaffHandler struct {
	Saga       Saga
	Waitlist   WaitlistReader
	Drifts     Drifts
	Reconciler Reconciler
}

func NewStaffHandler(saga Saga, waitlist WaitlistReader, drifts Drifts, rec Reconciler) *StaffHandler {
	if saga == nil || waitlist == nil || drifts == nil || rec == nil {
		panic("nil dependency passed to NewStaffHandler")
	}
	return &StaffHandler{Saga: saga, Waitlist: waitlist, Drifts: drifts, Reconciler: rec}
}

type reservationResp struct {
	ID               uint64         `json:"id"`
	ScheduledEventID uint64         `json:"scheduled_event_id"`
	TicketTypeID     uint64         `json:"ticket_type_id"`
	Seats            model.Seats    `json:"seats"`
	PriceCents       int64          `json:"price_cents"`
	Status           model.Status   `json:"status"`
	ChatID           int64          `json:"chat_id"`
	People           []model.Person `json:"people"`
	PaymentRef       *string        `json:"payment_ref,omitempty"`
	Notes            string         `json:"notes,omitempty"`
	MigratedFrom     *uint64        `json:"migrated_from,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

func toReservationResp(r model.Reservation) reservationResp {
	people := r.People
	if people == nil {
		people = []model.Person{}
	}
	return reservationResp{
		ID: r.ID, ScheduledEventID: r.ScheduledEventID, TicketTypeID: r.TicketTypeID,
		Seats: r.Seats, PriceCents: r.PriceCents, Status: r.Status, ChatID: r.ChatID,
		People: people, PaymentRef: r.PaymentRef, Notes: r.Notes, MigratedFrom: r.MigratedFrom,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

type waitlistResp struct {
	ID        uint64    `json:"id"`
	ChatID    int64     `json:"chat_id"`
	Contact   string    `json:"contact"`
	CreatedAt time.Time `json:"created_at"`
}

type driftResp struct {
	ID               uint64         `json:"id"`
	ScheduledEventID uint64         `json:"scheduled_event_id"`
	Delta            model.Delta    `json:"delta"`
	Counters         model.Counters `json:"counters"`
	Error            string         `json:"error"`
	CreatedAt        time.Time      `json:"created_at"`
}

func paramID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id != 0
}

// sagaError maps reservation errors onto responses.
func sagaError(c echo.Context, err error) error {
	var se *inventory.StoreError
	switch {
	case errors.Is(err, reservation.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "reservation not found"})
	case errors.Is(err, reservation.ErrInvalidTransition):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case errors.Is(err, reservation.ErrMigrationFailed):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case errors.Is(err, reservation.ErrStatusWrite):
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
	case errors.As(err, &se):
		return c.JSON(http.StatusBadGateway, echo.Map{"error": err.Error()})
	}
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "reservation update failed"})
}

// ListReservations handles GET /v1/staff/reservations?status=PAID&limit=50.
func (h *StaffHandler) ListReservations(c echo.Context) error {
	status, ok := model.ParseStatus(strings.ToUpper(c.QueryParam("status")))
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown status"})
	}
	limit := 50
	if s := c.QueryParam("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 500 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "limit must be 1..500"})
		}
		limit = n
	}
	list, err := h.Saga.ListByStatus(c.Request().Context(), status, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load reservations"})
	}
	items := make([]reservationResp, 0, len(list))
	for _, r := range list {
		items = append(items, toReservationResp(r))
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items, "count": len(items)})
}

// GetReservation handles GET /v1/staff/reservations/:id.
func (h *StaffHandler) GetReservation(c echo.Context) error {
	id, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation id"})
	}
	res, err := h.Saga.Get(c.Request().Context(), id)
	if err != nil {
		return sagaError(c, err)
	}
	return c.JSON(http.StatusOK, toReservationResp(res))
}

type transitionReq struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

// TransitionReservation handles POST /v1/staff/reservations/:id/transition.
func (h *StaffHandler) TransitionReservation(c echo.Context) error {
	id, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation id"})
	}
	var req transitionReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	to, ok := model.ParseStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown status"})
	}
	note := strings.TrimSpace(req.Note)
	if note == "" {
		note = "set by staff"
	}
	if uid, ok := c.Get("user_id").(uint64); ok {
		note += " (staff #" + strconv.FormatUint(uid, 10) + ")"
	}
	res, err := h.Saga.Transition(c.Request().Context(), id, to, note)
	if err != nil {
		return sagaError(c, err)
	}
	return c.JSON(http.StatusOK, toReservationResp(res))
}

type migrateReq struct {
	TargetScheduleID uint64 `json:"target_schedule_id"`
}

// MigrateReservation handles POST /v1/staff/reservations/:id/migrate and
// returns the new reservation.
func (h *StaffHandler) MigrateReservation(c echo.Context) error {
	id, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation id"})
	}
	var req migrateReq
	if err := c.Bind(&req); err != nil || req.TargetScheduleID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "target_schedule_id required"})
	}
	res, err := h.Saga.Migrate(c.Request().Context(), id, req.TargetScheduleID)
	if err != nil {
		return sagaError(c, err)
	}
	return c.JSON(http.StatusCreated, toReservationResp(res))
}

// ListWaitlist handles GET /v1/staff/schedules/:id/waitlist.
func (h *StaffHandler) ListWaitlist(c echo.Context) error {
	id, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid schedule id"})
	}
	list, err := h.Waitlist.ListBySchedule(c.Request().Context(), id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load waitlist"})
	}
	items := make([]waitlistResp, 0, len(list))
	for _, e := range list {
		items = append(items, waitlistResp{ID: e.ID, ChatID: e.ChatID, Contact: e.Contact, CreatedAt: e.CreatedAt})
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items, "count": len(items)})
}

// ListDrifts handles GET /v1/staff/drifts.
func (h *StaffHandler) ListDrifts(c echo.Context) error {
	list, err := h.Drifts.OpenDrifts(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load drifts"})
	}
	items := make([]driftResp, 0, len(list))
	for _, d := range list {
		items = append(items, driftResp{
			ID: d.ID, ScheduledEventID: d.ScheduledEventID, Delta: d.Delta,
			Counters: d.Counters, Error: d.Error, CreatedAt: d.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items, "count": len(items)})
}

// Reconcile handles POST /v1/staff/reconcile.
func (h *StaffHandler) Reconcile(c echo.Context) error {
	n, err := h.Reconciler.RunOnce(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusBadGateway, echo.Map{"error": err.Error(), "repaired": n})
	}
	return c.JSON(http.StatusOK, echo.Map{"repaired": n})
}

// CompareStores handles GET /v1/staff/schedules/:id/compare.
func (h *StaffHandler) CompareStores(c echo.Context) error {
	id, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid schedule id"})
	}
	cmp, err := h.Reconciler.Compare(c.Request().Context(), id)
	if err != nil {
		return c.JSON(http.StatusBadGateway, echo.Map{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, cmp)
}
