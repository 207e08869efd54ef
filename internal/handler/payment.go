package handler

import (
	"context"
	"crypto/hmac"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/iliyamo/event-seat-bot/internal/chat"
	"github.com/iliyamo/event-seat-bot/internal/dialog"
	"github.com/iliyamo/event-seat-bot/internal/model"
	"github.com/iliyamo/event-seat-bot/internal/payment"
	"github.com/iliyamo/event-seat-bot/internal/reservation"
)

// SignatureHeader carries the webhook signature: payment.Gateway.Sign
// over the paymentId and status fields.
const SignatureHeader = "X-Payment-Signature"

// PaymentSaga settles reservations from gateway notifications.
type PaymentSaga interface {
	MarkPaid(ctx context.Context, paymentRef string) (model.Reservation, error)
	PaymentFailed(ctx context.Context, paymentRef string) (model.Reservation, error)
}

// Reviewer puts paid reservations in front of staff.
type Reviewer interface {
	RequestApproval(ctx context.Context, res model.Reservation, receipt *chat.Attachment) error
	AwaitingDecision(ctx context.Context, id uint64) (bool, error)
	NotifyStaff(ctx context.Context, text string) error
}

// Verifier checks gateway signatures.
type Verifier interface {
	Sign(params map[string]string) string
	VerifyReturn(q url.Values) (payment.Result, error)
}

// PaymentHandler receives payment outcomes and routes them to the saga,
// the staff channel and the buyer's dialogue.
type PaymentHandler struct {
	Saga     PaymentSaga
	Reviewer Reviewer
	Gateway  Verifier
	Submit   func(chat.Inbound) error
	Log      *log.Logger
}

func NewPaymentHandler(saga PaymentSaga, reviewer Reviewer, gw Verifier, submit func(chat.Inbound) error, logger *log.Logger) *PaymentHandler {
	if saga == nil || reviewer == nil || gw == nil || submit == nil {
		panic("nil dependency passed to NewPaymentHandler")
	}
	return &PaymentHandler{Saga: saga, Reviewer: reviewer, Gateway: gw, Submit: submit, Log: logger}
}

type webhookReq struct {
	PaymentID string `json:"paymentId"`
	Status    string `json:"status"`
}

// Webhook handles POST /v1/payments/webhook.
func (h *PaymentHandler) Webhook(c echo.Context) error {
	var req webhookReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.PaymentID) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "paymentId required"})
	}
	want := h.Gateway.Sign(map[string]string{"paymentId": req.PaymentID, "status": req.Status})
	got := strings.ToUpper(c.Request().Header.Get(SignatureHeader))
	if !hmac.Equal([]byte(got), []byte(want)) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "bad signature"})
	}
	status, ok := payment.ParseStatus(req.Status)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown status"})
	}
	res, err := h.settle(c.Request().Context(), req.PaymentID, status)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"reservation_id": res.ID, "status": res.Status})
}

// Return handles GET /v1/payments/return, where the gateway sends the
// buyer's browser with signed query parameters.
func (h *PaymentHandler) Return(c echo.Context) error {
	result, err := h.Gateway.VerifyReturn(c.QueryParams())
	if err != nil {
		return c.String(http.StatusBadRequest, "The payment link could not be verified.")
	}
	if _, err := h.settle(c.Request().Context(), result.PaymentID, result.Status); err != nil {
		if errors.Is(err, reservation.ErrNotFound) {
			return c.String(http.StatusNotFound, "Unknown payment.")
		}
		if !errors.Is(err, reservation.ErrInvalidTransition) {
			return c.String(http.StatusInternalServerError, "The payment could not be recorded, staff have been notified.")
		}
	}
	if result.Status == payment.StatusSucceeded {
		return c.String(http.StatusOK, "Payment received. You can return to the chat.")
	}
	return c.String(http.StatusOK, "The payment did not go through. You can return to the chat and try again.")
}

// settle applies the outcome to the reservation.  A success puts the
// reservation in front of staff unless it already is, so repeated
// notifications do not post twice.  The buyer's dialogue is told in
// both cases.
func (h *PaymentHandler) settle(ctx context.Context, paymentID string, status payment.Status) (model.Reservation, error) {
	var (
		res model.Reservation
		err error
	)
	if status == payment.StatusSucceeded {
		res, err = h.Saga.MarkPaid(ctx, paymentID)
		if errors.Is(err, reservation.ErrInvalidTransition) {
			h.paidTooLate(ctx, paymentID, res)
		}
	} else {
		res, err = h.Saga.PaymentFailed(ctx, paymentID)
	}
	if err != nil {
		return res, err
	}
	if res.Status == model.StatusPaid {
		waiting, err := h.Reviewer.AwaitingDecision(ctx, res.ID)
		if err != nil || !waiting {
			if err := h.Reviewer.RequestApproval(ctx, res, nil); err != nil && h.Log != nil {
				h.Log.Errorf("reservation %d paid but approval request failed: %v", res.ID, err)
			}
		}
	}
	ev := chat.Inbound{
		Kind:      chat.KindPayment,
		SessionID: chat.SessionID(res.ChatID),
		UserID:    res.UserID,
		Payload:   dialog.PaymentPayload(status, paymentID),
	}
	if err := h.Submit(ev); err != nil && h.Log != nil {
		h.Log.Warnf("payment %s: dialogue not notified: %v", paymentID, err)
	}
	return res, nil
}

// paidTooLate tells staff about money received for a reservation that no
// longer holds seats, e.g. one the stale sweep already canceled.
func (h *PaymentHandler) paidTooLate(ctx context.Context, paymentID string, res model.Reservation) {
	note := fmt.Sprintf("Payment %s succeeded but reservation #%d is already %s and holds no seats. Refund or rebook the buyer by hand.",
		paymentID, res.ID, res.Status)
	if err := h.Reviewer.NotifyStaff(ctx, note); err != nil && h.Log != nil {
		h.Log.Errorf("payment %s: staff note failed: %v", paymentID, err)
	}
}

func (h *PaymentHandler) fail(c echo.Context, err error) error {
	switch {
	case errors.Is(err, reservation.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "unknown payment"})
	case errors.Is(err, reservation.ErrInvalidTransition):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	}
	if h.Log != nil {
		h.Log.Errorf("payment webhook: %v", err)
	}
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "payment could not be recorded"})
}
