// Package payment builds signed payment links for the hosted gateway and
// verifies the signed parameters the gateway sends back.  Signatures are
// HMAC-SHA512 over the sorted, query-escaped parameters.
package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

var (
	ErrBadSignature = errors.New("payment: signature mismatch")
	ErrBadMerchant  = errors.New("payment: unknown merchant")
	ErrBadAmount    = errors.New("payment: amount must be positive")
)

// Status of a finished payment as reported by the gateway.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// ParseStatus accepts the webhook status values.
func ParseStatus(s string) (Status, bool) {
	switch strings.ToLower(s) {
	case "succeeded", "success", "paid", "00":
		return StatusSucceeded, true
	case "failed", "fail", "canceled", "cancelled":
		return StatusFailed, true
	}
	return "", false
}

// Config describes the merchant account.
type Config struct {
	URL        string
	ReturnURL  string
	Merchant   string
	HashSecret string
	Currency   string
	Locale     string
}

// Payment is a created payment.
type Payment struct {
	ID          string
	RedirectURL string
}

// Result is a verified gateway return.
type Result struct {
	PaymentID string
	Reference string
	Status    Status
	Code      string
}

// Gateway creates and verifies payments.
type Gateway struct {
	cfg   Config
	clock clockwork.Clock
}

func NewGateway(cfg Config, clock clockwork.Clock) *Gateway {
	if cfg.Currency == "" {
		cfg.Currency = "VND"
	}
	if cfg.Locale == "" {
		cfg.Locale = "en"
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Gateway{cfg: cfg, clock: clock}
}

// CreatePayment signs a payment link for amountCents.  The returned
// PaymentID is fresh for every call; reference is echoed back by the
// gateway as order info.
func (g *Gateway) CreatePayment(_ context.Context, amountCents int64, description, reference string) (Payment, error) {
	if amountCents <= 0 {
		return Payment{}, ErrBadAmount
	}
	id := uuid.NewString()
	params := map[string]string{
		"vnp_Version":    "2.1.0",
		"vnp_Command":    "pay",
		"vnp_TmnCode":    g.cfg.Merchant,
		"vnp_Amount":     fmt.Sprint(amountCents),
		"vnp_CreateDate": g.clock.Now().UTC().Format("20060102150405"),
		"vnp_CurrCode":   g.cfg.Currency,
		"vnp_Locale":     g.cfg.Locale,
		"vnp_OrderInfo":  description,
		"vnp_OrderType":  "other",
		"vnp_ReturnUrl":  g.cfg.ReturnURL,
		"vnp_TxnRef":     id,
		"vnp_IpAddr":     "127.0.0.1",
	}
	if reference != "" {
		params["vnp_Reference"] = reference
	}
	query := encode(params) + "&vnp_SecureHash=" + g.sign(params)
	return Payment{ID: id, RedirectURL: g.cfg.URL + "?" + query}, nil
}

// VerifyReturn checks the signature of the parameters the gateway sent
// to the return URL and reports the outcome.
func (g *Gateway) VerifyReturn(q url.Values) (Result, error) {
	got := q.Get("vnp_SecureHash")
	if got == "" {
		return Result{}, ErrBadSignature
	}
	params := make(map[string]string, len(q))
	for k := range q {
		params[k] = q.Get(k)
	}
	want := g.sign(params)
	if !hmac.Equal([]byte(strings.ToUpper(got)), []byte(want)) {
		return Result{}, ErrBadSignature
	}
	if params["vnp_TmnCode"] != g.cfg.Merchant {
		return Result{}, ErrBadMerchant
	}
	res := Result{
		PaymentID: params["vnp_TxnRef"],
		Reference: params["vnp_Reference"],
		Code:      params["vnp_ResponseCode"],
		Status:    StatusFailed,
	}
	if res.Code == "00" {
		res.Status = StatusSucceeded
	}
	return res, nil
}

// Sign returns the signature of params, ignoring any signature fields in
// it.  The gateway uses the same algorithm for its return URL.
func (g *Gateway) Sign(params map[string]string) string { return g.sign(params) }

func (g *Gateway) sign(params map[string]string) string {
	h := hmac.New(sha512.New, []byte(g.cfg.HashSecret))
	h.Write([]byte(encode(params)))
	return strings.ToUpper(hex.EncodeToString(h.Sum(nil)))
}

// encode joins the non-empty parameters sorted by key, leaving out the
// signature fields.
func encode(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" || k == "vnp_SecureHash" || k == "vnp_SecureHashType" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+url.QueryEscape(params[k]))
	}
	return strings.Join(parts, "&")
}
