package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/xmoney-bridge/internal/common"
	"github.com/noah-isme/xmoney-bridge/internal/obs"
)

// Plain-text notification responses. The processor only inspects the
// status code; the bodies are kept stable for operators.
const (
	ipnInvalidData     = "Invalid data format"
	ipnMissingID       = "Missing externalOrderId"
	ipnTempDeferred    = "OK - temp order, will be handled by checkout"
	ipnInvalidOrderID  = "Invalid order ID format"
	ipnOrderNotFound   = "Order not found"
	ipnVerifyPending   = "OK - verification pending"
	ipnInFlight        = "Notification already in progress"
	ipnOK              = "OK"
	ipnInternalFailure = "Internal error"
)

// flexString accepts JSON strings and numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type ipnPayload struct {
	ExternalOrderID   flexString `json:"externalOrderId"`
	OrderID           flexString `json:"orderId"`
	TransactionStatus flexString `json:"transactionStatus"`
	Status            flexString `json:"status"`
	TransactionID     flexString `json:"transactionId"`
}

func (p ipnPayload) notification() Notification {
	return Notification{
		ExternalOrderID: firstNonEmpty(string(p.ExternalOrderID), string(p.OrderID)),
		StatusHint:      firstNonEmpty(string(p.TransactionStatus), string(p.Status)),
		TransactionID:   string(p.TransactionID),
	}
}

// IPNHandler receives processor notifications. It always re-verifies
// through the reconciler; the posted status is never trusted. Replay only
// serialises deliveries for the same order: a second delivery arriving while
// one is still being processed gets a retryable 503.
type IPNHandler struct {
	Reconciler *Reconciler
	Replay     ReplayGuard
	ReplayTTL  time.Duration
	Logger     zerolog.Logger
}

// ServeHTTP implements http.Handler.
func (h *IPNHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.respond(w, http.StatusBadRequest, ipnInvalidData, "invalid")
		return
	}
	var payload ipnPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.Logger.Warn().Err(err).Msg("xmoney_ipn_invalid_json")
		h.respond(w, http.StatusBadRequest, ipnInvalidData, "invalid")
		return
	}
	n := payload.notification()
	if n.ExternalOrderID == "" {
		h.respond(w, http.StatusBadRequest, ipnMissingID, "invalid")
		return
	}
	if IsTempOrderID(n.ExternalOrderID) {
		if _, err := h.Reconciler.Notify(ctx, n); err != nil {
			h.Logger.Error().Err(err).Msg("xmoney_ipn_temp_failed")
		}
		h.respond(w, http.StatusOK, ipnTempDeferred, "deferred")
		return
	}

	log := h.Logger.With().Str("external_order_id", n.ExternalOrderID).Str("body_sha256", common.DigestBytes(body)).Logger()
	claim := "order:" + n.ExternalOrderID
	claimed := false
	if h.Replay != nil {
		acquired, err := h.Replay.Acquire(ctx, claim, h.replayTTL())
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("xmoney_ipn_replay_guard_unavailable")
		case !acquired:
			h.respond(w, http.StatusServiceUnavailable, ipnInFlight, "in_flight")
			return
		default:
			claimed = true
		}
	}
	if claimed {
		defer h.release(ctx, claim)
	}

	rec, err := h.Reconciler.Notify(ctx, n)
	if err == nil {
		h.respond(w, http.StatusOK, ipnOK, "processed")
		return
	}
	if rec.Result == ResultReviewPending {
		h.respond(w, http.StatusOK, ipnVerifyPending, "review_pending")
		return
	}
	var appErr *common.AppError
	switch {
	case errors.As(err, &appErr) && appErr.Code == CodeInvalidOrderID:
		h.respond(w, http.StatusBadRequest, ipnInvalidOrderID, "invalid")
	case common.KindOf(err) == common.KindNotFound:
		h.respond(w, http.StatusNotFound, ipnOrderNotFound, "not_found")
	case common.KindOf(err) == common.KindValidation:
		h.respond(w, http.StatusBadRequest, ipnMissingID, "invalid")
	default:
		log.Error().Err(err).Msg("xmoney_ipn_failed")
		h.respond(w, http.StatusInternalServerError, ipnInternalFailure, "error")
	}
}

func (h *IPNHandler) respond(w http.ResponseWriter, status int, body, result string) {
	obs.ObserveNotification(result)
	common.Text(w, status, body)
}

func (h *IPNHandler) release(ctx context.Context, key string) {
	if h.Replay == nil {
		return
	}
	if err := h.Replay.Release(context.WithoutCancel(ctx), key); err != nil {
		h.Logger.Warn().Err(err).Msg("xmoney_ipn_replay_release_failed")
	}
}

func (h *IPNHandler) replayTTL() time.Duration {
	if h.ReplayTTL <= 0 {
		return 30 * time.Second
	}
	return h.ReplayTTL
}
