package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/xmoney-bridge/internal/common"
	"github.com/noah-isme/xmoney-bridge/internal/order"
	"github.com/noah-isme/xmoney-bridge/internal/settings"
)

// Checkout error codes not produced by the builder or reconciler.
const (
	CodeOrderIDRequired      = "order_id_required"
	CodeVerificationFailed   = "verification_failed"
	CodePaymentFailed        = "payment_failed"
	CodePaymentPending       = "payment_pending"
	CodeSessionRequired      = "session_required"
	CodeInvalidCheckoutField = "invalid_checkout_fields"
)

// AwaitingPaymentNote is recorded when a legacy submission cannot be
// confirmed yet.
const AwaitingPaymentNote = "Awaiting xMoney payment."

// GatewayReader exposes the gateway options used for the form appearance.
type GatewayReader interface {
	Gateway(ctx context.Context) (settings.Gateway, error)
}

// Handler exposes the storefront checkout endpoints.
type Handler struct {
	Builder          *Builder
	Reconciler       *Reconciler
	Gateway          GatewayReader
	Validate         *validator.Validate
	CheckoutURL      string
	OrderReceivedURL string
	Logger           zerolog.Logger
}

type intentResp struct {
	Intent
	Appearance settings.Appearance `json:"appearance"`
}

type orderIntentReq struct {
	OrderID  int64  `json:"orderId"`
	OrderKey string `json:"orderKey"`
}

// OrderIntent signs a payload for an existing order.
func (h *Handler) OrderIntent(w http.ResponseWriter, r *http.Request) {
	var req orderIntentReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body", nil)
		return
	}
	if req.OrderID <= 0 {
		common.JSONError(w, http.StatusBadRequest, CodeOrderIDRequired, "Order ID is required", nil)
		return
	}
	intent, err := h.Builder.CreateIntentFromOrder(r.Context(), req.OrderID, req.OrderKey)
	if err != nil {
		h.writeError(w, err, "order intent")
		return
	}
	common.JSON(w, http.StatusOK, intentResp{Intent: intent, Appearance: h.appearance(r.Context())})
}

// CartIntent signs a payload for the session cart.
func (h *Handler) CartIntent(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := common.SessionID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusBadRequest, CodeSessionRequired, "session is required", nil)
		return
	}
	var fields CheckoutFields
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body", nil)
			return
		}
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(fields); err != nil {
			common.JSONError(w, http.StatusUnprocessableEntity, CodeInvalidCheckoutField, "invalid checkout fields", describeFields(err))
			return
		}
	}
	intent, err := h.Builder.CreateIntentFromCart(r.Context(), sessionID, fields)
	if err != nil {
		h.writeError(w, err, "cart intent")
		return
	}
	common.JSON(w, http.StatusOK, intentResp{Intent: intent, Appearance: h.appearance(r.Context())})
}

type completeReq struct {
	OrderID         int64  `json:"orderId"`
	ExternalOrderID string `json:"externalOrderId"`
}

type completeResp struct {
	Result   string       `json:"result"`
	Status   order.Status `json:"status"`
	Redirect string       `json:"redirect"`
}

// Complete is called by the checkout page once the embedded form reports a
// result. The order status is decided by re-verification only.
func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	var req completeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body", nil)
		return
	}
	h.complete(w, r, req.OrderID, req.ExternalOrderID)
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request, orderID int64, externalOrderID string) {
	ctx := r.Context()
	rec, err := h.Reconciler.Complete(ctx, orderID, externalOrderID)
	if err != nil {
		if rec.Result == ResultReviewPending {
			h.Logger.Warn().Err(err).Int64("order_id", orderID).Msg("xmoney_completion_deferred")
			common.JSONError(w, http.StatusAccepted, CodeVerificationFailed,
				"We could not confirm your payment yet. It will be confirmed shortly.",
				map[string]string{"redirect": h.CheckoutURL})
			return
		}
		h.writeError(w, err, "complete payment")
		return
	}
	switch rec.To {
	case order.StatusPaid:
		o, err := h.Reconciler.Orders.Get(ctx, orderID)
		if err != nil {
			h.writeError(w, err, "complete payment")
			return
		}
		common.JSON(w, http.StatusOK, completeResp{Result: "success", Status: rec.To, Redirect: h.receivedURL(o)})
	case order.StatusOnHold:
		common.JSONError(w, http.StatusAccepted, CodePaymentPending, "Your payment is being processed.",
			map[string]string{"status": string(rec.To)})
	default:
		common.JSONError(w, http.StatusPaymentRequired, CodePaymentFailed, "Payment was not completed. Please try again.",
			map[string]string{"status": string(rec.To), "processorOutcome": string(rec.Outcome)})
	}
}

type processReq struct {
	OrderID           int64  `json:"orderId"`
	OrderKey          string `json:"orderKey"`
	ExternalOrderID   string `json:"externalOrderId"`
	TransactionStatus string `json:"transactionStatus"`
	TransactionID     string `json:"transactionId"`
}

type processResp struct {
	Result    string    `json:"result"`
	Tentative Tentative `json:"tentative"`
	Redirect  string    `json:"redirect"`
}

// Process is the legacy order-submission endpoint. A client-reported
// success is only a hint: it triggers the verified completion path.
func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	var req processReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body", nil)
		return
	}
	if req.OrderID <= 0 {
		common.JSONError(w, http.StatusBadRequest, CodeOrderIDRequired, "Order ID is required", nil)
		return
	}
	ctx := r.Context()
	o, err := h.Reconciler.load(ctx, req.OrderID)
	if err != nil {
		h.writeError(w, err, "process payment")
		return
	}
	if o.Key != req.OrderKey {
		common.JSONError(w, http.StatusBadRequest, CodeInvalidOrderKey, "Invalid order key", nil)
		return
	}
	tentative := TentativeStatus(PaymentResult{
		ExternalOrderID:   req.ExternalOrderID,
		TransactionStatus: req.TransactionStatus,
		TransactionID:     req.TransactionID,
	})
	if tentative.Successful && strings.TrimSpace(req.ExternalOrderID) != "" {
		h.complete(w, r, req.OrderID, req.ExternalOrderID)
		return
	}
	if err := h.Reconciler.Orders.Annotate(ctx, o.ID, AwaitingPaymentNote, nil); err != nil {
		h.writeError(w, err, "process payment")
		return
	}
	common.JSON(w, http.StatusOK, processResp{Result: "success", Tentative: tentative, Redirect: h.payURL(o)})
}

type statusResp struct {
	OrderID       int64        `json:"orderId"`
	Status        order.Status `json:"status"`
	Paid          bool         `json:"paid"`
	ReviewPending bool         `json:"reviewPending"`
	Redirect      string       `json:"redirect,omitempty"`
}

// OrderStatus lets the thank-you page poll the order after completion.
func (h *Handler) OrderStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		common.JSONError(w, http.StatusBadRequest, CodeOrderIDRequired, "Order ID is required", nil)
		return
	}
	o, err := h.Reconciler.load(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "order status")
		return
	}
	if o.Key != r.URL.Query().Get("key") {
		common.JSONError(w, http.StatusBadRequest, CodeInvalidOrderKey, "Invalid order key", nil)
		return
	}
	_, pending := o.Meta[order.MetaReviewPending]
	resp := statusResp{OrderID: o.ID, Status: o.Status, Paid: o.Status == order.StatusPaid, ReviewPending: pending}
	if resp.Paid {
		resp.Redirect = h.receivedURL(o)
	}
	common.JSON(w, http.StatusOK, resp)
}

// Tentative classifies a client-reported status for display only.
func (h *Handler) Tentative(w http.ResponseWriter, r *http.Request) {
	status := strings.TrimSpace(r.URL.Query().Get("status"))
	common.JSON(w, http.StatusOK, TentativeStatus(PaymentResult{TransactionStatus: status}))
}

func (h *Handler) appearance(ctx context.Context) settings.Appearance {
	if h.Gateway == nil {
		return settings.Gateway{}.AppearanceConfig()
	}
	g, err := h.Gateway.Gateway(ctx)
	if err != nil {
		h.Logger.Warn().Err(err).Msg("gateway options unreadable; default appearance")
	}
	return g.AppearanceConfig()
}

func (h *Handler) receivedURL(o order.Order) string {
	template := h.OrderReceivedURL
	if template == "" {
		template = h.CheckoutURL
	}
	return strings.NewReplacer(
		"{id}", strconv.FormatInt(o.ID, 10),
		"{key}", url.QueryEscape(o.Key),
	).Replace(template)
}

func (h *Handler) payURL(o order.Order) string {
	u, err := url.Parse(h.CheckoutURL)
	if err != nil || h.CheckoutURL == "" {
		return h.CheckoutURL
	}
	q := u.Query()
	q.Set("pay_for_order", strconv.FormatInt(o.ID, 10))
	q.Set("key", o.Key)
	u.RawQuery = q.Encode()
	return u.String()
}

func (h *Handler) writeError(w http.ResponseWriter, err error, op string) {
	switch common.KindOf(err) {
	case common.KindInternal:
		h.Logger.Error().Err(err).Str("op", op).Msg("checkout request failed")
	case common.KindConfiguration, common.KindTransport, common.KindAPI:
		h.Logger.Warn().Err(err).Str("op", op).Msg("checkout request failed")
	}
	if !common.IsAppError(err) {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
		return
	}
	common.WriteError(w, err)
}

func describeFields(err error) []map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	details := make([]map[string]string, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, map[string]string{"field": fe.Field(), "rule": fe.Tag()})
	}
	return details
}
