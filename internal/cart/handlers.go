package cart

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/xmoney-bridge/internal/common"
)

// Handler exposes the session cart so the storefront can sync it before
// checkout.
type Handler struct {
	Store    Store
	Validate *validator.Validate
	Currency string
}

type putRequest struct {
	UserID         int64    `json:"userId"`
	Items          []Item   `json:"items" validate:"dive"`
	Total          string   `json:"total" validate:"omitempty,numeric"`
	Currency       string   `json:"currency" validate:"omitempty,len=3,alpha"`
	Customer       Customer `json:"customer"`
	ShippingMethod string   `json:"shippingMethod"`
}

// Get returns the current session cart.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart store not configured", nil)
		return
	}
	sessionID, ok := common.SessionID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "session_required", "Session is required", nil)
		return
	}
	c, err := h.Store.Get(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			common.JSON(w, http.StatusOK, map[string]any{"data": Cart{SessionID: sessionID, Items: []Item{}, Currency: h.Currency}})
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unable to load cart", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": c})
}

// Put replaces the session cart.
func (h *Handler) Put(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart store not configured", nil)
		return
	}
	sessionID, ok := common.SessionID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "session_required", "Session is required", nil)
		return
	}
	var req putRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	validate := h.Validate
	if validate == nil {
		validate = validator.New()
	}
	if err := validate.Struct(req); err != nil {
		common.JSONError(w, http.StatusUnprocessableEntity, "invalid_cart", "Cart payload is invalid", err.Error())
		return
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = h.Currency
	}
	c := Cart{
		SessionID:      sessionID,
		UserID:         req.UserID,
		Items:          req.Items,
		Total:          strings.TrimSpace(req.Total),
		Currency:       currency,
		Customer:       req.Customer,
		ShippingMethod: strings.TrimSpace(req.ShippingMethod),
	}
	if c.Items == nil {
		c.Items = []Item{}
	}
	if err := h.Store.Put(r.Context(), c); err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unable to save cart", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": c})
}
