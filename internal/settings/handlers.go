package settings

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/xmoney-bridge/internal/common"
)

// NewValidator returns a validator with the credential prefix rules registered.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("xmoney_public_key", func(fl validator.FieldLevel) bool {
		key := strings.TrimSpace(fl.Field().String())
		return key == "" || IsValidPublicKey(key)
	})
	_ = v.RegisterValidation("xmoney_secret_key", func(fl validator.FieldLevel) bool {
		key := strings.TrimSpace(fl.Field().String())
		return key == "" || IsValidSecretKey(key)
	})
	return v
}

// Handler exposes the admin settings endpoints and the storefront bootstrap.
type Handler struct {
	Resolver     Resolver
	Validate     *validator.Validate
	SDKURL       string
	StoreCountry string
	Logger       zerolog.Logger
}

type saveRequest struct {
	PublicKey        *string  `json:"publicKey" validate:"omitempty,xmoney_public_key"`
	SecretKey        *string  `json:"secretKey" validate:"omitempty,xmoney_secret_key"`
	Enabled          *bool    `json:"enabled"`
	Title            *string  `json:"title" validate:"omitempty,max=120"`
	Description      *string  `json:"description" validate:"omitempty,max=500"`
	EnableSavedCards *bool    `json:"enableSavedCards"`
	EnableGooglePay  *bool    `json:"enableGooglePay"`
	EnableApplePay   *bool    `json:"enableApplePay"`
	EnableForMethods []string `json:"enableForMethods" validate:"omitempty,max=50,dive,required,max=64"`
	EnableForVirtual *bool    `json:"enableForVirtual"`
	ThemeMode        *string  `json:"themeMode" validate:"omitempty,oneof=light dark custom"`
	ColorPrimary     *string  `json:"colorPrimary" validate:"omitempty,hexcolor"`
	ColorBackground  *string  `json:"colorBackground" validate:"omitempty,hexcolor"`
	ColorText        *string  `json:"colorText" validate:"omitempty,hexcolor"`
	ColorBorder      *string  `json:"colorBorder" validate:"omitempty,hexcolor"`
	BorderRadius     *string  `json:"borderRadius" validate:"omitempty,max=16"`
}

type settingsResp struct {
	PublicKey   string   `json:"publicKey"`
	SecretKey   string   `json:"secretKey"`
	Environment string   `json:"environment"`
	Configured  bool     `json:"configured"`
	Gateway     Gateway  `json:"gateway"`
	Warnings    []string `json:"warnings,omitempty"`
}

// Get returns the persisted settings with the secret masked.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Resolver.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "SETTINGS_NOT_CONFIGURED", "settings unavailable", nil)
		return
	}
	resp, err := h.snapshot(r)
	if err != nil {
		h.Logger.Error().Err(err).Msg("read xmoney settings")
		common.JSONError(w, http.StatusInternalServerError, "SETTINGS_READ_FAILED", "unable to read settings", nil)
		return
	}
	common.JSON(w, http.StatusOK, resp)
}

// Save validates and persists credentials and gateway options. A key with a
// bad prefix rejects the whole request and nothing is written.
func (h *Handler) Save(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Resolver.Store == nil || h.Validate == nil {
		common.JSONError(w, http.StatusInternalServerError, "SETTINGS_NOT_CONFIGURED", "settings unavailable", nil)
		return
	}
	var req saveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body", nil)
		return
	}
	if err := h.Validate.Struct(req); err != nil {
		code, details := describeValidation(err)
		common.JSONError(w, http.StatusUnprocessableEntity, code, "invalid settings", details)
		return
	}
	ctx := r.Context()
	current, err := h.Resolver.GetConfiguration(ctx)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "SETTINGS_READ_FAILED", "unable to read settings", nil)
		return
	}
	gateway, err := h.Resolver.Gateway(ctx)
	if err != nil {
		h.Logger.Warn().Err(err).Msg("stored gateway options unreadable; starting from defaults")
	}

	values := map[string]string{}
	publicKey := current.PublicKey
	if req.PublicKey != nil {
		publicKey = strings.TrimSpace(*req.PublicKey)
		values[OptionPublicKey] = publicKey
	}
	secretKey := current.SecretKey
	if req.SecretKey != nil {
		candidate := strings.TrimSpace(*req.SecretKey)
		if candidate != MaskSecret(current.SecretKey) {
			secretKey = candidate
			values[OptionSecretKey] = secretKey
		}
	}
	applyGateway(&gateway, req)
	encoded, err := EncodeGateway(gateway)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "SETTINGS_ENCODE_FAILED", err.Error(), nil)
		return
	}
	values[OptionGateway] = encoded

	if err := h.Resolver.Store.SetOptions(ctx, values); err != nil {
		h.Logger.Error().Err(err).Msg("persist xmoney settings")
		common.JSONError(w, http.StatusInternalServerError, "SETTINGS_WRITE_FAILED", "unable to save settings", nil)
		return
	}
	subject, _ := common.Subject(ctx)
	h.Logger.Info().Str("subject", subject).Str("environment", Environment(publicKey)).Msg("xmoney settings saved")

	resp, err := h.snapshot(r)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "SETTINGS_READ_FAILED", "unable to read settings", nil)
		return
	}
	if KeyFamiliesDiffer(publicKey, secretKey) {
		resp.Warnings = append(resp.Warnings, "public and secret keys belong to different environments")
	}
	common.JSON(w, http.StatusOK, resp)
}

type checkoutConfigResp struct {
	Available        bool       `json:"available"`
	Reason           string     `json:"reason,omitempty"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	PublicKey        string     `json:"publicKey,omitempty"`
	Environment      string     `json:"environment"`
	SDKURL           string     `json:"sdkUrl"`
	Locale           string     `json:"locale"`
	Appearance       Appearance `json:"appearance"`
	EnableSavedCards bool       `json:"enableSavedCards"`
	EnableGooglePay  bool       `json:"enableGooglePay"`
	EnableApplePay   bool       `json:"enableApplePay"`
}

// CheckoutConfig returns what the storefront needs to mount the embedded form.
func (h *Handler) CheckoutConfig(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Resolver.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "SETTINGS_NOT_CONFIGURED", "settings unavailable", nil)
		return
	}
	ctx := r.Context()
	cfg, err := h.Resolver.GetConfiguration(ctx)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "SETTINGS_READ_FAILED", "unable to read settings", nil)
		return
	}
	gateway, err := h.Resolver.Gateway(ctx)
	if err != nil {
		h.Logger.Warn().Err(err).Msg("stored gateway options unreadable; using defaults")
	}
	q := r.URL.Query()
	var methods []string
	for _, m := range q["shipping"] {
		if m = strings.TrimSpace(m); m != "" {
			methods = append(methods, m)
		}
	}
	available, reason := Availability(cfg, gateway, AvailabilityInput{
		StoreCountry:    h.StoreCountry,
		Virtual:         q.Get("virtual") == "1" || strings.EqualFold(q.Get("virtual"), "true"),
		ShippingMethods: methods,
	})
	resp := checkoutConfigResp{
		Available:        available,
		Reason:           reason,
		Title:            gateway.Title,
		Description:      gateway.Description,
		Environment:      cfg.Environment(),
		SDKURL:           h.SDKURL,
		Locale:           Locale(q.Get("locale")),
		Appearance:       gateway.AppearanceConfig(),
		EnableSavedCards: gateway.EnableSavedCards,
		EnableGooglePay:  gateway.EnableGooglePay,
		EnableApplePay:   gateway.EnableApplePay,
	}
	if available {
		resp.PublicKey = cfg.PublicKey
	}
	common.JSON(w, http.StatusOK, resp)
}

func (h *Handler) snapshot(r *http.Request) (settingsResp, error) {
	cfg, err := h.Resolver.GetConfiguration(r.Context())
	if err != nil {
		return settingsResp{}, err
	}
	gateway, err := h.Resolver.Gateway(r.Context())
	if err != nil {
		return settingsResp{}, err
	}
	return settingsResp{
		PublicKey:   cfg.PublicKey,
		SecretKey:   MaskSecret(cfg.SecretKey),
		Environment: cfg.Environment(),
		Configured:  cfg.Configured(),
		Gateway:     gateway,
	}, nil
}

func applyGateway(g *Gateway, req saveRequest) {
	setBool := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
		}
	}
	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	setBool(&g.Enabled, req.Enabled)
	setString(&g.Title, req.Title)
	setString(&g.Description, req.Description)
	setBool(&g.EnableSavedCards, req.EnableSavedCards)
	setBool(&g.EnableGooglePay, req.EnableGooglePay)
	setBool(&g.EnableApplePay, req.EnableApplePay)
	if req.EnableForMethods != nil {
		g.EnableForMethods = append([]string{}, req.EnableForMethods...)
	}
	setBool(&g.EnableForVirtual, req.EnableForVirtual)
	setString(&g.ThemeMode, req.ThemeMode)
	setString(&g.ColorPrimary, req.ColorPrimary)
	setString(&g.ColorBackground, req.ColorBackground)
	setString(&g.ColorText, req.ColorText)
	setString(&g.ColorBorder, req.ColorBorder)
	setString(&g.BorderRadius, req.BorderRadius)
}

func describeValidation(err error) (string, []map[string]string) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid_settings", nil
	}
	code := "invalid_settings"
	details := make([]map[string]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "xmoney_public_key":
			code = "invalid_public_key"
		case "xmoney_secret_key":
			if code != "invalid_public_key" {
				code = "invalid_secret_key"
			}
		}
		details = append(details, map[string]string{"field": fe.Field(), "rule": fe.Tag()})
	}
	return code, details
}
