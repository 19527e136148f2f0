// Package payment issues signed payment intents and reconciles processor
// outcomes into order state.
package payment

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/xmoney-bridge/internal/cart"
	"github.com/noah-isme/xmoney-bridge/internal/common"
	"github.com/noah-isme/xmoney-bridge/internal/obs"
	"github.com/noah-isme/xmoney-bridge/internal/order"
	"github.com/noah-isme/xmoney-bridge/internal/settings"
	"github.com/noah-isme/xmoney-bridge/internal/signing"
)

// TempOrderPrefix marks cart-stage external order ids.
const TempOrderPrefix = "temp-"

const (
	transactionTypePurchase = "purchase"
	cardModeAuthAndCapture  = "authAndCapture"
	tempTokenAlphabet       = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	tempTokenLength         = 8
)

// Error codes surfaced to the storefront.
const (
	CodeOrderNotFound   = "order_not_found"
	CodeInvalidOrderKey = "invalid_order_key"
	CodeNotConfigured   = "not_configured"
	CodeCartEmpty       = "cart_empty"
)

// Customer is the signed customer block.
type Customer struct {
	Identifier string `json:"identifier"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Country    string `json:"country"`
	City       string `json:"city"`
	Email      string `json:"email"`
}

// PayloadOrder is the signed order block. Amount is in major units.
type PayloadOrder struct {
	OrderID     string `json:"orderId"`
	Description string `json:"description"`
	Type        string `json:"type"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
}

// OrderPayload is the document the processor's form validates. Field order
// is part of the signed bytes.
type OrderPayload struct {
	PublicKey           string       `json:"publicKey"`
	Customer            Customer     `json:"customer"`
	Order               PayloadOrder `json:"order"`
	CardTransactionMode string       `json:"cardTransactionMode"`
	BackURL             string       `json:"backUrl"`
}

// Intent is handed to the embedded form. It is never persisted.
type Intent struct {
	PublicKey   string `json:"publicKey"`
	Payload     string `json:"payload"`
	Checksum    string `json:"checksum"`
	TempOrderID string `json:"tempOrderId,omitempty"`
}

// CheckoutFields are the shopper-entered fields posted with a cart-stage
// checkout. Empty fields fall back to the session profile one by one.
type CheckoutFields struct {
	FirstName string `json:"billing_first_name" validate:"omitempty,max=100"`
	LastName  string `json:"billing_last_name" validate:"omitempty,max=100"`
	Email     string `json:"billing_email" validate:"omitempty,email"`
	Country   string `json:"billing_country" validate:"omitempty,len=2,alpha"`
	City      string `json:"billing_city" validate:"omitempty,max=100"`
}

// Builder assembles and signs payment intents. It has no side effects.
type Builder struct {
	Settings    settings.Provider
	Orders      order.Store
	Carts       cart.Store
	CheckoutURL string
	SiteName    string
	Logger      zerolog.Logger
	Now         func() time.Time
	Random      io.Reader
}

// CreateIntentFromOrder signs a payload for an existing order after
// checking the caller's order key.
func (b *Builder) CreateIntentFromOrder(ctx context.Context, orderID int64, orderKey string) (intent Intent, err error) {
	ctx, span := otel.Tracer("payment.Builder").Start(ctx, "CreateIntentFromOrder")
	defer span.End()
	span.SetAttributes(attribute.Int64("order.id", orderID))
	defer func() { obs.ObserveIntent("order", intentResult(err)) }()

	if b == nil || b.Orders == nil || b.Settings == nil {
		return Intent{}, common.NewKindError(common.KindConfiguration, CodeNotConfigured, "Payment gateway is not configured", nil)
	}
	o, err := b.Orders.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			return Intent{}, common.NewKindError(common.KindNotFound, CodeOrderNotFound, "Order not found", err)
		}
		return Intent{}, err
	}
	if o.Key != orderKey {
		return Intent{}, common.NewKindError(common.KindValidation, CodeInvalidOrderKey, "Invalid order key", nil)
	}
	cfg, err := b.configuration(ctx)
	if err != nil {
		return Intent{}, err
	}
	amount, err := NormalizeAmount(o.Total)
	if err != nil {
		return Intent{}, common.NewKindError(common.KindInternal, "invalid_amount", "Order total is not a valid amount", err)
	}

	identifier := strconv.FormatInt(o.CustomerID, 10)
	if o.CustomerID == 0 {
		identifier = strconv.FormatInt(o.ID, 10)
	}
	payload := OrderPayload{
		PublicKey: cfg.PublicKey,
		Customer: Customer{
			Identifier: identifier,
			FirstName:  o.Billing.FirstName,
			LastName:   o.Billing.LastName,
			Country:    o.Billing.Country,
			City:       firstNonEmpty(o.Billing.City, o.Shipping.City),
			Email:      o.Billing.Email,
		},
		Order: PayloadOrder{
			OrderID:     strconv.FormatInt(o.ID, 10),
			Description: "Order #" + o.DisplayNumber(),
			Type:        transactionTypePurchase,
			Amount:      amount,
			Currency:    strings.ToUpper(o.Currency),
		},
		CardTransactionMode: cardModeAuthAndCapture,
		BackURL:             b.CheckoutURL,
	}
	return b.sign(payload, cfg.SecretKey)
}

// CreateIntentFromCart signs a payload for the session cart under a
// temporary order id.
func (b *Builder) CreateIntentFromCart(ctx context.Context, sessionID string, fields CheckoutFields) (intent Intent, err error) {
	ctx, span := otel.Tracer("payment.Builder").Start(ctx, "CreateIntentFromCart")
	defer span.End()
	defer func() { obs.ObserveIntent("cart", intentResult(err)) }()

	if b == nil || b.Carts == nil || b.Settings == nil {
		return Intent{}, common.NewKindError(common.KindConfiguration, CodeNotConfigured, "Payment gateway is not configured", nil)
	}
	c, err := b.Carts.Get(ctx, sessionID)
	if err != nil && !errors.Is(err, cart.ErrNotFound) {
		return Intent{}, err
	}
	if err != nil || c.IsEmpty() {
		return Intent{}, common.NewKindError(common.KindValidation, CodeCartEmpty, "Cart is empty", nil)
	}
	cfg, err := b.configuration(ctx)
	if err != nil {
		return Intent{}, err
	}
	amount, err := NormalizeAmount(c.Total)
	if err != nil {
		return Intent{}, common.NewKindError(common.KindValidation, "invalid_amount", "Cart total is not a valid amount", err)
	}
	now := b.now()
	tempID, err := b.TempOrderID(now)
	if err != nil {
		return Intent{}, common.NewKindError(common.KindInternal, "temp_id_failed", "Unable to generate order id", err)
	}
	span.SetAttributes(attribute.String("xmoney.external_order_id", tempID))

	identifier := "guest-" + strconv.FormatInt(now.Unix(), 10)
	if c.UserID > 0 {
		identifier = strconv.FormatInt(c.UserID, 10)
	}
	siteName := b.SiteName
	if strings.TrimSpace(siteName) == "" {
		siteName = "Store"
	}
	payload := OrderPayload{
		PublicKey: cfg.PublicKey,
		Customer: Customer{
			Identifier: identifier,
			FirstName:  firstNonEmpty(fields.FirstName, c.Customer.FirstName),
			LastName:   firstNonEmpty(fields.LastName, c.Customer.LastName),
			Country:    firstNonEmpty(fields.Country, c.Customer.Country),
			City:       firstNonEmpty(fields.City, c.Customer.City),
			Email:      firstNonEmpty(fields.Email, c.Customer.Email),
		},
		Order: PayloadOrder{
			OrderID:     tempID,
			Description: "Order from " + siteName,
			Type:        transactionTypePurchase,
			Amount:      amount,
			Currency:    strings.ToUpper(c.Currency),
		},
		CardTransactionMode: cardModeAuthAndCapture,
		BackURL:             b.CheckoutURL,
	}
	intent, err = b.sign(payload, cfg.SecretKey)
	if err != nil {
		return Intent{}, err
	}
	intent.TempOrderID = tempID
	return intent, nil
}

// TempOrderID returns temp-<unix>-<8 alphanumerics>.
func (b *Builder) TempOrderID(now time.Time) (string, error) {
	src := io.Reader(rand.Reader)
	if b != nil && b.Random != nil {
		src = b.Random
	}
	limit := big.NewInt(int64(len(tempTokenAlphabet)))
	token := make([]byte, tempTokenLength)
	for i := range token {
		n, err := rand.Int(src, limit)
		if err != nil {
			return "", err
		}
		token[i] = tempTokenAlphabet[n.Int64()]
	}
	return fmt.Sprintf("%s%d-%s", TempOrderPrefix, now.Unix(), token), nil
}

// IsTempOrderID reports whether id is a cart-stage external id.
func IsTempOrderID(id string) bool {
	return strings.HasPrefix(strings.TrimSpace(id), TempOrderPrefix)
}

func (b *Builder) configuration(ctx context.Context) (settings.Configuration, error) {
	cfg, err := b.Settings.GetConfiguration(ctx)
	if err != nil {
		return settings.Configuration{}, common.NewKindError(common.KindInternal, "settings_unavailable", "Unable to read payment settings", err)
	}
	if !cfg.Configured() {
		return settings.Configuration{}, common.NewKindError(common.KindConfiguration, CodeNotConfigured, "Payment gateway is not configured", nil)
	}
	return cfg, nil
}

func (b *Builder) sign(payload OrderPayload, secretKey string) (Intent, error) {
	signed, err := signing.Encode(payload, secretKey)
	if err != nil {
		if errors.Is(err, signing.ErrEmptySecret) {
			return Intent{}, common.NewKindError(common.KindConfiguration, CodeNotConfigured, "Payment gateway is not configured", err)
		}
		return Intent{}, common.NewKindError(common.KindInternal, "sign_failed", "Unable to sign payment request", err)
	}
	b.Logger.Debug().
		Str("external_order_id", payload.Order.OrderID).
		Str("amount", payload.Order.Amount).
		Str("currency", payload.Order.Currency).
		Msg("payment_intent_signed")
	return Intent{PublicKey: payload.PublicKey, Payload: signed.Payload, Checksum: signed.Checksum}, nil
}

func (b *Builder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// NormalizeAmount renders a non-negative major-unit decimal with two
// fraction digits ("18.9" -> "18.90").
func NormalizeAmount(value string) (string, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return "", errors.New("amount is empty")
	}
	if strings.HasPrefix(v, "-") {
		return "", fmt.Errorf("amount %q is negative", value)
	}
	whole, frac, _ := strings.Cut(v, ".")
	if whole == "" {
		whole = "0"
	}
	if !digitsOnly(whole) || !digitsOnly(frac) {
		return "", fmt.Errorf("amount %q is not a decimal", value)
	}
	if len(frac) > 2 {
		if strings.Trim(frac[2:], "0") != "" {
			return "", fmt.Errorf("amount %q has more than two decimals", value)
		}
		frac = frac[:2]
	}
	for len(frac) < 2 {
		frac += "0"
	}
	whole = strings.TrimLeft(whole, "0")
	if whole == "" {
		whole = "0"
	}
	return whole + "." + frac, nil
}

func digitsOnly(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if t := strings.TrimSpace(v); t != "" {
			return t
		}
	}
	return ""
}

func intentResult(err error) string {
	if err == nil {
		return "success"
	}
	return string(common.KindOf(err))
}
