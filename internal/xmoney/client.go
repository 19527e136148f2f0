// Package xmoney talks to the processor's order-query API. It is the only
// trusted source of payment outcomes.
package xmoney

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/xmoney-bridge/internal/common"
	"github.com/noah-isme/xmoney-bridge/internal/obs"
	"github.com/noah-isme/xmoney-bridge/internal/resilience"
	"github.com/noah-isme/xmoney-bridge/internal/settings"
	"github.com/noah-isme/xmoney-bridge/internal/signing"
)

const (
	DefaultLiveURL = "https://api.xmoney.com"
	DefaultTestURL = "https://api-stage.xmoney.com"
	DefaultTimeout = 30 * time.Second
)

// Error codes returned by VerifyPaymentStatus.
const (
	CodeMissingSecretKey = "missing_secret_key"
	CodeTransport        = "transport_failure"
	CodeAPI              = "api_error"
	CodeInvalidResponse  = "invalid_response"
	CodeOrderNotFound    = "order_not_found"
)

// Doer sends HTTP requests; resilience.HTTPClient satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// VerificationResult is the processor's record for an external order id.
type VerificationResult struct {
	OrderID       string          `json:"orderId"`
	OrderStatus   string          `json:"orderStatus"`
	Amount        string          `json:"amount"`
	Currency      string          `json:"currency"`
	CustomerID    string          `json:"customerId"`
	TransactionID string          `json:"transactionId,omitempty"`
	Raw           json.RawMessage `json:"raw,omitempty"`
}

// Verifier is what reconciliation depends on.
type Verifier interface {
	VerifyPaymentStatus(ctx context.Context, externalOrderID string) (VerificationResult, error)
}

// Client is the processor query API client.
type Client struct {
	Settings settings.Provider
	HTTP     Doer
	LiveURL  string
	TestURL  string
	Logger   zerolog.Logger
	Now      func() time.Time
}

// ClientConfig configures NewClient.
type ClientConfig struct {
	Settings            settings.Provider
	LiveURL             string
	TestURL             string
	Timeout             time.Duration
	MaxAttempts         int
	Backoff             time.Duration
	BreakerMinRequests  int
	BreakerFailureRatio float64
	BreakerOpenFor      time.Duration
	Logger              zerolog.Logger
}

// NewClient builds a Client whose transport is traced and guarded by a
// circuit breaker.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	breaker := resilience.NewBreaker(cfg.BreakerMinRequests, cfg.BreakerFailureRatio, cfg.BreakerOpenFor).
		WithTarget("xmoney_api").
		WithLogger(cfg.Logger)
	return &Client{
		Settings: cfg.Settings,
		HTTP: resilience.HTTPClient{
			Client:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
			Breaker:     breaker,
			Target:      "xmoney_api",
			MaxAttempts: cfg.MaxAttempts,
			BaseBackoff: cfg.Backoff,
			Jitter:      0.2,
			Timeout:     timeout,
		},
		LiveURL: cfg.LiveURL,
		TestURL: cfg.TestURL,
		Logger:  cfg.Logger,
	}
}

type envelope struct {
	Code    flexString        `json:"code"`
	Message string            `json:"message"`
	Data    []json.RawMessage `json:"data"`
}

type orderRecord struct {
	ID            flexString `json:"id"`
	OrderStatus   string     `json:"orderStatus"`
	Amount        flexString `json:"amount"`
	Currency      string     `json:"currency"`
	CustomerID    flexString `json:"customerId"`
	TransactionID flexString `json:"transactionId"`
}

// VerifyPaymentStatus fetches the authoritative status for externalOrderID.
// Failures carry a common.ErrorKind: configuration, transport, api or
// not_found.
func (c *Client) VerifyPaymentStatus(ctx context.Context, externalOrderID string) (result VerificationResult, err error) {
	ctx, span := otel.Tracer("xmoney.Client").Start(ctx, "VerifyPaymentStatus")
	start := c.now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = string(common.KindOf(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("xmoney.order_status", result.OrderStatus))
		}
		obs.ObserveVerification(outcome, c.now().Sub(start))
		span.End()
	}()
	span.SetAttributes(attribute.String("xmoney.external_order_id", externalOrderID))

	if c == nil || c.Settings == nil || c.HTTP == nil {
		return VerificationResult{}, common.NewKindError(common.KindConfiguration, CodeMissingSecretKey, "verification client not configured", nil)
	}
	cfg, err := c.Settings.GetConfiguration(ctx)
	if err != nil {
		return VerificationResult{}, common.NewKindError(common.KindInternal, "settings_unavailable", "unable to read payment settings", err)
	}
	secret := signing.StripKeyPrefix(cfg.SecretKey)
	if secret == "" {
		return VerificationResult{}, common.NewKindError(common.KindConfiguration, CodeMissingSecretKey, "xMoney secret key is not configured", nil)
	}
	if strings.TrimSpace(externalOrderID) == "" {
		return VerificationResult{}, common.NewKindError(common.KindValidation, "external_order_id_missing", "external order id is required", nil)
	}

	endpoint := c.baseURL(cfg.IsLive) + "/order?" + url.Values{"externalOrderId": {externalOrderID}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return VerificationResult{}, common.NewKindError(common.KindInternal, "request_build_failed", "unable to build verification request", err)
	}
	req.Header.Set("Authorization", "Bearer "+secret)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		return VerificationResult{}, common.NewKindError(common.KindTransport, CodeTransport, "xMoney API request failed", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return VerificationResult{}, common.NewKindError(common.KindTransport, CodeTransport, "xMoney API response could not be read", err)
	}
	if resp.StatusCode != http.StatusOK {
		appErr := common.NewKindError(common.KindAPI, CodeAPI, fmt.Sprintf("xMoney API returned HTTP %d", resp.StatusCode), nil)
		appErr.Details = map[string]any{"httpStatus": resp.StatusCode}
		return VerificationResult{}, appErr
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return VerificationResult{}, common.NewKindError(common.KindAPI, CodeInvalidResponse, "xMoney API returned invalid JSON", err)
	}
	if string(env.Code) != "200" {
		msg := strings.TrimSpace(env.Message)
		if msg == "" {
			msg = "unknown error"
		}
		appErr := common.NewKindError(common.KindAPI, CodeAPI, "xMoney API error: "+msg, nil)
		appErr.Details = map[string]any{"code": string(env.Code)}
		return VerificationResult{}, appErr
	}
	if len(env.Data) == 0 {
		return VerificationResult{}, common.NewKindError(common.KindNotFound, CodeOrderNotFound, "order not found in xMoney", nil)
	}

	var rec orderRecord
	if err := json.Unmarshal(env.Data[0], &rec); err != nil {
		return VerificationResult{}, common.NewKindError(common.KindAPI, CodeInvalidResponse, "xMoney API returned an invalid order record", err)
	}
	result = VerificationResult{
		OrderID:       string(rec.ID),
		OrderStatus:   rec.OrderStatus,
		Amount:        string(rec.Amount),
		Currency:      rec.Currency,
		CustomerID:    string(rec.CustomerID),
		TransactionID: string(rec.TransactionID),
		Raw:           append(json.RawMessage(nil), env.Data[0]...),
	}
	c.Logger.Debug().
		Str("external_order_id", externalOrderID).
		Str("processor_status", result.OrderStatus).
		Str("environment", cfg.Environment()).
		Msg("xmoney_verified")
	return result, nil
}

func (c *Client) baseURL(live bool) string {
	if live {
		return strings.TrimRight(orDefault(c.LiveURL, DefaultLiveURL), "/")
	}
	return strings.TrimRight(orDefault(c.TestURL, DefaultTestURL), "/")
}

func (c *Client) now() time.Time {
	if c != nil && c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

// flexString accepts JSON strings and numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}
