// Package settings resolves the active processor credentials and gateway
// options from persisted settings. Nothing here is cached: every call reads
// the store so an operator change applies to the next request.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Persisted option names.
const (
	OptionPublicKey = "xmoney_wc_public_key"
	OptionSecretKey = "xmoney_wc_secret_key"
	OptionGateway   = "xmoney_wc_settings"
)

// Key prefixes.
const (
	PublicLivePrefix = "pk_live_"
	PublicTestPrefix = "pk_test_"
	SecretLivePrefix = "sk_live_"
	SecretTestPrefix = "sk_test_"
)

// Environment labels derived from the public key.
const (
	EnvironmentLive    = "live"
	EnvironmentTest    = "test"
	EnvironmentUnknown = "unknown"
)

// Store persists named options.
type Store interface {
	GetOptions(ctx context.Context, names ...string) (map[string]string, error)
	SetOptions(ctx context.Context, values map[string]string) error
}

// Configuration is the active credential set. IsLive is derived from the
// public key prefix only.
type Configuration struct {
	PublicKey string
	SecretKey string
	IsLive    bool
}

// Configured reports whether both keys are present.
func (c Configuration) Configured() bool {
	return strings.TrimSpace(c.PublicKey) != "" && strings.TrimSpace(c.SecretKey) != ""
}

// Environment returns the environment label for the public key.
func (c Configuration) Environment() string {
	return Environment(c.PublicKey)
}

// Provider exposes the active configuration to the payment components.
type Provider interface {
	GetConfiguration(ctx context.Context) (Configuration, error)
}

// Resolver implements Provider on top of a Store.
type Resolver struct {
	Store Store
}

// GetConfiguration reads the persisted keys and derives the environment.
func (r Resolver) GetConfiguration(ctx context.Context) (Configuration, error) {
	if r.Store == nil {
		return Configuration{}, errors.New("settings: store not configured")
	}
	values, err := r.Store.GetOptions(ctx, OptionPublicKey, OptionSecretKey)
	if err != nil {
		return Configuration{}, fmt.Errorf("settings: read credentials: %w", err)
	}
	pk := strings.TrimSpace(values[OptionPublicKey])
	return Configuration{
		PublicKey: pk,
		SecretKey: strings.TrimSpace(values[OptionSecretKey]),
		IsLive:    IsLive(pk),
	}, nil
}

// Gateway reads the persisted gateway options, applying defaults for
// anything never saved.
func (r Resolver) Gateway(ctx context.Context) (Gateway, error) {
	if r.Store == nil {
		return Gateway{}, errors.New("settings: store not configured")
	}
	values, err := r.Store.GetOptions(ctx, OptionGateway)
	if err != nil {
		return Gateway{}, fmt.Errorf("settings: read gateway options: %w", err)
	}
	return DecodeGateway(values[OptionGateway])
}

// IsLive is true only for pk_live_ keys; missing or malformed keys are test.
func IsLive(publicKey string) bool {
	return strings.HasPrefix(publicKey, PublicLivePrefix)
}

// Environment labels the public key as live, test or unknown.
func Environment(publicKey string) string {
	switch {
	case strings.HasPrefix(publicKey, PublicLivePrefix):
		return EnvironmentLive
	case strings.HasPrefix(publicKey, PublicTestPrefix):
		return EnvironmentTest
	default:
		return EnvironmentUnknown
	}
}

// IsValidPublicKey checks the pk_live_/pk_test_ prefix.
func IsValidPublicKey(key string) bool {
	return strings.HasPrefix(key, PublicLivePrefix) || strings.HasPrefix(key, PublicTestPrefix)
}

// IsValidSecretKey checks the sk_live_/sk_test_ prefix.
func IsValidSecretKey(key string) bool {
	return strings.HasPrefix(key, SecretLivePrefix) || strings.HasPrefix(key, SecretTestPrefix)
}

// KeyFamiliesDiffer reports a live public key paired with a test secret or
// the reverse. It only feeds an operator warning; nothing is rejected.
func KeyFamiliesDiffer(publicKey, secretKey string) bool {
	if !IsValidPublicKey(publicKey) || !IsValidSecretKey(secretKey) {
		return false
	}
	return IsLive(publicKey) != strings.HasPrefix(secretKey, SecretLivePrefix)
}

// MaskSecret hides all but the prefix and the last four characters.
func MaskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	prefix := ""
	rest := secret
	if IsValidSecretKey(secret) {
		prefix, rest = secret[:len(SecretLivePrefix)], secret[len(SecretLivePrefix):]
	}
	if len(rest) <= 4 {
		return prefix + strings.Repeat("*", len(rest))
	}
	return prefix + strings.Repeat("*", len(rest)-4) + rest[len(rest)-4:]
}

// Gateway holds the operator-facing gateway options.
type Gateway struct {
	Enabled          bool     `json:"enabled"`
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	EnableSavedCards bool     `json:"enable_saved_cards"`
	EnableGooglePay  bool     `json:"enable_google_pay"`
	EnableApplePay   bool     `json:"enable_apple_pay"`
	EnableForMethods []string `json:"enable_for_methods"`
	EnableForVirtual bool     `json:"enable_for_virtual"`
	ThemeMode        string   `json:"theme_mode"`
	ColorPrimary     string   `json:"color_primary"`
	ColorBackground  string   `json:"color_background"`
	ColorText        string   `json:"color_text"`
	ColorBorder      string   `json:"color_border"`
	BorderRadius     string   `json:"border_radius"`
}

// DefaultGateway mirrors the defaults a fresh installation starts with.
func DefaultGateway() Gateway {
	return Gateway{
		Enabled:          true,
		Title:            "xMoney",
		Description:      "Pay securely with your credit or debit card.",
		EnableSavedCards: false,
		EnableGooglePay:  true,
		EnableApplePay:   true,
		EnableForVirtual: true,
		ThemeMode:        ThemeLight,
	}
}

// DecodeGateway overlays the stored JSON on DefaultGateway.
func DecodeGateway(raw string) (Gateway, error) {
	g := DefaultGateway()
	if strings.TrimSpace(raw) == "" {
		return g, nil
	}
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		return DefaultGateway(), fmt.Errorf("settings: decode gateway options: %w", err)
	}
	if g.ThemeMode == "" {
		g.ThemeMode = ThemeLight
	}
	return g, nil
}

// EncodeGateway serialises g for storage.
func EncodeGateway(g Gateway) (string, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
