// Package auth issues and checks the HS256 bearer tokens that guard the
// admin settings endpoints.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/noah-isme/xmoney-bridge/internal/common"
)

// AdminScope is the scope claim every admin token must carry.
const AdminScope = "xmoney:admin"

const scopeClaim = "scope"

// Config configures an Admin token authority.
type Config struct {
	Secret    string
	Issuer    string
	Audience  string
	TTL       time.Duration
	ClockSkew time.Duration
}

// Admin signs and verifies admin tokens.
type Admin struct {
	secret    []byte
	issuer    string
	audience  string
	ttl       time.Duration
	clockSkew time.Duration
	now       func() time.Time
}

// NewAdmin validates cfg and returns an Admin.
func NewAdmin(cfg Config) (*Admin, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if len(secret) < 16 {
		return nil, errors.New("auth: admin secret must be at least 16 characters")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	skew := cfg.ClockSkew
	if skew <= 0 {
		skew = 30 * time.Second
	}
	return &Admin{
		secret:    []byte(secret),
		issuer:    cfg.Issuer,
		audience:  cfg.Audience,
		ttl:       ttl,
		clockSkew: skew,
		now:       time.Now,
	}, nil
}

// WithNow overrides the clock.
func (a *Admin) WithNow(now func() time.Time) {
	if now != nil {
		a.now = now
	}
}

// Issue signs a token for subject valid for ttl (the configured TTL when 0).
func (a *Admin) Issue(subject string, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(subject) == "" {
		return "", time.Time{}, errors.New("auth: subject is required")
	}
	if ttl <= 0 {
		ttl = a.ttl
	}
	now := a.now()
	expiresAt := now.Add(ttl)
	builder := jwt.NewBuilder().
		Subject(subject).
		IssuedAt(now).
		NotBefore(now.Add(-a.clockSkew)).
		Expiration(expiresAt).
		Claim(scopeClaim, AdminScope)
	if a.issuer != "" {
		builder = builder.Issuer(a.issuer)
	}
	if a.audience != "" {
		builder = builder.Audience([]string{a.audience})
	}
	token, err := builder.Build()
	if err != nil {
		return "", time.Time{}, err
	}
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, a.secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return string(signed), expiresAt, nil
}

// Parse verifies token and returns its subject. Tokens signed with any
// algorithm other than HS256, including "none", are rejected.
func (a *Admin) Parse(token string) (string, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return "", unauthorized(errors.New("auth: token missing"))
	}
	alg, err := tokenAlgorithm(trimmed)
	if err != nil {
		return "", unauthorized(err)
	}
	if alg != jwa.HS256 {
		return "", unauthorized(fmt.Errorf("auth: unexpected token algorithm %s", alg))
	}
	parsed, err := jwt.ParseString(trimmed, jwt.WithKey(jwa.HS256, a.secret), jwt.WithValidate(false))
	if err != nil {
		return "", unauthorized(err)
	}
	opts := []jwt.ValidateOption{
		jwt.WithClock(jwt.ClockFunc(a.now)),
		jwt.WithAcceptableSkew(a.clockSkew),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}
	if err := jwt.Validate(parsed, opts...); err != nil {
		return "", unauthorized(err)
	}
	if scope, _ := parsed.Get(scopeClaim); scope != AdminScope {
		return "", unauthorized(errors.New("auth: admin scope missing"))
	}
	return parsed.Subject(), nil
}

func tokenAlgorithm(token string) (jwa.SignatureAlgorithm, error) {
	message, err := jws.ParseString(token)
	if err != nil {
		return "", err
	}
	signatures := message.Signatures()
	if len(signatures) != 1 {
		return "", errors.New("auth: token must carry exactly one signature")
	}
	headers := signatures[0].ProtectedHeaders()
	if headers == nil {
		return "", errors.New("auth: token missing protected headers")
	}
	alg := headers.Algorithm()
	switch alg {
	case "":
		return "", errors.New("auth: token missing algorithm")
	case jwa.NoSignature:
		return "", errors.New("auth: token uses none algorithm")
	}
	return alg, nil
}

func unauthorized(err error) error {
	return common.NewAppError("UNAUTHORIZED", "missing or invalid token", http.StatusUnauthorized, err)
}
