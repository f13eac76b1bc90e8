package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingIssuer        = errors.New("issuer must be provided")
	errMissingAudience      = errors.New("audience must be provided")
	errNonPositiveTTL       = errors.New("token ttl must be positive")
	errMissingSubjectClaim  = errors.New("subject claim must be provided")
	errMissingUpstreamToken = errors.New("upstream token must be provided")
)

// Identity is the desk user a session token is issued for.
type Identity struct {
	UserID      string
	Backend     string
	Email       string
	DisplayName string
	Role        string
}

// TokenIssuerConfig configures the desk session token issuer.
type TokenIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// TokenIssuer signs desk session tokens that carry the user's upstream bearer token.
type TokenIssuer struct {
	signingSecret []byte
	issuer        string
	audience      string
	ttl           time.Duration
	clock         func() time.Time
}

// NewTokenIssuer validates cfg and constructs a TokenIssuer.
func NewTokenIssuer(cfg TokenIssuerConfig) (*TokenIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, errMissingSigningSecret
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, errMissingIssuer
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		return nil, errMissingAudience
	}
	if cfg.TokenTTL <= 0 {
		return nil, errNonPositiveTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenIssuer{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		audience:      audience,
		ttl:           cfg.TokenTTL,
		clock:         clock,
	}, nil
}

// IssueSessionToken produces a signed JWT for identity and its expiry.
// The session never outlives the upstream token when that token carries an exp claim.
func (i *TokenIssuer) IssueSessionToken(_ context.Context, identity Identity, upstreamToken string) (string, time.Time, error) {
	if strings.TrimSpace(identity.UserID) == "" {
		return "", time.Time{}, errMissingSubjectClaim
	}
	if strings.TrimSpace(upstreamToken) == "" {
		return "", time.Time{}, errMissingUpstreamToken
	}

	now := i.clock().UTC()
	expiresAt := now.Add(i.ttl)
	if upstreamExpiry, err := DecodeExpiry(upstreamToken); err == nil && upstreamExpiry.Before(expiresAt) {
		expiresAt = upstreamExpiry.UTC()
	}

	claims := SessionClaims{
		UserID:       identity.UserID,
		Backend:      identity.Backend,
		Email:        identity.Email,
		DisplayName:  identity.DisplayName,
		Role:         identity.Role,
		BackendToken: upstreamToken,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			Issuer:    i.issuer,
			Audience:  []string{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.signingSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// TTL returns the configured session lifetime.
func (i *TokenIssuer) TTL() time.Duration {
	return i.ttl
}
