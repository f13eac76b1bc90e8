package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testIssuer   = "deskadmin"
	testAudience = "deskadmin-api"
)

func newTestIssuer(t *testing.T, now time.Time) *TokenIssuer {
	t.Helper()
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		Issuer:        testIssuer,
		Audience:      testAudience,
		TokenTTL:      time.Hour,
		Clock: func() time.Time {
			return now
		},
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	return issuer
}

func signUpstreamToken(t *testing.T, expiresAt time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "7",
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	})
	signed, err := token.SignedString([]byte("upstream-secret"))
	if err != nil {
		t.Fatalf("failed to sign upstream token: %v", err)
	}
	return signed
}

func TestTokenIssuerIssuesSessionTokens(t *testing.T) {
	now := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(t, now)

	tokenString, expiresAt, err := issuer.IssueSessionToken(context.Background(), Identity{
		UserID:  "myusta:7",
		Backend: "myusta",
		Email:   testSessionUserEmail,
		Role:    "admin",
	}, "opaque-upstream-token")
	if err != nil {
		t.Fatalf("expected successful issuance: %v", err)
	}
	if !expiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected expiry %s", expiresAt)
	}

	claims := &SessionClaims{}
	_, err = jwt.NewParser(jwt.WithTimeFunc(func() time.Time { return now })).ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(testSessionSigningSecret), nil
	})
	if err != nil {
		t.Fatalf("failed to parse generated token: %v", err)
	}
	if claims.Subject != "myusta:7" || claims.BackendToken != "opaque-upstream-token" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if claims.Issuer != testIssuer {
		t.Fatalf("unexpected issuer %s", claims.Issuer)
	}
	if len(claims.Audience) == 0 || claims.Audience[0] != testAudience {
		t.Fatalf("unexpected audience %#v", claims.Audience)
	}
}

func TestTokenIssuerCapsExpiryAtUpstreamToken(t *testing.T) {
	now := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(t, now)
	upstreamExpiry := now.Add(10 * time.Minute)

	_, expiresAt, err := issuer.IssueSessionToken(context.Background(), Identity{UserID: "myusta:7"}, signUpstreamToken(t, upstreamExpiry))
	if err != nil {
		t.Fatalf("unexpected issuance error: %v", err)
	}
	if !expiresAt.Equal(upstreamExpiry) {
		t.Fatalf("expected session to end with the upstream token, got %s", expiresAt)
	}
}

func TestTokenIssuerRejectsMissingInputs(t *testing.T) {
	issuer := newTestIssuer(t, time.Now())
	if _, _, err := issuer.IssueSessionToken(context.Background(), Identity{}, "token"); err == nil {
		t.Fatalf("expected error for missing subject")
	}
	if _, _, err := issuer.IssueSessionToken(context.Background(), Identity{UserID: "u"}, " "); err == nil {
		t.Fatalf("expected error for missing upstream token")
	}
}

func TestNewTokenIssuerValidatesConfig(t *testing.T) {
	cases := map[string]TokenIssuerConfig{
		"missing secret":   {Issuer: testIssuer, Audience: testAudience, TokenTTL: time.Minute},
		"missing issuer":   {SigningSecret: []byte("secret"), Audience: testAudience, TokenTTL: time.Minute},
		"missing audience": {SigningSecret: []byte("secret"), Issuer: testIssuer, Audience: " ", TokenTTL: time.Minute},
		"non-positive ttl": {SigningSecret: []byte("secret"), Issuer: testIssuer, Audience: testAudience},
	}
	for name, cfg := range cases {
		if _, err := NewTokenIssuer(cfg); err == nil {
			t.Fatalf("%s: expected constructor error", name)
		}
	}
}

func TestDecodeExpiry(t *testing.T) {
	expiresAt := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	decoded, err := DecodeExpiry(signUpstreamToken(t, expiresAt))
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if !decoded.Equal(expiresAt) {
		t.Fatalf("unexpected expiry %s", decoded)
	}

	if _, err := DecodeExpiry("not-a-jwt"); err == nil {
		t.Fatalf("expected opaque token to have no expiry")
	}
	if Expired("not-a-jwt", time.Now()) {
		t.Fatalf("expected opaque token not to be reported expired")
	}
	if !Expired(signUpstreamToken(t, expiresAt), expiresAt) {
		t.Fatalf("expected token to be expired at its exp instant")
	}
}
