package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoExpiry is returned when a token cannot be decoded or carries no exp claim.
var ErrNoExpiry = errors.New("auth: token has no readable expiry")

// DecodeExpiry reads the exp claim of a JWT without verifying its signature.
func DecodeExpiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(token), claims); err != nil {
		return time.Time{}, errors.Join(ErrNoExpiry, err)
	}
	expiresAt, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, errors.Join(ErrNoExpiry, err)
	}
	if expiresAt == nil {
		return time.Time{}, ErrNoExpiry
	}
	return expiresAt.Time, nil
}

// Expired reports whether token carries an exp claim at or before now.
// Opaque tokens are never considered expired here; the upstream decides.
func Expired(token string, now time.Time) bool {
	expiresAt, err := DecodeExpiry(token)
	if err != nil {
		return false
	}
	return !now.Before(expiresAt)
}
