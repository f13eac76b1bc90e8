package auth

import "time"

// SessionUser is the user part of a Session.
type SessionUser struct {
	ID          string `json:"id"`
	Backend     string `json:"backend"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
}

// Session is the body of the /auth responses.
type Session struct {
	User            *SessionUser `json:"user"`
	Token           string       `json:"token,omitempty"`
	IsAuthenticated bool         `json:"isAuthenticated"`
	ExpiresAt       *time.Time   `json:"expiresAt,omitempty"`
	Error           string       `json:"error,omitempty"`
}

// NewSession describes an authenticated session. token may be empty when the caller already holds it.
func NewSession(identity Identity, token string, expiresAt time.Time) Session {
	expiry := expiresAt.UTC()
	return Session{
		User: &SessionUser{
			ID:          identity.UserID,
			Backend:     identity.Backend,
			Email:       identity.Email,
			DisplayName: identity.DisplayName,
			Role:        identity.Role,
		},
		Token:           token,
		IsAuthenticated: true,
		ExpiresAt:       &expiry,
	}
}

// AnonymousSession describes a rejected or ended session.
func AnonymousSession(message string) Session {
	return Session{Error: message}
}

// IdentityFromClaims recovers the identity carried by a validated token.
func IdentityFromClaims(claims SessionClaims) Identity {
	return Identity{
		UserID:      claims.UserID,
		Backend:     claims.Backend,
		Email:       claims.Email,
		DisplayName: claims.DisplayName,
		Role:        claims.Role,
	}
}
