package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/deskadmin/internal/accounts"
	"github.com/MarcoPoloResearchLab/deskadmin/internal/auth"
	"github.com/MarcoPoloResearchLab/deskadmin/internal/upstream"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	email := strings.TrimSpace(request.Email)
	if email == "" || request.Password == "" {
		c.JSON(http.StatusBadRequest, auth.AnonymousSession("email and password are required"))
		return
	}

	result, err := h.authenticator.Login(c.Request.Context(), email, request.Password)
	if err != nil {
		if upstreamErr, ok := upstream.AsError(err); ok && upstreamErr.Unauthorized() {
			h.logger.Info("login rejected", zap.String("backend", upstreamErr.Backend))
			c.JSON(http.StatusUnauthorized, auth.AnonymousSession("invalid email or password"))
			return
		}
		h.writeSessionError(c, err)
		return
	}

	identity := h.identityFor(c, result.User, email)
	token, expiresAt, err := h.sessions.IssueSessionToken(c.Request.Context(), identity, result.Token)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	h.logger.Info("user signed in", zap.String("user_id", identity.UserID), zap.String("backend", identity.Backend))
	c.JSON(http.StatusOK, auth.NewSession(identity, token, expiresAt))
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	claims, ok := sessionClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	h.revoked.revoke(c.GetString(tokenContextKey))
	if err := h.authenticator.Logout(c.Request.Context(), claims.BackendToken); err != nil {
		h.logger.Warn("upstream logout failed", zap.String("user_id", claims.UserID), zap.Error(err))
	}
	c.JSON(http.StatusOK, auth.AnonymousSession(""))
}

func (h *httpHandler) handleRefresh(c *gin.Context) {
	claims, ok := sessionClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	result, err := h.authenticator.Refresh(c.Request.Context(), claims.BackendToken)
	if err != nil {
		h.writeSessionError(c, err)
		return
	}
	identity := auth.IdentityFromClaims(claims)
	token, expiresAt, err := h.sessions.IssueSessionToken(c.Request.Context(), identity, result.Token)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.JSON(http.StatusOK, auth.NewSession(identity, token, expiresAt))
}

func (h *httpHandler) handleValidate(c *gin.Context) {
	claims, ok := sessionClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if _, err := h.authenticator.Validate(c.Request.Context(), claims.BackendToken); err != nil {
		h.writeSessionError(c, err)
		return
	}
	expiresAt := h.clock()
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	c.JSON(http.StatusOK, auth.NewSession(auth.IdentityFromClaims(claims), "", expiresAt))
}

func (h *httpHandler) handleProfile(c *gin.Context) {
	claims, ok := sessionClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if h.profiles == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile_not_found"})
		return
	}
	profile, err := h.profiles.Lookup(c.Request.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, accounts.ErrProfileNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "profile_not_found"})
			return
		}
		h.logger.Error("profile lookup failed", zap.String("user_id", claims.UserID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "profile_lookup_failed"})
		return
	}
	c.JSON(http.StatusOK, profile)
}

// identityFor derives the desk identity of a fresh login and remembers the profile.
func (h *httpHandler) identityFor(c *gin.Context, user upstream.AuthUser, email string) auth.Identity {
	backend := h.authenticator.Backend()
	subject := strings.TrimSpace(string(user.ID))
	if subject == "" {
		subject = strings.ToLower(email)
	}
	if user.Email != "" {
		email = user.Email
	}
	identity := auth.Identity{
		UserID:      accounts.CanonicalUserID(backend, subject),
		Backend:     backend,
		Email:       email,
		DisplayName: user.DisplayName(),
		Role:        user.Role,
	}
	if h.profiles == nil {
		return identity
	}
	profile, err := h.profiles.Remember(c.Request.Context(), accounts.Login{
		Backend:     backend,
		Subject:     subject,
		Email:       identity.Email,
		DisplayName: identity.DisplayName,
		Role:        identity.Role,
	})
	if err != nil {
		h.logger.Warn("failed to remember profile", zap.String("user_id", identity.UserID), zap.Error(err))
		return identity
	}
	identity.UserID = profile.UserID
	return identity
}

// writeSessionError answers failed auth calls with an unauthenticated session body.
func (h *httpHandler) writeSessionError(c *gin.Context, err error) {
	upstreamErr, ok := upstream.AsError(err)
	if !ok {
		h.logger.Error("auth request failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, auth.AnonymousSession(err.Error()))
		return
	}
	status := http.StatusBadGateway
	switch {
	case upstreamErr.Unauthorized(), upstreamErr.Status == http.StatusUnauthorized:
		status = http.StatusUnauthorized
	case upstreamErr.Type == upstream.ErrorTypeTimeout:
		status = http.StatusGatewayTimeout
	case upstreamErr.Status >= 400 && upstreamErr.Status < 500:
		status = upstreamErr.Status
	}
	if status < http.StatusInternalServerError {
		h.logger.Info("auth request rejected", zap.Int("upstream_status", upstreamErr.Status))
	} else {
		h.logger.Warn("auth request failed", zap.String("error_type", string(upstreamErr.Type)), zap.Error(err))
	}
	c.JSON(status, auth.AnonymousSession(upstreamErr.Message))
}
