package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/deskadmin/internal/accounts"
	"github.com/MarcoPoloResearchLab/deskadmin/internal/auth"
	"github.com/MarcoPoloResearchLab/deskadmin/internal/catalog"
	"github.com/MarcoPoloResearchLab/deskadmin/internal/desk"
	"github.com/MarcoPoloResearchLab/deskadmin/internal/metrics"
	"github.com/MarcoPoloResearchLab/deskadmin/internal/upstream"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	claimsContextKey     = "deskadmin_session_claims"
	tokenContextKey      = "deskadmin_session_token"
	defaultSessionTTL    = time.Hour
	accessTokenQueryKey  = "access_token"
	defaultHeartbeat     = 25 * time.Second
	websocketWriteWindow = 10 * time.Second
)

var (
	errMissingSessionIssuer    = errors.New("session issuer dependency required")
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingAuthenticator    = errors.New("authenticator dependency required")
	errMissingDeskService      = errors.New("desk service dependency required")
	errMissingCatalogService   = errors.New("catalog service dependency required")
	errInvalidAuthorization    = errors.New("authorization header missing or invalid")
)

// SessionIssuer signs desk session tokens.
type SessionIssuer interface {
	IssueSessionToken(ctx context.Context, identity auth.Identity, upstreamToken string) (string, time.Time, error)
}

// SessionValidator validates desk session tokens.
type SessionValidator interface {
	ValidateToken(token string) (auth.SessionClaims, error)
}

// Authenticator runs the upstream auth lifecycle on the primary backend.
type Authenticator interface {
	Backend() string
	Login(ctx context.Context, email string, password string) (upstream.LoginResult, error)
	Logout(ctx context.Context, token string) error
	Refresh(ctx context.Context, token string) (upstream.LoginResult, error)
	Validate(ctx context.Context, token string) (upstream.AuthUser, error)
}

// ProfileStore remembers users who signed in.
type ProfileStore interface {
	Remember(ctx context.Context, login accounts.Login) (accounts.Profile, error)
	Lookup(ctx context.Context, userID string) (accounts.Profile, error)
}

// Dependencies wires the desk HTTP API. Profiles and Metrics are optional.
type Dependencies struct {
	Sessions          SessionIssuer
	Validator         SessionValidator
	Authenticator     Authenticator
	Profiles          ProfileStore
	DeskService       *desk.Service
	CatalogService    *catalog.Service
	Metrics           *metrics.Metrics
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
	// SessionTTL bounds how long a signed-out token is remembered as revoked.
	SessionTTL        time.Duration
	Clock             func() time.Time
	Logger            *zap.Logger
}

// NewHTTPHandler builds the gin engine serving the desk API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sessions == nil {
		return nil, errMissingSessionIssuer
	}
	if deps.Validator == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Authenticator == nil {
		return nil, errMissingAuthenticator
	}
	if deps.DeskService == nil {
		return nil, errMissingDeskService
	}
	if deps.CatalogService == nil {
		return nil, errMissingCatalogService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	sessionTTL := deps.SessionTTL
	if sessionTTL <= 0 {
		sessionTTL = defaultSessionTTL
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if deps.Metrics != nil {
		router.Use(deps.Metrics.Middleware())
	}
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		sessions:      deps.Sessions,
		validator:     deps.Validator,
		authenticator: deps.Authenticator,
		profiles:      deps.Profiles,
		desk:          deps.DeskService,
		catalog:       deps.CatalogService,
		metrics:       deps.Metrics,
		clock:         clock,
		heartbeat:     heartbeat,
		revoked:       newRevokedSessions(sessionTTL),
		logger:        logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
	}

	router.GET("/healthz", handler.handleHealth)
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}
	router.POST("/auth/login", handler.handleLogin)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)

	protected.POST("/auth/logout", handler.handleLogout)
	protected.POST("/auth/refresh", handler.handleRefresh)
	protected.GET("/auth/validate", handler.handleValidate)
	protected.GET("/auth/profile", handler.handleProfile)

	protected.GET("/desk", handler.handleSnapshot)
	protected.GET("/desk/visible", handler.handleVisible)
	protected.GET("/desk/events", handler.handleDeskEvents)
	protected.POST("/desk/windows", handler.handleOpenWindow)
	protected.DELETE("/desk/windows", handler.handleCloseAll)
	protected.DELETE("/desk/windows/:id", handler.handleCloseWindow)
	protected.POST("/desk/windows/:id/activate", handler.handleActivate)
	protected.POST("/desk/windows/:id/minimize", handler.handleMinimize)
	protected.POST("/desk/windows/:id/maximize", handler.handleMaximize)
	protected.POST("/desk/windows/:id/restore", handler.handleRestore)
	protected.PUT("/desk/windows/:id/position", handler.handleMove)
	protected.PUT("/desk/windows/:id/size", handler.handleResize)
	protected.POST("/desk/windows/:id/records", handler.handleFetchWindowRecords)
	protected.POST("/desk/cascade", handler.handleCascade)
	protected.POST("/desk/tile", handler.handleTile)
	protected.PUT("/desk/sidebar", handler.handleSidebar)
	protected.PUT("/desk/viewport", handler.handleViewport)

	protected.GET("/catalog", handler.handleBackends)
	protected.GET("/catalog/:backend/tables", handler.handleListTables)
	protected.POST("/catalog/:backend/refresh", handler.handleRefreshTables)
	protected.GET("/catalog/:backend/tables/:name/schema", handler.handleSchema)
	protected.GET("/catalog/:backend/tables/:name/records", handler.handleRecords)
	protected.PUT("/catalog/:backend/tables/:name/records/:id", handler.handleUpdateRecord)
	protected.DELETE("/catalog/:backend/tables/:name/records/:id", handler.handleDeleteRecord)
	protected.GET("/dashboard/kpis", handler.handleKPIs)
	protected.GET("/export/:backend/tables/:name", handler.handleExport)

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Authorization", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Disposition"},
		MaxAge:        12 * time.Hour,
	}
	origins := make([]string, 0, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		config.AllowOriginFunc = func(string) bool {
			return true
		}
	} else {
		config.AllowOrigins = origins
	}
	return cors.New(config)
}

type httpHandler struct {
	sessions      SessionIssuer
	validator     SessionValidator
	authenticator Authenticator
	profiles      ProfileStore
	desk          *desk.Service
	catalog       *catalog.Service
	metrics       *metrics.Metrics
	clock         func() time.Time
	heartbeat     time.Duration
	revoked       *revokedSessions
	logger        *zap.Logger
	upgrader      websocket.Upgrader
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token, ok := auth.BearerToken(c.GetHeader("Authorization"))
	if !ok && websocket.IsWebSocketUpgrade(c.Request) {
		token = strings.TrimSpace(c.Query(accessTokenQueryKey))
		ok = token != ""
	}
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	if h.revoked.revoked(token) {
		h.logger.Info("revoked session presented")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	claims, err := h.validator.ValidateToken(token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrExpiredUpstreamToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(claimsContextKey, claims)
	c.Set(tokenContextKey, token)
	c.Next()
}

func sessionClaims(c *gin.Context) (auth.SessionClaims, bool) {
	value, ok := c.Get(claimsContextKey)
	if !ok {
		return auth.SessionClaims{}, false
	}
	claims, ok := value.(auth.SessionClaims)
	return claims, ok
}

// coded is implemented by the service errors of the desk and catalog packages.
type coded interface {
	Code() string
}

func (h *httpHandler) writeError(c *gin.Context, err error) {
	code := ""
	var codedErr coded
	if errors.As(err, &codedErr) {
		code = codedErr.Code()
	}

	if upstreamErr, ok := upstream.AsError(err); ok {
		status := http.StatusBadGateway
		switch {
		case upstreamErr.Unauthorized():
			status = http.StatusUnauthorized
		case upstreamErr.Type == upstream.ErrorTypeTimeout:
			status = http.StatusGatewayTimeout
		case upstreamErr.Status >= 400 && upstreamErr.Status < 500:
			status = upstreamErr.Status
		}
		fields := []zap.Field{
			zap.String("code", code),
			zap.String("backend", upstreamErr.Backend),
			zap.String("error_type", string(upstreamErr.Type)),
			zap.Int("upstream_status", upstreamErr.Status),
		}
		if status < http.StatusInternalServerError {
			h.logger.Info("upstream request rejected", fields...)
		} else {
			h.logger.Warn("upstream request failed", append(fields, zap.Error(err))...)
		}
		body := gin.H{"success": false, "error": upstreamErr.Message, "errorType": upstreamErr.Type}
		if code != "" {
			body["code"] = code
		}
		c.JSON(status, body)
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, desk.ErrWindowNotFound), errors.Is(err, catalog.ErrTableNotFound),
		errors.Is(err, catalog.ErrUnknownBackend), errors.Is(err, upstream.ErrUnknownBackend):
		status = http.StatusNotFound
	case errors.Is(err, desk.ErrInvalidUserID), errors.Is(err, desk.ErrInvalidWindowID),
		errors.Is(err, desk.ErrInvalidWindowType), errors.Is(err, desk.ErrInvalidViewport),
		errors.Is(err, catalog.ErrInvalidRecord):
		status = http.StatusBadRequest
	case errors.Is(err, desk.ErrStaleFetch), errors.Is(err, desk.ErrDuplicateWindowID):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("code", code), zap.Error(err))
	}
	if code == "" {
		code = "internal_error"
	}
	c.JSON(status, gin.H{"success": false, "error": code})
}
