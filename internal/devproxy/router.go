package devproxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/deskadmin/internal/metrics"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RouterDependencies wires the proxy admin endpoints. Metrics is optional.
type RouterDependencies struct {
	Proxy   *Proxy
	Log     *TrafficLog
	Metrics *metrics.Metrics
	Logger  *zap.Logger
	Clock   func() time.Time
}

type logHandler struct {
	proxy  *Proxy
	log    *TrafficLog
	logger *zap.Logger
	clock  func() time.Time
}

// NewRouter serves the log endpoints and forwards every other /api request.
func NewRouter(deps RouterDependencies) (*gin.Engine, error) {
	if deps.Proxy == nil || deps.Log == nil {
		return nil, errors.New("devproxy: proxy and traffic log are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	handler := &logHandler{proxy: deps.Proxy, log: deps.Log, logger: logger, clock: clock}

	router := gin.New()
	router.Use(gin.Recovery())
	if deps.Metrics != nil {
		router.Use(deps.Metrics.Middleware())
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	router.GET("/_logs", handler.handleList)
	router.POST("/_logs/clear", handler.handleClear)
	router.GET("/_logs/download", handler.handleDownload)
	router.GET("/api/test-proxy", handler.handleTestProxy)
	router.NoRoute(handler.handleForward)

	return router, nil
}

func (h *logHandler) handleList(c *gin.Context) {
	entries := h.log.Entries()
	c.JSON(http.StatusOK, gin.H{
		"logs":     entries,
		"count":    len(entries),
		"capacity": h.log.Capacity(),
	})
}

func (h *logHandler) handleClear(c *gin.Context) {
	removed := h.log.Clear()
	h.logger.Info("proxy log cleared", zap.Int("removed", removed))
	c.JSON(http.StatusOK, gin.H{"success": true, "cleared": removed})
}

func (h *logHandler) handleDownload(c *gin.Context) {
	now := h.clock().UTC()
	payload, err := json.MarshalIndent(gin.H{
		"exportedAt": now,
		"logs":       h.log.Entries(),
	}, "", "  ")
	if err != nil {
		h.logger.Error("failed to encode proxy log", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "encode_failed"})
		return
	}
	filename := fmt.Sprintf("proxy-logs-%s.json", now.Format("20060102-150405"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/json; charset=utf-8", payload)
}

func (h *logHandler) handleTestProxy(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"message":   "proxy is running",
		"backends":  h.proxy.Targets(),
		"timestamp": h.clock().UTC(),
	})
}

func (h *logHandler) handleForward(c *gin.Context) {
	if !strings.HasPrefix(c.Request.URL.Path, "/api/") {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	h.proxy.ServeHTTP(c.Writer, c.Request)
}
