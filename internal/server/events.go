package server

import (
	"context"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/deskadmin/internal/desk"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	streamEventSnapshot  = "snapshot"
	streamEventHeartbeat = "heartbeat"
	streamReadLimit      = 4096
)

type streamMessage struct {
	Event     string         `json:"event"`
	Desk      *desk.Snapshot `json:"desk,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// handleDeskEvents upgrades to a websocket, sends the current desk and then every change
// published for the signed-in user until either side hangs up.
func (h *httpHandler) handleDeskEvents(c *gin.Context) {
	claims, ok := sessionClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	dispatcher := h.desk.Dispatcher()
	if dispatcher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "events_unavailable"})
		return
	}
	snapshot, err := h.desk.Snapshot(c.Request.Context(), claims.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("desk event upgrade failed", zap.String("user_id", claims.UserID), zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	stream, unsubscribe := dispatcher.Subscribe(ctx, claims.UserID)
	defer unsubscribe()

	conn.SetReadLimit(streamReadLimit)
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	logger := h.logger.With(zap.String("user_id", claims.UserID))
	logger.Debug("desk event stream opened")
	defer logger.Debug("desk event stream closed")

	if err := h.writeStream(conn, streamMessage{Event: streamEventSnapshot, Desk: &snapshot, Timestamp: h.clock().UTC()}); err != nil {
		logger.Info("desk event write failed", zap.Error(err))
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case event, open := <-stream:
			if !open {
				return
			}
			if err := h.writeStream(conn, event); err != nil {
				logger.Info("desk event write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := h.writeStream(conn, streamMessage{Event: streamEventHeartbeat, Timestamp: h.clock().UTC()}); err != nil {
				logger.Info("desk event heartbeat failed", zap.Error(err))
				return
			}
		}
	}
}

func (h *httpHandler) writeStream(conn *websocket.Conn, message any) error {
	if err := conn.SetWriteDeadline(time.Now().Add(websocketWriteWindow)); err != nil {
		return err
	}
	return conn.WriteJSON(message)
}
