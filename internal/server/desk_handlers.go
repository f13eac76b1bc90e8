package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/deskadmin/internal/desk"
	"github.com/MarcoPoloResearchLab/deskadmin/internal/upstream"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type openWindowRequest struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Title    string         `json:"title"`
	Table    *desk.TableRef `json:"table"`
	Position *desk.Point    `json:"position"`
	Size     *desk.Size     `json:"size"`
}

type positionRequest struct {
	X *int `json:"x"`
	Y *int `json:"y"`
}

type sizeRequest struct {
	Width  *int `json:"width"`
	Height *int `json:"height"`
}

type sidebarRequest struct {
	Width *int `json:"width"`
}

// WindowRecords is the data a table or record window holds after a fetch.
type WindowRecords struct {
	Query      upstream.RecordQuery `json:"query"`
	Records    []map[string]any     `json:"records"`
	Pagination upstream.Pagination  `json:"pagination"`
	FetchedAt  time.Time            `json:"fetchedAt"`
}

func (h *httpHandler) handleSnapshot(c *gin.Context) {
	h.respondSnapshot(c, func(ctx context.Context, userID string) (desk.Snapshot, error) {
		return h.desk.Snapshot(ctx, userID)
	})
}

// handleVisible lists the windows a client should render, bottom-most first.
func (h *httpHandler) handleVisible(c *gin.Context) {
	claims, ok := sessionClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	windows, err := h.desk.Visible(c.Request.Context(), claims.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if windows == nil {
		windows = []desk.Window{}
	}
	c.JSON(http.StatusOK, gin.H{"windows": windows})
}

func (h *httpHandler) handleOpenWindow(c *gin.Context) {
	claims, ok := sessionClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var request openWindowRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	windowType, err := desk.ParseWindowType(request.Type)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_window_type"})
		return
	}
	if request.Table != nil && (request.Table.Backend == "" || request.Table.Name == "") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_table_reference"})
		return
	}
	if request.Size != nil && (request.Size.Width <= 0 || request.Size.Height <= 0) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_window_size"})
		return
	}

	window, snapshot, err := h.desk.Open(c.Request.Context(), claims.UserID, desk.OpenConfig{
		ID:       request.ID,
		Type:     windowType,
		Title:    request.Title,
		Table:    request.Table,
		Position: request.Position,
		Size:     request.Size,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"window": window, "desk": snapshot})
}

func (h *httpHandler) handleCloseWindow(c *gin.Context) {
	h.respondWindowOp(c, h.desk.Close)
}

func (h *httpHandler) handleActivate(c *gin.Context) {
	h.respondWindowOp(c, h.desk.Activate)
}

func (h *httpHandler) handleMinimize(c *gin.Context) {
	h.respondWindowOp(c, h.desk.Minimize)
}

func (h *httpHandler) handleMaximize(c *gin.Context) {
	h.respondWindowOp(c, h.desk.Maximize)
}

func (h *httpHandler) handleRestore(c *gin.Context) {
	h.respondWindowOp(c, h.desk.Restore)
}

func (h *httpHandler) handleMove(c *gin.Context) {
	var request positionRequest
	if err := c.ShouldBindJSON(&request); err != nil || request.X == nil || request.Y == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	position := desk.Point{X: *request.X, Y: *request.Y}
	h.respondWindowOp(c, func(ctx context.Context, userID, windowID string) (desk.Snapshot, error) {
		return h.desk.Move(ctx, userID, windowID, position)
	})
}

func (h *httpHandler) handleResize(c *gin.Context) {
	var request sizeRequest
	if err := c.ShouldBindJSON(&request); err != nil || request.Width == nil || request.Height == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	size := desk.Size{Width: *request.Width, Height: *request.Height}
	h.respondWindowOp(c, func(ctx context.Context, userID, windowID string) (desk.Snapshot, error) {
		return h.desk.Resize(ctx, userID, windowID, size)
	})
}

func (h *httpHandler) handleCascade(c *gin.Context) {
	h.respondSnapshot(c, h.desk.CascadeAll)
}

func (h *httpHandler) handleTile(c *gin.Context) {
	h.respondSnapshot(c, h.desk.TileAll)
}

func (h *httpHandler) handleCloseAll(c *gin.Context) {
	h.respondSnapshot(c, h.desk.CloseAll)
}

func (h *httpHandler) handleSidebar(c *gin.Context) {
	var request sidebarRequest
	if err := c.ShouldBindJSON(&request); err != nil || request.Width == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	h.respondSnapshot(c, func(ctx context.Context, userID string) (desk.Snapshot, error) {
		return h.desk.SetSidebarWidth(ctx, userID, *request.Width)
	})
}

func (h *httpHandler) handleViewport(c *gin.Context) {
	var request sizeRequest
	if err := c.ShouldBindJSON(&request); err != nil || request.Width == nil || request.Height == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	viewport := desk.Size{Width: *request.Width, Height: *request.Height}
	h.respondSnapshot(c, func(ctx context.Context, userID string) (desk.Snapshot, error) {
		return h.desk.SetViewport(ctx, userID, viewport)
	})
}

// handleFetchWindowRecords loads a page for a table window. A response that loses the race
// against a newer fetch of the same window is discarded with 409.
func (h *httpHandler) handleFetchWindowRecords(c *gin.Context) {
	claims, ok := sessionClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var query upstream.RecordQuery
	if err := c.ShouldBindJSON(&query); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	ctx := c.Request.Context()
	windowID := c.Param("id")
	window, seq, err := h.desk.BeginFetch(ctx, claims.UserID, windowID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if window.Table == nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "window_has_no_table"})
		return
	}
	if window.Table.RecordID != "" && len(query.Filters) == 0 {
		query.Filters = map[string]string{h.primaryKeyOf(ctx, claims.BackendToken, window.Table): window.Table.RecordID}
	}
	query = query.Normalized()

	page, err := h.catalog.GetRecords(ctx, claims.BackendToken, window.Table.Backend, window.Table.Name, query)
	if err != nil {
		h.writeError(c, err)
		return
	}

	snapshot, err := h.desk.CompleteFetch(ctx, claims.UserID, windowID, seq, WindowRecords{
		Query:      query,
		Records:    page.Records,
		Pagination: page.Pagination,
		FetchedAt:  h.clock().UTC(),
	})
	if errors.Is(err, desk.ErrStaleFetch) {
		if h.metrics != nil {
			h.metrics.StaleFetches.Inc()
		}
		h.logger.Debug("dropped stale window fetch", zap.String("window_id", windowID), zap.Uint64("seq", seq))
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	updated, _ := snapshot.Window(windowID)
	c.JSON(http.StatusOK, gin.H{
		"window":     updated,
		"records":    page.Records,
		"pagination": page.Pagination,
	})
}

func (h *httpHandler) primaryKeyOf(ctx context.Context, token string, ref *desk.TableRef) string {
	table, err := h.catalog.Table(ctx, token, ref.Backend, ref.Name)
	if err != nil || table.PrimaryKey == "" {
		return "id"
	}
	return table.PrimaryKey
}

func (h *httpHandler) respondWindowOp(c *gin.Context, op func(ctx context.Context, userID, windowID string) (desk.Snapshot, error)) {
	claims, ok := sessionClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	snapshot, err := op(c.Request.Context(), claims.UserID, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (h *httpHandler) respondSnapshot(c *gin.Context, op func(ctx context.Context, userID string) (desk.Snapshot, error)) {
	claims, ok := sessionClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	snapshot, err := op(c.Request.Context(), claims.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}
