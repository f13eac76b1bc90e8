package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/deskadmin/internal/upstream"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const exportFilenameLayout = "20060102-150405"

func (h *httpHandler) handleBackends(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"backends": h.catalog.Backends()})
}

func (h *httpHandler) handleListTables(c *gin.Context) {
	claims, ok := sessionClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	listing, err := h.catalog.ListTables(c.Request.Context(), claims.BackendToken, c.Param("backend"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

func (h *httpHandler) handleRefreshTables(c *gin.Context) {
	claims, ok := sessionClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	listing, err := h.catalog.Refresh(c.Request.Context(), claims.BackendToken, c.Param("backend"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

func (h *httpHandler) handleSchema(c *gin.Context) {
	claims, ok := sessionClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	schema, err := h.catalog.GetSchema(c.Request.Context(), claims.BackendToken, c.Param("backend"), c.Param("name"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, schema)
}

func (h *httpHandler) handleRecords(c *gin.Context) {
	claims, ok := sessionClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	query, err := recordQueryFrom(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	page, err := h.catalog.GetRecords(c.Request.Context(), claims.BackendToken, c.Param("backend"), c.Param("name"), query)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *httpHandler) handleUpdateRecord(c *gin.Context) {
	claims, ok := sessionClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var fields map[string]any
	if err := c.ShouldBindJSON(&fields); err != nil || len(fields) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	result, err := h.catalog.UpdateRecord(c.Request.Context(), claims.BackendToken, c.Param("backend"), c.Param("name"), c.Param("id"), fields)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.logger.Info("record updated",
		zap.String("user_id", claims.UserID),
		zap.String("backend", c.Param("backend")),
		zap.String("table", c.Param("name")),
		zap.String("record_id", c.Param("id")),
	)
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleDeleteRecord(c *gin.Context) {
	claims, ok := sessionClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	result, err := h.catalog.DeleteRecord(c.Request.Context(), claims.BackendToken, c.Param("backend"), c.Param("name"), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.logger.Info("record deleted",
		zap.String("user_id", claims.UserID),
		zap.String("backend", c.Param("backend")),
		zap.String("table", c.Param("name")),
		zap.String("record_id", c.Param("id")),
	)
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleKPIs(c *gin.Context) {
	claims, ok := sessionClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	dashboard, err := h.catalog.KPIs(c.Request.Context(), claims.BackendToken)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dashboard)
}

// handleExport downloads one page of a table as a JSON attachment.
func (h *httpHandler) handleExport(c *gin.Context) {
	claims, ok := sessionClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	query, err := recordQueryFrom(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	if c.Query("size") == "" {
		query.Size = upstream.MaxPageSize
	}
	backend, name := c.Param("backend"), c.Param("name")
	page, err := h.catalog.GetRecords(c.Request.Context(), claims.BackendToken, backend, name, query)
	if err != nil {
		h.writeError(c, err)
		return
	}

	now := h.clock().UTC()
	payload, err := json.MarshalIndent(gin.H{
		"exportedAt": now,
		"backend":    backend,
		"table":      name,
		"query":      query,
		"pagination": page.Pagination,
		"records":    page.Records,
	}, "", "  ")
	if err != nil {
		h.logger.Error("failed to encode export", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "encode_failed"})
		return
	}
	filename := fmt.Sprintf("%s-%s-%s.json", backend, name, now.Format(exportFilenameLayout))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/json; charset=utf-8", payload)
}

// recordQueryFrom reads paging, search, sort and a JSON filter object from the query string.
func recordQueryFrom(c *gin.Context) (upstream.RecordQuery, error) {
	query := upstream.RecordQuery{
		Search:    strings.TrimSpace(c.Query("search")),
		SortBy:    strings.TrimSpace(c.Query("sortBy")),
		SortOrder: c.Query("sortOrder"),
	}
	for key, target := range map[string]*int{"page": &query.Page, "size": &query.Size} {
		raw := c.Query(key)
		if raw == "" {
			continue
		}
		value, err := strconv.Atoi(raw)
		if err != nil || value < 1 {
			return upstream.RecordQuery{}, fmt.Errorf("%s must be a positive integer", key)
		}
		*target = value
	}
	if raw := c.Query("filters"); raw != "" {
		decoder := json.NewDecoder(strings.NewReader(raw))
		decoder.UseNumber()
		var filters map[string]any
		if err := decoder.Decode(&filters); err != nil && !errors.Is(err, io.EOF) {
			return upstream.RecordQuery{}, errors.New("filters must be a JSON object")
		}
		if len(filters) > 0 {
			query.Filters = make(map[string]string, len(filters))
			for key, value := range filters {
				query.Filters[key] = fmt.Sprint(value)
			}
		}
	}
	return query.Normalized(), nil
}
