package api

import (
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/crm-migration-api/internal/models"
	"github.com/crm-migration-api/internal/resolution"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// ErrorsHandler handles the error resolution workstation endpoints
type ErrorsHandler struct {
	workstation *resolution.Workstation
	log         zerolog.Logger
}

// NewErrorsHandler creates a new ErrorsHandler
func NewErrorsHandler(workstation *resolution.Workstation, log zerolog.Logger) *ErrorsHandler {
	return &ErrorsHandler{
		workstation: workstation,
		log:         log.With().Str("handler", "errors").Logger(),
	}
}

// ListErrors handles GET /v1/sessions/:session_id/errors
// Supports entity_type, error_type, severity, status and q filters;
// format=csv streams an error report instead of JSON.
func (h *ErrorsHandler) ListErrors(c *gin.Context) {
	sessionID := c.Param("session_id")
	filter, ok := parseFilter(c)
	if !ok {
		return
	}

	errs, err := h.workstation.ListErrors(c.Request.Context(), sessionID, filter)
	if err != nil {
		h.log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to list errors")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list errors"})
		return
	}

	if c.Query("format") == "csv" {
		c.Header("Content-Type", "text/csv")
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=errors_%s.csv", sessionID))
		writer := csv.NewWriter(c.Writer)
		writer.Write([]string{"row", "entity_type", "error_type", "severity", "field", "message", "suggested_fix", "can_retry", "status"})
		for _, e := range errs {
			writer.Write([]string{
				strconv.Itoa(e.SourceRowNumber), string(e.EntityType), string(e.ErrorType),
				string(e.Severity), e.Field, e.ErrorMessage, e.SuggestedFix,
				strconv.FormatBool(e.CanRetry), string(e.Status),
			})
		}
		writer.Flush()
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id":  sessionID,
		"error_count": len(errs),
		"errors":      errs,
	})
}

// ApplyFix handles POST /v1/sessions/:session_id/errors/:error_id/fix
func (h *ErrorsHandler) ApplyFix(c *gin.Context) {
	var req struct {
		FixedFields map[string]string `json:"fixed_fields"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid fix payload"})
		return
	}

	result, err := h.workstation.ApplyFix(c.Request.Context(), c.Param("session_id"), c.Param("error_id"), req.FixedFields)
	if err != nil {
		if errors.Is(err, models.ErrErrorNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "error not found"})
			return
		}
		h.log.Error().Err(err).Str("error_id", c.Param("error_id")).Msg("Fix failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to apply fix"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// BulkAction handles POST /v1/sessions/:session_id/errors/bulk
func (h *ErrorsHandler) BulkAction(c *gin.Context) {
	var req struct {
		Action string             `json:"action" binding:"required"`
		Filter models.ErrorFilter `json:"filter"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "action is required (skip_all, retry_all_fixable, mark_reviewed)"})
		return
	}

	summary, err := h.workstation.BulkAction(c.Request.Context(), c.Param("session_id"), models.BulkActionType(req.Action), req.Filter)
	if err != nil {
		h.log.Error().Err(err).Str("action", req.Action).Msg("Bulk action failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func parseFilter(c *gin.Context) (models.ErrorFilter, bool) {
	var filter models.ErrorFilter
	if v := c.Query("entity_type"); v != "" {
		et, ok := models.ParseEntityType(v)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown entity type %q", v)})
			return filter, false
		}
		filter.EntityType = et
	}
	filter.ErrorType = models.ErrorType(c.Query("error_type"))
	filter.Severity = models.Severity(c.Query("severity"))
	filter.Status = models.ErrorStatus(c.Query("status"))
	filter.TextSearch = c.Query("q")
	return filter, true
}
