package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/crm-migration-api/internal/config"
	"github.com/crm-migration-api/internal/models"
	"github.com/crm-migration-api/internal/session"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// SessionHandler handles migration session endpoints
type SessionHandler struct {
	sessions *session.Service
	cfg      *config.Config
	log      zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler
func NewSessionHandler(sessions *session.Service, cfg *config.Config, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		cfg:      cfg,
		log:      log.With().Str("handler", "session").Logger(),
	}
}

// CreateSession handles POST /v1/sessions
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req struct {
		FirmID      string   `json:"firm_id" binding:"required"`
		EntityTypes []string `json:"entity_types"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "firm_id is required"})
		return
	}
	entities := make([]models.EntityType, 0, len(req.EntityTypes))
	for _, s := range req.EntityTypes {
		et, ok := models.ParseEntityType(s)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown entity type %q", s)})
			return
		}
		entities = append(entities, et)
	}

	sess, err := h.sessions.CreateSession(c.Request.Context(), req.FirmID, entities)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to create session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}
	c.JSON(http.StatusCreated, sess)
}

// GetSession handles GET /v1/sessions/:session_id
func (h *SessionHandler) GetSession(c *gin.Context) {
	overview, err := h.sessions.GetSession(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, overview)
}

// CancelSession handles DELETE /v1/sessions/:session_id
func (h *SessionHandler) CancelSession(c *gin.Context) {
	sess, err := h.sessions.CancelSession(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// UploadFile handles POST /v1/sessions/:session_id/files
// Accepts a multipart file upload plus an optional entity-type hint.
func (h *SessionHandler) UploadFile(c *gin.Context) {
	sessionID := c.Param("session_id")

	var declared models.EntityType
	if hint := c.PostForm("entity_type"); hint != "" {
		et, ok := models.ParseEntityType(hint)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown entity type %q", hint)})
			return
		}
		declared = et
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file upload is required"})
		return
	}
	defer file.Close()

	if header.Size > h.cfg.Migration.MaxUploadSize {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("file too large, max size is %d MB", h.cfg.Migration.MaxUploadSize/(1024*1024)),
		})
		return
	}
	data, err := io.ReadAll(io.LimitReader(file, h.cfg.Migration.MaxUploadSize+1))
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to read upload")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read file"})
		return
	}

	uploaded, err := h.sessions.UploadFile(c.Request.Context(), sessionID, header.Filename, data, declared)
	if err != nil {
		var parseErr *models.ParseError
		if errors.As(err, &parseErr) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "parse failed", "parse_error": parseErr})
			return
		}
		h.respondError(c, err)
		return
	}

	// The full row set stays server-side; the response carries the bounded
	// preview and suggestions.
	c.JSON(http.StatusCreated, uploaded)
}

// GetMappings handles GET /v1/sessions/:session_id/mappings/:entity_type
func (h *SessionHandler) GetMappings(c *gin.Context) {
	entity, ok := h.entityParam(c)
	if !ok {
		return
	}
	set, err := h.sessions.GetMappings(c.Request.Context(), c.Param("session_id"), entity)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, set)
}

// UpdateMappings handles PUT /v1/sessions/:session_id/mappings/:entity_type
// The body carries the version the client read; stale versions are rejected.
func (h *SessionHandler) UpdateMappings(c *gin.Context) {
	entity, ok := h.entityParam(c)
	if !ok {
		return
	}
	var req struct {
		Version  int                   `json:"version"`
		Mappings []models.FieldMapping `json:"mappings" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mappings payload is required"})
		return
	}

	set, err := h.sessions.UpdateMappings(c.Request.Context(), c.Param("session_id"), entity, req.Mappings, req.Version)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, set)
}

// ApplyTemplate handles POST /v1/sessions/:session_id/mappings/:entity_type/template
func (h *SessionHandler) ApplyTemplate(c *gin.Context) {
	entity, ok := h.entityParam(c)
	if !ok {
		return
	}
	var req struct {
		TemplateID string `json:"template_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "template_id is required"})
		return
	}
	set, err := h.sessions.ApplyTemplate(c.Request.Context(), c.Param("session_id"), entity, req.TemplateID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, set)
}

// SaveTemplate handles POST /v1/sessions/:session_id/mappings/:entity_type/save
// It stores the entity's current session mappings as a reusable named template.
func (h *SessionHandler) SaveTemplate(c *gin.Context) {
	entity, ok := h.entityParam(c)
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	tpl, err := h.sessions.SaveTemplate(c.Request.Context(), c.Param("session_id"), entity, req.Name)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tpl)
}

// ValidateEntity handles POST /v1/sessions/:session_id/validate/:entity_type
func (h *SessionHandler) ValidateEntity(c *gin.Context) {
	entity, ok := h.entityParam(c)
	if !ok {
		return
	}
	summary, err := h.sessions.ValidateEntity(c.Request.Context(), c.Param("session_id"), entity)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// CommitEntity handles POST /v1/sessions/:session_id/commit/:entity_type
func (h *SessionHandler) CommitEntity(c *gin.Context) {
	entity, ok := h.entityParam(c)
	if !ok {
		return
	}
	batch, err := h.sessions.CommitEntity(c.Request.Context(), c.Param("session_id"), entity)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, batch)
}

// CommitAll handles POST /v1/sessions/:session_id/commit
// Every entity type in the session commits in dependency order.
func (h *SessionHandler) CommitAll(c *gin.Context) {
	batches, err := h.sessions.CommitAll(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"batches": batches})
}

// CompleteSession handles POST /v1/sessions/:session_id/complete
func (h *SessionHandler) CompleteSession(c *gin.Context) {
	sess, err := h.sessions.CompleteSession(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *SessionHandler) entityParam(c *gin.Context) (models.EntityType, bool) {
	et, ok := models.ParseEntityType(c.Param("entity_type"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown entity type %q", c.Param("entity_type"))})
		return "", false
	}
	return et, true
}

func (h *SessionHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrMappingConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrCommitBlocked),
		errors.Is(err, models.ErrDependencyPending),
		errors.Is(err, models.ErrUnknownEntityType):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
