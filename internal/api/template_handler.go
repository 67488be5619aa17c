package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/crm-migration-api/internal/models"
	"github.com/crm-migration-api/internal/repository"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TemplateHandler handles mapping-template CRUD. Templates are read-heavy
// and rarely written.
type TemplateHandler struct {
	store repository.TemplateStore
	log   zerolog.Logger
}

// NewTemplateHandler creates a new TemplateHandler
func NewTemplateHandler(store repository.TemplateStore, log zerolog.Logger) *TemplateHandler {
	return &TemplateHandler{
		store: store,
		log:   log.With().Str("handler", "template").Logger(),
	}
}

// ListTemplates handles GET /v1/templates?entity_type=
func (h *TemplateHandler) ListTemplates(c *gin.Context) {
	entity, ok := models.ParseEntityType(c.Query("entity_type"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "entity_type query parameter is required"})
		return
	}
	templates, err := h.store.ListByEntity(c.Request.Context(), entity)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list templates")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list templates"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"templates": templates})
}

// CreateTemplate handles POST /v1/templates
func (h *TemplateHandler) CreateTemplate(c *gin.Context) {
	var req struct {
		Name       string                `json:"name" binding:"required"`
		EntityType string                `json:"entity_type" binding:"required"`
		Mappings   []models.FieldMapping `json:"mappings" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name, entity_type and mappings are required"})
		return
	}
	entity, ok := models.ParseEntityType(req.EntityType)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown entity type %q", req.EntityType)})
		return
	}

	tpl := &models.MappingTemplate{
		ID:         uuid.New().String(),
		Name:       req.Name,
		EntityType: entity,
		Mappings:   req.Mappings,
		CreatedAt:  time.Now(),
	}
	if err := h.store.Create(c.Request.Context(), tpl); err != nil {
		h.log.Error().Err(err).Msg("Failed to create template")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create template"})
		return
	}
	c.JSON(http.StatusCreated, tpl)
}

// DeleteTemplate handles DELETE /v1/templates/:template_id
func (h *TemplateHandler) DeleteTemplate(c *gin.Context) {
	if err := h.store.Delete(c.Request.Context(), c.Param("template_id")); err != nil {
		h.log.Error().Err(err).Msg("Failed to delete template")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete template"})
		return
	}
	c.Status(http.StatusNoContent)
}
