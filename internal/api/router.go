package api

import (
	"net/http"
	"time"

	"github.com/crm-migration-api/internal/config"
	"github.com/crm-migration-api/internal/repository"
	"github.com/crm-migration-api/internal/resolution"
	"github.com/crm-migration-api/internal/session"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// NewRouter creates and configures the Gin router
func NewRouter(sessions *session.Service, workstation *resolution.Workstation, templates repository.TemplateStore, cfg *config.Config, log zerolog.Logger) *gin.Engine {
	// Set Gin mode
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Middleware
	router.Use(recoveryMiddleware(log))
	router.Use(loggingMiddleware(log))
	router.Use(corsMiddleware())

	// Handlers
	sessionHandler := NewSessionHandler(sessions, cfg, log)
	errorsHandler := NewErrorsHandler(workstation, log)
	templateHandler := NewTemplateHandler(templates, log)

	// Health check
	router.GET("/health", healthCheck)

	// API v1
	v1 := router.Group("/v1")
	{
		sess := v1.Group("/sessions")
		{
			sess.POST("", sessionHandler.CreateSession)
			sess.GET("/:session_id", sessionHandler.GetSession)
			sess.DELETE("/:session_id", sessionHandler.CancelSession)
			sess.POST("/:session_id/files", sessionHandler.UploadFile)
			sess.GET("/:session_id/mappings/:entity_type", sessionHandler.GetMappings)
			sess.PUT("/:session_id/mappings/:entity_type", sessionHandler.UpdateMappings)
			sess.POST("/:session_id/mappings/:entity_type/template", sessionHandler.ApplyTemplate)
			sess.POST("/:session_id/mappings/:entity_type/save", sessionHandler.SaveTemplate)
			sess.POST("/:session_id/validate/:entity_type", sessionHandler.ValidateEntity)
			sess.POST("/:session_id/commit", sessionHandler.CommitAll)
			sess.POST("/:session_id/commit/:entity_type", sessionHandler.CommitEntity)
			sess.POST("/:session_id/complete", sessionHandler.CompleteSession)
			sess.GET("/:session_id/errors", errorsHandler.ListErrors)
			sess.POST("/:session_id/errors/bulk", errorsHandler.BulkAction)
			sess.POST("/:session_id/errors/:error_id/fix", errorsHandler.ApplyFix)
		}

		tpl := v1.Group("/templates")
		{
			tpl.GET("", templateHandler.ListTemplates)
			tpl.POST("", templateHandler.CreateTemplate)
			tpl.DELETE("/:template_id", templateHandler.DeleteTemplate)
		}
	}

	return router
}

// healthCheck returns the health status
func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
		"service":   "crm-migration-api",
	})
}

// recoveryMiddleware handles panics
func recoveryMiddleware(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error().Interface("error", err).Msg("Panic recovered")
				c.JSON(http.StatusInternalServerError, gin.H{
					"error": "Internal server error",
				})
				c.Abort()
			}
		}()
		c.Next()
	}
}

// loggingMiddleware logs requests
func loggingMiddleware(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		duration := time.Since(start)
		statusCode := c.Writer.Status()

		event := log.Info()
		if statusCode >= 400 {
			event = log.Warn()
		}
		if statusCode >= 500 {
			event = log.Error()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", statusCode).
			Dur("duration", duration).
			Str("client_ip", c.ClientIP()).
			Msg("Request completed")
	}
}

// corsMiddleware handles CORS
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
