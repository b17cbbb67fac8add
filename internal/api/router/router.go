package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/prompt-alchemy/render-be/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "render-service",
		})
	})

	// Initialize session handler
	sessionHandler := handler.NewSessionHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		sessions := v1.Group("/sessions")
		{
			// POST /api/v1/sessions - Generate prompts and record a session
			sessions.POST("", sessionHandler.CreateSession)

			// GET /api/v1/sessions - List the retained history, newest first
			sessions.GET("", sessionHandler.ListSessions)

			// GET /api/v1/sessions/:session_id - Get session details
			sessions.GET("/:session_id", sessionHandler.GetSession)

			// DELETE /api/v1/sessions/:session_id - Delete a session
			sessions.DELETE("/:session_id", sessionHandler.DeleteSession)

			// POST /api/v1/sessions/:session_id/render - Render every prompt
			sessions.POST("/:session_id/render", sessionHandler.RenderSession)

			// POST /api/v1/sessions/:session_id/cancel - Stop session polls
			sessions.POST("/:session_id/cancel", sessionHandler.CancelSessionRenders)
		}

		promptGroup := v1.Group("/prompts")
		{
			// GET /api/v1/prompts/:prompt_id - Get one prompt and its job
			promptGroup.GET("/:prompt_id", sessionHandler.GetPrompt)

			// DELETE /api/v1/prompts/:prompt_id - Delete a prompt
			promptGroup.DELETE("/:prompt_id", sessionHandler.DeletePrompt)

			// POST /api/v1/prompts/:prompt_id/render - Start a render
			promptGroup.POST("/:prompt_id/render", sessionHandler.RenderPrompt)

			// POST /api/v1/prompts/:prompt_id/cancel - Stop tracking a render
			promptGroup.POST("/:prompt_id/cancel", sessionHandler.CancelRender)
		}

		// POST /api/v1/uploads - Host one reference image
		v1.POST("/uploads", sessionHandler.Upload)
	}

	return r
}
