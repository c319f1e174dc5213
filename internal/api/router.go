package api

import (
	"github.com/gin-gonic/gin"

	"github.com/listrelay/listrelay/internal/api/handler"
	"github.com/listrelay/listrelay/internal/api/middleware"
	"github.com/listrelay/listrelay/internal/logger"
)

// SetupRouter configures the Gin router with all routes
func SetupRouter(
	mode string,
	cors middleware.CORSConfig,
	webhookHandler *handler.WebhookHandler,
	commandHandler *handler.CommandHandler,
	adminHandler *handler.AdminHandler,
	log *logger.Logger,
) *gin.Engine {
	// Set Gin mode
	switch mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))

	healthHandler := handler.NewHealthHandler()
	r.GET("/health", healthHandler.Health)

	// Inbound event surfaces; both verify their own signatures.
	r.POST("/webhook", webhookHandler.Handle)
	r.POST("/slack/commands", commandHandler.Handle)

	// Read-only admin API, CORS-enabled for dashboard origins.
	v1 := r.Group("/api/v1")
	v1.Use(middleware.CORS(cors))
	{
		v1.GET("/runs", adminHandler.ListRuns)
		v1.GET("/drmap", adminHandler.GetDrMap)
	}

	return r
}
