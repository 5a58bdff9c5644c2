package handlers

import (
	"net/http"
	"time"

	"kanban-live/internal/config"
	"kanban-live/internal/middleware"
	"kanban-live/internal/realtime"
	"kanban-live/internal/services"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// NewRouter wires the HTTP surface: the authenticated /api/tasks gateway,
// the websocket endpoint, and the operational endpoints.
func NewRouter(cfg *config.Config, log *logrus.Logger, taskHandler *TaskHandler, hub *realtime.Hub, svc services.TaskService) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.RecoveryWithLog(log))
	router.Use(middleware.RequestID())
	router.Use(middleware.Logging(log))
	router.Use(middleware.Metrics())

	router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization", "X-API-Key", "X-Request-ID"},
		MaxAge:          12 * time.Hour,
	}))

	api := router.Group("/api")
	api.Use(middleware.NewRateLimiter(cfg.RateLimit).Middleware())
	api.Use(middleware.APIAuth(cfg.Auth))
	{
		api.GET("/tasks", taskHandler.GetTasks)
		api.POST("/tasks", taskHandler.CreateTask)
		api.PATCH("/tasks/:id", taskHandler.UpdateTask)
		api.DELETE("/tasks/:id", taskHandler.DeleteTask)
	}

	router.GET("/ws", realtime.ServeWS(hub, svc, log))

	router.GET("/metrics", middleware.MetricsHandler())
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return router
}
