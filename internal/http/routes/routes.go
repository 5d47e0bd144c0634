package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/phambaophuc/image-relay/internal/http/handlers"
	"github.com/phambaophuc/image-relay/internal/http/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Router struct {
	sessionHandler *handlers.SessionHandler
	corsOrigins    []string
	logger         *zap.Logger
}

func NewRouter(
	sessionHandler *handlers.SessionHandler,
	corsOrigins []string,
	logger *zap.Logger,
) *Router {
	return &Router{
		sessionHandler: sessionHandler,
		corsOrigins:    corsOrigins,
		logger:         logger,
	}
}

func (r *Router) SetupRoutes() *gin.Engine {
	router := gin.New()

	router.Use(middleware.Logger(r.logger))
	router.Use(middleware.ErrorHandler(r.logger))
	router.Use(middleware.CORS(r.corsOrigins))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.RouteLabel())

	// API version 1
	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", r.sessionHandler.HealthCheck)
		v1.GET("/info", r.sessionHandler.Info)
		v1.GET("/capabilities", r.sessionHandler.Capabilities)

		sessions := v1.Group("/sessions/:user_id")
		{
			sessions.GET("", r.sessionHandler.Status)
			sessions.POST("", middleware.RequireContentType("application/json"), r.sessionHandler.StartSession)
			sessions.DELETE("", r.sessionHandler.Cancel)
			sessions.POST("/images", middleware.RequireContentType("multipart/form-data"), r.sessionHandler.UploadImages)
			sessions.POST("/messages", middleware.RequireContentType("application/json"), r.sessionHandler.Message)
			sessions.POST("/done", r.sessionHandler.Done)
			sessions.POST("/reset", r.sessionHandler.Reset)
		}
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{
			"status":  "OK",
			"message": "Image relay is running",
		})
	})

	return router
}
