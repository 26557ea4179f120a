package handlers

import (
	"controlling_reservoir/internal/logger"
	"controlling_reservoir/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Handler wires HTTP layer to services and logging.
type Handler struct {
	services *service.Service
	log      *logger.Logger
}

// NewHandler constructs a new HTTP handler with dependencies.
func NewHandler(services *service.Service, log *logger.Logger) *Handler {
	return &Handler{services: services, log: log}
}

// InitRoutes builds and returns the Gin router with all routes registered.
func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health", h.health)

	h.registerAuthRoutes(router)
	h.registerAPIRoutes(router)

	// status and event stream
	router.GET("/ws", h.wsConnect)

	return router
}

func (h *Handler) registerAuthRoutes(r *gin.Engine) {
	auth := r.Group("/auth")
	{
		auth.POST("/sign-up", h.signUp)
		auth.POST("/sign-in", h.signIn)
	}
}

func (h *Handler) registerAPIRoutes(r *gin.Engine) {
	api := r.Group("/api/v1", h.userIdMiddleware)
	{
		h.registerAutomationRoutes(api)
		h.registerReservoirRoutes(api)
		h.registerEventRoutes(api)
	}
}

func (h *Handler) registerAutomationRoutes(api *gin.RouterGroup) {
	automation := api.Group("/automation")
	{
		automation.POST("/start", h.startAutomation)
		automation.POST("/stop", h.stopAutomation)
		automation.GET("/status", h.getStatus)
		// Body example: {"enabled":false}
		automation.POST("/safety-mode", h.setSafetyMode)
		// Body example: {"reservoir_id":"gagok","actuator_id":"pump1","on":true,"duration_sec":600}
		automation.POST("/override", h.manualOverride)
		automation.POST("/approve/:id", h.approvePending)
	}
}

func (h *Handler) registerReservoirRoutes(api *gin.RouterGroup) {
	reservoirs := api.Group("/reservoirs")
	{
		reservoirs.GET("", h.listReservoirs)
		reservoirs.GET("/:id/reading", h.getReading)
		reservoirs.GET("/:id/history", h.getHistory)
		reservoirs.GET("/:id/learning", h.getLearning)
	}
}

func (h *Handler) registerEventRoutes(api *gin.RouterGroup) {
	events := api.Group("/events")
	{
		events.GET("", h.getEvents)
		events.GET("/recent", h.getRecentEvents)
	}
}
