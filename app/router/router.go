package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"camwatch/app/handler"
	"camwatch/app/middleware"
)

// Router Router
type Router struct {
	reconcilerHandler *handler.ReconcilerHandler
	eventHub          *handler.EventHub
	metrics           http.Handler
	apiKey            string
}

// NewRouter creates a new Router. metrics may be nil.
func NewRouter(reconcilerHandler *handler.ReconcilerHandler, eventHub *handler.EventHub, metrics http.Handler, apiKey string) *Router {
	return &Router{
		reconcilerHandler: reconcilerHandler,
		eventHub:          eventHub,
		metrics:           metrics,
		apiKey:            apiKey,
	}
}

// Setup sets up routes
func (r *Router) Setup(engine *gin.Engine) {
	engine.Use(middleware.Recovery())
	engine.Use(middleware.Logger())

	// probes and scrapes stay unauthenticated
	engine.GET("/healthz", r.reconcilerHandler.Health)
	engine.GET("/readyz", r.reconcilerHandler.Ready)
	if r.metrics != nil {
		engine.GET("/metrics", gin.WrapH(r.metrics))
	}

	api := engine.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(r.apiKey))
	{
		// Reconciler control
		api.POST("/reconcile", r.reconcilerHandler.Reconcile)
		api.POST("/sweep", r.reconcilerHandler.Sweep)
		api.GET("/status", r.reconcilerHandler.GetStatus)
		api.POST("/enable", r.reconcilerHandler.Enable)
		api.POST("/disable", r.reconcilerHandler.Disable)

		// Assignments
		api.GET("/assignments", r.reconcilerHandler.ListAssignments)
		api.GET("/assignments/:stream", r.reconcilerHandler.GetAssignment)

		// Events
		api.GET("/events", r.reconcilerHandler.ListEvents)
		if r.eventHub != nil {
			api.GET("/events/ws", r.eventHub.Stream)
		}
	}
}
