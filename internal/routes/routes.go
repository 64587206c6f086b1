package routes

import (
	"net/http"

	"docstore-cache/internal/auth"
	"docstore-cache/internal/cache"
	"docstore-cache/internal/handlers"
	"docstore-cache/internal/middleware"
	"docstore-cache/internal/realtime"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Deps are the collaborators the HTTP surface is built from.
type Deps struct {
	Store       cache.Cache
	Hub         *realtime.Hub
	Tokens      *auth.Tokens
	Credentials *auth.Credentials
	Logger      *zap.Logger
}

func SetupRoutes(deps Deps) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	hub := deps.Hub
	if hub == nil {
		hub = realtime.NewHub()
	}

	// Create a new GIN Router
	ginRouter := gin.New()
	// Keys may contain "/" when sent percent-encoded
	ginRouter.UseRawPath = true
	ginRouter.Use(middleware.RequestLogger(log), gin.Recovery())

	// CORS middleware (for frontend integration)
	ginRouter.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	// Health check endpoint
	ginRouter.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Document store cache is running",
		})
	})

	authHandler := handlers.NewAuthHandler(deps.Credentials, deps.Tokens, log)
	cacheHandler := handlers.NewCacheHandler(deps.Store, hub, log)
	eventsHandler := handlers.NewEventsHandler(hub, log)

	// Public routes (no authentication required)
	api := ginRouter.Group("/api")
	{
		api.POST("/login", authHandler.Login)
	}

	// Protected routes (authentication required)
	protectedRoutes := api.Group("")
	protectedRoutes.Use(middleware.JWTAuthMiddleware(deps.Tokens))
	{
		// Cache endpoints
		protectedRoutes.GET("/cache/:key", cacheHandler.Get)
		protectedRoutes.PUT("/cache/:key", cacheHandler.Put)
		protectedRoutes.DELETE("/cache/:key", cacheHandler.Delete)
		protectedRoutes.DELETE("/cache", cacheHandler.DeleteMatched)
		protectedRoutes.POST("/cache/:key/increment", cacheHandler.Increment)
		protectedRoutes.POST("/cache/:key/decrement", cacheHandler.Decrement)
		protectedRoutes.POST("/cache/sweep", cacheHandler.Sweep)
		protectedRoutes.POST("/cache/clear", cacheHandler.Clear)
		// Mutation events
		protectedRoutes.GET("/events", eventsHandler.Subscribe)
	}

	return ginRouter
}
