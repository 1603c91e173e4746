package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) setupRoutes() {
	gin.SetMode(s.config.GinMode)
	s.router = gin.New()

	s.router.Use(s.requestTimingMiddleware())
	s.router.Use(s.recoveryMiddleware())
	s.router.Use(s.corsMiddleware())
	s.router.Use(s.maxBodySizeMiddleware())
	s.router.Use(s.rateLimitMiddleware())

	// Public routes (no auth)
	s.router.GET("/", s.rootInfo)
	s.router.GET("/health", s.healthCheck)
	if s.config.MetricsEnabled {
		s.router.GET("/metrics", gin.WrapH(s.metricsService.Handler()))
	}

	protected := s.router.Group("/")
	protected.Use(s.authenticateProxy)
	{
		protected.GET("/stats", s.getStatsData)
		protected.POST("/api/show", s.ollamaShow)
		protected.GET("/api/tags", s.ollamaTags)
		protected.GET("/v1/models", s.listModels)
		protected.POST("/v1/chat/completions", s.chatCompletions)
	}

	s.router.NoRoute(s.noRoute)
}

// noRoute relays anything else under /v1 to the backend and answers every
// other path with the undefined-route payload.
func (s *Server) noRoute(c *gin.Context) {
	if isRelayPath(c.Request.URL.Path) {
		s.authenticateProxy(c)
		if c.IsAborted() {
			return
		}
		s.relayRequest(c)
		return
	}

	s.logger.Debug("[UNDEFINED ROUTE] %s %s", c.Request.Method, c.Request.URL.RequestURI())
	c.JSON(http.StatusNotFound, gin.H{
		"error":   fmt.Sprintf("Undefined route: %s %s", c.Request.Method, c.Request.URL.RequestURI()),
		"message": "This route is not handled by the proxy server.",
	})
}
