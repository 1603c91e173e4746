package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"toolproxy/internal/core"
	"toolproxy/internal/log"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Context keys shared between middleware and handlers.
const (
	ctxKeyRequestID = "request_id"
	ctxKeyModel     = "model"
)

// relayRouteLabel and unmatchedRouteLabel keep metric label cardinality
// bounded for requests that hit NoRoute.
const (
	relayRouteLabel     = "/v1/*"
	unmatchedRouteLabel = "unmatched"
)

func (s *Server) maxBodySizeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, core.MaxRequestBodySize)
		c.Next()
	}
}

// requestTimingMiddleware assigns a request ID, then logs and records every
// request once the chain returns. It runs outside the recovery middleware, so
// a recovered panic is observed as the 500 it was turned into.
func (s *Server) requestTimingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader(core.HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(ctxKeyRequestID, requestID)
		c.Header(core.HeaderRequestID, requestID)

		defer func() {
			duration := time.Since(start)
			status := c.Writer.Status()
			route := routeLabel(c)
			s.metricsService.RecordModelRequest(route, status, duration, c.GetString(ctxKeyModel))

			switch {
			case status >= http.StatusInternalServerError:
				s.logger.Error("[%s] %s %s -> %d (%s)", requestID, c.Request.Method, c.Request.URL.Path, status, log.Elapsed(duration))
			case status >= http.StatusBadRequest:
				s.logger.Warn("[%s] %s %s -> %d (%s)", requestID, c.Request.Method, c.Request.URL.Path, status, log.Elapsed(duration))
			default:
				s.logger.Info("[%s] %s %s -> %d (%s)", requestID, c.Request.Method, c.Request.URL.Path, status, log.Elapsed(duration))
			}
		}()

		c.Next()
	}
}

func routeLabel(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	if isRelayPath(c.Request.URL.Path) {
		return relayRouteLabel
	}
	return unmatchedRouteLabel
}

func isRelayPath(path string) bool {
	return path == "/v1" || strings.HasPrefix(path, "/v1/")
}

// recoveryMiddleware turns handler panics into a JSON 500. A relay that lost
// its client mid-body panics with http.ErrAbortHandler, which is re-raised so
// net/http drops the connection quietly.
func (s *Server) recoveryMiddleware() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, recovered any) {
		if err, ok := recovered.(error); ok && errors.Is(err, http.ErrAbortHandler) {
			s.logger.Debug("[%s] Connection aborted mid-response", c.GetString(ctxKeyRequestID))
			panic(http.ErrAbortHandler)
		}
		s.logger.Error("[%s] Panic in handler: %v", c.GetString(ctxKeyRequestID), recovered)
		if c.Writer.Written() {
			c.Abort()
			return
		}
		gwErr := core.NewInternalError("internal server error", nil)
		c.AbortWithStatusJSON(gwErr.HTTPStatusCode(), gwErr.ToJSON())
	})
}

type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitorInfo
	rate     int
	cleanup  time.Duration
}

type visitorInfo struct {
	count    int
	lastSeen time.Time
}

func newRateLimiter(ctx context.Context, ratePerMinute int) *rateLimiter {
	rl := &rateLimiter{
		visitors: make(map[string]*visitorInfo),
		rate:     ratePerMinute,
		cleanup:  5 * time.Minute,
	}
	go rl.cleanupLoop(ctx)
	return rl
}

func (rl *rateLimiter) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(rl.cleanup)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.mu.Lock()
			for ip, v := range rl.visitors {
				if time.Since(v.lastSeen) > time.Minute {
					delete(rl.visitors, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}

func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	v, exists := rl.visitors[ip]
	if !exists || time.Since(v.lastSeen) > time.Minute {
		rl.visitors[ip] = &visitorInfo{count: 1, lastSeen: time.Now()}
		return true
	}
	v.count++
	v.lastSeen = time.Now()
	return v.count <= rl.rate
}

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.rateLimiter == nil {
			c.Next()
			return
		}
		if !s.rateLimiter.allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	allowOrigin := s.config.CORSAllowOrigin
	if allowOrigin == "" {
		allowOrigin = "*"
	}

	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", allowOrigin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Header("Access-Control-Max-Age", core.CORSMaxAge)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// authenticateProxy rejects requests the token authenticator does not allow.
// Each failure kind keeps its own status and body.
func (s *Server) authenticateProxy(c *gin.Context) {
	err := s.auth.Authenticate(c.GetHeader(core.HeaderAuthorization))
	if err == nil {
		return
	}

	var (
		status  int
		title   string
		message string
		reason  string
	)
	switch {
	case errors.Is(err, core.ErrAuthUnavailable):
		status, title, reason = http.StatusServiceUnavailable, "Service Unavailable", "unavailable"
		message = "Authentication is enabled but no tokens are configured"
	case errors.Is(err, core.ErrUnauthenticated):
		status, title, reason = http.StatusUnauthorized, "Unauthorized", "missing_header"
		message = "Missing Authorization header"
	default:
		status, title, reason = http.StatusForbidden, "Forbidden", "invalid_token"
		message = "Invalid authentication token"
	}

	s.metricsService.RecordAuthFailure(reason)
	s.logger.Warn("[AUTH] %s %s rejected: %s", c.Request.Method, c.Request.URL.Path, reason)
	c.AbortWithStatusJSON(status, gin.H{"error": title, "message": message})
}
