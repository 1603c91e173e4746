package server

import (
	"net/http"

	"toolproxy/internal/core"
	"toolproxy/internal/metadata"

	"github.com/gin-gonic/gin"
)

// setStreamingHeaders sets streaming response HTTP headers
func setStreamingHeaders(c *gin.Context) {
	c.Header(core.HeaderContentType, core.ContentTypeEventStream)
	c.Header(core.HeaderCacheControl, core.CacheControlNoCache)
	c.Header(core.HeaderConnection, core.ConnectionKeepAlive)
	c.Header("X-Accel-Buffering", "no")
}

// respondWithGatewayError writes err in the OpenAI error envelope.
func respondWithGatewayError(c *gin.Context, err error) {
	gwErr := core.AsGatewayError(err)
	c.AbortWithStatusJSON(gwErr.HTTPStatusCode(), gwErr.ToJSON())
}

// respondWithError writes the flat {"error": message} body used by the
// Ollama-style endpoints.
func respondWithError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}

// respondWithProxyError writes the body used when a pass-through call fails
// before the backend answered.
func respondWithProxyError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"message": message, "type": "proxy_error"}})
}

func callerFrom(c *gin.Context) metadata.Caller {
	return metadata.Caller{
		Authorization: c.GetHeader(core.HeaderAuthorization),
		Headers:       c.Request.Header,
	}
}

func isSuccess(status int) bool {
	return status >= http.StatusOK && status < http.StatusMultipleChoices
}
