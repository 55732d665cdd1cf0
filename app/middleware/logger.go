package middleware

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tidwall/pretty"

	"camwatch/pkg/logger"
)

const (
	maxLoggedBody = 1000
	traceHeader   = "X-Request-ID"
)

// Logger logs every request (POST bodies compacted) and tags the request
// context with a trace id
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		traceID := c.GetHeader(traceHeader)
		if traceID == "" {
			traceID = uuid.NewString()[:8]
		}
		c.Header(traceHeader, traceID)
		c.Request = c.Request.WithContext(logger.WithTrace(c.Request.Context(), traceID))

		var body string
		if c.Request.Method == http.MethodPost {
			body = getRequestBody(c)
		}

		c.Next()

		status := c.Writer.Status()
		if status == http.StatusNotFound || isProbe(c.Request.URL.Path) {
			return
		}

		ctx := c.Request.Context()
		if body != "" {
			logger.InfoCtx(ctx, "[GIN] %3d | %13v | %15s | %s %s | body: %s",
				status, time.Since(start), c.ClientIP(), c.Request.Method, c.Request.RequestURI, body)
			return
		}
		logger.InfoCtx(ctx, "[GIN] %3d | %13v | %15s | %s %s",
			status, time.Since(start), c.ClientIP(), c.Request.Method, c.Request.RequestURI)
	}
}

// getRequestBody reads the body and puts it back for the handler
func getRequestBody(c *gin.Context) string {
	if c.Request.Body == nil {
		return ""
	}
	data, _ := io.ReadAll(c.Request.Body)
	c.Request.Body = io.NopCloser(bytes.NewBuffer(data))
	return CompressBody(data)
}

// CompressBody strips JSON whitespace and truncates long bodies
func CompressBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	compressed := pretty.Ugly(body)
	if len(compressed) > maxLoggedBody {
		return string(compressed[:maxLoggedBody]) + "..."
	}
	return string(compressed)
}

// isProbe paths hit by orchestrators and scrapers every few seconds
func isProbe(path string) bool {
	switch path {
	case "/metrics", "/healthz", "/readyz":
		return true
	}
	return false
}
