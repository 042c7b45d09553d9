package middleware

import (
	"log"
	"time"

	"github.com/gin-gonic/gin"
)

// Logger writes one line per request, tagged with the request id so handler
// logs for the same request can be correlated.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		requestID := c.GetString("request_id")
		status := c.Writer.Status()

		line := "[%s] %d %s %s in %v from %s"
		if status == 429 {
			line = "[%s] %d %s %s in %v from %s (rate limited)"
		}

		log.Printf(line,
			requestID,
			status,
			c.Request.Method,
			c.Request.URL.Path,
			time.Since(start),
			c.ClientIP(),
		)
	}
}
