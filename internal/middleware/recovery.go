package middleware

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/velstudio/chat-gateway/internal/models"
)

// Recovery is the last-resort net: any panic below becomes a structured
// INTERNAL_ERROR response instead of an unstructured 500.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				requestID := c.GetString("request_id")
				log.Printf("[%s] PANIC: %v", requestID, err)

				c.JSON(http.StatusInternalServerError, models.ErrorResponse{
					Error:   "Internal server error",
					Message: "Something went wrong. Please try again later.",
					Code:    models.CodeInternalError,
				})
				c.Abort()
			}
		}()
		c.Next()
	}
}
