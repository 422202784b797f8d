// Package middleware contains Gin middleware shared across HTTP and WebSocket routes.
package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aldernet/voicepair/internal/logging"
)

// HeaderXCorrelationID is the header key used to propagate a request's correlation ID.
const HeaderXCorrelationID = "X-Correlation-ID"

// CorrelationID assigns a correlation ID to every request, reusing one supplied
// by the client if present, and stores it on the Gin context and on the
// request context, where the logger reads it.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader(HeaderXCorrelationID)
		if correlationID == "" {
			correlationID = uuid.New().String()
		}

		c.Header(HeaderXCorrelationID, correlationID)
		c.Set(string(logging.CorrelationIDKey), correlationID)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), logging.CorrelationIDKey, correlationID))

		c.Next()
	}
}
