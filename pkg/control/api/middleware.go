package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/logger"
)

// OperatorHeader carries the operator recorded in the audit trail.
const OperatorHeader = "X-Operator"

const userKey = "operator"

func operatorMiddleware(defaultUser string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := c.GetHeader(OperatorHeader)
		if user == "" {
			user = defaultUser
		}
		c.Set(userKey, user)
		c.Next()
	}
}

func operator(c *gin.Context) string {
	return c.GetString(userKey)
}

// rateLimitMiddleware bounds command requests. A nil limiter lets everything through.
func rateLimitMiddleware(limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter != nil && !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{Error: "command rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		if status >= http.StatusInternalServerError {
			logger.Errorf("API %s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, status, time.Since(start))
			return
		}
		logger.Debugf("API %s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, status, time.Since(start))
	}
}
