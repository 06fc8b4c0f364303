package logging

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// GinLogrusLogger logs one line per request through the base logger.
// Health probes are demoted to debug so they do not drown the log.
func GinLogrusLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		entry := base.WithFields(logrus.Fields{
			"status":  c.Writer.Status(),
			"method":  c.Request.Method,
			"path":    path,
			"latency": time.Since(start).Round(time.Millisecond).String(),
			"client":  c.ClientIP(),
		})
		switch {
		case len(c.Errors) > 0:
			entry.Error(c.Errors.ByType(gin.ErrorTypePrivate).String())
		case c.Writer.Status() >= http.StatusInternalServerError:
			entry.Error("request failed")
		case path == "/health":
			entry.Debug("request completed")
		default:
			entry.Info("request completed")
		}
	}
}

// GinLogrusRecovery converts handler panics into logged 500 responses
// instead of killing the process.
func GinLogrusRecovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				base.WithFields(logrus.Fields{
					"panic": r,
					"path":  c.Request.URL.Path,
				}).Error("handler panic recovered")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": gin.H{"message": "internal server error"},
				})
			}
		}()
		c.Next()
	}
}
