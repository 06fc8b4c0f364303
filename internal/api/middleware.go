package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ctxCallerKey is the gin context key holding the masked caller key for
// usage attribution.
const ctxCallerKey = "callerKey"

// corsMiddleware allows cross-origin callers and answers preflight directly.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "*")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// authMiddleware gates every route except /health behind the configured
// caller keys. No configured keys disables authentication entirely. The
// response never reveals whether a key exists or merely mismatched.
func authMiddleware(keys []string) gin.HandlerFunc {
	if len(keys) == 0 {
		return func(c *gin.Context) { c.Next() }
	}
	allowed := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		allowed[k] = struct{}{}
	}
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/health" {
			c.Next()
			return
		}
		key := callerKey(c)
		if _, ok := allowed[key]; !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				errorBody("Unauthorized: API key is invalid or missing."))
			return
		}
		c.Set(ctxCallerKey, maskKey(key))
		c.Next()
	}
}

// callerKey extracts the presented key from any of the accepted carriers:
// Authorization bearer, the Google and Anthropic header spellings, or the
// key query parameter.
func callerKey(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if k := c.GetHeader("x-goog-api-key"); k != "" {
		return k
	}
	if k := c.GetHeader("x-api-key"); k != "" {
		return k
	}
	return c.Query("key")
}

// maskKey keeps only the last four characters for usage records and logs.
func maskKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}
