package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"ratepro/internal/config"
)

// CORSMiddleware answers preflight requests and sets the CORS headers
// configured in cfg.
func CORSMiddleware(cfg config.CORSConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) { c.Next() }
	}
	methods := strings.Join(append(append([]string{}, cfg.AllowedMethods...), http.MethodOptions), ", ")
	headers := strings.Join(cfg.AllowedHeaders, ", ")
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if allowed := allowOrigin(cfg.AllowedOrigins, origin); allowed != "" {
			c.Header("Access-Control-Allow-Origin", allowed)
			c.Header("Access-Control-Allow-Methods", methods)
			if headers != "" {
				c.Header("Access-Control-Allow-Headers", headers)
			}
			if allowed != "*" {
				c.Header("Vary", "Origin")
			}
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func allowOrigin(allowed []string, origin string) string {
	for _, o := range allowed {
		if o == "*" {
			return "*"
		}
		if origin != "" && strings.EqualFold(o, origin) {
			return origin
		}
	}
	return ""
}
