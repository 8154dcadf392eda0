package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// TenantHeader carries the tenant every API request is scoped to.
	TenantHeader = "X-Tenant-ID"
	tenantKey    = "tenant_id"
)

// RequireTenant rejects requests without a tenant header and stores the
// tenant on the gin context.
func RequireTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant := strings.TrimSpace(c.GetHeader(TenantHeader))
		if tenant == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "Missing tenant",
				"message": TenantHeader + " header is required",
				"code":    http.StatusBadRequest,
			})
			return
		}
		c.Set(tenantKey, tenant)
		c.Next()
	}
}

// TenantFrom returns the tenant stored by RequireTenant.
func TenantFrom(c *gin.Context) string {
	return c.GetString(tenantKey)
}
