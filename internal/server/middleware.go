package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/billingsync/pkg/tenantctx"
)

// Tenant and actor identities are resolved by the authenticating gateway in
// front of this service and forwarded as headers.
const (
	HeaderTenant = "X-Tenant-ID"
	HeaderActor  = "X-Actor-ID"
)

// TenantContext puts the forwarded tenant and actor into the request context.
// Requests without a tenant are rejected.
func TenantContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderTenant))
		tenantID, err := snowflake.ParseString(raw)
		if raw == "" || err != nil || tenantID <= 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := tenantctx.WithTenantID(c.Request.Context(), tenantID)
		if actorID := strings.TrimSpace(c.GetHeader(HeaderActor)); actorID != "" {
			ctx = tenantctx.WithActor(ctx, tenantctx.Actor{Type: tenantctx.ActorTypeUser, ID: actorID})
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequirePlatformTenant only lets the operator's own tenant through. With no
// platform tenant configured the admin routes are closed.
func (s *Server) RequirePlatformTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, ok := tenantctx.TenantID(c.Request.Context())
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if s.cfg.PlatformTenantID == 0 || int64(tenantID) != s.cfg.PlatformTenantID {
			AbortWithError(c, ErrForbidden)
			return
		}
		c.Next()
	}
}

func tenantFromRequest(c *gin.Context) (snowflake.ID, bool) {
	return tenantctx.TenantID(c.Request.Context())
}
