package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	appmw "github.com/arc-self/apps/labeler-bridge-service/internal/middleware"
)

// Internal headers injected by the platform gateway after it validates
// the caller's JWT. The bridge trusts them; it is never exposed directly.
const (
	headerInternalUserID = "X-Internal-User-Id"
	headerInternalOrgID  = "X-Internal-Org-Id"
)

// InternalContextMiddleware lifts the gateway identity headers into the
// request context. Requests without a tenant are rejected; every bridge
// operation is tenant-scoped.
func InternalContextMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tenantID := c.Request().Header.Get(headerInternalOrgID)
			if tenantID == "" {
				return errResp(c, http.StatusUnauthorized, "missing tenant identity")
			}

			ctx := appmw.WithTenantID(c.Request().Context(), tenantID)
			if userID := c.Request().Header.Get(headerInternalUserID); userID != "" {
				ctx = appmw.WithUserID(ctx, userID)
			}
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}
