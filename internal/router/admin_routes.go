package router

import (
    "github.com/labstack/echo/v4"

    "github.com/iliyamo/travel-reservation/internal/handler"
    "github.com/iliyamo/travel-reservation/internal/middleware"
)

// RegisterAdmin mounts the operator endpoints under /v1/admin.  All routes
// require a JWT carrying the ADMIN role.
func RegisterAdmin(e *echo.Echo, h *handler.AdminHandler, jwtSecret string) {
    g := e.Group(
        "/v1/admin",
        middleware.JWTAuth(jwtSecret),
        middleware.RequireRole(middleware.RoleAdmin),
    )
    g.POST("/resources", h.CreateResource)
    g.DELETE("/resources/:id", h.CancelResource)
    g.POST("/resources/:id/block", h.BlockUnits)
    g.POST("/resources/:id/unblock", h.UnblockUnits)
    g.GET("/resources/:id/reconcile", h.Reconcile)
    g.POST("/reconcile", h.ReconcileAll)
    g.POST("/bookings/:id/refund-settled", h.RefundSettled)
}
