package router

import (
    "github.com/labstack/echo/v4"

    "github.com/iliyamo/travel-reservation/internal/middleware"
)

// RegisterCustomer mounts the booking endpoints under /v1/bookings.  All
// of them require a valid JWT and the CUSTOMER role.  Writes are rate
// limited per customer; booking creation additionally honours an
// Idempotency-Key header so a retried request never books twice.
func RegisterCustomer(e *echo.Echo, d Deps) {
    g := e.Group(
        "/v1/bookings",
        middleware.JWTAuth(d.JWTSecret),
        middleware.RequireRole(middleware.RoleCustomer),
    )
    h := d.Bookings
    limit := orPassthrough(d.RateLimit)

    g.GET("", h.List)
    g.GET("/:id", h.Get)
    g.POST("", h.Create, limit, orPassthrough(d.Idempotency))
    g.DELETE("/:id", h.Cancel, limit)
    g.PUT("/:id/units", h.ModifyUnits, limit)
    g.PUT("/:id/resource", h.ChangeResource, limit)
}
