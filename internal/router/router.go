package router

import (
    "context"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/travel-reservation/internal/handler"
)

// Deps are the handlers and middleware the routes are assembled from.
// RateLimit and Idempotency may be nil, in which case the routes run
// without them.
type Deps struct {
    JWTSecret   string
    Bookings    *handler.BookingHandler
    Catalog     *handler.CatalogHandler
    Admin       *handler.AdminHandler
    Ping        func(ctx context.Context) error
    RateLimit   echo.MiddlewareFunc
    Idempotency echo.MiddlewareFunc
}

// RegisterRoutes mounts every endpoint on e.  Health probes and browsing
// are public; bookings require the CUSTOMER role and the /v1/admin tree
// the ADMIN role.
func RegisterRoutes(e *echo.Echo, d Deps) {
    e.GET("/healthz", handler.Health)
    e.GET("/readyz", handler.Readiness(d.Ping))

    RegisterPublic(e, d.Catalog)
    RegisterCustomer(e, d)
    RegisterAdmin(e, d.Admin, d.JWTSecret)
}

// RegisterPublic mounts the browse endpoints that guests may call.
func RegisterPublic(e *echo.Echo, h *handler.CatalogHandler) {
    g := e.Group("/v1")
    g.GET("/resources", h.ListResources)
    g.GET("/resources/:id", h.GetResource)
    g.GET("/resources/:id/units", h.ListUnits)
}

func passthrough(next echo.HandlerFunc) echo.HandlerFunc { return next }

func orPassthrough(m echo.MiddlewareFunc) echo.MiddlewareFunc {
    if m == nil {
        return passthrough
    }
    return m
}
