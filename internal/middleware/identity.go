package middleware

import "github.com/labstack/echo/v4"

// Context keys set by JWTAuth.
const (
    CtxCustomerID = "customer_id"
    CtxRole       = "role"
)

// Roles carried in the JWT role claim.
const (
    RoleCustomer = "CUSTOMER"
    RoleAdmin    = "ADMIN"
)

// CustomerID returns the authenticated subject placed in the context by
// JWTAuth, or "" for anonymous requests.
func CustomerID(c echo.Context) string {
    if s, ok := c.Get(CtxCustomerID).(string); ok {
        return s
    }
    return ""
}
