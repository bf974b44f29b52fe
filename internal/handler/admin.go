package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/travel-reservation/internal/booking"
	"github.com/iliyamo/travel-reservation/internal/catalog"
)

// AdminHandler serves the operator endpoints under /v1/admin: catalog
// maintenance, counter reconciliation and refund settlement.  The ADMIN
// role is enforced by middleware.
type AdminHandler struct {
	catalog  *catalog.Service
	bookings *booking.Service
	log      *zap.Logger
}

// NewAdminHandler panics on a nil service.
func NewAdminHandler(cat *catalog.Service, bookings *booking.Service, log *zap.Logger) *AdminHandler {
	if cat == nil || bookings == nil {
		panic("nil service passed to NewAdminHandler")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AdminHandler{catalog: cat, bookings: bookings, log: log}
}

type unitsRequest struct {
	UnitNumbers []string `json:"unit_numbers"`
}

// CreateResource handles POST /v1/admin/resources.
func (h *AdminHandler) CreateResource(c echo.Context) error {
	var in catalog.CreateInput
	if err := c.Bind(&in); err != nil {
		return badRequest(c, "invalid request body")
	}
	r, err := h.catalog.CreateResource(c.Request().Context(), in)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusCreated, r)
}

// CancelResource handles DELETE /v1/admin/resources/:id.  Existing
// bookings are left CONFIRMED.
func (h *AdminHandler) CancelResource(c echo.Context) error {
	r, err := h.catalog.CancelResource(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, r)
}

// BlockUnits handles POST /v1/admin/resources/:id/block.
func (h *AdminHandler) BlockUnits(c echo.Context) error {
	var req unitsRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	n, err := h.catalog.BlockUnits(c.Request().Context(), c.Param("id"), req.UnitNumbers)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"blocked": n})
}

// UnblockUnits handles POST /v1/admin/resources/:id/unblock.
func (h *AdminHandler) UnblockUnits(c echo.Context) error {
	var req unitsRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	n, err := h.catalog.UnblockUnits(c.Request().Context(), c.Param("id"), req.UnitNumbers)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"unblocked": n})
}

// Reconcile handles GET /v1/admin/resources/:id/reconcile?repair=true.
func (h *AdminHandler) Reconcile(c echo.Context) error {
	repair, err := boolParam(c, "repair")
	if err != nil {
		return badRequest(c, "repair must be a boolean")
	}
	rep, err := h.bookings.Reconcile(c.Request().Context(), c.Param("id"), repair)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, rep)
}

// ReconcileAll handles POST /v1/admin/reconcile?repair=true.
func (h *AdminHandler) ReconcileAll(c echo.Context) error {
	repair, err := boolParam(c, "repair")
	if err != nil {
		return badRequest(c, "repair must be a boolean")
	}
	res, err := h.bookings.ReconcileAll(c.Request().Context(), repair)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, res)
}

// RefundSettled handles POST /v1/admin/bookings/:id/refund-settled, the
// settlement callback of the payment collaborator.
func (h *AdminHandler) RefundSettled(c echo.Context) error {
	b, err := h.bookings.CompleteRefund(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, b)
}
