package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/travel-reservation/internal/apperror"
	"github.com/iliyamo/travel-reservation/internal/booking"
	"github.com/iliyamo/travel-reservation/internal/middleware"
	"github.com/iliyamo/travel-reservation/internal/model"
)

// BookingHandler serves the customer booking endpoints.  JWT
// authentication and the CUSTOMER role are enforced by middleware; every
// method scopes its work to the caller's own bookings.
type BookingHandler struct {
	svc *booking.Service
	log *zap.Logger
}

// NewBookingHandler panics on a nil service.
func NewBookingHandler(svc *booking.Service, log *zap.Logger) *BookingHandler {
	if svc == nil {
		panic("nil service passed to NewBookingHandler")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &BookingHandler{svc: svc, log: log}
}

type createBookingRequest struct {
	ResourceID      string            `json:"resource_id"`
	UnitNumbers     []string          `json:"unit_numbers"`
	Passengers      []model.Passenger `json:"passengers"`
	LinkedBookingID string            `json:"linked_booking_id"`
}

type changeUnitsRequest struct {
	ResourceID  string   `json:"resource_id"`
	UnitNumbers []string `json:"unit_numbers"`
}

// Create handles POST /v1/bookings.  It returns 201 with the CONFIRMED
// booking, or 409 with the list of units somebody else holds.
func (h *BookingHandler) Create(c echo.Context) error {
	customerID := middleware.CustomerID(c)
	if customerID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req createBookingRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	b, err := h.svc.CreateBooking(c.Request().Context(), booking.CreateInput{
		CustomerID:      customerID,
		ResourceID:      strings.TrimSpace(req.ResourceID),
		UnitNumbers:     req.UnitNumbers,
		Passengers:      req.Passengers,
		LinkedBookingID: strings.TrimSpace(req.LinkedBookingID),
	})
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusCreated, b)
}

// List handles GET /v1/bookings.
func (h *BookingHandler) List(c echo.Context) error {
	customerID := middleware.CustomerID(c)
	if customerID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	out, err := h.svc.ListCustomerBookings(c.Request().Context(), customerID)
	if err != nil {
		return respondError(c, h.log, err)
	}
	if out == nil {
		out = []model.Booking{}
	}
	return c.JSON(http.StatusOK, echo.Map{"bookings": out})
}

// Get handles GET /v1/bookings/:id.
func (h *BookingHandler) Get(c echo.Context) error {
	b, err := h.owned(c)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, b)
}

// Cancel handles DELETE /v1/bookings/:id.  The response carries the
// refund owed and the outcome for every linked booking.
func (h *BookingHandler) Cancel(c echo.Context) error {
	b, err := h.owned(c)
	if err != nil {
		return respondError(c, h.log, err)
	}
	res, err := h.svc.CancelBooking(c.Request().Context(), b.ID)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, res)
}

// ModifyUnits handles PUT /v1/bookings/:id/units.
func (h *BookingHandler) ModifyUnits(c echo.Context) error {
	b, err := h.owned(c)
	if err != nil {
		return respondError(c, h.log, err)
	}
	var req changeUnitsRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	out, err := h.svc.ModifyUnits(c.Request().Context(), b.ID, req.UnitNumbers)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, out)
}

// ChangeResource handles PUT /v1/bookings/:id/resource.
func (h *BookingHandler) ChangeResource(c echo.Context) error {
	b, err := h.owned(c)
	if err != nil {
		return respondError(c, h.log, err)
	}
	var req changeUnitsRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if strings.TrimSpace(req.ResourceID) == "" {
		return badRequest(c, "resource_id is required")
	}
	out, err := h.svc.ChangeResource(c.Request().Context(), b.ID, strings.TrimSpace(req.ResourceID), req.UnitNumbers)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, out)
}

// owned loads the booking named by the :id path parameter.  Bookings of
// other customers are reported as missing.
func (h *BookingHandler) owned(c echo.Context) (*model.Booking, error) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return nil, apperror.Validation("booking id is required")
	}
	b, err := h.svc.GetBooking(c.Request().Context(), id)
	if err != nil {
		return nil, err
	}
	if b.CustomerID != middleware.CustomerID(c) {
		return nil, apperror.NotFound("booking")
	}
	return b, nil
}
