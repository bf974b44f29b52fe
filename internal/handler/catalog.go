package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/travel-reservation/internal/catalog"
	"github.com/iliyamo/travel-reservation/internal/model"
)

// CatalogHandler serves the public browse endpoints.  No authentication
// is required; unit holders are never serialised.
type CatalogHandler struct {
	svc *catalog.Service
	log *zap.Logger
}

// NewCatalogHandler panics on a nil service.
func NewCatalogHandler(svc *catalog.Service, log *zap.Logger) *CatalogHandler {
	if svc == nil {
		panic("nil service passed to NewCatalogHandler")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CatalogHandler{svc: svc, log: log}
}

// ListResources handles GET /v1/resources.  Query parameters: kind
// (flight|hotel), q (name substring), bookable, min_available, page and
// page_size.
func (h *CatalogHandler) ListResources(c echo.Context) error {
	in := catalog.SearchInput{
		Kind: c.QueryParam("kind"),
		Name: c.QueryParam("q"),
	}
	var err error
	if in.Bookable, err = boolParam(c, "bookable"); err != nil {
		return badRequest(c, "bookable must be a boolean")
	}
	for name, dst := range map[string]*int{
		"min_available": &in.MinAvailable,
		"page":          &in.Page,
		"page_size":     &in.PageSize,
	} {
		if *dst, err = intParam(c, name); err != nil {
			return badRequest(c, name+" must be an integer")
		}
	}
	page, err := h.svc.SearchResources(c.Request().Context(), in)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, page)
}

// GetResource handles GET /v1/resources/:id.
func (h *CatalogHandler) GetResource(c echo.Context) error {
	r, err := h.svc.GetResource(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, r)
}

// ListUnits handles GET /v1/resources/:id/units.  An optional status
// query parameter filters the list.
func (h *CatalogHandler) ListUnits(c echo.Context) error {
	units, err := h.svc.ListUnits(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, h.log, err)
	}
	if want := model.UnitStatus(c.QueryParam("status")); want != "" {
		kept := units[:0]
		for _, u := range units {
			if u.Status == want {
				kept = append(kept, u)
			}
		}
		units = kept
	}
	if units == nil {
		units = []model.Unit{}
	}
	return c.JSON(http.StatusOK, echo.Map{"resource_id": c.Param("id"), "units": units})
}

func intParam(c echo.Context, name string) (int, error) {
	v := c.QueryParam(name)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func boolParam(c echo.Context, name string) (bool, error) {
	v := c.QueryParam(name)
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}
