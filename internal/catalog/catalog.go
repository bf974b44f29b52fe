// Package catalog manages flights and hotels on behalf of operators:
// creating a resource with its units, cancelling it, and taking units in
// and out of sale.  Unit state changes go through the inventory
// Allocator so they follow the same conditional discipline as bookings.
package catalog

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/iliyamo/travel-reservation/internal/apperror"
	"github.com/iliyamo/travel-reservation/internal/inventory"
	"github.com/iliyamo/travel-reservation/internal/model"
	"github.com/iliyamo/travel-reservation/internal/repository"
)

// Store is the persistence the catalog needs.
type Store interface {
	CreateResource(ctx context.Context, r *model.Resource, specs []model.UnitSpec) error
	GetResource(ctx context.Context, id string) (*model.Resource, error)
	SearchResources(ctx context.Context, q repository.ResourceQuery) ([]model.Resource, int64, error)
	SetResourceStatus(ctx context.Context, id string, status model.ResourceStatus) error
}

// CreateInput describes a new flight or hotel and its units.
type CreateInput struct {
	ID       string           `json:"id" validate:"required,max=64"`
	Kind     string           `json:"kind" validate:"required,oneof=FLIGHT HOTEL"`
	Name     string           `json:"name" validate:"required,max=255"`
	StartsAt time.Time        `json:"starts_at" validate:"required"`
	Units    []model.UnitSpec `json:"units" validate:"required,min=1,max=2000"`
}

// Service is the operator facing catalog.
type Service struct {
	store    Store
	alloc    *inventory.Allocator
	timeout  time.Duration
	log      *zap.Logger
	validate *validator.Validate
}

// NewService panics on a nil dependency.
func NewService(store Store, alloc *inventory.Allocator, timeout time.Duration, log *zap.Logger) *Service {
	if store == nil || alloc == nil {
		panic("nil dependency passed to catalog.NewService")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = inventory.DefaultCallTimeout
	}
	return &Service{
		store:    store,
		alloc:    alloc,
		timeout:  timeout,
		log:      log,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// CreateResource inserts the resource with every unit AVAILABLE.  Unit
// numbers are trimmed and must be unique.
func (s *Service) CreateResource(ctx context.Context, in CreateInput) (*model.Resource, error) {
	in.ID = strings.TrimSpace(in.ID)
	in.Kind = strings.ToUpper(strings.TrimSpace(in.Kind))
	if err := s.validate.Struct(in); err != nil {
		return nil, apperror.Validation("%s", describe(err))
	}
	if strings.ContainsAny(in.ID, " /") {
		return nil, apperror.Validation("resource id must not contain spaces or slashes")
	}
	if in.StartsAt.IsZero() {
		return nil, apperror.Validation("starts_at is required")
	}
	seen := make(map[string]struct{}, len(in.Units))
	specs := make([]model.UnitSpec, len(in.Units))
	for i, u := range in.Units {
		u.UnitNumber = strings.TrimSpace(u.UnitNumber)
		switch {
		case u.UnitNumber == "" || len(u.UnitNumber) > 16:
			return nil, apperror.Validation("unit %d needs a number of 1 to 16 characters", i)
		case u.Class == "" || len(u.Class) > 32:
			return nil, apperror.Validation("unit %s needs a class of 1 to 32 characters", u.UnitNumber)
		case u.PriceCents < 0:
			return nil, apperror.Validation("unit %s has a negative price", u.UnitNumber)
		}
		if _, dup := seen[u.UnitNumber]; dup {
			return nil, apperror.Validation("unit %s listed twice", u.UnitNumber)
		}
		seen[u.UnitNumber] = struct{}{}
		specs[i] = u
	}

	r := &model.Resource{
		ID:       in.ID,
		Kind:     model.ResourceKind(in.Kind),
		Name:     strings.TrimSpace(in.Name),
		StartsAt: in.StartsAt.UTC(),
		Status:   model.ResourceActive,
	}
	cctx, cancel := s.call(ctx)
	defer cancel()
	if err := s.store.CreateResource(cctx, r, specs); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperror.Conflict("resource %s already exists", r.ID)
		}
		return nil, apperror.ReservationFailed("create resource", err)
	}
	s.log.Info("resource created",
		zap.String("resource_id", r.ID),
		zap.String("kind", string(r.Kind)),
		zap.Int("units", r.TotalUnits))
	return r, nil
}

// GetResource returns a resource or NotFound.
func (s *Service) GetResource(ctx context.Context, id string) (*model.Resource, error) {
	cctx, cancel := s.call(ctx)
	defer cancel()
	r, err := s.store.GetResource(cctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperror.NotFound("resource")
	}
	if err != nil {
		return nil, apperror.ReservationFailed("load resource", err)
	}
	return r, nil
}

// SearchInput is a public listing request.  Bookable restricts the
// result to ACTIVE resources that have not started yet.
type SearchInput struct {
	Kind         string
	Name         string
	Bookable     bool
	MinAvailable int
	Page         int
	PageSize     int
}

// Page is one page of search results.
type Page struct {
	Resources []model.Resource `json:"resources"`
	Total     int64            `json:"total"`
	Page      int              `json:"page"`
	PageSize  int              `json:"page_size"`
}

// SearchResources lists resources ordered by start time.
func (s *Service) SearchResources(ctx context.Context, in SearchInput) (*Page, error) {
	kind := model.ResourceKind(strings.ToUpper(strings.TrimSpace(in.Kind)))
	switch kind {
	case "", model.ResourceFlight, model.ResourceHotel:
	default:
		return nil, apperror.Validation("unknown kind %q", in.Kind)
	}
	if in.MinAvailable < 0 {
		return nil, apperror.Validation("min_available must not be negative")
	}
	q := repository.ResourceQuery{
		Kind:         kind,
		Name:         strings.TrimSpace(in.Name),
		ActiveOnly:   in.Bookable,
		MinAvailable: in.MinAvailable,
		Page:         in.Page,
		PageSize:     in.PageSize,
	}
	if in.Bookable {
		q.StartsAfter = time.Now()
	}
	q.Normalize()
	cctx, cancel := s.call(ctx)
	defer cancel()
	out, total, err := s.store.SearchResources(cctx, q)
	if err != nil {
		return nil, apperror.ReservationFailed("search resources", err)
	}
	if out == nil {
		out = []model.Resource{}
	}
	return &Page{Resources: out, Total: total, Page: q.Page, PageSize: q.PageSize}, nil
}

// ListUnits returns the units of an existing resource.
func (s *Service) ListUnits(ctx context.Context, resourceID string) ([]model.Unit, error) {
	if _, err := s.GetResource(ctx, resourceID); err != nil {
		return nil, err
	}
	units, err := s.alloc.List(ctx, resourceID)
	if err != nil {
		return nil, apperror.ReservationFailed("list units", err)
	}
	return units, nil
}

// CancelResource marks a resource CANCELLED.  It stops new claims; existing
// bookings stay CONFIRMED and their cancellation is refunded in full.
func (s *Service) CancelResource(ctx context.Context, id string) (*model.Resource, error) {
	cctx, cancel := s.call(ctx)
	err := s.store.SetResourceStatus(cctx, id, model.ResourceCancelled)
	cancel()
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperror.NotFound("resource")
	}
	if err != nil {
		return nil, apperror.ReservationFailed("cancel resource", err)
	}
	s.log.Info("resource cancelled", zap.String("resource_id", id))
	return s.GetResource(ctx, id)
}

// BlockUnits takes AVAILABLE units out of sale, all or none.
func (s *Service) BlockUnits(ctx context.Context, resourceID string, units []string) (int, error) {
	if _, err := s.GetResource(ctx, resourceID); err != nil {
		return 0, err
	}
	n, err := s.alloc.Block(context.WithoutCancel(ctx), resourceID, units)
	if err != nil {
		return 0, err
	}
	s.log.Info("units blocked", zap.String("resource_id", resourceID), zap.Strings("units", units))
	return n, nil
}

// UnblockUnits returns BLOCKED units to sale and reports how many changed.
func (s *Service) UnblockUnits(ctx context.Context, resourceID string, units []string) (int, error) {
	if _, err := s.GetResource(ctx, resourceID); err != nil {
		return 0, err
	}
	n, err := s.alloc.Unblock(context.WithoutCancel(ctx), resourceID, units)
	if err != nil {
		return n, err
	}
	s.log.Info("units unblocked", zap.String("resource_id", resourceID), zap.Int("changed", n))
	return n, nil
}

func (s *Service) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func describe(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err.Error()
	}
	parts := make([]string, 0, len(ve))
	for _, fe := range ve {
		parts = append(parts, fe.Namespace()+" failed "+fe.Tag())
	}
	return strings.Join(parts, "; ")
}
