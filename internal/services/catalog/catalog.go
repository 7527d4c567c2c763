// Package catalog управляет тарифными планами и ручной выдачей прав.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/magabrotheeeer/prepaccess/internal/lib/sl"
	"github.com/magabrotheeeer/prepaccess/internal/models"
	"github.com/magabrotheeeer/prepaccess/internal/permission"
	"github.com/magabrotheeeer/prepaccess/internal/storage"
)

const maxAttempts = 3

var (
	ErrPlanNotFound   = errors.New("plan not found")
	ErrPlanExists     = errors.New("plan already exists")
	ErrUserNotFound   = errors.New("user not found")
	ErrGrantNotFound  = errors.New("grant not found")
	ErrExpiryInPast   = errors.New("expires_at must be in the future")
	ErrTooManyRetries = errors.New("too many concurrent updates")
)

type Repository interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
	CreatePlan(ctx context.Context, plan *models.Plan) error
	UpdatePlan(ctx context.Context, plan *models.Plan) error
	ClearDefaultPlan(ctx context.Context, exceptID string) error
	GetPlan(ctx context.Context, id string) (*models.Plan, error)
	ListPlans(ctx context.Context, activeOnly bool) ([]*models.Plan, error)
	GetUser(ctx context.Context, uid string) (*models.User, error)
	UpdateUserAccess(ctx context.Context, user *models.User) error
}

type UserCache interface {
	InvalidateUser(ctx context.Context, uid string) error
}

type Service struct {
	log      *slog.Logger
	repo     Repository
	cache    UserCache
	resolver *permission.Resolver
}

// New создаёт сервис. cache может быть nil.
func New(log *slog.Logger, repo Repository, cache UserCache, resolver *permission.Resolver) *Service {
	return &Service{log: log, repo: repo, cache: cache, resolver: resolver}
}

// ListPlans возвращает каталог; activeOnly скрывает снятые с продажи планы.
func (s *Service) ListPlans(ctx context.Context, activeOnly bool) ([]*models.Plan, error) {
	const op = "catalog.ListPlans"
	plans, err := s.repo.ListPlans(ctx, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return plans, nil
}

// GetPlan возвращает план по идентификатору.
func (s *Service) GetPlan(ctx context.Context, id string) (*models.Plan, error) {
	const op = "catalog.GetPlan"
	plan, err := s.repo.GetPlan(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrPlanNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrPlanNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return plan, nil
}

// CreatePlan добавляет план. Новый план по умолчанию снимает этот флаг с остальных.
func (s *Service) CreatePlan(ctx context.Context, req models.PlanRequest) (*models.Plan, error) {
	const op = "catalog.CreatePlan"

	plan := planFromRequest(req)
	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.CreatePlan(ctx, plan); err != nil {
			return err
		}
		if plan.IsDefault {
			return s.repo.ClearDefaultPlan(ctx, plan.ID)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrPlanExists) {
			return nil, fmt.Errorf("%s: %w", op, ErrPlanExists)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("plan created", slog.String("plan_id", plan.ID))
	return plan, nil
}

// UpdatePlan перезаписывает план id. Действующие подписки хранят свою копию
// прав и изменением плана не затрагиваются.
func (s *Service) UpdatePlan(ctx context.Context, id string, req models.PlanRequest) (*models.Plan, error) {
	const op = "catalog.UpdatePlan"

	req.ID = id
	plan := planFromRequest(req)
	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.UpdatePlan(ctx, plan); err != nil {
			return err
		}
		if plan.IsDefault {
			return s.repo.ClearDefaultPlan(ctx, plan.ID)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrPlanNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrPlanNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("plan updated", slog.String("plan_id", plan.ID))
	return plan, nil
}

// Grant выдаёт пользователю право на инструмент. Повторная выдача того же
// инструмента заменяет срок действия.
func (s *Service) Grant(ctx context.Context, adminUID, userUID string, req models.GrantRequest) (*models.User, error) {
	const op = "catalog.Grant"

	now := s.resolver.Now()
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return nil, fmt.Errorf("%s: %w", op, ErrExpiryInPast)
	}

	user, err := s.updateUser(ctx, userUID, func(u *models.User) error {
		grant := models.PermissionGrant{ToolID: req.ToolID, GrantedBy: adminUID, ExpiresAt: utcPtr(req.ExpiresAt)}
		idx := slices.IndexFunc(u.Permissions, func(g models.PermissionGrant) bool { return g.ToolID == req.ToolID })
		if idx >= 0 {
			u.Permissions[idx] = grant
		} else {
			u.Permissions = append(u.Permissions, grant)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("permission granted",
		slog.String("user_uid", userUID),
		slog.String("tool_id", req.ToolID),
		slog.String("granted_by", adminUID),
	)
	return user, nil
}

// Revoke снимает выданное вручную право на инструмент.
func (s *Service) Revoke(ctx context.Context, userUID, toolID string) (*models.User, error) {
	const op = "catalog.Revoke"

	user, err := s.updateUser(ctx, userUID, func(u *models.User) error {
		before := len(u.Permissions)
		u.Permissions = slices.DeleteFunc(u.Permissions, func(g models.PermissionGrant) bool { return g.ToolID == toolID })
		if len(u.Permissions) == before {
			return ErrGrantNotFound
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("permission revoked", slog.String("user_uid", userUID), slog.String("tool_id", toolID))
	return user, nil
}

func (s *Service) updateUser(ctx context.Context, uid string, mutate func(*models.User) error) (*models.User, error) {
	for range maxAttempts {
		user, err := s.repo.GetUser(ctx, uid)
		if err != nil {
			if errors.Is(err, storage.ErrUserNotFound) {
				return nil, ErrUserNotFound
			}
			return nil, err
		}
		if err := mutate(user); err != nil {
			return nil, err
		}
		user.PermissionStatus = s.resolver.Resolve(user)

		err = s.repo.UpdateUserAccess(ctx, user)
		if errors.Is(err, storage.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			if err := s.cache.InvalidateUser(ctx, uid); err != nil {
				s.log.Warn("failed to invalidate user cache", slog.String("user_uid", uid), sl.Err(err))
			}
		}
		return user, nil
	}
	return nil, ErrTooManyRetries
}

func planFromRequest(req models.PlanRequest) *models.Plan {
	return &models.Plan{
		ID:           req.ID,
		Name:         req.Name,
		DisplayName:  req.DisplayName,
		Price:        req.Price,
		Currency:     req.Currency,
		DurationDays: req.DurationDays,
		Features:     req.Features,
		Permissions:  req.Permissions,
		IsDefault:    req.IsDefault,
		IsActive:     req.IsActive,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
