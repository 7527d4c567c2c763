// Package access отвечает на вопрос, может ли пользователь открыть инструмент.
package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/magabrotheeeer/prepaccess/internal/lib/sl"
	"github.com/magabrotheeeer/prepaccess/internal/metrics"
	"github.com/magabrotheeeer/prepaccess/internal/models"
	"github.com/magabrotheeeer/prepaccess/internal/permission"
	"github.com/magabrotheeeer/prepaccess/internal/storage"
)

var ErrUserNotFound = errors.New("user not found")

type Repository interface {
	GetUser(ctx context.Context, uid string) (*models.User, error)
	ListSubscriptionsByUser(ctx context.Context, userUID string) ([]*models.Subscription, error)
	ListPaymentsByUser(ctx context.Context, userUID string) ([]*models.SubscriptionPayment, error)
}

// UserCache кеш снимков с поколениями: SetUser не кладёт снимок, если
// запись сбросили после GetUser.
type UserCache interface {
	GetUser(ctx context.Context, uid string) (*models.User, int64, bool, error)
	SetUser(ctx context.Context, user *models.User, generation int64) (bool, error)
}

// History подписки и платежи пользователя.
type History struct {
	Subscriptions []*models.Subscription        `json:"subscriptions"`
	Payments      []*models.SubscriptionPayment `json:"payments"`
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

// CheckTool сообщает, есть ли у пользователя доступ к toolID прямо сейчас.
func (s *Service) CheckTool(ctx context.Context, uid, toolID string) (bool, error) {
	const op = "access.CheckTool"

	user, err := s.loadUser(ctx, uid)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	allowed := s.resolver.HasPermissionForTool(user, toolID)
	decision := "denied"
	if allowed {
		decision = "allowed"
	}
	metrics.AccessChecksTotal.WithLabelValues(decision).Inc()
	return allowed, nil
}

// Status вычисляет актуальный снимок прав пользователя.
func (s *Service) Status(ctx context.Context, uid string) (models.PermissionStatus, error) {
	const op = "access.Status"

	user, err := s.loadUser(ctx, uid)
	if err != nil {
		return models.PermissionStatus{}, fmt.Errorf("%s: %w", op, err)
	}
	return s.resolver.Resolve(user), nil
}

// History возвращает историю подписок и платежей пользователя.
func (s *Service) History(ctx context.Context, uid string) (*History, error) {
	const op = "access.History"

	subs, err := s.repo.ListSubscriptionsByUser(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	payments, err := s.repo.ListPaymentsByUser(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &History{Subscriptions: subs, Payments: payments}, nil
}

// loadUser читает пользователя из кеша, при промахе из базы.
// Ошибки кеша не мешают ответу.
func (s *Service) loadUser(ctx context.Context, uid string) (*models.User, error) {
	var generation int64
	cacheable := false
	if s.cache != nil {
		user, gen, found, err := s.cache.GetUser(ctx, uid)
		switch {
		case err != nil:
			s.log.Warn("user cache read failed", slog.String("user_uid", uid), sl.Err(err))
		case found:
			return user, nil
		default:
			generation, cacheable = gen, true
		}
	}

	user, err := s.repo.GetUser(ctx, uid)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	if cacheable {
		stored, err := s.cache.SetUser(ctx, user, generation)
		switch {
		case err != nil:
			s.log.Warn("user cache write failed", slog.String("user_uid", uid), sl.Err(err))
		case !stored:
			s.log.Debug("user changed while loading, snapshot not cached", slog.String("user_uid", uid))
		}
	}
	return user, nil
}
