// Package sweeper периодически отзывает истёкшие подписки и права.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/magabrotheeeer/prepaccess/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/prepaccess/internal/lib/sl"
	"github.com/magabrotheeeer/prepaccess/internal/metrics"
	"github.com/magabrotheeeer/prepaccess/internal/models"
	"github.com/magabrotheeeer/prepaccess/internal/permission"
	"github.com/magabrotheeeer/prepaccess/internal/storage"
)

const (
	defaultBatchSize   = 500
	defaultMaxAttempts = 3
)

// Repository хранилище, используемое при проходе.
type Repository interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
	ListExpiredSubscriptions(ctx context.Context, now time.Time, limit int) ([]*models.Subscription, error)
	ExpireSubscription(ctx context.Context, id string, now time.Time) (bool, error)
	GetUser(ctx context.Context, uid string) (*models.User, error)
	UpdateUserAccess(ctx context.Context, user *models.User) error
	ListUsersWithExpiredGrants(ctx context.Context, now time.Time, limit int) ([]*models.User, error)
	ListUsersWithStaleTrial(ctx context.Context, now time.Time, limit int) ([]*models.User, error)
}

type UserCache interface {
	InvalidateUser(ctx context.Context, uid string) error
}

type Publisher interface {
	Publish(ctx context.Context, routingKey string, message any) error
}

// Report итог одного прохода.
type Report struct {
	ExpiredSubscriptions int
	Skipped              int
	RevokedGrants        int
	EndedTrials          int
	Errors               []error
}

// Service выполняет проход по истёкшим записям.
type Service struct {
	log         *slog.Logger
	repo        Repository
	cache       UserCache
	publisher   Publisher
	resolver    *permission.Resolver
	batchSize   int
	maxAttempts int
}

// New создаёт сервис. cache и publisher могут быть nil.
func New(log *slog.Logger, repo Repository, cache UserCache, publisher Publisher,
	resolver *permission.Resolver, batchSize int) *Service {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Service{
		log:         log,
		repo:        repo,
		cache:       cache,
		publisher:   publisher,
		resolver:    resolver,
		batchSize:   batchSize,
		maxAttempts: defaultMaxAttempts,
	}
}

// Run выполняет проход сразу и затем каждые interval, пока ctx не отменён.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	s.runOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Service) runOnce(ctx context.Context) {
	s.log.Info("starting expiry sweep")
	report, err := s.Sweep(ctx)
	attrs := []any{
		slog.Int("expired", report.ExpiredSubscriptions),
		slog.Int("skipped", report.Skipped),
		slog.Int("revoked_grants", report.RevokedGrants),
		slog.Int("ended_trials", report.EndedTrials),
	}
	if err != nil {
		s.log.Error("expiry sweep finished with errors", append(attrs, slog.Int("errors", len(report.Errors)), sl.Err(err))...)
		return
	}
	s.log.Info("expiry sweep finished", attrs...)
}

// Sweep переводит истёкшие подписки в expired, снимает истёкшие права
// и обновляет снимки пользователей с закончившимся пробным периодом.
// Ошибки отдельных записей собираются в Report.Errors и не прерывают проход.
// Повторный проход без новых истечений ничего не меняет.
func (s *Service) Sweep(ctx context.Context) (Report, error) {
	now := s.resolver.Now().UTC()
	var report Report

	s.sweepSubscriptions(ctx, now, &report)
	s.sweepGrants(ctx, now, &report)
	s.sweepTrials(ctx, now, &report)

	metrics.SweepExpiredTotal.Add(float64(report.ExpiredSubscriptions))
	metrics.SweepRevokedGrantsTotal.Add(float64(report.RevokedGrants))
	metrics.SweepErrorsTotal.Add(float64(len(report.Errors)))

	return report, errors.Join(report.Errors...)
}

func (s *Service) sweepSubscriptions(ctx context.Context, now time.Time, report *Report) {
	const op = "sweeper.sweepSubscriptions"

	// Подписки, обработка которых уже завершилась ошибкой в этом проходе,
	// остаются активными и снова попадают в выборку.
	attempted := make(map[string]struct{})
	for ctx.Err() == nil {
		subs, err := s.repo.ListExpiredSubscriptions(ctx, now, s.batchSize)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Errorf("%s: %w", op, err))
			return
		}
		fresh := 0
		for _, sub := range subs {
			if _, ok := attempted[sub.ID]; ok {
				continue
			}
			attempted[sub.ID] = struct{}{}
			fresh++

			changed, err := s.expireSubscription(ctx, sub, now)
			if err != nil {
				s.log.Error("failed to expire subscription", sl.Op(op), slog.String("subscription_id", sub.ID), sl.Err(err))
				report.Errors = append(report.Errors, fmt.Errorf("%s: subscription %s: %w", op, sub.ID, err))
				continue
			}
			if !changed {
				report.Skipped++
				continue
			}
			report.ExpiredSubscriptions++
			s.afterExpire(ctx, sub)
		}
		if len(subs) < s.batchSize || fresh == 0 {
			return
		}
	}
}

// expireSubscription переводит одну подписку в expired и снимает её права
// у владельца, если она была его текущей.
func (s *Service) expireSubscription(ctx context.Context, sub *models.Subscription, now time.Time) (bool, error) {
	var changed bool
	err := s.retry(ctx, func() error {
		changed = false
		return s.repo.WithinTx(ctx, func(ctx context.Context) error {
			ok, err := s.repo.ExpireSubscription(ctx, sub.ID, now)
			if err != nil || !ok {
				return err
			}
			changed = true

			user, err := s.repo.GetUser(ctx, sub.UserUID)
			if err != nil {
				return err
			}
			if user.CurrentSubscriptionID == nil || *user.CurrentSubscriptionID != sub.ID {
				return nil
			}
			user.SubscriptionPermissions = slices.DeleteFunc(slices.Clone(user.SubscriptionPermissions), func(p string) bool {
				return slices.Contains(sub.Permissions, p)
			})
			user.SubscriptionStatus = models.SubscriptionExpired
			user.PermissionStatus = s.resolver.Resolve(user)
			return s.repo.UpdateUserAccess(ctx, user)
		})
	})
	return changed, err
}

func (s *Service) sweepGrants(ctx context.Context, now time.Time, report *Report) {
	const op = "sweeper.sweepGrants"

	list := func(ctx context.Context) ([]*models.User, error) {
		return s.repo.ListUsersWithExpiredGrants(ctx, now, s.batchSize)
	}
	s.sweepUsers(ctx, op, list, report, func(u *models.User) error {
		revoked, err := s.updateUser(ctx, u, func(user *models.User) int {
			active := permission.ActiveGrants(user.Permissions, now)
			removed := len(user.Permissions) - len(active)
			user.Permissions = active
			return removed
		})
		if err != nil {
			s.log.Error("failed to revoke expired grants", sl.Op(op), slog.String("user_uid", u.UID), sl.Err(err))
			return err
		}
		report.RevokedGrants += revoked
		return nil
	})
}

func (s *Service) sweepTrials(ctx context.Context, now time.Time, report *Report) {
	const op = "sweeper.sweepTrials"

	list := func(ctx context.Context) ([]*models.User, error) {
		return s.repo.ListUsersWithStaleTrial(ctx, now, s.batchSize)
	}
	s.sweepUsers(ctx, op, list, report, func(u *models.User) error {
		if _, err := s.updateUser(ctx, u, func(*models.User) int { return 1 }); err != nil {
			s.log.Error("failed to refresh ended trial", sl.Op(op), slog.String("user_uid", u.UID), sl.Err(err))
			return err
		}
		report.EndedTrials++
		return nil
	})
}

// sweepUsers перечитывает выборку, пока она не вернёт неполную пачку
// или только уже обработанных пользователей. Каждый пользователь
// обрабатывается в проходе не больше одного раза.
func (s *Service) sweepUsers(
	ctx context.Context,
	op string,
	list func(ctx context.Context) ([]*models.User, error),
	report *Report,
	handle func(*models.User) error,
) {
	attempted := make(map[string]struct{})
	for ctx.Err() == nil {
		users, err := list(ctx)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Errorf("%s: %w", op, err))
			return
		}
		fresh := 0
		for _, u := range users {
			if _, ok := attempted[u.UID]; ok {
				continue
			}
			attempted[u.UID] = struct{}{}
			fresh++
			if err := handle(u); err != nil {
				report.Errors = append(report.Errors, fmt.Errorf("%s: user %s: %w", op, u.UID, err))
			}
		}
		if len(users) < s.batchSize || fresh == 0 {
			return
		}
	}
}

// updateUser применяет mutate к пользователю, пересчитывает снимок и сохраняет.
// При конфликте версий пользователь перечитывается и попытка повторяется.
func (s *Service) updateUser(ctx context.Context, user *models.User, mutate func(*models.User) int) (int, error) {
	var n int
	current := user
	err := s.retry(ctx, func() error {
		if current == nil {
			fresh, err := s.repo.GetUser(ctx, user.UID)
			if err != nil {
				return err
			}
			current = fresh
		}
		n = mutate(current)
		current.PermissionStatus = s.resolver.Resolve(current)
		err := s.repo.UpdateUserAccess(ctx, current)
		if err != nil {
			current = nil
		}
		return err
	})
	if err != nil {
		return 0, err
	}
	s.invalidate(ctx, user.UID)
	return n, nil
}

func (s *Service) retry(ctx context.Context, fn func() error) error {
	var err error
	for range s.maxAttempts {
		if err = fn(); !errors.Is(err, storage.ErrVersionConflict) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}

func (s *Service) afterExpire(ctx context.Context, sub *models.Subscription) {
	s.invalidate(ctx, sub.UserUID)
	if s.publisher == nil {
		return
	}
	event := rabbitmq.SubscriptionEvent{
		UserUID:        sub.UserUID,
		SubscriptionID: sub.ID,
		PlanID:         sub.PlanID,
		PaymentID:      sub.PaymentID,
		Permissions:    sub.Permissions,
		EndDate:        sub.EndDate,
		OccurredAt:     s.resolver.Now().UTC(),
	}
	if err := s.publisher.Publish(ctx, rabbitmq.RoutingSubscriptionExpired, event); err != nil {
		s.log.Warn("failed to publish expiry event", slog.String("subscription_id", sub.ID), sl.Err(err))
	}
}

func (s *Service) invalidate(ctx context.Context, uid string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateUser(ctx, uid); err != nil {
		s.log.Warn("failed to invalidate user cache", slog.String("user_uid", uid), sl.Err(err))
	}
}
