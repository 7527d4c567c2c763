// Package activation активирует подписку по подтверждённому платежу.
//
// Все изменения выполняются в одной транзакции: проверка идемпотентности по
// идентификатору платежа шлюза, создание подписки и платежа, отмена прежней
// активной подписки и обновление пользователя с проверкой версии.
package activation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/prepaccess/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/prepaccess/internal/lib/sl"
	"github.com/magabrotheeeer/prepaccess/internal/metrics"
	"github.com/magabrotheeeer/prepaccess/internal/models"
	"github.com/magabrotheeeer/prepaccess/internal/permission"
	"github.com/magabrotheeeer/prepaccess/internal/storage"
)

const defaultMaxAttempts = 3

var (
	ErrPlanNotFound   = errors.New("plan not found")
	ErrUserNotFound   = errors.New("user not found")
	ErrInvalidPayment = errors.New("payment id is required")
	// ErrTimeout активация не уложилась в отведённое время, изменения откачены.
	ErrTimeout = errors.New("activation timed out")
	// ErrConflict попытки исчерпаны из-за параллельных изменений пользователя.
	ErrConflict = errors.New("activation conflict")
)

// Repository хранилище, используемое активацией.
type Repository interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetPlan(ctx context.Context, id string) (*models.Plan, error)
	GetUser(ctx context.Context, uid string) (*models.User, error)
	GetPaymentByGatewayID(ctx context.Context, gatewayPaymentID string) (*models.SubscriptionPayment, error)
	CancelActiveSubscriptions(ctx context.Context, userUID string, now time.Time) (int64, error)
	CreateSubscription(ctx context.Context, sub *models.Subscription) error
	CreatePayment(ctx context.Context, p *models.SubscriptionPayment) error
	UpdateUserAccess(ctx context.Context, user *models.User) error
	CompleteCheckout(ctx context.Context, id, status, paymentID string, now time.Time) (bool, error)
}

// UserCache сбрасывает кешированный снимок пользователя.
type UserCache interface {
	InvalidateUser(ctx context.Context, uid string) error
}

// Publisher отправляет доменные события.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, message any) error
}

// Result итог активации.
type Result struct {
	Subscription     *models.Subscription
	Payment          *models.SubscriptionPayment
	AlreadyProcessed bool
}

// Service активирует подписки.
type Service struct {
	log         *slog.Logger
	repo        Repository
	cache       UserCache
	publisher   Publisher
	resolver    *permission.Resolver
	timeout     time.Duration
	maxAttempts int
}

// New создаёт сервис. cache и publisher могут быть nil.
func New(log *slog.Logger, repo Repository, cache UserCache, publisher Publisher,
	resolver *permission.Resolver, timeout time.Duration) *Service {
	return &Service{
		log:         log,
		repo:        repo,
		cache:       cache,
		publisher:   publisher,
		resolver:    resolver,
		timeout:     timeout,
		maxAttempts: defaultMaxAttempts,
	}
}

// Activate создаёт активную подписку userID на план planID по платежу meta.
// Повторный вызов с тем же meta.PaymentID ничего не пишет и возвращает
// Result{AlreadyProcessed: true}.
func (s *Service) Activate(ctx context.Context, userID, planID string, meta models.PaymentMeta) (*Result, error) {
	const op = "activation.Activate"
	log := s.log.With(
		sl.Op(op),
		slog.String("user_uid", userID),
		slog.String("plan_id", planID),
		slog.String("payment_id", meta.PaymentID),
	)

	if meta.PaymentID == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidPayment)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	started := time.Now()
	defer func() { metrics.ActivationDuration.Observe(time.Since(started).Seconds()) }()

	plan, err := s.repo.GetPlan(ctx, planID)
	if err != nil {
		if errors.Is(err, storage.ErrPlanNotFound) {
			metrics.ActivationsTotal.WithLabelValues("plan_not_found").Inc()
			return nil, fmt.Errorf("%s: %w", op, ErrPlanNotFound)
		}
		return nil, s.fail(ctx, op, err)
	}
	if !plan.IsActive {
		metrics.ActivationsTotal.WithLabelValues("plan_not_found").Inc()
		return nil, fmt.Errorf("%s: %w", op, ErrPlanNotFound)
	}

	var result *Result
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		result, err = s.activateOnce(ctx, userID, plan, meta)
		if err == nil {
			break
		}
		if errors.Is(err, storage.ErrAlreadyProcessed) {
			log.Info("payment already processed")
			metrics.ActivationsTotal.WithLabelValues("already_processed").Inc()
			return &Result{AlreadyProcessed: true}, nil
		}
		if !errors.Is(err, storage.ErrVersionConflict) {
			return nil, s.fail(ctx, op, err)
		}
		log.Warn("concurrent user update, retrying", slog.Int("attempt", attempt))
	}
	if err != nil {
		metrics.ActivationsTotal.WithLabelValues("conflict").Inc()
		return nil, fmt.Errorf("%s: %w: %w", op, ErrConflict, err)
	}

	metrics.ActivationsTotal.WithLabelValues("activated").Inc()
	log.Info("subscription activated",
		slog.String("subscription_id", result.Subscription.ID),
		slog.Time("end_date", result.Subscription.EndDate),
	)
	s.afterCommit(ctx, log, result)
	return result, nil
}

func (s *Service) activateOnce(ctx context.Context, userID string, plan *models.Plan, meta models.PaymentMeta) (*Result, error) {
	now := s.resolver.Now().UTC()
	result := &Result{}

	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		_, err := s.repo.GetPaymentByGatewayID(ctx, meta.PaymentID)
		if err == nil {
			return storage.ErrAlreadyProcessed
		}
		if !errors.Is(err, storage.ErrPaymentNotFound) {
			return err
		}

		user, err := s.repo.GetUser(ctx, userID)
		if err != nil {
			if errors.Is(err, storage.ErrUserNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		if _, err := s.repo.CancelActiveSubscriptions(ctx, user.UID, now); err != nil {
			return err
		}

		sub := &models.Subscription{
			ID:          uuid.NewString(),
			UserUID:     user.UID,
			PlanID:      plan.ID,
			Status:      models.SubscriptionActive,
			StartDate:   now,
			EndDate:     now.AddDate(0, 0, plan.DurationDays),
			Permissions: append([]string(nil), plan.Permissions...),
			PaymentID:   meta.PaymentID,
		}
		if err := s.repo.CreateSubscription(ctx, sub); err != nil {
			return err
		}

		currency := meta.Currency
		if currency == "" {
			currency = plan.Currency
		}
		amount := meta.Amount
		if amount == 0 {
			amount = plan.Price
		}
		payment := &models.SubscriptionPayment{
			ID:               uuid.NewString(),
			UserUID:          user.UID,
			PlanID:           plan.ID,
			SubscriptionID:   sub.ID,
			GatewayPaymentID: meta.PaymentID,
			GatewayLinkID:    meta.LinkID,
			Amount:           amount,
			Currency:         currency,
			Status:           models.PaymentStatusSuccess,
			Permissions:      sub.Permissions,
		}
		if err := s.repo.CreatePayment(ctx, payment); err != nil {
			return err
		}

		planID, subID := plan.ID, sub.ID
		endDate, lastDate := sub.EndDate, now
		user.CurrentSubscriptionPlanID = &planID
		user.CurrentSubscriptionID = &subID
		user.SubscriptionPermissions = sub.Permissions
		user.SubscriptionStatus = models.SubscriptionActive
		user.SubscriptionEndsAt = &endDate
		user.LastSubscriptionDate = &lastDate
		user.PermissionStatus = s.resolver.Resolve(user)
		if err := s.repo.UpdateUserAccess(ctx, user); err != nil {
			return err
		}

		if meta.CheckoutID != "" {
			if _, err := s.repo.CompleteCheckout(ctx, meta.CheckoutID, models.CheckoutPaid, meta.PaymentID, now); err != nil {
				return err
			}
		}

		result.Subscription = sub
		result.Payment = payment
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// fail приводит ошибку к ErrTimeout, если истёк срок контекста.
func (s *Service) fail(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		metrics.ActivationsTotal.WithLabelValues("timeout").Inc()
		return fmt.Errorf("%s: %w: %w", op, ErrTimeout, err)
	}
	metrics.ActivationsTotal.WithLabelValues("error").Inc()
	return fmt.Errorf("%s: %w", op, err)
}

func (s *Service) afterCommit(ctx context.Context, log *slog.Logger, result *Result) {
	sub := result.Subscription
	// Транзакция уже зафиксирована: побочные действия не должны зависеть от её таймаута.
	ctx = context.WithoutCancel(ctx)

	if s.cache != nil {
		if err := s.cache.InvalidateUser(ctx, sub.UserUID); err != nil {
			log.Warn("failed to invalidate user cache", sl.Err(err))
		}
	}
	if s.publisher != nil {
		event := rabbitmq.SubscriptionEvent{
			UserUID:        sub.UserUID,
			SubscriptionID: sub.ID,
			PlanID:         sub.PlanID,
			PaymentID:      sub.PaymentID,
			Permissions:    sub.Permissions,
			EndDate:        sub.EndDate,
			OccurredAt:     sub.StartDate,
		}
		if err := s.publisher.Publish(ctx, rabbitmq.RoutingSubscriptionActivated, event); err != nil {
			log.Warn("failed to publish activation event", sl.Err(err))
		}
	}
}
