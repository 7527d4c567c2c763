// Package notifier отправляет пользователям письма о событиях подписки.
package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/magabrotheeeer/prepaccess/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/prepaccess/internal/models"
	"github.com/magabrotheeeer/prepaccess/internal/storage"
)

// Users источник адресов получателей.
type Users interface {
	GetUser(ctx context.Context, uid string) (*models.User, error)
}

// Mailer отправляет одно письмо.
type Mailer interface {
	Send(to, subject, body string) error
}

// Service формирует и отправляет письма по событиям из очередей.
type Service struct {
	log    *slog.Logger
	users  Users
	mailer Mailer
}

func New(log *slog.Logger, users Users, mailer Mailer) *Service {
	return &Service{log: log, users: users, mailer: mailer}
}

// HandleActivated сообщает об активации подписки.
func (s *Service) HandleActivated(ctx context.Context, body []byte) error {
	const op = "notifier.HandleActivated"
	return s.notify(ctx, op, body, func(u *models.User, e rabbitmq.SubscriptionEvent) (string, string) {
		text := fmt.Sprintf("Здравствуйте, %s!\n\nПодписка по тарифу %s активна до %s.\n\nОткрытые инструменты: %s.",
			displayName(u), e.PlanID, e.EndDate.UTC().Format("02.01.2006"), toolList(e.Permissions))
		return "Подписка активирована", text
	})
}

// HandleExpired сообщает об окончании подписки.
func (s *Service) HandleExpired(ctx context.Context, body []byte) error {
	const op = "notifier.HandleExpired"
	return s.notify(ctx, op, body, func(u *models.User, e rabbitmq.SubscriptionEvent) (string, string) {
		text := fmt.Sprintf("Здравствуйте, %s!\n\nСрок подписки по тарифу %s истёк %s.\n\nЧтобы вернуть доступ к инструментам, оформите подписку заново.",
			displayName(u), e.PlanID, e.EndDate.UTC().Format("02.01.2006"))
		return "Подписка закончилась", text
	})
}

func (s *Service) notify(
	ctx context.Context,
	op string,
	body []byte,
	compose func(*models.User, rabbitmq.SubscriptionEvent) (string, string),
) error {
	var event rabbitmq.SubscriptionEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("%s: %w: %w", op, rabbitmq.ErrDrop, err)
	}
	if event.UserUID == "" {
		return fmt.Errorf("%s: %w: empty user_uid", op, rabbitmq.ErrDrop)
	}

	log := s.log.With(
		slog.String("op", op),
		slog.String("user_uid", event.UserUID),
		slog.String("subscription_id", event.SubscriptionID),
	)

	user, err := s.users.GetUser(ctx, event.UserUID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return fmt.Errorf("%s: %w: %w", op, rabbitmq.ErrDrop, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	subject, text := compose(user, event)
	if err := s.mailer.Send(user.Email, subject, text); err != nil {
		log.Error("failed to send notification")
		return fmt.Errorf("%s: %w", op, err)
	}
	log.Debug("notification sent")
	return nil
}

func displayName(u *models.User) string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}

func toolList(tools []string) string {
	if len(tools) == 0 {
		return "нет"
	}
	return strings.Join(tools, ", ")
}
