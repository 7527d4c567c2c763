package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/prepaccess/internal/models"
	"github.com/magabrotheeeer/prepaccess/internal/storage"
)

const subscriptionColumns = `id, user_uid, plan_id, status, start_date, end_date, permissions,
	payment_id, created_at, updated_at`

func scanSubscription(row rowScanner) (*models.Subscription, error) {
	var (
		sub         models.Subscription
		permissions []byte
		paymentID   *string
	)
	err := row.Scan(&sub.ID, &sub.UserUID, &sub.PlanID, &sub.Status, &sub.StartDate, &sub.EndDate,
		&permissions, &paymentID, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(permissions, &sub.Permissions); err != nil {
		return nil, fmt.Errorf("decode permissions: %w", err)
	}
	sub.PaymentID = derefString(paymentID)
	return &sub, nil
}

func (s *Storage) listSubscriptions(ctx context.Context, op, query string, args ...any) ([]*models.Subscription, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// CreateSubscription сохраняет подписку с заранее присвоенным ID.
// Вторая активная подписка пользователя даёт storage.ErrVersionConflict.
func (s *Storage) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	const op = "storage.CreateSubscription"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}

	permissions, err := encodeStrings(sub.Permissions)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	query := `INSERT INTO subscriptions
			(id, user_uid, plan_id, status, start_date, end_date, permissions, payment_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`
	err = s.conn(ctx).QueryRowContext(ctx, query,
		sub.ID, sub.UserUID, sub.PlanID, sub.Status, sub.StartDate, sub.EndDate,
		permissions, nullString(sub.PaymentID),
	).Scan(&sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		// Параллельная активация уже создала активную подписку этого пользователя.
		if isUniqueViolation(err) && constraintName(err) == "idx_subscriptions_one_active_per_user" {
			return fmt.Errorf("%s: %w", op, storage.ErrVersionConflict)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetSubscription возвращает подписку по ID.
func (s *Storage) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	const op = "storage.GetSubscription"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrSubscriptionNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub, nil
}

// ListSubscriptionsByUser возвращает историю подписок пользователя, новые первыми.
func (s *Storage) ListSubscriptionsByUser(ctx context.Context, userUID string) ([]*models.Subscription, error) {
	const op = "storage.ListSubscriptionsByUser"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}
	return s.listSubscriptions(ctx, op,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_uid = $1 ORDER BY start_date DESC`,
		userUID)
}

// ListExpiredSubscriptions возвращает активные подписки с end_date <= now.
func (s *Storage) ListExpiredSubscriptions(ctx context.Context, now time.Time, limit int) ([]*models.Subscription, error) {
	const op = "storage.ListExpiredSubscriptions"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}
	return s.listSubscriptions(ctx, op,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status = $1 AND end_date <= $2
		ORDER BY end_date
		LIMIT $3`,
		models.SubscriptionActive, now, limit)
}

// ExpireSubscription переводит подписку в expired, только если она всё ещё
// активна и срок истёк. Возвращает false, если строка не изменилась.
func (s *Storage) ExpireSubscription(ctx context.Context, id string, now time.Time) (bool, error) {
	const op = "storage.ExpireSubscription"
	if err := checkCtx(ctx, op); err != nil {
		return false, err
	}

	res, err := s.conn(ctx).ExecContext(ctx, `UPDATE subscriptions
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4 AND end_date <= $2`,
		models.SubscriptionExpired, now, id, models.SubscriptionActive)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n > 0, nil
}

// CancelActiveSubscriptions переводит все активные подписки пользователя в cancelled.
func (s *Storage) CancelActiveSubscriptions(ctx context.Context, userUID string, now time.Time) (int64, error) {
	const op = "storage.CancelActiveSubscriptions"
	if err := checkCtx(ctx, op); err != nil {
		return 0, err
	}

	res, err := s.conn(ctx).ExecContext(ctx, `UPDATE subscriptions
		SET status = $1, updated_at = $2
		WHERE user_uid = $3 AND status = $4`,
		models.SubscriptionCancelled, now, userUID, models.SubscriptionActive)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}
