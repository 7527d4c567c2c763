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

const checkoutColumns = `id, user_uid, plan_id, variant, link_id, pay_url, amount, currency,
	status, payment_id, created_at, updated_at`

// CreateCheckout сохраняет оформление заказа в статусе pending.
func (s *Storage) CreateCheckout(ctx context.Context, c *models.Checkout) error {
	const op = "storage.CreateCheckout"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}
	if c.Status == "" {
		c.Status = models.CheckoutPending
	}

	query := `INSERT INTO checkouts (id, user_uid, plan_id, variant, link_id, pay_url, amount, currency, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`
	err := s.conn(ctx).QueryRowContext(ctx, query,
		c.ID, c.UserUID, c.PlanID, c.Variant, nullString(c.LinkID), nullString(c.PayURL),
		c.Amount, c.Currency, c.Status,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetCheckout возвращает оформление по идентификатору корреляции.
func (s *Storage) GetCheckout(ctx context.Context, id string) (*models.Checkout, error) {
	const op = "storage.GetCheckout"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	var (
		c                         models.Checkout
		linkID, payURL, paymentID *string
	)
	err := s.conn(ctx).QueryRowContext(ctx, `SELECT `+checkoutColumns+` FROM checkouts WHERE id = $1`, id).Scan(
		&c.ID, &c.UserUID, &c.PlanID, &c.Variant, &linkID, &payURL, &c.Amount, &c.Currency,
		&c.Status, &paymentID, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrCheckoutNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	c.LinkID = derefString(linkID)
	c.PayURL = derefString(payURL)
	c.PaymentID = derefString(paymentID)
	return &c, nil
}

// CompleteCheckout переводит pending-оформление в итоговый статус.
// Возвращает false, если оформление уже было завершено.
func (s *Storage) CompleteCheckout(ctx context.Context, id, status, paymentID string, now time.Time) (bool, error) {
	const op = "storage.CompleteCheckout"
	if err := checkCtx(ctx, op); err != nil {
		return false, err
	}

	res, err := s.conn(ctx).ExecContext(ctx, `UPDATE checkouts
		SET status = $1, payment_id = $2, updated_at = $3
		WHERE id = $4 AND status = $5`,
		status, nullString(paymentID), now, id, models.CheckoutPending)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n > 0, nil
}
