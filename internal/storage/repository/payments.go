package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/magabrotheeeer/prepaccess/internal/models"
	"github.com/magabrotheeeer/prepaccess/internal/storage"
)

const paymentColumns = `id, user_uid, plan_id, subscription_id, gateway_payment_id, gateway_link_id,
	amount, currency, status, permissions, created_at`

func scanPayment(row rowScanner) (*models.SubscriptionPayment, error) {
	var (
		p           models.SubscriptionPayment
		linkID      *string
		permissions []byte
	)
	err := row.Scan(&p.ID, &p.UserUID, &p.PlanID, &p.SubscriptionID, &p.GatewayPaymentID, &linkID,
		&p.Amount, &p.Currency, &p.Status, &permissions, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(permissions, &p.Permissions); err != nil {
		return nil, fmt.Errorf("decode permissions: %w", err)
	}
	p.GatewayLinkID = derefString(linkID)
	return &p, nil
}

// CreatePayment записывает платёж. Повтор gateway_payment_id даёт
// storage.ErrAlreadyProcessed.
func (s *Storage) CreatePayment(ctx context.Context, p *models.SubscriptionPayment) error {
	const op = "storage.CreatePayment"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}

	permissions, err := encodeStrings(p.Permissions)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	query := `INSERT INTO subscription_payments
			(id, user_uid, plan_id, subscription_id, gateway_payment_id, gateway_link_id,
			amount, currency, status, permissions)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at`
	err = s.conn(ctx).QueryRowContext(ctx, query,
		p.ID, p.UserUID, p.PlanID, p.SubscriptionID, p.GatewayPaymentID, nullString(p.GatewayLinkID),
		p.Amount, p.Currency, p.Status, permissions,
	).Scan(&p.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) && constraintName(err) == "subscription_payments_gateway_payment_id_key" {
			return fmt.Errorf("%s: %w", op, storage.ErrAlreadyProcessed)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetPaymentByGatewayID ищет платёж по идентификатору шлюза.
func (s *Storage) GetPaymentByGatewayID(ctx context.Context, gatewayPaymentID string) (*models.SubscriptionPayment, error) {
	const op = "storage.GetPaymentByGatewayID"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	row := s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM subscription_payments WHERE gateway_payment_id = $1`, gatewayPaymentID)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrPaymentNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

// ListPaymentsByUser возвращает платежи пользователя, новые первыми.
func (s *Storage) ListPaymentsByUser(ctx context.Context, userUID string) ([]*models.SubscriptionPayment, error) {
	const op = "storage.ListPaymentsByUser"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	rows, err := s.conn(ctx).QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM subscription_payments WHERE user_uid = $1 ORDER BY created_at DESC`, userUID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.SubscriptionPayment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
