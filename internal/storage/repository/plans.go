package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/magabrotheeeer/prepaccess/internal/models"
	"github.com/magabrotheeeer/prepaccess/internal/storage"
)

const planColumns = `id, name, display_name, price, currency, duration_days, features,
	permissions, is_default, is_active, created_at, updated_at`

func scanPlan(row rowScanner) (*models.Plan, error) {
	var (
		p                     models.Plan
		features, permissions []byte
	)
	err := row.Scan(&p.ID, &p.Name, &p.DisplayName, &p.Price, &p.Currency, &p.DurationDays,
		&features, &permissions, &p.IsDefault, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(features, &p.Features); err != nil {
		return nil, fmt.Errorf("decode features: %w", err)
	}
	if err := decodeJSON(permissions, &p.Permissions); err != nil {
		return nil, fmt.Errorf("decode permissions: %w", err)
	}
	return &p, nil
}

// CreatePlan добавляет план в каталог.
func (s *Storage) CreatePlan(ctx context.Context, plan *models.Plan) error {
	const op = "storage.CreatePlan"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}

	features, err := encodeStrings(plan.Features)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	permissions, err := encodeStrings(plan.Permissions)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	query := `INSERT INTO subscription_plans
			(id, name, display_name, price, currency, duration_days, features, permissions, is_default, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`
	err = s.conn(ctx).QueryRowContext(ctx, query,
		plan.ID, plan.Name, plan.DisplayName, plan.Price, plan.Currency, plan.DurationDays,
		features, permissions, plan.IsDefault, plan.IsActive,
	).Scan(&plan.CreatedAt, &plan.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, storage.ErrPlanExists)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// UpdatePlan перезаписывает изменяемые поля плана.
func (s *Storage) UpdatePlan(ctx context.Context, plan *models.Plan) error {
	const op = "storage.UpdatePlan"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}

	features, err := encodeStrings(plan.Features)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	permissions, err := encodeStrings(plan.Permissions)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	query := `UPDATE subscription_plans SET
			name = $1, display_name = $2, price = $3, currency = $4, duration_days = $5,
			features = $6, permissions = $7, is_default = $8, is_active = $9, updated_at = NOW()
		WHERE id = $10
		RETURNING created_at, updated_at`
	err = s.conn(ctx).QueryRowContext(ctx, query,
		plan.Name, plan.DisplayName, plan.Price, plan.Currency, plan.DurationDays,
		features, permissions, plan.IsDefault, plan.IsActive, plan.ID,
	).Scan(&plan.CreatedAt, &plan.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%s: %w", op, storage.ErrPlanNotFound)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ClearDefaultPlan снимает флаг is_default со всех планов, кроме exceptID.
func (s *Storage) ClearDefaultPlan(ctx context.Context, exceptID string) error {
	const op = "storage.ClearDefaultPlan"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}

	_, err := s.conn(ctx).ExecContext(ctx,
		`UPDATE subscription_plans SET is_default = false, updated_at = NOW() WHERE is_default AND id <> $1`,
		exceptID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetPlan возвращает план по идентификатору.
func (s *Storage) GetPlan(ctx context.Context, id string) (*models.Plan, error) {
	const op = "storage.GetPlan"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+planColumns+` FROM subscription_plans WHERE id = $1`, id)
	p, err := scanPlan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrPlanNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

// ListPlans возвращает планы каталога, упорядоченные по цене.
func (s *Storage) ListPlans(ctx context.Context, activeOnly bool) ([]*models.Plan, error) {
	const op = "storage.ListPlans"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	query := `SELECT ` + planColumns + ` FROM subscription_plans
		WHERE ($1 = false OR is_active)
		ORDER BY price, id`
	rows, err := s.conn(ctx).QueryContext(ctx, query, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
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
