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

const userColumns = `uid, email, name, password_hash, role, permissions, trial_ends_at,
	subscription_permissions, current_subscription_plan_id, current_subscription_id,
	subscription_status, subscription_ends_at, last_subscription_date, permission_status,
	version, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u                models.User
		grants, subPerms []byte
		permissionStatus []byte
	)
	err := row.Scan(
		&u.UID, &u.Email, &u.Name, &u.PasswordHash, &u.Role, &grants, &u.TrialEndsAt,
		&subPerms, &u.CurrentSubscriptionPlanID, &u.CurrentSubscriptionID,
		&u.SubscriptionStatus, &u.SubscriptionEndsAt, &u.LastSubscriptionDate, &permissionStatus,
		&u.Version, &u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(grants, &u.Permissions); err != nil {
		return nil, fmt.Errorf("decode permissions: %w", err)
	}
	if err := decodeJSON(subPerms, &u.SubscriptionPermissions); err != nil {
		return nil, fmt.Errorf("decode subscription_permissions: %w", err)
	}
	if err := decodeJSON(permissionStatus, &u.PermissionStatus); err != nil {
		return nil, fmt.Errorf("decode permission_status: %w", err)
	}
	return &u, nil
}

func scanUsers(rows *sql.Rows) ([]*models.User, error) {
	defer func() {
		_ = rows.Close()
	}()
	var result []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

// CreateUser сохраняет нового пользователя и возвращает его uid.
func (s *Storage) CreateUser(ctx context.Context, user *models.User) (string, error) {
	const op = "storage.CreateUser"
	if err := checkCtx(ctx, op); err != nil {
		return "", err
	}

	grants, err := encodeJSON(nonNilGrants(user.Permissions))
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	subPerms, err := encodeStrings(user.SubscriptionPermissions)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	status, err := encodeJSON(user.PermissionStatus)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	subStatus := user.SubscriptionStatus
	if subStatus == "" {
		subStatus = models.SubscriptionNone
	}

	query := `INSERT INTO users (email, name, password_hash, role, permissions, trial_ends_at,
			subscription_permissions, subscription_status, permission_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING uid, version, created_at`
	err = s.conn(ctx).QueryRowContext(ctx, query,
		user.Email, user.Name, user.PasswordHash, user.Role, grants, user.TrialEndsAt,
		subPerms, subStatus, status,
	).Scan(&user.UID, &user.Version, &user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("%s: %w", op, storage.ErrUserExists)
		}
		return "", fmt.Errorf("%s: %w", op, err)
	}
	user.SubscriptionStatus = subStatus
	return user.UID, nil
}

// GetUser возвращает пользователя по uid.
func (s *Storage) GetUser(ctx context.Context, uid string) (*models.User, error) {
	const op = "storage.GetUser"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE uid = $1`, uid)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// GetUserByEmail возвращает пользователя по email.
func (s *Storage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	const op = "storage.GetUserByEmail"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// UpdateUserAccess записывает права, поля подписки и снимок статуса.
// Запись проходит только если version в базе совпадает с user.Version,
// иначе возвращается storage.ErrVersionConflict. При успехе user.Version
// увеличивается.
func (s *Storage) UpdateUserAccess(ctx context.Context, user *models.User) error {
	const op = "storage.UpdateUserAccess"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}

	grants, err := encodeJSON(nonNilGrants(user.Permissions))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	subPerms, err := encodeStrings(user.SubscriptionPermissions)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	status, err := encodeJSON(user.PermissionStatus)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	query := `UPDATE users SET
			permissions = $1,
			subscription_permissions = $2,
			current_subscription_plan_id = $3,
			current_subscription_id = $4,
			subscription_status = $5,
			subscription_ends_at = $6,
			last_subscription_date = $7,
			permission_status = $8,
			trial_ends_at = $9,
			version = version + 1
		WHERE uid = $10 AND version = $11`
	res, err := s.conn(ctx).ExecContext(ctx, query,
		grants, subPerms, user.CurrentSubscriptionPlanID, user.CurrentSubscriptionID,
		user.SubscriptionStatus, user.SubscriptionEndsAt, user.LastSubscriptionDate, status,
		user.TrialEndsAt, user.UID, user.Version,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrVersionConflict)
	}
	user.Version++
	return nil
}

// SetCredentials заменяет роль и хеш пароля пользователя.
func (s *Storage) SetCredentials(ctx context.Context, uid, role, passwordHash string) error {
	const op = "storage.SetCredentials"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}

	res, err := s.conn(ctx).ExecContext(ctx,
		`UPDATE users SET role = $1, password_hash = $2, version = version + 1 WHERE uid = $3`,
		role, passwordHash, uid,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}
	return nil
}

// ListUsersWithExpiredGrants возвращает пользователей, у которых есть
// выданные администратором права с истёкшим сроком.
func (s *Storage) ListUsersWithExpiredGrants(ctx context.Context, now time.Time, limit int) ([]*models.User, error) {
	const op = "storage.ListUsersWithExpiredGrants"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	query := `SELECT ` + userColumns + ` FROM users
		WHERE EXISTS (
			SELECT 1 FROM jsonb_array_elements(permissions) AS g
			WHERE g->>'expires_at' IS NOT NULL
			AND (g->>'expires_at')::timestamptz <= $1
		)
		ORDER BY uid
		LIMIT $2`
	rows, err := s.conn(ctx).QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	users, err := scanUsers(rows)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return users, nil
}

// ListUsersWithStaleTrial возвращает пользователей, чей пробный период закончился,
// но снимок статуса всё ещё считает его активным.
func (s *Storage) ListUsersWithStaleTrial(ctx context.Context, now time.Time, limit int) ([]*models.User, error) {
	const op = "storage.ListUsersWithStaleTrial"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	query := `SELECT ` + userColumns + ` FROM users
		WHERE trial_ends_at IS NOT NULL
		AND trial_ends_at <= $1
		AND COALESCE((permission_status->>'trial_active')::boolean, false)
		ORDER BY uid
		LIMIT $2`
	rows, err := s.conn(ctx).QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	users, err := scanUsers(rows)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return users, nil
}

func nonNilGrants(g []models.PermissionGrant) []models.PermissionGrant {
	if g == nil {
		return []models.PermissionGrant{}
	}
	return g
}
