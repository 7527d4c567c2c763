// Package auth регистрирует пользователей и выдаёт подписанные JWT.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/magabrotheeeer/prepaccess/internal/lib/jwt"
	"github.com/magabrotheeeer/prepaccess/internal/lib/password"
	"github.com/magabrotheeeer/prepaccess/internal/models"
	"github.com/magabrotheeeer/prepaccess/internal/permission"
	"github.com/magabrotheeeer/prepaccess/internal/storage"
)

var (
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAdminEmailRequired = errors.New("admin email is required")
)

// UserRepository описывает контракт для работы с пользователями в базе данных.
type UserRepository interface {
	CreateUser(ctx context.Context, user *models.User) (string, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	SetCredentials(ctx context.Context, uid, role, passwordHash string) error
}

// Service отвечает за регистрацию и вход.
type Service struct {
	log       *slog.Logger
	users     UserRepository
	jwtMaker  jwt.Maker
	resolver  *permission.Resolver
	trialDays int
}

func New(log *slog.Logger, users UserRepository, jwtMaker jwt.Maker, resolver *permission.Resolver, trialDays int) *Service {
	return &Service{
		log:       log,
		users:     users,
		jwtMaker:  jwtMaker,
		resolver:  resolver,
		trialDays: trialDays,
	}
}

// Register создаёт пользователя с ролью user и пробным периодом длиной trialDays.
// Роль admin через регистрацию не выдаётся, см. EnsureAdmin.
func (s *Service) Register(ctx context.Context, req models.RegisterRequest) (*models.User, error) {
	const op = "auth.Register"

	hashed, err := password.Hash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	email := normalizeEmail(req.Email)
	role := models.RoleUser

	now := s.resolver.Now().UTC()
	user := &models.User{
		Email:              email,
		Name:               req.Name,
		PasswordHash:       hashed,
		Role:               role,
		SubscriptionStatus: models.SubscriptionNone,
	}
	if s.trialDays > 0 {
		trialEnds := now.AddDate(0, 0, s.trialDays)
		user.TrialEndsAt = &trialEnds
	}
	user.PermissionStatus = s.resolver.Resolve(user)

	if _, err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			return nil, fmt.Errorf("%s: %w", op, ErrUserExists)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("user registered", slog.String("user_uid", user.UID), slog.String("role", role))
	return user, nil
}

// EnsureAdmin заводит администратора с заданным bcrypt-хешем пароля.
// Если адрес уже занят, учётной записи выдаётся роль admin и пароль
// заменяется на заданный, так что прежний владелец адреса теряет доступ.
func (s *Service) EnsureAdmin(ctx context.Context, email, passwordHash string) (*models.User, error) {
	const op = "auth.EnsureAdmin"

	email = normalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrAdminEmailRequired)
	}
	if err := password.ValidateHash(passwordHash); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	log := s.log.With(slog.String("op", op))

	user, err := s.users.GetUserByEmail(ctx, email)
	switch {
	case errors.Is(err, storage.ErrUserNotFound):
		user = &models.User{
			Email:              email,
			Name:               "admin",
			PasswordHash:       passwordHash,
			Role:               models.RoleAdmin,
			SubscriptionStatus: models.SubscriptionNone,
		}
		user.PermissionStatus = s.resolver.Resolve(user)
		if _, err := s.users.CreateUser(ctx, user); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		log.Info("admin account created", slog.String("user_uid", user.UID))
		return user, nil
	case err != nil:
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if user.Role == models.RoleAdmin && user.PasswordHash == passwordHash {
		return user, nil
	}
	if user.Role != models.RoleAdmin {
		log.Warn("admin email was held by a regular account, taking it over", slog.String("user_uid", user.UID))
	}
	if err := s.users.SetCredentials(ctx, user.UID, models.RoleAdmin, passwordHash); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	user.Role = models.RoleAdmin
	user.PasswordHash = passwordHash
	user.Version++
	return user, nil
}

// Login проверяет пароль и возвращает JWT с uid, email и ролью.
func (s *Service) Login(ctx context.Context, email, rawPassword string) (string, *models.User, error) {
	const op = "auth.Login"

	user, err := s.users.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return "", nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}
		return "", nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := password.Compare(user.PasswordHash, rawPassword); err != nil {
		if errors.Is(err, password.ErrMismatch) {
			return "", nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}
		return "", nil, fmt.Errorf("%s: %w", op, err)
	}

	token, err := s.jwtMaker.GenerateToken(user.UID, user.Email, user.Role)
	if err != nil {
		return "", nil, fmt.Errorf("%s: %w", op, err)
	}
	return token, user, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
