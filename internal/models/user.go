// Package models содержит доменные структуры пользователя, тарифных планов,
// подписок, платежей и оформлений заказа. Структуры используются в бизнес‑логике,
// хранилище и при формировании JSON‑ответов.
package models

import "time"

// Роли пользователей.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Источники прав доступа в кешированном снимке PermissionStatus.
const (
	SourceAdmin        = "admin"
	SourceSubscription = "subscription"
	SourceTrial        = "trial"
	SourceManual       = "manual"
	SourceMixed        = "mixed"
	SourceNone         = "none"
)

// PermissionGrant право на инструмент, выданное администратором.
// ExpiresAt == nil означает бессрочную выдачу.
type PermissionGrant struct {
	ToolID    string     `json:"tool_id"`
	GrantedBy string     `json:"granted_by,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Expired сообщает, истекла ли выдача на момент now.
func (g PermissionGrant) Expired(now time.Time) bool {
	return g.ExpiresAt != nil && !now.Before(*g.ExpiresAt)
}

// PermissionStatus кешированный снимок вычисленных прав пользователя.
type PermissionStatus struct {
	Permissions        []string  `json:"permissions"`
	Source             string    `json:"source"`
	TrialActive        bool      `json:"trial_active"`
	SubscriptionActive bool      `json:"subscription_active"`
	LastChecked        time.Time `json:"last_checked"`
}

// User представляет зарегистрированного пользователя системы.
type User struct {
	UID                       string            `json:"uid"`
	Email                     string            `json:"email"`
	Name                      string            `json:"name"`
	PasswordHash              string            `json:"-"`
	Role                      string            `json:"role"`
	Permissions               []PermissionGrant `json:"permissions"`
	TrialEndsAt               *time.Time        `json:"trial_ends_at,omitempty"`
	SubscriptionPermissions   []string          `json:"subscription_permissions"`
	CurrentSubscriptionPlanID *string           `json:"current_subscription_plan_id,omitempty"`
	CurrentSubscriptionID     *string           `json:"current_subscription_id,omitempty"`
	SubscriptionStatus        string            `json:"subscription_status"`
	SubscriptionEndsAt        *time.Time        `json:"subscription_ends_at,omitempty"`
	LastSubscriptionDate      *time.Time        `json:"last_subscription_date,omitempty"`
	PermissionStatus          PermissionStatus  `json:"permission_status"`
	Version                   int               `json:"version"`
	CreatedAt                 time.Time         `json:"created_at"`
}

// IsAdmin сообщает, является ли пользователь администратором.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// RegisterRequest данные для регистрации пользователя.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name" validate:"required"`
	Password string `json:"password" validate:"required,min=8"`
}

// LoginRequest данные для входа.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// GrantRequest запрос администратора на выдачу права на инструмент.
type GrantRequest struct {
	ToolID    string     `json:"tool_id" validate:"required"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}
