// Package permission вычисляет права пользователя на инструменты.
//
// Итоговый набор прав есть объединение выданных администратором прав,
// прав активной оплаченной подписки и набора инструментов пробного периода.
// Администратор имеет доступ к любому инструменту. Resolver не обращается
// к хранилищу: он работает только со снимком пользователя.
package permission

import (
	"slices"
	"time"

	"github.com/magabrotheeeer/prepaccess/internal/models"
)

// Resolver принимает решения о доступе по снимку пользователя.
type Resolver struct {
	trialTools []string
	now        func() time.Time
}

// Option настраивает Resolver.
type Option func(*Resolver)

// WithClock подменяет источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}

// NewResolver создает Resolver с набором инструментов пробного периода.
func NewResolver(trialTools []string, opts ...Option) *Resolver {
	r := &Resolver{
		trialTools: slices.Clone(trialTools),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Now возвращает текущее время часов Resolver.
func (r *Resolver) Now() time.Time {
	return r.now()
}

// HasPermissionForTool сообщает, разрешён ли пользователю инструмент toolID.
// При любых некорректных данных возвращает false.
func (r *Resolver) HasPermissionForTool(user *models.User, toolID string) bool {
	if user == nil {
		return false
	}
	if user.IsAdmin() {
		return true
	}
	if toolID == "" {
		return false
	}
	now := r.now()

	for _, g := range user.Permissions {
		if g.ToolID == toolID && !g.Expired(now) {
			return true
		}
	}
	if SubscriptionActive(user, now) && slices.Contains(user.SubscriptionPermissions, toolID) {
		return true
	}
	if TrialActive(user, now) && slices.Contains(r.trialTools, toolID) {
		return true
	}
	return false
}

// Resolve вычисляет снимок прав пользователя на текущий момент.
func (r *Resolver) Resolve(user *models.User) models.PermissionStatus {
	now := r.now()
	status := models.PermissionStatus{
		Permissions: []string{},
		Source:      models.SourceNone,
		LastChecked: now,
	}
	if user == nil {
		return status
	}
	if user.IsAdmin() {
		status.Source = models.SourceAdmin
		status.Permissions = []string{"*"}
		status.SubscriptionActive = SubscriptionActive(user, now)
		status.TrialActive = TrialActive(user, now)
		return status
	}

	var sources []string
	var perms []string

	manual := ActiveGrants(user.Permissions, now)
	if len(manual) > 0 {
		sources = append(sources, models.SourceManual)
		for _, g := range manual {
			perms = append(perms, g.ToolID)
		}
	}
	if SubscriptionActive(user, now) {
		status.SubscriptionActive = true
		if len(user.SubscriptionPermissions) > 0 {
			sources = append(sources, models.SourceSubscription)
			perms = append(perms, user.SubscriptionPermissions...)
		}
	}
	if TrialActive(user, now) {
		status.TrialActive = true
		if len(r.trialTools) > 0 {
			sources = append(sources, models.SourceTrial)
			perms = append(perms, r.trialTools...)
		}
	}

	slices.Sort(perms)
	status.Permissions = append(status.Permissions, slices.Compact(perms)...)
	switch len(sources) {
	case 0:
	case 1:
		status.Source = sources[0]
	default:
		status.Source = models.SourceMixed
	}
	return status
}

// SubscriptionActive сообщает, действует ли оплаченная подписка пользователя.
func SubscriptionActive(user *models.User, now time.Time) bool {
	if user == nil || user.SubscriptionStatus != models.SubscriptionActive {
		return false
	}
	if user.SubscriptionEndsAt == nil || user.SubscriptionEndsAt.IsZero() {
		return false
	}
	return now.Before(*user.SubscriptionEndsAt)
}

// TrialActive сообщает, действует ли пробный период пользователя.
func TrialActive(user *models.User, now time.Time) bool {
	if user == nil || user.TrialEndsAt == nil || user.TrialEndsAt.IsZero() {
		return false
	}
	return now.Before(*user.TrialEndsAt)
}

// ActiveGrants возвращает неистёкшие выдачи прав.
func ActiveGrants(grants []models.PermissionGrant, now time.Time) []models.PermissionGrant {
	active := make([]models.PermissionGrant, 0, len(grants))
	for _, g := range grants {
		if g.ToolID == "" || g.Expired(now) {
			continue
		}
		active = append(active, g)
	}
	return active
}
