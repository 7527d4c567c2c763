package sweeper

import (
	"context"
	"io"
	"log/slog"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/prepaccess/internal/models"
	"github.com/magabrotheeeer/prepaccess/internal/permission"
	"github.com/magabrotheeeer/prepaccess/internal/storage"
)

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

type fakeRepo struct {
	txMu          sync.Mutex
	mu            sync.Mutex
	users         map[string]models.User
	subscriptions map[string]models.Subscription

	expireErr map[string]error
	conflicts int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:         map[string]models.User{},
		subscriptions: map[string]models.Subscription{},
		expireErr:     map[string]error{},
	}
}

func (r *fakeRepo) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.Lock()
	users := maps.Clone(r.users)
	subs := maps.Clone(r.subscriptions)
	r.mu.Unlock()

	if err := fn(ctx); err != nil {
		r.mu.Lock()
		r.users, r.subscriptions = users, subs
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *fakeRepo) ListExpiredSubscriptions(_ context.Context, now time.Time, limit int) ([]*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Subscription
	for _, s := range r.subscriptions {
		if s.Status == models.SubscriptionActive && !s.EndDate.After(now) {
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeRepo) ExpireSubscription(_ context.Context, id string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.expireErr[id]; err != nil {
		return false, err
	}
	s, ok := r.subscriptions[id]
	if !ok || s.Status != models.SubscriptionActive || s.EndDate.After(now) {
		return false, nil
	}
	s.Status = models.SubscriptionExpired
	s.UpdatedAt = now
	r.subscriptions[id] = s
	return true, nil
}

func (r *fakeRepo) GetUser(_ context.Context, uid string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[uid]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	u.Permissions = append([]models.PermissionGrant(nil), u.Permissions...)
	return &u, nil
}

func (r *fakeRepo) UpdateUserAccess(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conflicts > 0 {
		r.conflicts--
		// Другой процесс успел изменить пользователя.
		stored := r.users[user.UID]
		stored.Version++
		r.users[user.UID] = stored
		return storage.ErrVersionConflict
	}
	stored, ok := r.users[user.UID]
	if !ok || stored.Version != user.Version {
		return storage.ErrVersionConflict
	}
	user.Version++
	r.users[user.UID] = *user
	return nil
}

func (r *fakeRepo) ListUsersWithExpiredGrants(_ context.Context, now time.Time, limit int) ([]*models.User, error) {
	return r.listUsers(limit, func(u models.User) bool {
		return len(permission.ActiveGrants(u.Permissions, now)) != len(u.Permissions)
	}), nil
}

func (r *fakeRepo) ListUsersWithStaleTrial(_ context.Context, now time.Time, limit int) ([]*models.User, error) {
	return r.listUsers(limit, func(u models.User) bool {
		return u.TrialEndsAt != nil && !u.TrialEndsAt.After(now) && u.PermissionStatus.TrialActive
	}), nil
}

func (r *fakeRepo) listUsers(limit int, match func(models.User) bool) []*models.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.User
	for _, u := range r.users {
		if match(u) {
			out = append(out, &u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

type MockCache struct {
	mock.Mock
}

func (m *MockCache) InvalidateUser(ctx context.Context, uid string) error {
	args := m.Called(ctx, uid)
	return args.Error(0)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, routingKey string, message any) error {
	args := m.Called(ctx, routingKey, message)
	return args.Error(0)
}
