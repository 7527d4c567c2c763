package activation

import (
	"context"
	"io"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/prepaccess/internal/models"
	"github.com/magabrotheeeer/prepaccess/internal/storage"
)

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

// fakeRepo хранилище в памяти. Транзакции выполняются последовательно
// и откатывают состояние при ошибке.
type fakeRepo struct {
	txMu          sync.Mutex
	mu            sync.Mutex
	plans         map[string]*models.Plan
	users         map[string]models.User
	subscriptions map[string]models.Subscription
	payments      map[string]models.SubscriptionPayment
	checkouts     map[string]models.Checkout

	// conflicts сколько раз UpdateUserAccess вернёт ErrVersionConflict.
	conflicts int
	// beforePayment вызывается перед записью платежа.
	beforePayment func(ctx context.Context) error
	txCount       int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		plans:         map[string]*models.Plan{},
		users:         map[string]models.User{},
		subscriptions: map[string]models.Subscription{},
		payments:      map[string]models.SubscriptionPayment{},
		checkouts:     map[string]models.Checkout{},
	}
}

func (r *fakeRepo) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.Lock()
	r.txCount++
	users := maps.Clone(r.users)
	subs := maps.Clone(r.subscriptions)
	payments := maps.Clone(r.payments)
	checkouts := maps.Clone(r.checkouts)
	r.mu.Unlock()

	if err := fn(ctx); err != nil {
		r.mu.Lock()
		r.users, r.subscriptions, r.payments, r.checkouts = users, subs, payments, checkouts
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *fakeRepo) GetPlan(_ context.Context, id string) (*models.Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.plans[id]
	if !ok {
		return nil, storage.ErrPlanNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *fakeRepo) GetUser(_ context.Context, uid string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[uid]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	return &u, nil
}

func (r *fakeRepo) GetPaymentByGatewayID(_ context.Context, id string) (*models.SubscriptionPayment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.GatewayPaymentID == id {
			return &p, nil
		}
	}
	return nil, storage.ErrPaymentNotFound
}

func (r *fakeRepo) CancelActiveSubscriptions(_ context.Context, uid string, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.subscriptions {
		if s.UserUID == uid && s.Status == models.SubscriptionActive {
			s.Status = models.SubscriptionCancelled
			s.UpdatedAt = now
			r.subscriptions[id] = s
			n++
		}
	}
	return n, nil
}

func (r *fakeRepo) CreateSubscription(_ context.Context, sub *models.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscriptions[sub.ID] = *sub
	return nil
}

func (r *fakeRepo) CreatePayment(ctx context.Context, p *models.SubscriptionPayment) error {
	if r.beforePayment != nil {
		if err := r.beforePayment(ctx); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.payments {
		if existing.GatewayPaymentID == p.GatewayPaymentID {
			return storage.ErrAlreadyProcessed
		}
	}
	r.payments[p.ID] = *p
	return nil
}

func (r *fakeRepo) UpdateUserAccess(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conflicts > 0 {
		r.conflicts--
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

func (r *fakeRepo) CompleteCheckout(_ context.Context, id, status, paymentID string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.checkouts[id]
	if !ok || c.Status != models.CheckoutPending {
		return false, nil
	}
	c.Status, c.PaymentID, c.UpdatedAt = status, paymentID, now
	r.checkouts[id] = c
	return true, nil
}

func (r *fakeRepo) activeSubscriptions(uid string) []models.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Subscription
	for _, s := range r.subscriptions {
		if s.UserUID == uid && s.Status == models.SubscriptionActive {
			out = append(out, s)
		}
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
