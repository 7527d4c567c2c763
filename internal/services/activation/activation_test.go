package activation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/prepaccess/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/prepaccess/internal/models"
	"github.com/magabrotheeeer/prepaccess/internal/permission"
)

var activationNow = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

const testUID = "11111111-1111-1111-1111-111111111111"

type fixture struct {
	repo      *fakeRepo
	cache     *MockCache
	publisher *MockPublisher
	svc       *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newFakeRepo()
	repo.plans["monthly"] = &models.Plan{
		ID:           "monthly",
		Price:        34900,
		Currency:     "TL",
		DurationDays: 30,
		Permissions:  []string{"question-generator", "answer-evaluator"},
		IsActive:     true,
	}
	repo.users[testUID] = models.User{
		UID:                testUID,
		Email:              "student@example.com",
		Role:               models.RoleUser,
		SubscriptionStatus: models.SubscriptionNone,
		Version:            1,
	}
	repo.checkouts["chk1"] = models.Checkout{ID: "chk1", UserUID: testUID, PlanID: "monthly", Status: models.CheckoutPending}

	cache := &MockCache{}
	cache.On("InvalidateUser", mock.Anything, testUID).Return(nil).Maybe()
	publisher := &MockPublisher{}
	publisher.On("Publish", mock.Anything, rabbitmq.RoutingSubscriptionActivated, mock.Anything).Return(nil).Maybe()

	resolver := permission.NewResolver(nil, permission.WithClock(func() time.Time { return activationNow }))
	svc := New(newNoopLogger(), repo, cache, publisher, resolver, time.Second)
	return &fixture{repo: repo, cache: cache, publisher: publisher, svc: svc}
}

func TestActivate_CreatesSubscription(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Activate(context.Background(), testUID, "monthly", models.PaymentMeta{
		PaymentID:  "SP-1",
		CheckoutID: "chk1",
		LinkID:     "L-1",
		Amount:     34900,
		Currency:   "TL",
	})
	require.NoError(t, err)
	require.False(t, res.AlreadyProcessed)

	wantEnd := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, wantEnd, res.Subscription.EndDate)
	assert.Equal(t, activationNow, res.Subscription.StartDate)
	assert.Equal(t, models.SubscriptionActive, res.Subscription.Status)
	assert.Equal(t, "SP-1", res.Subscription.PaymentID)

	user, err := f.repo.GetUser(context.Background(), testUID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionActive, user.SubscriptionStatus)
	require.NotNil(t, user.SubscriptionEndsAt)
	assert.Equal(t, wantEnd, *user.SubscriptionEndsAt)
	assert.Equal(t, []string{"question-generator", "answer-evaluator"}, user.SubscriptionPermissions)
	require.NotNil(t, user.CurrentSubscriptionPlanID)
	assert.Equal(t, "monthly", *user.CurrentSubscriptionPlanID)
	require.NotNil(t, user.CurrentSubscriptionID)
	assert.Equal(t, res.Subscription.ID, *user.CurrentSubscriptionID)
	assert.Equal(t, activationNow, *user.LastSubscriptionDate)
	assert.Equal(t, 2, user.Version)
	assert.True(t, user.PermissionStatus.SubscriptionActive)
	assert.Equal(t, models.SourceSubscription, user.PermissionStatus.Source)

	resolver := permission.NewResolver(nil, permission.WithClock(func() time.Time { return activationNow.Add(time.Hour) }))
	assert.True(t, resolver.HasPermissionForTool(user, "question-generator"))

	require.Len(t, f.repo.payments, 1)
	for _, p := range f.repo.payments {
		assert.Equal(t, "SP-1", p.GatewayPaymentID)
		assert.Equal(t, "L-1", p.GatewayLinkID)
		assert.Equal(t, int64(34900), p.Amount)
		assert.Equal(t, models.PaymentStatusSuccess, p.Status)
		assert.Equal(t, res.Subscription.ID, p.SubscriptionID)
	}
	assert.Equal(t, models.CheckoutPaid, f.repo.checkouts["chk1"].Status)
	assert.Equal(t, "SP-1", f.repo.checkouts["chk1"].PaymentID)

	f.cache.AssertCalled(t, "InvalidateUser", mock.Anything, testUID)
	f.publisher.AssertCalled(t, "Publish", mock.Anything, rabbitmq.RoutingSubscriptionActivated,
		mock.MatchedBy(func(e rabbitmq.SubscriptionEvent) bool {
			return e.UserUID == testUID && e.PlanID == "monthly" && e.EndDate.Equal(wantEnd)
		}))
}

func TestActivate_Idempotent(t *testing.T) {
	f := newFixture(t)
	meta := models.PaymentMeta{PaymentID: "SP-dup", Amount: 34900, Currency: "TL"}

	first, err := f.svc.Activate(context.Background(), testUID, "monthly", meta)
	require.NoError(t, err)
	require.False(t, first.AlreadyProcessed)

	second, err := f.svc.Activate(context.Background(), testUID, "monthly", meta)
	require.NoError(t, err)
	assert.True(t, second.AlreadyProcessed)
	assert.Nil(t, second.Subscription)

	assert.Len(t, f.repo.subscriptions, 1)
	assert.Len(t, f.repo.payments, 1)
	f.publisher.AssertNumberOfCalls(t, "Publish", 1)
}

func TestActivate_ConcurrentDuplicates(t *testing.T) {
	f := newFixture(t)
	meta := models.PaymentMeta{PaymentID: "SP-race"}

	var wg sync.WaitGroup
	results := make([]*Result, 4)
	errs := make([]error, 4)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = f.svc.Activate(context.Background(), testUID, "monthly", meta)
		}()
	}
	wg.Wait()

	activated := 0
	for i := range results {
		require.NoError(t, errs[i])
		if !results[i].AlreadyProcessed {
			activated++
		}
	}
	assert.Equal(t, 1, activated)
	assert.Len(t, f.repo.payments, 1)
	assert.Len(t, f.repo.activeSubscriptions(testUID), 1)
}

func TestActivate_PlanNotFound(t *testing.T) {
	f := newFixture(t)
	f.repo.plans["archived"] = &models.Plan{ID: "archived", DurationDays: 30, IsActive: false}

	for _, planID := range []string{"missing", "archived"} {
		t.Run(planID, func(t *testing.T) {
			_, err := f.svc.Activate(context.Background(), testUID, planID, models.PaymentMeta{PaymentID: "SP-" + planID})
			require.ErrorIs(t, err, ErrPlanNotFound)
		})
	}

	assert.Empty(t, f.repo.subscriptions)
	assert.Empty(t, f.repo.payments)
	assert.Zero(t, f.repo.txCount)
}

func TestActivate_UserNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Activate(context.Background(), "missing-user", "monthly", models.PaymentMeta{PaymentID: "SP-x"})
	require.ErrorIs(t, err, ErrUserNotFound)
	assert.Empty(t, f.repo.subscriptions)
}

func TestActivate_RequiresPaymentID(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Activate(context.Background(), testUID, "monthly", models.PaymentMeta{})
	require.ErrorIs(t, err, ErrInvalidPayment)
}

func TestActivate_CancelsPreviousSubscription(t *testing.T) {
	f := newFixture(t)

	first, err := f.svc.Activate(context.Background(), testUID, "monthly", models.PaymentMeta{PaymentID: "SP-a"})
	require.NoError(t, err)
	second, err := f.svc.Activate(context.Background(), testUID, "monthly", models.PaymentMeta{PaymentID: "SP-b"})
	require.NoError(t, err)

	active := f.repo.activeSubscriptions(testUID)
	require.Len(t, active, 1)
	assert.Equal(t, second.Subscription.ID, active[0].ID)
	assert.Equal(t, models.SubscriptionCancelled, f.repo.subscriptions[first.Subscription.ID].Status)
}

func TestActivate_RetriesVersionConflict(t *testing.T) {
	f := newFixture(t)
	f.repo.conflicts = 2

	res, err := f.svc.Activate(context.Background(), testUID, "monthly", models.PaymentMeta{PaymentID: "SP-retry"})
	require.NoError(t, err)
	assert.False(t, res.AlreadyProcessed)
	assert.Equal(t, 3, f.repo.txCount)
	assert.Len(t, f.repo.subscriptions, 1)
	assert.Len(t, f.repo.payments, 1)
}

func TestActivate_ConflictExhaustsAttempts(t *testing.T) {
	f := newFixture(t)
	f.repo.conflicts = 10

	_, err := f.svc.Activate(context.Background(), testUID, "monthly", models.PaymentMeta{PaymentID: "SP-busy"})
	require.ErrorIs(t, err, ErrConflict)
	assert.Empty(t, f.repo.subscriptions)
	assert.Empty(t, f.repo.payments)
	f.publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestActivate_PartialWriteRollsBack(t *testing.T) {
	f := newFixture(t)
	errDB := errors.New("connection reset")
	f.repo.beforePayment = func(context.Context) error { return errDB }

	_, err := f.svc.Activate(context.Background(), testUID, "monthly", models.PaymentMeta{PaymentID: "SP-broken"})
	require.ErrorIs(t, err, errDB)

	assert.Empty(t, f.repo.subscriptions, "subscription must not survive a failed payment write")
	assert.Empty(t, f.repo.payments)
	user, _ := f.repo.GetUser(context.Background(), testUID)
	assert.Equal(t, models.SubscriptionNone, user.SubscriptionStatus)
	f.cache.AssertNotCalled(t, "InvalidateUser", mock.Anything, mock.Anything)
}

func TestActivate_Timeout(t *testing.T) {
	f := newFixture(t)
	f.svc.timeout = 20 * time.Millisecond
	f.repo.beforePayment = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	_, err := f.svc.Activate(context.Background(), testUID, "monthly", models.PaymentMeta{PaymentID: "SP-slow"})
	require.ErrorIs(t, err, ErrTimeout)
	assert.Empty(t, f.repo.subscriptions)
	assert.Empty(t, f.repo.payments)
}

func TestActivate_SideEffectFailuresDoNotFail(t *testing.T) {
	f := newFixture(t)
	cache := &MockCache{}
	cache.On("InvalidateUser", mock.Anything, testUID).Return(errors.New("redis down"))
	publisher := &MockPublisher{}
	publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down"))
	f.svc.cache, f.svc.publisher = cache, publisher

	res, err := f.svc.Activate(context.Background(), testUID, "monthly", models.PaymentMeta{PaymentID: "SP-side"})
	require.NoError(t, err)
	assert.NotNil(t, res.Subscription)
	cache.AssertExpectations(t)
	publisher.AssertExpectations(t)
}
