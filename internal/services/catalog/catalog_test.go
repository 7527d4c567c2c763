package catalog

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/prepaccess/internal/models"
	"github.com/magabrotheeeer/prepaccess/internal/permission"
	"github.com/magabrotheeeer/prepaccess/internal/storage"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (m *MockRepository) CreatePlan(ctx context.Context, plan *models.Plan) error {
	return m.Called(ctx, plan).Error(0)
}

func (m *MockRepository) UpdatePlan(ctx context.Context, plan *models.Plan) error {
	return m.Called(ctx, plan).Error(0)
}

func (m *MockRepository) ClearDefaultPlan(ctx context.Context, exceptID string) error {
	return m.Called(ctx, exceptID).Error(0)
}

func (m *MockRepository) GetPlan(ctx context.Context, id string) (*models.Plan, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Plan), args.Error(1)
}

func (m *MockRepository) ListPlans(ctx context.Context, activeOnly bool) ([]*models.Plan, error) {
	args := m.Called(ctx, activeOnly)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Plan), args.Error(1)
}

func (m *MockRepository) GetUser(ctx context.Context, uid string) (*models.User, error) {
	args := m.Called(ctx, uid)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	// каждое чтение возвращает свежую копию, как база
	u := *args.Get(0).(*models.User)
	u.Permissions = append([]models.PermissionGrant(nil), u.Permissions...)
	return &u, args.Error(1)
}

func (m *MockRepository) UpdateUserAccess(ctx context.Context, user *models.User) error {
	return m.Called(ctx, user).Error(0)
}

type MockCache struct {
	mock.Mock
}

func (m *MockCache) InvalidateUser(ctx context.Context, uid string) error {
	return m.Called(ctx, uid).Error(0)
}

var now = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

func newService(repo *MockRepository, cache *MockCache) *Service {
	resolver := permission.NewResolver(nil, permission.WithClock(func() time.Time { return now }))
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)), repo, cache, resolver)
}

func planRequest() models.PlanRequest {
	return models.PlanRequest{
		ID: "monthly", Name: "monthly", DisplayName: "Monthly", Price: 34900, Currency: "TL",
		DurationDays: 30, Permissions: []string{"question-generator"}, IsActive: true,
	}
}

func TestCreatePlan(t *testing.T) {
	t.Run("default plan clears other defaults", func(t *testing.T) {
		repo := &MockRepository{}
		repo.On("CreatePlan", mock.Anything, mock.MatchedBy(func(p *models.Plan) bool {
			return p.ID == "monthly" && p.DurationDays == 30 && p.IsDefault
		})).Return(nil)
		repo.On("ClearDefaultPlan", mock.Anything, "monthly").Return(nil)

		req := planRequest()
		req.IsDefault = true
		plan, err := newService(repo, nil).CreatePlan(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "Monthly", plan.DisplayName)
		repo.AssertExpectations(t)
	})

	t.Run("duplicate id", func(t *testing.T) {
		repo := &MockRepository{}
		repo.On("CreatePlan", mock.Anything, mock.Anything).Return(storage.ErrPlanExists)

		_, err := newService(repo, nil).CreatePlan(context.Background(), planRequest())
		require.ErrorIs(t, err, ErrPlanExists)
		repo.AssertNotCalled(t, "ClearDefaultPlan", mock.Anything, mock.Anything)
	})
}

func TestUpdatePlan(t *testing.T) {
	repo := &MockRepository{}
	repo.On("UpdatePlan", mock.Anything, mock.MatchedBy(func(p *models.Plan) bool { return p.ID == "yearly" })).
		Return(storage.ErrPlanNotFound)

	_, err := newService(repo, nil).UpdatePlan(context.Background(), "yearly", planRequest())
	require.ErrorIs(t, err, ErrPlanNotFound)
}

func TestGetPlan_NotFound(t *testing.T) {
	repo := &MockRepository{}
	repo.On("GetPlan", mock.Anything, "missing").Return(nil, storage.ErrPlanNotFound)

	_, err := newService(repo, nil).GetPlan(context.Background(), "missing")
	require.ErrorIs(t, err, ErrPlanNotFound)
}

func TestGrant(t *testing.T) {
	expires := now.Add(48 * time.Hour)
	existing := &models.User{
		UID:         "u1",
		Role:        models.RoleUser,
		Permissions: []models.PermissionGrant{{ToolID: "essay-grader"}},
		Version:     4,
	}

	repo := &MockRepository{}
	cache := &MockCache{}
	repo.On("GetUser", mock.Anything, "u1").Return(existing, nil)
	repo.On("UpdateUserAccess", mock.Anything, mock.MatchedBy(func(u *models.User) bool {
		return len(u.Permissions) == 1 && u.Permissions[0].ExpiresAt != nil && u.Version == 4
	})).Return(nil)
	cache.On("InvalidateUser", mock.Anything, "u1").Return(nil)

	user, err := newService(repo, cache).Grant(context.Background(), "admin-1", "u1",
		models.GrantRequest{ToolID: "essay-grader", ExpiresAt: &expires})
	require.NoError(t, err)
	require.Len(t, user.Permissions, 1)
	assert.Equal(t, "admin-1", user.Permissions[0].GrantedBy)
	assert.Equal(t, []string{"essay-grader"}, user.PermissionStatus.Permissions)
	assert.Equal(t, models.SourceManual, user.PermissionStatus.Source)
	cache.AssertExpectations(t)
}

func TestGrant_RetriesOnVersionConflict(t *testing.T) {
	repo := &MockRepository{}
	repo.On("GetUser", mock.Anything, "u1").Return(&models.User{UID: "u1", Role: models.RoleUser, Version: 1}, nil)
	repo.On("UpdateUserAccess", mock.Anything, mock.Anything).Return(storage.ErrVersionConflict).Once()
	repo.On("UpdateUserAccess", mock.Anything, mock.Anything).Return(nil).Once()

	_, err := newService(repo, nil).Grant(context.Background(), "admin-1", "u1", models.GrantRequest{ToolID: "flashcards"})
	require.NoError(t, err)
	repo.AssertNumberOfCalls(t, "GetUser", 2)
}

func TestGrant_Validation(t *testing.T) {
	past := now.Add(-time.Minute)
	_, err := newService(&MockRepository{}, nil).Grant(context.Background(), "admin-1", "u1",
		models.GrantRequest{ToolID: "flashcards", ExpiresAt: &past})
	require.ErrorIs(t, err, ErrExpiryInPast)

	repo := &MockRepository{}
	repo.On("GetUser", mock.Anything, "ghost").Return(nil, storage.ErrUserNotFound)
	_, err = newService(repo, nil).Grant(context.Background(), "admin-1", "ghost", models.GrantRequest{ToolID: "x"})
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestRevoke(t *testing.T) {
	user := &models.User{
		UID:  "u1",
		Role: models.RoleUser,
		Permissions: []models.PermissionGrant{
			{ToolID: "essay-grader"},
			{ToolID: "flashcards"},
		},
	}

	t.Run("removes grant", func(t *testing.T) {
		repo := &MockRepository{}
		repo.On("GetUser", mock.Anything, "u1").Return(user, nil)
		repo.On("UpdateUserAccess", mock.Anything, mock.Anything).Return(nil)

		got, err := newService(repo, nil).Revoke(context.Background(), "u1", "essay-grader")
		require.NoError(t, err)
		require.Len(t, got.Permissions, 1)
		assert.Equal(t, "flashcards", got.Permissions[0].ToolID)
		assert.Equal(t, []string{"flashcards"}, got.PermissionStatus.Permissions)
	})

	t.Run("unknown grant", func(t *testing.T) {
		repo := &MockRepository{}
		repo.On("GetUser", mock.Anything, "u1").Return(user, nil)

		_, err := newService(repo, nil).Revoke(context.Background(), "u1", "mock-exam")
		require.ErrorIs(t, err, ErrGrantNotFound)
		repo.AssertNotCalled(t, "UpdateUserAccess", mock.Anything, mock.Anything)
	})
}
