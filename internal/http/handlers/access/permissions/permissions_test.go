package permissions

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/prepaccess/internal/http/middlewarectx"
	"github.com/magabrotheeeer/prepaccess/internal/models"
	"github.com/magabrotheeeer/prepaccess/internal/services/access"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) Status(ctx context.Context, uid string) (models.PermissionStatus, error) {
	args := m.Called(ctx, uid)
	return args.Get(0).(models.PermissionStatus), args.Error(1)
}

func TestPermissionsHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	checked := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)

	t.Run("returns computed status", func(t *testing.T) {
		svc := &MockService{}
		svc.On("Status", mock.Anything, "u1").Return(models.PermissionStatus{
			Permissions:        []string{"essay-grader", "question-generator"},
			Source:             models.SourceSubscription,
			SubscriptionActive: true,
			LastChecked:        checked,
		}, nil)

		req := httptest.NewRequest(http.MethodGet, "/me/permissions", nil)
		req = req.WithContext(context.WithValue(req.Context(), middlewarectx.UserUID, "u1"))
		rec := httptest.NewRecorder()
		New(logger, svc).ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			Data models.PermissionStatus `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, []string{"essay-grader", "question-generator"}, resp.Data.Permissions)
		assert.Equal(t, models.SourceSubscription, resp.Data.Source)
		assert.True(t, resp.Data.LastChecked.Equal(checked))
	})

	t.Run("unknown user", func(t *testing.T) {
		svc := &MockService{}
		svc.On("Status", mock.Anything, "ghost").Return(models.PermissionStatus{}, access.ErrUserNotFound)

		req := httptest.NewRequest(http.MethodGet, "/me/permissions", nil)
		req = req.WithContext(context.WithValue(req.Context(), middlewarectx.UserUID, "ghost"))
		rec := httptest.NewRecorder()
		New(logger, svc).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
