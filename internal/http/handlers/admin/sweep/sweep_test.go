package sweep

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/prepaccess/internal/services/sweeper"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) Sweep(ctx context.Context) (sweeper.Report, error) {
	args := m.Called(ctx)
	return args.Get(0).(sweeper.Report), args.Error(1)
}

func TestSweepHandler_ReportsPartialFailures(t *testing.T) {
	failure := errors.New("sub s3: db down")
	svc := &MockService{}
	svc.On("Sweep", mock.Anything).Return(sweeper.Report{
		ExpiredSubscriptions: 2,
		RevokedGrants:        1,
		Errors:               []error{failure},
	}, failure)

	rec := httptest.NewRecorder()
	New(slog.New(slog.NewTextHandler(io.Discard, nil)), svc).
		ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/sweep", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data Report `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Data.ExpiredSubscriptions)
	assert.Equal(t, 1, resp.Data.RevokedGrants)
	assert.Equal(t, []string{"sub s3: db down"}, resp.Data.Errors)
}
