package prepaccess

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/prepaccess/internal/lib/jwt"
	"github.com/magabrotheeeer/prepaccess/internal/ratelimit"
)

func newRouter(t *testing.T, limit int) (http.Handler, jwt.Maker) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	tokens := jwt.NewJWTMaker("secret", time.Hour)
	r := chi.NewRouter()
	RegisterRoutes(r, slog.New(slog.NewTextHandler(io.Discard, nil)), &Services{
		Tokens:  tokens,
		Limiter: ratelimit.New(client, limit, time.Minute),
	})
	return r, tokens
}

func do(h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRoutes_AdminRequiresRoleClaim(t *testing.T) {
	router, tokens := newRouter(t, 100)
	userToken, err := tokens.GenerateToken("u1", "student@example.com", "user")
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, do(router, http.MethodPost, "/api/v1/admin/sweep", "", "").Code)
	assert.Equal(t, http.StatusForbidden, do(router, http.MethodPost, "/api/v1/admin/sweep", userToken, "").Code)
	assert.Equal(t, http.StatusForbidden, do(router, http.MethodPost, "/api/v1/admin/plans", userToken, "{}").Code)
	assert.Equal(t, http.StatusUnauthorized, do(router, http.MethodGet, "/api/v1/tools/essay-grader/access", "", "").Code)
}

func TestRoutes_RateLimitSharedAcrossRequests(t *testing.T) {
	router, _ := newRouter(t, 2)

	for range 2 {
		rec := do(router, http.MethodPost, "/api/v1/login", "", "not json")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	}
	rec := do(router, http.MethodPost, "/api/v1/login", "", "not json")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestRoutes_Metrics(t *testing.T) {
	router, _ := newRouter(t, 100)
	rec := do(router, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
