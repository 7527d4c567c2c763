package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/prepaccess/internal/config"
	"github.com/magabrotheeeer/prepaccess/internal/models"
)

type testStruct struct {
	Name string
	Age  int
}

func setupTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	db, err := NewClient(context.Background(), config.RedisConnection{AddressRedis: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return New(db, time.Minute), mr
}

func TestSetAndGet(t *testing.T) {
	cache, _ := setupTestCache(t)
	ctx := context.Background()

	expected := testStruct{Name: "Alice", Age: 30}
	require.NoError(t, cache.Set(ctx, "k:1", expected, time.Minute))

	var actual testStruct
	found, err := cache.Get(ctx, "k:1", &actual)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, expected, actual)
}

func TestGetNotFound(t *testing.T) {
	cache, _ := setupTestCache(t)

	var out testStruct
	found, err := cache.Get(context.Background(), "no_such_key", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGetInvalidJSON(t *testing.T) {
	cache, _ := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Db.Set(ctx, "bad", []byte("not-json"), time.Minute).Err())

	var out testStruct
	found, err := cache.Get(ctx, "bad", &out)
	assert.False(t, found)
	assert.Error(t, err)
}

func TestUserRoundTripAndInvalidate(t *testing.T) {
	cache, mr := setupTestCache(t)
	ctx := context.Background()

	ends := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	user := &models.User{
		UID:                     "u-1",
		Email:                   "u@example.com",
		PasswordHash:            "secret-hash",
		Role:                    models.RoleUser,
		SubscriptionPermissions: []string{"question-generator"},
		SubscriptionStatus:      models.SubscriptionActive,
		SubscriptionEndsAt:      &ends,
		Version:                 3,
	}
	_, gen, found, err := cache.GetUser(ctx, "u-1")
	require.NoError(t, err)
	require.False(t, found)
	stored, err := cache.SetUser(ctx, user, gen)
	require.NoError(t, err)
	require.True(t, stored)

	raw, err := mr.Get("user:u-1")
	require.NoError(t, err)
	assert.NotContains(t, raw, "secret-hash")
	assert.Equal(t, time.Minute, mr.TTL("user:u-1"))

	got, _, found, err := cache.GetUser(ctx, "u-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, user.SubscriptionPermissions, got.SubscriptionPermissions)
	assert.True(t, ends.Equal(*got.SubscriptionEndsAt))
	assert.Equal(t, 3, got.Version)
	assert.Empty(t, got.PasswordHash)

	require.NoError(t, cache.InvalidateUser(ctx, "u-1"))
	_, _, found, err = cache.GetUser(ctx, "u-1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSetUser_SkipsSnapshotReadBeforeInvalidation(t *testing.T) {
	cache, mr := setupTestCache(t)
	ctx := context.Background()

	// Читатель промахнулся по кешу и пошёл в базу за старой версией.
	_, gen, found, err := cache.GetUser(ctx, "u-1")
	require.NoError(t, err)
	require.False(t, found)
	stale := &models.User{UID: "u-1", SubscriptionStatus: models.SubscriptionNone, Version: 1}

	// Тем временем активация записала новую версию и сбросила кеш.
	require.NoError(t, cache.InvalidateUser(ctx, "u-1"))

	stored, err := cache.SetUser(ctx, stale, gen)
	require.NoError(t, err)
	assert.False(t, stored)
	assert.False(t, mr.Exists("user:u-1"))

	// Следующий читатель кладёт свежий снимок.
	_, gen, _, err = cache.GetUser(ctx, "u-1")
	require.NoError(t, err)
	fresh := &models.User{UID: "u-1", SubscriptionStatus: models.SubscriptionActive, Version: 2}
	stored, err = cache.SetUser(ctx, fresh, gen)
	require.NoError(t, err)
	assert.True(t, stored)

	got, _, found, err := cache.GetUser(ctx, "u-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 2, got.Version)
}

func TestNewClientInvalidAddr(t *testing.T) {
	db, err := NewClient(context.Background(), config.RedisConnection{
		AddressRedis: "127.0.0.1:1",
		DialTimeout:  100 * time.Millisecond,
	})
	assert.Nil(t, db)
	assert.Error(t, err)
}
