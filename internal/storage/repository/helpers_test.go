package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/magabrotheeeer/prepaccess/internal/migrations"
	"github.com/magabrotheeeer/prepaccess/internal/models"
)

const postgresPort = nat.Port("5432/tcp")

// setupTestDatabase поднимает PostgreSQL в контейнере и применяет миграции.
func setupTestDatabase(t *testing.T) *Storage {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	require.NoError(t, err, "failed to start container")
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, postgresPort)
	require.NoError(t, err)

	connStr := fmt.Sprintf("postgres://testuser:testpass@%s:%s/testdb?sslmode=disable", host, port.Port())

	var storage *Storage
	for range 10 {
		storage, err = New(connStr)
		if err == nil {
			break
		}
		time.Sleep(time.Second)
	}
	require.NoError(t, err, "failed to create storage after retries")
	t.Cleanup(func() { _ = storage.DB.Close() })

	migrationsPath, err := filepath.Abs("../../../migrations")
	require.NoError(t, err)
	require.NoError(t, migrations.Run(storage.DB, migrationsPath))
	require.NoError(t, CheckDatabaseReady(ctx, storage))

	return storage
}

// TestDataFactory создаёт тестовые записи через публичные методы Storage.
type TestDataFactory struct {
	storage *Storage
}

func NewTestDataFactory(storage *Storage) *TestDataFactory {
	return &TestDataFactory{storage: storage}
}

func (f *TestDataFactory) CreateUser(t *testing.T) *models.User {
	t.Helper()
	u := &models.User{
		Email:        uuid.NewString() + "@example.com",
		Name:         "Test User",
		PasswordHash: "hash",
		Role:         models.RoleUser,
	}
	_, err := f.storage.CreateUser(context.Background(), u)
	require.NoError(t, err)
	return u
}

func (f *TestDataFactory) CreatePlan(t *testing.T, id string, durationDays int, permissions ...string) *models.Plan {
	t.Helper()
	p := &models.Plan{
		ID:           id,
		Name:         id,
		DisplayName:  "Plan " + id,
		Price:        34900,
		Currency:     "TL",
		DurationDays: durationDays,
		Features:     []string{"feature"},
		Permissions:  permissions,
		IsActive:     true,
	}
	require.NoError(t, f.storage.CreatePlan(context.Background(), p))
	return p
}

func (f *TestDataFactory) CreateSubscription(t *testing.T, userUID, planID, status string, start, end time.Time) *models.Subscription {
	t.Helper()
	sub := &models.Subscription{
		ID:          uuid.NewString(),
		UserUID:     userUID,
		PlanID:      planID,
		Status:      status,
		StartDate:   start,
		EndDate:     end,
		Permissions: []string{"question-generator"},
	}
	require.NoError(t, f.storage.CreateSubscription(context.Background(), sub))
	return sub
}
