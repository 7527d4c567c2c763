package prepaccess

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/prepaccess/internal/cache"
	"github.com/magabrotheeeer/prepaccess/internal/config"
	"github.com/magabrotheeeer/prepaccess/internal/lib/jwt"
	"github.com/magabrotheeeer/prepaccess/internal/lib/password"
	"github.com/magabrotheeeer/prepaccess/internal/permission"
	"github.com/magabrotheeeer/prepaccess/internal/services/auth"
)

func TestSeedAdmin(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := auth.New(log, nil, jwt.NewJWTMaker("secret", time.Hour), permission.NewResolver(nil), 7)
	userCache := cache.New(client, time.Minute)

	t.Run("skipped without password hash", func(t *testing.T) {
		err := seedAdmin(context.Background(), config.Admin{AdminEmail: "admin@example.com"}, svc, userCache, log)
		require.NoError(t, err)
	})

	t.Run("plain password is refused", func(t *testing.T) {
		err := seedAdmin(context.Background(), config.Admin{
			AdminEmail:        "admin@example.com",
			AdminPasswordHash: "root-secret",
		}, svc, userCache, log)
		require.ErrorIs(t, err, password.ErrInvalidHash)
	})
}
