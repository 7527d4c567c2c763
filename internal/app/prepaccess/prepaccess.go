// Package prepaccess собирает HTTP API сервиса доступа к инструментам:
// хранилище, кеш, брокер событий, платёжный шлюз и маршруты.
package prepaccess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/redis/go-redis/v9"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/prepaccess/internal/cache"
	"github.com/magabrotheeeer/prepaccess/internal/config"
	"github.com/magabrotheeeer/prepaccess/internal/gateway"
	"github.com/magabrotheeeer/prepaccess/internal/http/handlers/health"
	"github.com/magabrotheeeer/prepaccess/internal/lib/jwt"
	"github.com/magabrotheeeer/prepaccess/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/prepaccess/internal/lib/sl"
	"github.com/magabrotheeeer/prepaccess/internal/migrations"
	"github.com/magabrotheeeer/prepaccess/internal/permission"
	"github.com/magabrotheeeer/prepaccess/internal/ratelimit"
	"github.com/magabrotheeeer/prepaccess/internal/services/access"
	"github.com/magabrotheeeer/prepaccess/internal/services/activation"
	"github.com/magabrotheeeer/prepaccess/internal/services/auth"
	"github.com/magabrotheeeer/prepaccess/internal/services/catalog"
	"github.com/magabrotheeeer/prepaccess/internal/services/checkout"
	"github.com/magabrotheeeer/prepaccess/internal/services/sweeper"
	"github.com/magabrotheeeer/prepaccess/internal/services/webhook"
	"github.com/magabrotheeeer/prepaccess/internal/storage/repository"
)

// Services зависимости обработчиков.
type Services struct {
	Auth     *auth.Service
	Access   *access.Service
	Catalog  *catalog.Service
	Checkout *checkout.Service
	Webhook  *webhook.Service
	Sweeper  *sweeper.Service
	Tokens   jwt.Maker
	Limiter  *ratelimit.Limiter
	Health   map[string]health.Check
}

// EventPublisher публикует доменные события в брокер.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, message any) error
}

type App struct {
	server *http.Server
	logger *slog.Logger
	db     *repository.Storage
	redis  *redis.Client
	conn   *amqp.Connection
	ch     *amqp.Channel
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, err
	}
	if err = migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
		_ = db.DB.Close()
		return nil, err
	}

	redisClient, err := cache.NewClient(ctx, cfg.RedisConnection)
	if err != nil {
		_ = db.DB.Close()
		return nil, err
	}

	app := &App{logger: logger, db: db, redis: redisClient}

	var publisher EventPublisher
	if cfg.RabbitMQURL != "" {
		app.conn, app.ch, err = connectBroker(cfg.RabbitMQ)
		if err != nil {
			app.close()
			return nil, err
		}
		publisher = rabbitmq.NewPublisher(app.ch, cfg.Exchange)
	} else {
		logger.Warn("rabbitmq_url is empty, domain events are not published")
	}

	userCache := cache.New(redisClient, cfg.CacheTTL)
	services := Build(cfg, logger, db, userCache, publisher, redisClient)

	if err = seedAdmin(ctx, cfg.Admin, services.Auth, userCache, logger); err != nil {
		app.close()
		return nil, err
	}

	router := chi.NewRouter()
	RegisterRoutes(router, logger, services)

	app.server = &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return app, nil
}

// Build связывает сервисы предметной области с хранилищем, кешем и брокером.
// publisher может быть nil.
func Build(cfg *config.Config, logger *slog.Logger, db *repository.Storage, userCache *cache.Cache,
	publisher EventPublisher, redisClient *redis.Client) *Services {
	resolver := permission.NewResolver(cfg.TrialTools)
	tokens := jwt.NewJWTMaker(cfg.JWTSecretKey, cfg.TokenTTL)
	verifier := gateway.NewVerifier(cfg.MerchantKey, cfg.MerchantSalt)

	activator := activation.New(logger, db, userCache, publisher, resolver, cfg.OperationTimeout)

	return &Services{
		Auth:     auth.New(logger, db, tokens, resolver, cfg.TrialDays),
		Access:   access.New(logger, db, userCache, resolver),
		Catalog:  catalog.New(logger, db, userCache, resolver),
		Checkout: checkout.New(logger, db, gateway.NewClient(cfg.Gateway, verifier), cfg.Currency),
		Webhook:  webhook.New(logger, verifier, db, activator),
		Sweeper:  sweeper.New(logger, db, userCache, publisher, resolver, cfg.BatchSize),
		Tokens:   tokens,
		Limiter:  ratelimit.New(redisClient, cfg.RequestsPerWindow, cfg.Window),
		Health: map[string]health.Check{
			"postgres": db.DB.PingContext,
			"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		},
	}
}

// seedAdmin заводит администратора из конфигурации. Без ADMIN_PASSWORD_HASH
// шаг пропускается.
func seedAdmin(ctx context.Context, cfg config.Admin, authService *auth.Service, userCache *cache.Cache, logger *slog.Logger) error {
	if cfg.AdminPasswordHash == "" {
		logger.Warn("admin_password_hash is empty, admin account is not seeded")
		return nil
	}
	admin, err := authService.EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPasswordHash)
	if err != nil {
		return fmt.Errorf("failed to seed admin: %w", err)
	}
	if err := userCache.InvalidateUser(ctx, admin.UID); err != nil {
		logger.Warn("failed to invalidate admin cache entry", sl.Err(err))
	}
	return nil
}

func connectBroker(cfg config.RabbitMQ) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}
	ch, err := rabbitmq.SetupChannel(conn, cfg.Exchange, rabbitmq.BillingQueues())
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}
	return conn, ch, nil
}

func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		a.close()
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		err := a.server.Shutdown(timeoutCtx)
		a.close()
		return err
	}
}

func (a *App) close() {
	if a.ch != nil {
		if err := a.ch.Close(); err != nil {
			a.logger.Error("failed to close channel", sl.Err(err))
		}
	}
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			a.logger.Error("failed to close connection", sl.Err(err))
		}
	}
	if err := a.redis.Close(); err != nil {
		a.logger.Error("failed to close redis", sl.Err(err))
	}
	if err := a.db.DB.Close(); err != nil {
		a.logger.Error("failed to close database", sl.Err(err))
	}
}
