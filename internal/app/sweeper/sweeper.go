// Package sweeper содержит фоновый процесс, который периодически снимает
// истёкшие подписки, выдачи и пробные периоды.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/prepaccess/internal/cache"
	"github.com/magabrotheeeer/prepaccess/internal/config"
	"github.com/magabrotheeeer/prepaccess/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/prepaccess/internal/lib/sl"
	"github.com/magabrotheeeer/prepaccess/internal/permission"
	sweeperservice "github.com/magabrotheeeer/prepaccess/internal/services/sweeper"
	"github.com/magabrotheeeer/prepaccess/internal/storage/repository"
)

// App представляет приложение фоновой проверки.
type App struct {
	service  *sweeperservice.Service
	interval time.Duration
	db       *repository.Storage
	redis    *redis.Client
	conn     *amqp.Connection
	ch       *amqp.Channel
	logger   *slog.Logger
}

// New создает новый экземпляр приложения. Схема базы создаётся API-сервисом,
// здесь только ожидание её готовности.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect storage: %w", err)
	}
	if err := repository.WaitReady(ctx, db, 10, 3*time.Second); err != nil {
		_ = db.DB.Close()
		return nil, err
	}

	redisClient, err := cache.NewClient(ctx, cfg.RedisConnection)
	if err != nil {
		_ = db.DB.Close()
		return nil, fmt.Errorf("cache not initialized: %w", err)
	}

	app := &App{
		interval: cfg.Interval,
		db:       db,
		redis:    redisClient,
		logger:   logger,
	}

	var publisher sweeperservice.Publisher
	if cfg.RabbitMQURL != "" {
		app.conn, err = rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
		if err != nil {
			app.close()
			return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
		}
		app.ch, err = rabbitmq.SetupChannel(app.conn, cfg.Exchange, rabbitmq.BillingQueues())
		if err != nil {
			app.close()
			return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
		}
		publisher = rabbitmq.NewPublisher(app.ch, cfg.Exchange)
	}

	app.service = sweeperservice.New(
		logger,
		db,
		cache.New(redisClient, cfg.CacheTTL),
		publisher,
		permission.NewResolver(cfg.TrialTools),
		cfg.BatchSize,
	)
	return app, nil
}

// Run выполняет проходы до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("sweeper started", slog.Duration("interval", a.interval))
	a.service.Run(ctx, a.interval)
	a.logger.Info("shutting down sweeper")
	a.close()
	return nil
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
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("failed to close redis", sl.Err(err))
		}
	}
	if err := a.db.DB.Close(); err != nil {
		a.logger.Error("failed to close database", sl.Err(err))
	}
}
