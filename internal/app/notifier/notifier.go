// Package notifier содержит фоновый процесс, который читает события подписок
// из RabbitMQ и рассылает письма пользователям.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/streadway/amqp"
	"golang.org/x/sync/errgroup"

	"github.com/magabrotheeeer/prepaccess/internal/config"
	"github.com/magabrotheeeer/prepaccess/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/prepaccess/internal/lib/sl"
	"github.com/magabrotheeeer/prepaccess/internal/lib/smtp"
	notifierservice "github.com/magabrotheeeer/prepaccess/internal/services/notifier"
	"github.com/magabrotheeeer/prepaccess/internal/storage/repository"
)

const workersPerQueue = 4

// App представляет приложение рассылки уведомлений.
type App struct {
	service *notifierservice.Service
	db      *repository.Storage
	conn    *amqp.Connection
	ch      *amqp.Channel
	logger  *slog.Logger
}

// New создает новый экземпляр приложения.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg.RabbitMQURL == "" {
		return nil, errors.New("rabbitmq_url is required for notifier")
	}

	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect storage: %w", err)
	}
	if err := repository.WaitReady(ctx, db, 10, 3*time.Second); err != nil {
		_ = db.DB.Close()
		return nil, err
	}

	app := &App{db: db, logger: logger}

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

	sender := smtp.NewSender(smtp.NewTransport(cfg.SMTP, logger), logger)
	app.service = notifierservice.New(logger, db, sender)
	return app, nil
}

// Run обрабатывает очереди до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	defer a.close()
	a.logger.Info("notifier started")

	handlers := map[string]rabbitmq.Handler{
		rabbitmq.QueueSubscriptionActivated: a.service.HandleActivated,
		rabbitmq.QueueSubscriptionExpired:   a.service.HandleExpired,
	}

	g, gctx := errgroup.WithContext(ctx)
	for queue, handler := range handlers {
		g.Go(func() error {
			return rabbitmq.Consume(gctx, a.ch, queue, workersPerQueue, a.logger, handler)
		})
	}
	err := g.Wait()
	a.logger.Info("shutting down notifier")
	return err
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
	if err := a.db.DB.Close(); err != nil {
		a.logger.Error("failed to close database", sl.Err(err))
	}
}
