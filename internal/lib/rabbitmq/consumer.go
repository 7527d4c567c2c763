package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/prepaccess/internal/lib/sl"
)

// ErrDrop возвращается обработчиком для сообщений, которые бессмысленно
// доставлять повторно. Такое сообщение отклоняется без возврата в очередь.
var ErrDrop = errors.New("drop message")

// Handler обрабатывает тело одного сообщения.
type Handler func(ctx context.Context, body []byte) error

// Consume читает очередь queueName и обрабатывает сообщения не более чем
// workers обработчиками одновременно. Блокируется до отмены ctx или закрытия
// канала и дожидается завершения начатых обработчиков. После отмены ctx
// возвращает nil, при закрытии канала брокером amqp.ErrClosed.
func Consume(ctx context.Context, ch *amqp.Channel, queueName string, workers int, log *slog.Logger, handler Handler) error {
	const op = "rabbitmq.Consume"
	if workers <= 0 {
		workers = 1
	}
	if err := ch.Qos(workers, 0, false); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	deliveries, err := ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := consume(ctx, deliveries, workers, log.With(slog.String("queue", queueName)), handler); err != nil {
		return fmt.Errorf("%s: queue %s: %w", op, queueName, err)
	}
	return nil
}

func consume(ctx context.Context, deliveries <-chan amqp.Delivery, workers int, log *slog.Logger, handler Handler) error {
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return amqp.ErrClosed
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				_ = d.Nack(false, true)
				return nil
			}
			wg.Add(1)
			go func(d amqp.Delivery) {
				defer wg.Done()
				defer func() { <-sem }()
				handle(ctx, d, log, handler)
			}(d)
		}
	}
}

func handle(ctx context.Context, d amqp.Delivery, log *slog.Logger, handler Handler) {
	err := handler(ctx, d.Body)
	switch {
	case err == nil:
		if ackErr := d.Ack(false); ackErr != nil {
			log.Error("failed to ack message", sl.Err(ackErr))
		}
	case errors.Is(err, ErrDrop):
		log.Warn("message dropped", slog.String("message_id", d.MessageId), sl.Err(err))
		if nackErr := d.Nack(false, false); nackErr != nil {
			log.Error("failed to nack message", sl.Err(nackErr))
		}
	default:
		log.Error("message handler failed, requeue", slog.String("message_id", d.MessageId), sl.Err(err))
		if nackErr := d.Nack(false, true); nackErr != nil {
			log.Error("failed to nack message", sl.Err(nackErr))
		}
	}
}
