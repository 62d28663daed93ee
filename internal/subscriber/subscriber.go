// Package subscriber contains the consumer side of asset events: it reads the
// "image" topic/queue, logs every event and acknowledges it.
package subscriber

import (
	"context"

	"github.com/UnendingLoop/ImageVault/internal/events"
	"github.com/UnendingLoop/ImageVault/internal/model"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/wb-go/wbf/zlog"
)

// Delivery - сообщение из любого брокера + способ его подтвердить
type Delivery struct {
	Body []byte
	Ack  func(ctx context.Context) error
}

// HandlerFunc - что делать с событием; ошибка = не подтверждать, брокер передоставит
type HandlerFunc func(ctx context.Context, ev model.Event) error

type Subscriber struct {
	queue   <-chan Delivery
	handler HandlerFunc
	logger  zlog.Zerolog
}

func NewSubscriber(q <-chan Delivery, h HandlerFunc) *Subscriber {
	if h == nil {
		h = LogEvent
	}
	return &Subscriber{queue: q, handler: h, logger: zlog.Logger}
}

// LogEvent - обработчик по умолчанию: просто пишем событие в лог
func LogEvent(ctx context.Context, ev model.Event) error {
	zlog.Logger.Info().
		Str("event", string(ev.Event)).
		Str("asset_id", ev.Image.ID.String()).
		Str("name", ev.Image.Name).
		Str("tag", ev.Image.Tag).
		Msg("Received event")
	return nil
}

// Run - блокируется до отмены ctx или закрытия очереди (kafka-путь; для rabbitmq - HandleRabbit)
func (s *Subscriber) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-s.queue:
			if !ok {
				s.logger.Info().Msg("Queue channel closed, stopping subscriber...")
				return
			}
			s.process(ctx, d)
		}
	}
}

// Handle - nil, если сообщение можно подтверждать: обработано либо битое.
// Битое сообщение повторная доставка не починит, поэтому его тоже подтверждаем
func (s *Subscriber) Handle(ctx context.Context, body []byte) error {
	ev, err := events.Decode(body)
	switch {
	case err != nil:
		s.logger.Error().Err(err).Bytes("body", body).Msg("Skipping malformed event")
		return nil
	case ev.Event == "":
		s.logger.Error().Bytes("body", body).Msg("Skipping event without type")
		return nil
	}

	if err := s.handler(ctx, ev); err != nil {
		s.logger.Error().Err(err).Str("asset_id", ev.Image.ID.String()).Msg("Event handling failed, leaving unacknowledged")
		return err
	}
	return nil
}

// HandleRabbit - обработчик для wbf-консьюмера rabbitmq: nil = ack, ошибка = nack с возвратом в очередь
func (s *Subscriber) HandleRabbit(ctx context.Context, d amqp.Delivery) error {
	return s.Handle(ctx, d.Body)
}

func (s *Subscriber) process(ctx context.Context, d Delivery) {
	if err := s.Handle(ctx, d.Body); err != nil {
		return
	}
	if d.Ack == nil {
		return
	}
	if err := d.Ack(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Failed to acknowledge queue-message")
	}
}
