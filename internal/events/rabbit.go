package events

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/UnendingLoop/ImageVault/internal/model"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/wb-go/wbf/rabbitmq"
	"github.com/wb-go/wbf/retry"
)

// rabbitSender - то, что нужно от wbf-паблишера
type rabbitSender interface {
	Publish(ctx context.Context, body []byte, routingKey string, opts ...rabbitmq.PublishOption) error
}

// RabbitPublisher - публикация в durable-очередь через одноименный direct exchange.
// Переподключением к брокеру занимается wbf-клиент
type RabbitPublisher struct {
	client io.Closer
	sender rabbitSender
	queue  string
}

func rabbitClientConfig(url, name string) rabbitmq.ClientConfig {
	return rabbitmq.ClientConfig{
		URL:            url,
		ConnectionName: name,
		ReconnectStrat: retry.Strategy{Attempts: 1, Delay: 2 * time.Second, Backoff: 1.5},
		ProducingStrat: singleShot,
		ConsumingStrat: singleShot,
	}
}

// declareRabbitTopology - exchange, очередь и привязка с именем queue
func declareRabbitTopology(client *rabbitmq.RabbitClient, queue string) error {
	if err := client.DeclareExchange(queue, amqp.ExchangeDirect, true, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %q: %w", queue, err)
	}
	if err := client.DeclareQueue(queue, queue, queue, true, false, true, nil); err != nil {
		return fmt.Errorf("failed to declare queue %q: %w", queue, err)
	}
	return nil
}

func DialRabbit(url, queue string) (*RabbitPublisher, error) {
	client, err := rabbitmq.NewClient(rabbitClientConfig(url, "image-vault-api"))
	if err != nil {
		return nil, fmt.Errorf("failed to dial rabbitmq: %w", err)
	}
	if err := declareRabbitTopology(client, queue); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &RabbitPublisher{
		client: client,
		sender: rabbitmq.NewPublisher(client, queue, "application/json"),
		queue:  queue,
	}, nil
}

// withEnvelope - persistent-доставка и метаданные события в свойствах сообщения
func withEnvelope(ev model.Event) rabbitmq.PublishOption {
	return func(p *amqp.Publishing) {
		p.DeliveryMode = amqp.Persistent
		p.MessageId = ev.Image.ID.String()
		p.Timestamp = time.Now().UTC()
		p.Type = string(ev.Event)
	}
}

func (p *RabbitPublisher) Publish(ctx context.Context, ev model.Event) error {
	body, err := Encode(ev)
	if err != nil {
		return err
	}
	return p.sender.Publish(ctx, body, p.queue, withEnvelope(ev))
}

func (p *RabbitPublisher) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}

// RabbitConsumer - подписка на ту же очередь. Ack/nack и переподключение делает wbf-консьюмер:
// handler вернул nil - ack, ошибку - nack с возвратом в очередь
type RabbitConsumer struct {
	client   *rabbitmq.RabbitClient
	consumer *rabbitmq.Consumer
}

func DialRabbitConsumer(url, queue, consumerTag string, handler rabbitmq.MessageHandler) (*RabbitConsumer, error) {
	client, err := rabbitmq.NewClient(rabbitClientConfig(url, consumerTag))
	if err != nil {
		return nil, fmt.Errorf("failed to dial rabbitmq: %w", err)
	}
	if err := declareRabbitTopology(client, queue); err != nil {
		_ = client.Close()
		return nil, err
	}

	consumer := rabbitmq.NewConsumer(client, rabbitmq.ConsumerConfig{
		Queue:         queue,
		ConsumerTag:   consumerTag,
		Nack:          rabbitmq.NackConfig{Requeue: true},
		Workers:       1,
		PrefetchCount: 16,
	}, handler)

	return &RabbitConsumer{client: client, consumer: consumer}, nil
}

// Start - блокируется до отмены ctx или закрытия клиента
func (c *RabbitConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

func (c *RabbitConsumer) Close() error {
	return c.client.Close()
}
