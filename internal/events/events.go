// Package events provides best-effort publishing of asset change notifications
// to the "image" topic/queue of the configured broker.
package events

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/UnendingLoop/ImageVault/internal/envcfg"
	"github.com/UnendingLoop/ImageVault/internal/model"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	BrokerKafka    = "kafka"
	BrokerRabbitMQ = "rabbitmq"
	BrokerNone     = "none"

	// DefaultTopic - имя топика/очереди для событий по картинкам
	DefaultTopic = "image"
)

// Publisher - отправка события без ожидания подтверждения и без ретраев (at-most-once)
type Publisher interface {
	Publish(ctx context.Context, ev model.Event) error
	Close() error
}

// Encode - JSON-конверт {event, image:{id,name,tag}}
func Encode(ev model.Event) ([]byte, error) {
	return json.Marshal(ev)
}

// Decode - обратное преобразование, используется подписчиком
func Decode(data []byte) (model.Event, error) {
	var ev model.Event
	err := json.Unmarshal(data, &ev)
	return ev, err
}

// NoopPublisher - для EVENT_BROKER=none: события просто не уходят
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, model.Event) error { return nil }

func (NoopPublisher) Close() error { return nil }

// NewPublisher - выбор брокера по EVENT_BROKER; при недоступном брокере ждем его с ретраями до отмены ctx
func NewPublisher(ctx context.Context, cfg envcfg.Getter, delay time.Duration) Publisher {
	broker := strings.ToLower(cfg.GetString("EVENT_BROKER"))
	topic := cfg.GetString("KAFKA_TOPIC")

	switch broker {
	case BrokerNone:
		log.Println("Event broker disabled: asset events will not be published")
		return NoopPublisher{}
	case BrokerRabbitMQ:
		url := cfg.GetString("RABBITMQ_URL")
		for {
			pub, err := DialRabbit(url, topic)
			if err == nil {
				log.Println("Successfully connected to RabbitMQ!")
				return pub
			}
			log.Printf("Failed to connect to RabbitMQ: %v\nNext retry in %v...", err, delay)
			select {
			case <-ctx.Done():
				log.Println("RabbitMQ connection loop canceled, events are disabled")
				return NoopPublisher{}
			case <-time.After(delay):
			}
		}
	case BrokerKafka:
	default:
		log.Printf("Unknown event broker %q, falling back to %q", broker, BrokerKafka)
	}

	addr := cfg.GetString("KAFKA_BROKER")
	WaitKafkaReady(ctx, addr, delay)
	InitKafkaTopics(ctx, addr, delay, topic)
	return NewKafkaPublisher(addr, topic)
}
