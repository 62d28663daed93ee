package events

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/UnendingLoop/ImageVault/internal/model"
	kafkago "github.com/segmentio/kafka-go"
	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"
)

// kafkaProducer - то, что нужно от wbf-продюсера
type kafkaProducer interface {
	SendWithRetry(ctx context.Context, strategy retry.Strategy, key []byte, v []byte) error
	Close() error
}

// одна попытка: доставка best-effort, ретраи не нужны
var singleShot = retry.Strategy{
	Attempts: 1,
	Delay:    0,
	Backoff:  1,
}

type KafkaPublisher struct {
	producer kafkaProducer
}

// батч уходит не позже, чем через этот интервал
const kafkaBatchTimeout = 10 * time.Millisecond

// NewKafkaPublisher - асинхронный writer: WriteMessages только ставит сообщение в батч
// и не ждет ответа брокера, ошибки доставки приходят в Completion и логируются
func NewKafkaPublisher(brokerAddr, topic string) *KafkaPublisher {
	producer := wbfkafka.NewProducer([]string{brokerAddr}, topic)
	producer.Writer.Async = true
	producer.Writer.BatchTimeout = kafkaBatchTimeout
	producer.Writer.Completion = logDeliveryErrors
	return &KafkaPublisher{producer: producer}
}

func logDeliveryErrors(messages []kafkago.Message, err error) {
	if err == nil {
		return
	}
	for _, msg := range messages {
		log.Printf("Failed to deliver event for asset %s: %v", msg.Key, err)
	}
}

// Publish - ключ сообщения = id ассета, чтобы события одного ассета шли в одну партицию
func (p *KafkaPublisher) Publish(ctx context.Context, ev model.Event) error {
	body, err := Encode(ev)
	if err != nil {
		return err
	}
	return p.producer.SendWithRetry(ctx, singleShot, []byte(ev.Image.ID.String()), body)
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// InitKafkaTopics - creates topics in kafka
func InitKafkaTopics(ctx context.Context, brokerAddr string, delay time.Duration, topics ...string) {
	client := &kafkago.Client{
		Addr:    kafkago.TCP(brokerAddr),
		Timeout: 10 * time.Second,
	}

	req := kafkago.CreateTopicsRequest{
		Topics: make([]kafkago.TopicConfig, 0, len(topics)),
	}

	for _, t := range topics {
		topic := kafkago.TopicConfig{
			Topic:             t,
			NumPartitions:     1,
			ReplicationFactor: 1,
		}
		req.Topics = append(req.Topics, topic)
	}

	for {
		select {
		case <-ctx.Done():
			log.Println("InitKafkaTopics canceled or timed out")
			return
		default:
		}

		resp, err := client.CreateTopics(ctx, &req)
		if err != nil {
			log.Printf("Failed to run topics creation request: %v\nWait %v before next try...", err, delay)
			sleepCtx(ctx, delay)
			continue
		}

		successT := 0
		for k, v := range resp.Errors {
			switch {
			case v == nil, errors.Is(v, kafkago.TopicAlreadyExists):
				successT++
			default:
				log.Printf("Topic %q creation error: %v", k, v)
			}
		}

		if len(resp.Errors) == successT {
			log.Println("All topics are ready!")
			return
		}
		sleepCtx(ctx, delay)
	}
}

// WaitKafkaReady - ждем, пока брокер начнет принимать соединения
func WaitKafkaReady(ctx context.Context, brokerAddr string, delay time.Duration) {
	for {
		conn, err := kafkago.DialContext(ctx, "tcp", brokerAddr)
		if err == nil {
			if errConn := conn.Close(); errConn != nil {
				log.Println("Failed to close connection after testing Kafka readyness:", errConn)
			}
			log.Println("Kafka is ready!")
			return
		}
		log.Printf("Kafka not ready, retrying in %v...", delay)
		if !sleepCtx(ctx, delay) {
			log.Println("WaitKafkaReady canceled")
			return
		}
	}
}

// sleepCtx - false если ctx отменили раньше
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
