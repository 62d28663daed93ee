// Package main (in subscriber-subfolder) provides launch of the asset-events subscriber
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/UnendingLoop/ImageVault/internal/envcfg"
	"github.com/UnendingLoop/ImageVault/internal/events"
	"github.com/UnendingLoop/ImageVault/internal/subscriber"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/wb-go/wbf/config"
	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/rabbitmq"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"
)

func main() {
	// инициализировать конфиг/ считать энвы
	appConfig := config.New()
	appConfig.EnableEnv("")
	envcfg.SetDefaults(appConfig)
	if err := appConfig.LoadEnvFiles("./.env"); err != nil {
		log.Printf("Failed to load .env (%s), using process environment only", err)
	}

	zlog.InitConsole()
	if err := zlog.SetLevel(appConfig.GetString("LOG_LEVEL")); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}

	// Listening to interruptions through context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	topic := appConfig.GetString("KAFKA_TOPIC")
	broker := strings.ToLower(appConfig.GetString("EVENT_BROKER"))

	var closer SourceCloser
	sub := subscriber.NewSubscriber(nil, subscriber.LogEvent)

	switch broker {
	case events.BrokerRabbitMQ:
		url := appConfig.GetString("RABBITMQ_URL")
		cons := dialRabbitWithRetries(ctx, url, topic, sub.HandleRabbit, 10*time.Second)
		if cons == nil {
			return
		}
		closer = cons

		// консьюмер сам переподключается после рестарта брокера; выходим только при фатальной ошибке
		go func() {
			if err := cons.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("RabbitMQ consumer stopped: %v", err)
			}
			stop()
		}()
	case events.BrokerNone:
		log.Println("EVENT_BROKER=none: nothing to subscribe to. Exiting...")
		return
	default:
		// ждем пока кафка раздуплится
		addr := appConfig.GetString("KAFKA_BROKER")
		events.WaitKafkaReady(ctx, addr, 10*time.Second)
		events.InitKafkaTopics(ctx, addr, 10*time.Second, topic)

		// подключиться к кафке как читатель
		messages := make(chan kafkago.Message)
		retryStrategy := retry.Strategy{
			Attempts: 5,
			Delay:    2 * time.Second,
			Backoff:  1.5,
		}
		cons := wbfkafka.NewConsumer([]string{addr}, topic, appConfig.GetString("KAFKA_GROUPID"))
		cons.StartConsuming(ctx, messages, retryStrategy)
		closer = cons

		// очередь закрывается, когда консьюмер исчерпал ретраи - не висим мертвым процессом
		sub = subscriber.NewSubscriber(subscriber.FromKafka(ctx, messages, cons), subscriber.LogEvent)
		go func() {
			sub.Run(ctx)
			stop()
		}()
	}

	// Waiting for interruption to stop context to start Graceful shutdown
	<-ctx.Done()

	shutdown(closer)
	log.Println("Exiting subscriber...")
}

func dialRabbitWithRetries(ctx context.Context, url, queue string, handler rabbitmq.MessageHandler, delay time.Duration) *events.RabbitConsumer {
	for {
		cons, err := events.DialRabbitConsumer(url, queue, "image-subscriber", handler)
		if err == nil {
			log.Println("Subscribed to RabbitMQ queue", queue)
			return cons
		}
		log.Printf("Failed to subscribe to RabbitMQ: %v\nNext retry in %v...", err, delay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

func shutdown(src SourceCloser) {
	log.Println("Interrupt received!!! Starting shutdown sequence...")

	// Closing broker connection:
	if err := src.Close(); err != nil {
		log.Println("Failed to close broker connection:", err)
	}
	log.Println("Broker connection closed.")
}
