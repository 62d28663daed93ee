package main

// SourceCloser - источник сообщений, который надо закрыть при выходе (kafka-консьюмер или канал rabbitmq)
type SourceCloser interface {
	Close() error
}
