package subscriber

import (
	"context"

	kafkago "github.com/segmentio/kafka-go"
)

// Committer - коммит оффсета в kafka (wbf/kafka.Consumer)
type Committer interface {
	Commit(ctx context.Context, msg kafkago.Message) error
}

// FromKafka - перекладывает сообщения kafka в общую очередь; ack = commit оффсета
func FromKafka(ctx context.Context, in <-chan kafkago.Message, c Committer) <-chan Delivery {
	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				d := Delivery{
					Body: msg.Value,
					Ack: func(ctx context.Context) error {
						return c.Commit(ctx, msg)
					},
				}
				select {
				case out <- d:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
