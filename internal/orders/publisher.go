package orders

import (
	"context"
	"strconv"

	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/diecast-orders/internal/kafka"
)

// KafkaPublisher writes envelopes to the topic of their event type, keyed by
// order id.
type KafkaPublisher struct {
	Producer *kafkax.Producer
}

func (p *KafkaPublisher) Publish(ctx context.Context, env Envelope) error {
	return p.Producer.Publish(ctx,
		TopicFor(env.EventType),
		PartitionKey(env.CorrelationID),
		kafkax.MustMarshal(env),
		kafkago.Header{Key: "x-event-type", Value: []byte(env.EventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte(strconv.Itoa(env.EventVersion))},
	)
}
