package kafka

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/diecast-orders/internal/logger"
)

// Handler must return nil only when the message was processed and its offset
// may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

// Consumer reads a group of topics and hands messages to a fixed set of
// workers. A message whose handler keeps failing is logged and committed after
// MaxAttempts, so one bad event cannot stall its partition.
type Consumer struct {
	r           *kafka.Reader
	workers     int
	log         *logger.Logger
	MaxAttempts int
	Backoff     time.Duration
}

func NewConsumer(brokers []string, group string, topics []string, workers int, log *logger.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		GroupTopics:    topics,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{r: r, workers: workers, log: log, MaxAttempts: 5, Backoff: 200 * time.Millisecond}
}

// Start blocks until ctx is done or the reader fails.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	jobs := make(chan kafka.Message, c.workers*64)
	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range jobs {
				c.handle(ctx, h, m)
			}
		}()
	}
	defer wg.Wait()
	defer close(jobs)

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case jobs <- m:
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Consumer) handle(ctx context.Context, h Handler, m kafka.Message) {
	var err error
	for attempt := 1; attempt <= c.MaxAttempts; attempt++ {
		if err = h(ctx, m); err == nil {
			break
		}
		c.log.Warn("consumer handler error", "topic", m.Topic, "partition", m.Partition, "offset", m.Offset, "attempt", attempt, err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.Backoff * time.Duration(attempt)):
		}
	}
	if err != nil {
		c.log.Error("giving up on message", "topic", m.Topic, "partition", m.Partition, "offset", m.Offset, err)
	}
	if err := c.r.CommitMessages(ctx, m); err != nil && !errors.Is(err, context.Canceled) {
		c.log.Warn("commit failed", "topic", m.Topic, "offset", m.Offset, err)
	}
}
