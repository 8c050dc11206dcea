package projector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/diecast-orders/internal/kafka"
	"github.com/ariefcatur/diecast-orders/internal/logger"
	"github.com/ariefcatur/diecast-orders/internal/metrics"
	"github.com/ariefcatur/diecast-orders/internal/orders"
	"github.com/ariefcatur/diecast-orders/internal/redisx"
)

// Service folds order events into the redis status cache that
// GET /orders/{id}/status reads from.
type Service struct {
	Redis redis.Cmdable
	Log   *logger.Logger
	// Name scopes the dedup keys, so two projectors never share them.
	Name string
}

// HandleEvent is installed as the consumer handler.
func (s *Service) HandleEvent(ctx context.Context, m kafkago.Message) error {
	// 1) decode envelope; a message we cannot read will never get better
	var env orders.Envelope
	if err := kafkax.UnmarshalEnvelope(m.Value, &env); err != nil {
		s.Log.Warn("skip undecodable message", "topic", m.Topic, "offset", m.Offset, err)
		metrics.RecordProjected("unknown", "error")
		return nil
	}

	// 2) dedup per event id
	dkey := fmt.Sprintf(redisx.KeyDedup, s.Name, env.EventID)
	won, err := redisx.Claim(ctx, s.Redis, dkey, "1", redisx.TTLDedup)
	if err != nil {
		return err
	}
	if !won {
		metrics.RecordProjected(env.EventType, "duplicate")
		return nil
	}

	// 3) every order event starts with the common snapshot
	p, err := kafkax.UnwrapPayload[orders.OrderChangedPayload](env.Payload)
	if err != nil || p.OrderID == "" {
		s.Log.Warn("skip event without order snapshot", "event_id", env.EventID, "event_type", env.EventType, err)
		metrics.RecordProjected(env.EventType, "error")
		return nil
	}

	applied, err := s.apply(ctx, p)
	if err != nil {
		// let the redelivery through the dedup gate
		_ = s.Redis.Del(ctx, dkey).Err()
		metrics.RecordProjected(env.EventType, "error")
		return err
	}
	if !applied {
		metrics.RecordProjected(env.EventType, "stale")
		return nil
	}
	metrics.RecordProjected(env.EventType, "applied")
	s.Log.Debug("status projected", "order_id", p.OrderID, "event_type", env.EventType, "status", p.Status)
	return nil
}

// apply stores p unless the cache already holds a newer view of the order.
func (s *Service) apply(ctx context.Context, p orders.OrderChangedPayload) (bool, error) {
	key := fmt.Sprintf(redisx.KeyOrderStatus, p.OrderID)

	cur, err := s.Redis.Get(ctx, key).Result()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return false, err
	default:
		var have orders.OrderChangedPayload
		if json.Unmarshal([]byte(cur), &have) == nil && have.UpdatedAt.After(p.UpdatedAt) {
			return false, nil
		}
	}

	// the cache holds the order view only
	p.Actor, p.Note = "", ""
	b := kafkax.MustMarshal(p)
	if err := s.Redis.Set(ctx, key, b, redisx.TTLStatusCache).Err(); err != nil {
		return false, err
	}
	return true, nil
}
