package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers gateway event ids so webhook deliveries can be absorbed
// under at-least-once delivery.
type Deduper interface {
	// FirstSeen returns true the first time an event id is observed within the
	// retention window and false on every later delivery of the same event.
	FirstSeen(ctx context.Context, eventID string) (bool, error)

	// Forget releases an event id claimed by FirstSeen. Callers that fail to
	// process an event must release it, or the gateway's redelivery would be
	// absorbed as a duplicate and the event lost.
	Forget(ctx context.Context, eventID string) error
}

type redisEventDeduper struct {
	client    *redis.Client
	retention time.Duration
}

func NewRedisEventDeduper(client *redis.Client, retention time.Duration) Deduper {
	return &redisEventDeduper{
		client:    client,
		retention: retention,
	}
}

func (d *redisEventDeduper) FirstSeen(ctx context.Context, eventID string) (bool, error) {
	key := fmt.Sprintf("webhook:event:%s", eventID)

	ok, err := d.client.SetNX(ctx, key, "1", d.retention).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe webhook event: %w", err)
	}
	return ok, nil
}

func (d *redisEventDeduper) Forget(ctx context.Context, eventID string) error {
	key := fmt.Sprintf("webhook:event:%s", eventID)

	if err := d.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("release webhook event: %w", err)
	}
	return nil
}
