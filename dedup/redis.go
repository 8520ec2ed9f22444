package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "payout:webhook:event:"

var _ Deduplicator = (*Redis)(nil)

// Redis keeps claims as keys with an expiry, shared by every replica.
type Redis struct {
	client    redis.UniversalClient
	retention time.Duration
}

func NewRedis(client redis.UniversalClient, retention time.Duration) *Redis {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Redis{client: client, retention: retention}
}

func (r *Redis) ShouldApply(ctx context.Context, eventID string) (bool, error) {
	ok, err := r.client.SetNX(ctx, keyPrefix+eventID, time.Now().Unix(), r.retention).Result()
	if err != nil {
		return false, fmt.Errorf("claim event %s: %w", eventID, err)
	}
	return ok, nil
}

func (r *Redis) Release(ctx context.Context, eventID string) error {
	if err := r.client.Del(ctx, keyPrefix+eventID).Err(); err != nil {
		return fmt.Errorf("release event %s: %w", eventID, err)
	}
	return nil
}
