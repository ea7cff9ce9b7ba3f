package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ActivityTracker marks sessions that hold runtime state on some instance.
// A marker outlives a crashed instance by at most its TTL.
type ActivityTracker struct {
	client   *redis.Client
	instance string
}

// NewActivityTracker stores instance as the marker value so operators can see who owns a session.
func NewActivityTracker(client *redis.Client, instance string) *ActivityTracker {
	if instance == "" {
		instance = "1"
	}
	return &ActivityTracker{client: client, instance: instance}
}

func (t *ActivityTracker) Activate(ctx context.Context, sessionID string, ttl time.Duration) error {
	return t.client.Set(ctx, t.key(sessionID), t.instance, ttl).Err()
}

func (t *ActivityTracker) Deactivate(ctx context.Context, sessionID string) error {
	return t.client.Del(ctx, t.key(sessionID)).Err()
}

// Owner returns the instance holding sessionID, or "" when no marker exists.
func (t *ActivityTracker) Owner(ctx context.Context, sessionID string) (string, error) {
	owner, err := t.client.Get(ctx, t.key(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return owner, err
}

func (t *ActivityTracker) key(sessionID string) string {
	return "session:active:" + sessionID
}
