package replaystore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore backs Store with Redis SETNX-with-expiry, which is atomic by
// construction (spec §5: "an external set-if-absent-with-TTL primitive is
// sufficient"). Grounded on the teacher's
// pkg/kernel/limiter_redis.go RedisLimiterStore for client wiring and
// error-wrapping style.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisStore creates a Redis-backed replay store.
func NewRedisStore(client *redis.Client, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{client: client, prefix: "contractshield:replay:", logger: logger}
}

// CheckAndStore implements Store. On backend error it fails open (returns
// replayed=false) and logs, per spec §5's documented production
// recommendation.
func (s *RedisStore) CheckAndStore(ctx context.Context, provider, eventID string, ttlSeconds int) (bool, error) {
	k := s.prefix + sanitizeKeyPart(provider) + ":" + sanitizeKeyPart(eventID)
	ok, err := s.client.SetNX(ctx, k, 1, time.Duration(ttlSeconds)*time.Second).Result()
	if err != nil {
		s.logger.Warn("replaystore: redis backend error, failing open",
			slog.String("provider", provider), slog.String("event_id", eventID), slog.Any("error", err))
		return false, fmt.Errorf("replaystore: redis setnx: %w", err)
	}
	// SetNX returns true when the key was set (first sighting); false means
	// the key already existed, i.e. a replay.
	return !ok, nil
}

// sanitizeKeyPart strips the ":" delimiter from a key component before it's
// concatenated into the Redis key, so a provider or event ID that happens to
// contain ":" can't shift where one component ends and the next begins.
func sanitizeKeyPart(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}
