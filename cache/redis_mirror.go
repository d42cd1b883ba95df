package cache

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
)

// RedisMirror shares the nearby-lookup ordered index across cooperating
// processes (for example a dedicated-master rank and an out-of-band
// monitoring tool) using a Redis sorted set, the way queue/redis mirrors a
// processing set across workers. It is strictly optional: the in-process
// Cache answers every lookup on its own; the mirror only needs to exist
// when nearby duplicates must be visible outside this process.
type RedisMirror struct {
	client *redis.Client
	key    string
}

// RedisMirrorConfig configures the mirror.
type RedisMirrorConfig struct {
	RedisURL string // defaults to EVALCORE_REDIS_URL or redis://localhost:6379/0
	SetKey   string // defaults to "evalcore:nearby"
}

// NewRedisMirror connects to Redis and verifies reachability.
func NewRedisMirror(ctx context.Context, cfg RedisMirrorConfig) (*RedisMirror, error) {
	url := cfg.RedisURL
	if url == "" {
		url = os.Getenv("EVALCORE_REDIS_URL")
	}
	if url == "" {
		url = "redis://localhost:6379/0"
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("cache: parsing redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache: connecting to redis: %w", err)
	}

	key := cfg.SetKey
	if key == "" {
		key = "evalcore:nearby"
	}

	return &RedisMirror{client: client, key: key}, nil
}

// Close closes the Redis connection.
func (m *RedisMirror) Close() error {
	return m.client.Close()
}

// Publish records pair's first continuous variable as the sort score (the
// dominant axis for most tolerance-radius searches) alongside its
// evaluation id, so remote observers can range-query the same ordering the
// in-process cache keeps.
func (m *RedisMirror) Publish(ctx context.Context, pair Pair) error {
	var score float64
	if len(pair.Variables.Continuous) > 0 {
		score = pair.Variables.Continuous[0]
	}
	member := fmt.Sprintf("%d", pair.EvaluationID)
	return m.client.ZAdd(ctx, m.key, redis.Z{Score: score, Member: member}).Err()
}

// RangeNearby returns evaluation ids whose published score falls within
// [center-radius, center+radius].
func (m *RedisMirror) RangeNearby(ctx context.Context, center, radius float64) ([]string, error) {
	return m.client.ZRangeByScore(ctx, m.key, &redis.ZRangeBy{
		Min: fmt.Sprintf("%f", center-radius),
		Max: fmt.Sprintf("%f", center+radius),
	}).Result()
}
