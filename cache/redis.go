package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const bracketKeyPrefix = "bracket:"

// BracketCache stores rendered bracket views. A nil *BracketCache, or one
// without a client, is a cache that always misses.
type BracketCache struct {
	client *redis.Client
	ttl    time.Duration
}

// Connect parses a redis:// or rediss:// URL and verifies the server answers.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func NewBracketCache(client *redis.Client, ttl time.Duration) *BracketCache {
	return &BracketCache{client: client, ttl: ttl}
}

func bracketKey(tournamentID int) string {
	return bracketKeyPrefix + strconv.Itoa(tournamentID)
}

// Get returns the cached payload and whether it was found.
func (c *BracketCache) Get(ctx context.Context, tournamentID int) ([]byte, bool, error) {
	if c == nil || c.client == nil {
		return nil, false, nil
	}
	val, err := c.client.Get(ctx, bracketKey(tournamentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *BracketCache) Set(ctx context.Context, tournamentID int, payload []byte) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Set(ctx, bracketKey(tournamentID), payload, c.ttl).Err()
}

func (c *BracketCache) Invalidate(ctx context.Context, tournamentID int) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, bracketKey(tournamentID)).Err()
}

// InvalidateAll drops every cached bracket.
func (c *BracketCache) InvalidateAll(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}

	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, bracketKeyPrefix+"*", 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}
