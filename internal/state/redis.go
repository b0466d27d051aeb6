package state

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	inFlightSetKey = "radar:inflight"
	cursorKey      = "radar:cursor"
	kvPrefix       = "radar:kv:"
)

// RedisStore backs the processing state with a shared Redis instance
// so multiple processes can coordinate dedup markers and the cursor.
type RedisStore struct {
	client *redis.Client
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisStore connects to Redis and verifies reachability
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (s *RedisStore) MarkInFlight(ctx context.Context, address string) (bool, error) {
	added, err := s.client.SAdd(ctx, inFlightSetKey, address).Result()
	if err != nil {
		return false, fmt.Errorf("sadd %s: %w", address, err)
	}
	return added == 1, nil
}

func (s *RedisStore) UnmarkInFlight(ctx context.Context, address string) error {
	if err := s.client.SRem(ctx, inFlightSetKey, address).Err(); err != nil {
		return fmt.Errorf("srem %s: %w", address, err)
	}
	return nil
}

func (s *RedisStore) IsInFlight(ctx context.Context, address string) (bool, error) {
	member, err := s.client.SIsMember(ctx, inFlightSetKey, address).Result()
	if err != nil {
		return false, fmt.Errorf("sismember %s: %w", address, err)
	}
	return member, nil
}

func (s *RedisStore) SetCursor(ctx context.Context, cursor string) error {
	prev, err := s.client.Get(ctx, cursorKey).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("get cursor: %w", err)
	}
	if !cursorAdvances(prev, cursor) {
		return nil
	}
	if err := s.client.Set(ctx, cursorKey, cursor, 0).Err(); err != nil {
		return fmt.Errorf("set cursor: %w", err)
	}
	return nil
}

func (s *RedisStore) GetCursor(ctx context.Context) (string, error) {
	cursor, err := s.client.Get(ctx, cursorKey).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get cursor: %w", err)
	}
	return cursor, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, kvPrefix+key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, kvPrefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, kvPrefix+key).Err(); err != nil {
		return fmt.Errorf("del %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
