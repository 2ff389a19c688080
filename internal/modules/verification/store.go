// README: Verification codes cached in Redis with a TTL.
package verification

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const codeKeyPrefix = "verify:phone:"

type RedisStore struct {
	redis *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{redis: client}
}

func (s *RedisStore) Save(ctx context.Context, phone, code string, ttl time.Duration) error {
	return s.redis.Set(ctx, codeKeyPrefix+phone, code, ttl).Err()
}

// Get returns ErrNoCode when nothing is cached or the code expired.
func (s *RedisStore) Get(ctx context.Context, phone string) (string, error) {
	code, err := s.redis.Get(ctx, codeKeyPrefix+phone).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNoCode
	}
	return code, err
}

// Consume deletes the code and reports whether this call removed it.
func (s *RedisStore) Consume(ctx context.Context, phone string) (bool, error) {
	n, err := s.redis.Del(ctx, codeKeyPrefix+phone).Result()
	return n == 1, err
}
