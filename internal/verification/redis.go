package verification

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "verification:"

// consumeScript deletes the key only when it holds the submitted code, so a match is consumed
// exactly once even when two instances verify concurrently.
var consumeScript = redis.NewScript(`
local stored = redis.call("GET", KEYS[1])
if stored and stored == ARGV[1] then
	redis.call("DEL", KEYS[1])
	return 1
end
return 0
`)

// RedisStore is a CodeStore shared by every instance connected to the same Redis
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore creates a RedisStore on client
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func redisKey(destination string) string {
	return redisKeyPrefix + destination
}

// Put implements CodeStore with SET ... EX
func (s *RedisStore) Put(ctx context.Context, destination, code string, ttl time.Duration) error {
	if err := s.client.Set(ctx, redisKey(destination), code, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store verification code: %w", err)
	}
	return nil
}

// Consume implements CodeStore
func (s *RedisStore) Consume(ctx context.Context, destination, code string) (bool, error) {
	n, err := consumeScript.Run(ctx, s.client, []string{redisKey(destination)}, code).Int()
	if err != nil {
		return false, fmt.Errorf("failed to verify code: %w", err)
	}
	return n == 1, nil
}
