package verification

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestRedis connects to OPS_TEST_REDIS_ADDR and skips when it is not set
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("OPS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("OPS_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not reachable: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisStore_SingleUse(t *testing.T) {
	client := newTestRedis(t)
	s := NewRedisStore(client)
	ctx := context.Background()
	dest := fmt.Sprintf("test-%d@example.com", time.Now().UnixNano())
	t.Cleanup(func() { client.Del(context.Background(), redisKey(dest)) })

	if err := s.Put(ctx, dest, "123456", time.Minute); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.Consume(ctx, dest, "999999"); ok {
		t.Error("wrong code accepted")
	}
	if ok, err := s.Consume(ctx, dest, "123456"); err != nil || !ok {
		t.Errorf("Consume() = %v, %v", ok, err)
	}
	if ok, _ := s.Consume(ctx, dest, "123456"); ok {
		t.Error("code accepted twice")
	}
}

func TestRedisStore_TTL(t *testing.T) {
	client := newTestRedis(t)
	s := NewRedisStore(client)
	ctx := context.Background()
	dest := fmt.Sprintf("ttl-%d@example.com", time.Now().UnixNano())

	if err := s.Put(ctx, dest, "123456", 30*time.Second); err != nil {
		t.Fatal(err)
	}
	ttl, err := client.TTL(ctx, redisKey(dest)).Result()
	if err != nil {
		t.Fatal(err)
	}
	if ttl <= 0 || ttl > 30*time.Second {
		t.Errorf("TTL = %v, want (0, 30s]", ttl)
	}
	client.Del(ctx, redisKey(dest))
}
