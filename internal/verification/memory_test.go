package verification

import (
	"context"
	"sync"
	"testing"
	"time"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryStore_SingleUse(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()

	if err := s.Put(ctx, "a@example.com", "123456", time.Minute); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.Consume(ctx, "a@example.com", "000000"); ok {
		t.Error("wrong code accepted")
	}
	if ok, _ := s.Consume(ctx, "a@example.com", "123456"); !ok {
		t.Error("correct code rejected after a wrong attempt")
	}
	if ok, _ := s.Consume(ctx, "a@example.com", "123456"); ok {
		t.Error("code accepted twice")
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := NewMemoryStore(clock.Now)
	ctx := context.Background()

	_ = s.Put(ctx, "+15550100", "654321", 5*time.Minute)
	clock.Advance(5 * time.Minute)

	if ok, _ := s.Consume(ctx, "+15550100", "654321"); ok {
		t.Error("expired code accepted")
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, expired entry should be dropped", s.Len())
	}
}

func TestMemoryStore_PutReplacesAndSweeps(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := NewMemoryStore(clock.Now)
	ctx := context.Background()

	_ = s.Put(ctx, "old@example.com", "111111", time.Minute)
	_ = s.Put(ctx, "a@example.com", "222222", time.Hour)
	_ = s.Put(ctx, "a@example.com", "333333", time.Hour)

	if ok, _ := s.Consume(ctx, "a@example.com", "222222"); ok {
		t.Error("replaced code accepted")
	}

	clock.Advance(2 * time.Minute)
	_ = s.Put(ctx, "b@example.com", "444444", time.Hour)
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2 after sweep", s.Len())
	}
}

func TestMemoryStore_ConcurrentConsumeOnce(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()
	_ = s.Put(ctx, "race@example.com", "777777", time.Minute)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := s.Consume(ctx, "race@example.com", "777777"); ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("successful consumes = %d, want 1", wins)
	}
}
