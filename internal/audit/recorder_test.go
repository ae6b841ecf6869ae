package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsconsole/opsconsole/internal/auth"
	"github.com/opsconsole/opsconsole/internal/db/models"
)

// memStore is an in-memory Store that mirrors the repository's ordering and actor rules
type memStore struct {
	mu      sync.Mutex
	records []*models.ActivityRecord
	users   map[int64]*models.User
	failErr error

	lastLimit  int
	lastModule *string
}

func newMemStore() *memStore {
	return &memStore{users: map[int64]*models.User{}}
}

func (m *memStore) CreateActivity(_ context.Context, rec *models.ActivityRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	rec.ID = int64(len(m.records) + 1)
	cp := *rec
	m.records = append(m.records, &cp)
	return nil
}

func (m *memStore) ListRecentActivity(_ context.Context, limit int, module *string) ([]*models.ActivityView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLimit, m.lastModule = limit, module

	var out []*models.ActivityView
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		r := m.records[i]
		if module != nil && r.Module != *module {
			continue
		}
		name := systemActor
		if r.UserID != nil {
			if u, ok := m.users[*r.UserID]; ok {
				name = u.DisplayName()
			}
		}
		out = append(out, &models.ActivityView{
			ID: r.ID, User: name, Module: r.Module, EntityType: r.EntityType,
			EntityID: r.EntityID, Action: r.Action, Description: r.Description, CreatedAt: r.CreatedAt,
		})
	}
	return out, nil
}

func rolePtr(r auth.Role) *auth.Role { return &r }

func testActor() *models.User {
	return &models.User{ID: 42, Name: "Dana Reyes", Email: "dana@example.com", Role: rolePtr(auth.RoleInventoryManager), IsActive: true}
}

type fixedClock struct {
	mu    sync.Mutex
	times []time.Time
}

func (c *fixedClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.times[0]
	if len(c.times) > 1 {
		c.times = c.times[1:]
	}
	return t
}

func TestRecord_StoresEntry(t *testing.T) {
	store := newMemStore()
	r := NewRecorder(store)
	id := int64(7)

	rec, err := r.Record(context.Background(), RecordInput{
		Actor:       testActor(),
		Module:      "inventory",
		EntityType:  "item",
		EntityID:    &id,
		Action:      ActionCreate,
		Description: "Dana Reyes (Inventory Manager) - created item",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.ID)
	require.NotNil(t, rec.UserID)
	assert.Equal(t, int64(42), *rec.UserID)
	assert.Equal(t, "create", rec.Action)
	assert.False(t, rec.CreatedAt.IsZero())
	assert.Len(t, store.records, 1)
}

func TestRecord_SystemActor(t *testing.T) {
	store := newMemStore()
	r := NewRecorder(store)

	_, err := r.Record(context.Background(), RecordInput{
		Module: "users", EntityType: "user", Action: ActionDelete, Description: Describe(nil, "purged account"),
	})
	require.NoError(t, err)

	views, err := r.Recent(context.Background(), 0, nil)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "System", views[0].User)
	assert.Nil(t, views[0].EntityID)
	assert.Equal(t, "System - purged account", views[0].Description)
}

func TestRecord_StoreFailureIsFatal(t *testing.T) {
	store := newMemStore()
	store.failErr = errors.New("connection refused")
	r := NewRecorder(store)

	rec, err := r.Record(context.Background(), RecordInput{Module: "users", EntityType: "user", Action: ActionUpdate})
	require.Error(t, err)
	assert.Nil(t, rec)
	assert.True(t, errors.Is(err, ErrWriteFailure))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestRecord_RejectsIncompleteInput(t *testing.T) {
	r := NewRecorder(newMemStore())
	for _, in := range []RecordInput{
		{EntityType: "user", Action: ActionUpdate},
		{Module: "users", Action: ActionUpdate},
		{Module: "users", EntityType: "user"},
	} {
		_, err := r.Record(context.Background(), in)
		assert.ErrorIs(t, err, ErrInvalidRecord)
	}
}

func TestRecord_CreatedAtNeverGoesBackwards(t *testing.T) {
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := &fixedClock{times: []time.Time{
		base,
		base.Add(-time.Hour), // wall clock stepped back
		base.Add(time.Second),
	}}
	store := newMemStore()
	r := NewRecorder(store, WithClock(clock.now))

	var stamps []time.Time
	for i := 0; i < 3; i++ {
		rec, err := r.Record(context.Background(), RecordInput{Module: "m", EntityType: "e", Action: ActionView})
		require.NoError(t, err)
		stamps = append(stamps, rec.CreatedAt)
	}
	assert.Equal(t, base, stamps[0])
	assert.Equal(t, base, stamps[1])
	assert.Equal(t, base.Add(time.Second), stamps[2])
}

func TestRecord_CreatedAtMicrosecondPrecision(t *testing.T) {
	ts := time.Date(2026, 5, 1, 12, 0, 0, 123456789, time.UTC)
	r := NewRecorder(newMemStore(), WithClock(func() time.Time { return ts }))

	rec, err := r.Record(context.Background(), RecordInput{Module: "m", EntityType: "e", Action: ActionView})
	require.NoError(t, err)
	assert.Equal(t, 123456000, rec.CreatedAt.Nanosecond())
}

func TestRecord_ConcurrentStampsAreMonotonic(t *testing.T) {
	r := NewRecorder(newMemStore())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.Record(context.Background(), RecordInput{Module: "m", EntityType: "e", Action: ActionView})
		}()
	}
	wg.Wait()

	store := r.store.(*memStore)
	require.Len(t, store.records, 50)
	// Records are appended in store order, which may differ from stamp order under
	// concurrency, but the recorder's high-water mark must dominate every stamp.
	for _, rec := range store.records {
		assert.False(t, rec.CreatedAt.After(r.last))
	}
}

type chanShipper struct {
	ch  chan *LogEntry
	err error
}

func (c *chanShipper) Ship(_ context.Context, e *LogEntry) error {
	c.ch <- e
	return c.err
}
func (c *chanShipper) Close() error { return nil }

func TestRecord_ShipsAfterStore(t *testing.T) {
	ship := &chanShipper{ch: make(chan *LogEntry, 1), err: errors.New("sink down")}
	r := NewRecorder(newMemStore(), WithShipper(ship))

	rec, err := r.Record(context.Background(), RecordInput{
		Actor: testActor(), Module: "inventory", EntityType: "item", Action: ActionUpdate,
	})
	require.NoError(t, err, "shipper failure must not fail the record")

	select {
	case e := <-ship.ch:
		assert.Equal(t, rec.ID, e.ID)
		assert.Equal(t, "Dana Reyes", e.Actor)
		assert.Equal(t, "inventory", e.Module)
	case <-time.After(2 * time.Second):
		t.Fatal("entry was not shipped")
	}
}

// gatedShipper blocks every Ship until release is closed
type gatedShipper struct {
	release chan struct{}
	shipped chan int64
}

func (g *gatedShipper) Ship(_ context.Context, e *LogEntry) error {
	<-g.release
	g.shipped <- e.ID
	return nil
}
func (g *gatedShipper) Close() error { return nil }

func TestRecorder_WaitDrainsInflightShips(t *testing.T) {
	ship := &gatedShipper{release: make(chan struct{}), shipped: make(chan int64, 2)}
	r := NewRecorder(newMemStore(), WithShipper(ship))

	for i := 0; i < 2; i++ {
		_, err := r.Record(context.Background(), RecordInput{Module: "safety", EntityType: "incident", Action: ActionCreate})
		require.NoError(t, err)
	}

	done := make(chan struct{})
	go func() {
		r.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Wait returned while entries were still being shipped")
	case <-time.After(100 * time.Millisecond):
	}

	close(ship.release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after shipping finished")
	}
	assert.Len(t, ship.shipped, 2)
}

func TestRecord_NoShipOnStoreFailure(t *testing.T) {
	ship := &chanShipper{ch: make(chan *LogEntry, 1)}
	store := newMemStore()
	store.failErr = errors.New("disk full")
	r := NewRecorder(store, WithShipper(ship))

	_, err := r.Record(context.Background(), RecordInput{Module: "m", EntityType: "e", Action: ActionCreate})
	require.ErrorIs(t, err, ErrWriteFailure)

	select {
	case <-ship.ch:
		t.Fatal("a failed write must not be shipped")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRecent_LimitDefaultsAndCap(t *testing.T) {
	store := newMemStore()
	r := NewRecorder(store)
	ctx := context.Background()

	tests := []struct {
		in, want int
	}{
		{0, DefaultRecentLimit},
		{-5, DefaultRecentLimit},
		{7, 7},
		{MaxRecentLimit, MaxRecentLimit},
		{MaxRecentLimit + 1, MaxRecentLimit},
	}
	for _, tt := range tests {
		_, err := r.Recent(ctx, tt.in, nil)
		require.NoError(t, err)
		assert.Equal(t, tt.want, store.lastLimit, "limit %d", tt.in)
	}
}

func TestRecent_FilterBeforeLimitNewestFirst(t *testing.T) {
	store := newMemStore()
	r := NewRecorder(store)
	ctx := context.Background()

	for _, mod := range []string{"inventory", "safety", "inventory", "safety", "safety", "inventory"} {
		_, err := r.Record(ctx, RecordInput{Module: mod, EntityType: "e", Action: ActionCreate})
		require.NoError(t, err)
	}

	module := "inventory"
	views, err := r.Recent(ctx, 2, &module)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, int64(6), views[0].ID)
	assert.Equal(t, int64(3), views[1].ID)

	blank := "  "
	_, err = r.Recent(ctx, 5, &blank)
	require.NoError(t, err)
	assert.Nil(t, store.lastModule, "blank module filter should be dropped")
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "Dana Reyes (Inventory Manager) - moved stock", Describe(testActor(), "moved stock"))
	assert.Equal(t, "System - nightly sync", Describe(nil, "nightly sync"))

	noRole := &models.User{ID: 1, Email: "ops@example.com"}
	assert.Equal(t, "ops@example.com (User) - logged in", Describe(noRole, "logged in"))
}
