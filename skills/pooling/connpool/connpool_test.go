package connpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakeConn struct {
	id      int
	healthy bool
	closed  bool
}

type fixture struct {
	pool   *Pool[*fakeConn]
	dialed atomic.Int32
}

func newFixture(t *testing.T, cfg Config[*fakeConn]) *fixture {
	t.Helper()
	f := &fixture{}
	cfg.Dial = func(ctx context.Context) (*fakeConn, error) {
		return &fakeConn{id: int(f.dialed.Add(1)), healthy: true}, nil
	}
	if cfg.Close == nil {
		cfg.Close = func(c *fakeConn) { c.closed = true }
	}
	if cfg.Size == 0 {
		cfg.Size = 2
	}
	pool, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	f.pool = pool
	return f
}

func TestAcquire_ReusesIdle(t *testing.T) {
	f := newFixture(t, Config[*fakeConn]{})

	for i := 0; i < 5; i++ {
		c, err := f.pool.Acquire(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		c.Release()
	}
	if got := f.dialed.Load(); got != 1 {
		t.Errorf("dialed %d connections for 5 sequential borrows, want 1", got)
	}
}

func TestAcquire_BlocksAtCapacity(t *testing.T) {
	f := newFixture(t, Config[*fakeConn]{Size: 1})

	held, err := f.pool.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := f.pool.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Acquire at capacity = %v, want deadline exceeded", err)
	}

	// A release hands the slot to a parked acquirer.
	go func() {
		time.Sleep(20 * time.Millisecond)
		held.Release()
	}()
	c, err := f.pool.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if c.Value.id != held.Value.id {
		t.Errorf("got connection %d, want the released %d", c.Value.id, held.Value.id)
	}
	c.Release()
}

func TestAcquire_HealthCheckRetiresIdle(t *testing.T) {
	f := newFixture(t, Config[*fakeConn]{
		HealthCheck: func(c *fakeConn) error {
			if !c.healthy {
				return errors.New("dead")
			}
			return nil
		},
	})

	c, err := f.pool.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	first := c.Value
	c.Value.healthy = false
	c.Release()

	c, err = f.pool.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Release()
	if c.Value == first {
		t.Error("unhealthy idle connection was handed out again")
	}
	if !first.closed {
		t.Error("unhealthy connection was not destroyed")
	}
	if got := f.dialed.Load(); got != 2 {
		t.Errorf("dialed = %d, want 2", got)
	}
}

func TestAcquire_MaxLifetime(t *testing.T) {
	f := newFixture(t, Config[*fakeConn]{MaxLifetime: time.Minute})
	base := time.Now()
	f.pool.now = func() time.Time { return base }

	c, err := f.pool.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	first := c.Value
	c.Release()

	// Within the lifetime the same connection comes back.
	c, err = f.pool.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if c.Value != first {
		t.Error("connection replaced before its lifetime expired")
	}
	c.Release()

	f.pool.now = func() time.Time { return base.Add(2 * time.Minute) }
	c, err = f.pool.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Release()
	if c.Value == first {
		t.Error("connection outlived MaxLifetime")
	}
	if !first.closed {
		t.Error("aged-out connection was not destroyed")
	}
}

func TestDiscard_FreesSlotAndDestroys(t *testing.T) {
	f := newFixture(t, Config[*fakeConn]{Size: 1})

	c, err := f.pool.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	broken := c.Value
	c.Discard()
	if !broken.closed {
		t.Error("discarded connection was not destroyed")
	}

	// The slot is free and the next borrow dials fresh.
	c, err = f.pool.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Release()
	if c.Value == broken {
		t.Error("discarded connection came back")
	}
}

func TestReleaseTwice_IsSafe(t *testing.T) {
	f := newFixture(t, Config[*fakeConn]{Size: 1})

	c, err := f.pool.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	c.Release()
	c.Release()
	c.Discard()

	// Capacity accounting survived: two more borrows on a size-1 pool.
	for i := 0; i < 2; i++ {
		c, err := f.pool.Acquire(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		c.Release()
	}
	if got := f.dialed.Load(); got != 1 {
		t.Errorf("dialed = %d, want 1", got)
	}
}

func TestClose(t *testing.T) {
	f := newFixture(t, Config[*fakeConn]{})

	idle, err := f.pool.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	parked := idle.Value
	idle.Release()

	inflight, err := f.pool.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	f.pool.Close()
	if !parked.closed {
		t.Error("idle connection survived Close")
	}
	if _, err := f.pool.Acquire(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Acquire after Close = %v, want ErrClosed", err)
	}

	// A borrow returned after Close is destroyed, not parked.
	held := inflight.Value
	inflight.Release()
	if !held.closed {
		t.Error("in-flight connection survived Release after Close")
	}
}

func TestStats(t *testing.T) {
	f := newFixture(t, Config[*fakeConn]{Size: 2})

	a, _ := f.pool.Acquire(context.Background())
	b, _ := f.pool.Acquire(context.Background())
	if s := f.pool.Stats(); s.InUse != 2 || s.Idle != 0 || s.Dials != 2 {
		t.Errorf("Stats = %+v", s)
	}
	a.Release()
	if s := f.pool.Stats(); s.InUse != 1 || s.Idle != 1 {
		t.Errorf("Stats after release = %+v", s)
	}
	b.Discard()
	if s := f.pool.Stats(); s.InUse != 0 || s.Destroyed != 1 {
		t.Errorf("Stats after discard = %+v", s)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config[int]{Size: 1}); err == nil {
		t.Error("New accepted a nil Dial")
	}
	dial := func(ctx context.Context) (int, error) { return 0, nil }
	if _, err := New(Config[int]{Dial: dial}); err == nil {
		t.Error("New accepted a zero size")
	}
}
