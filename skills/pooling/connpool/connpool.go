// Package connpool implements a bounded pool of reusable connections.
//
// Use it in front of anything dialed and stateful: TCP clients, smtp
// sessions, handles to an embedded device. The pool caps how many
// connections exist at once, hands idle ones out before dialing new ones,
// and blocks Acquire until a slot frees or the caller's context expires.
// Backpressure is the point: when the cap is reached, callers wait
// instead of stampeding the backend with fresh connections.
//
// Acquire returns a Conn handle rather than the raw value so the pool can
// remember when the connection was dialed. Callers end every borrow with
// exactly one of Release (still good, park it for reuse) or Discard (saw
// an error, destroy it and free the slot). Idle connections are health
// checked and age-checked on the way out, never trusted just because they
// were fine when parked.
//
// Skill metadata:
//
//	name: connection-pool
//	category: pooling
//	tags: pool, connections, backpressure, lifetime, health-check
//	level: advanced
package connpool

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// ErrClosed reports an Acquire on a closed pool.
var ErrClosed = errors.New("connpool: pool closed")

// Config describes a pool.
type Config[C any] struct {
	// Dial creates a new connection. Required.
	Dial func(ctx context.Context) (C, error)

	// HealthCheck vets an idle connection before reuse. A non-nil error
	// destroys the connection and dials a fresh one. Optional.
	HealthCheck func(C) error

	// Close destroys a connection. Optional.
	Close func(C)

	// Size is the maximum number of live connections. Required.
	Size int

	// MaxLifetime retires a connection after this long since dial, even
	// if healthy. Zero means no age limit.
	MaxLifetime time.Duration
}

type entry[C any] struct {
	conn    C
	created time.Time
}

// Pool is a bounded connection pool.
type Pool[C any] struct {
	cfg    Config[C]
	idle   chan entry[C]
	slots  chan struct{}
	closed atomic.Bool

	dials     atomic.Int64
	destroyed atomic.Int64

	now func() time.Time
}

// Conn is one borrowed connection. Exactly one of Release or Discard
// must be called when done; both are safe to call twice.
type Conn[C any] struct {
	// Value is the pooled connection.
	Value C

	created time.Time
	pool    *Pool[C]
	done    atomic.Bool
}

// New builds a pool. Connections are dialed on demand, not up front.
func New[C any](cfg Config[C]) (*Pool[C], error) {
	if cfg.Dial == nil {
		return nil, errors.New("connpool: Config.Dial is required")
	}
	if cfg.Size <= 0 {
		return nil, fmt.Errorf("connpool: non-positive size %d", cfg.Size)
	}
	return &Pool[C]{
		cfg:   cfg,
		idle:  make(chan entry[C], cfg.Size),
		slots: make(chan struct{}, cfg.Size),
		now:   time.Now,
	}, nil
}

// Acquire returns a connection, reusing an idle one when possible. It
// blocks while the pool is at capacity until a slot frees or ctx ends.
func (p *Pool[C]) Acquire(ctx context.Context) (*Conn[C], error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case p.slots <- struct{}{}:
	}
	// The pool may have closed while this caller was parked on a slot.
	if p.closed.Load() {
		<-p.slots
		return nil, ErrClosed
	}

	for {
		select {
		case e := <-p.idle:
			if p.stale(e) {
				p.destroy(e.conn)
				continue
			}
			return &Conn[C]{Value: e.conn, created: e.created, pool: p}, nil
		default:
			conn, err := p.cfg.Dial(ctx)
			if err != nil {
				<-p.slots
				return nil, fmt.Errorf("connpool: dial: %w", err)
			}
			p.dials.Add(1)
			return &Conn[C]{Value: conn, created: p.now(), pool: p}, nil
		}
	}
}

// Release returns the connection to the idle set and frees its slot.
func (c *Conn[C]) Release() {
	if c.done.Swap(true) {
		return
	}
	p := c.pool
	if p.closed.Load() {
		p.destroy(c.Value)
		<-p.slots
		return
	}
	// Park before freeing the slot so the next acquirer finds the idle
	// connection instead of dialing a duplicate.
	p.idle <- entry[C]{conn: c.Value, created: c.created}
	<-p.slots
}

// Discard destroys the connection and frees its slot. Call it instead of
// Release after any error on the connection.
func (c *Conn[C]) Discard() {
	if c.done.Swap(true) {
		return
	}
	c.pool.destroy(c.Value)
	<-c.pool.slots
}

// Close shuts the pool and destroys its idle connections. Connections
// still borrowed are destroyed as they come back.
func (p *Pool[C]) Close() {
	if p.closed.Swap(true) {
		return
	}
	for {
		select {
		case e := <-p.idle:
			p.destroy(e.conn)
		default:
			return
		}
	}
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	// InUse is the number of borrowed connections.
	InUse int
	// Idle is the number of parked connections.
	Idle int
	// Dials counts connections created over the pool's lifetime.
	Dials int64
	// Destroyed counts connections retired over the pool's lifetime.
	Destroyed int64
}

// Stats reports pool counters.
func (p *Pool[C]) Stats() Stats {
	return Stats{
		InUse:     len(p.slots),
		Idle:      len(p.idle),
		Dials:     p.dials.Load(),
		Destroyed: p.destroyed.Load(),
	}
}

func (p *Pool[C]) stale(e entry[C]) bool {
	if p.cfg.MaxLifetime > 0 && p.now().Sub(e.created) >= p.cfg.MaxLifetime {
		return true
	}
	if p.cfg.HealthCheck != nil && p.cfg.HealthCheck(e.conn) != nil {
		return true
	}
	return false
}

func (p *Pool[C]) destroy(conn C) {
	p.destroyed.Add(1)
	if p.cfg.Close != nil {
		p.cfg.Close(conn)
	}
}
