// Package eventbus implements in-process pub/sub with bounded subscriber
// buffers.
//
// The contract that keeps a bus healthy is that Publish never blocks. A
// publisher is usually on a hot path, a request handler, a state machine
// transition, and one slow subscriber must not be able to stall it. So
// every subscription owns a bounded buffer, and when the buffer is full
// the bus drops rather than waits. Each subscription picks its loss mode:
// DropNewest keeps the backlog it has and sheds incoming messages,
// DropOldest evicts the stalest message to make room, which is the right
// choice when only the latest value matters. Drops are counted on the
// subscription, so starved consumers are visible instead of silent.
//
// Delivery and channel close are both serialized through the bus lock;
// because sends are non-blocking the lock is never held long, and a
// subscription channel cannot be closed while a publish is in flight.
// Consumers just range over C() until it closes.
//
// Skill metadata:
//
//	name: event-bus
//	category: messaging
//	tags: pubsub, events, backpressure, drop-policy, fanout
//	level: intermediate
package eventbus

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// Policy says what Publish does when a subscriber's buffer is full.
type Policy int

const (
	// DropNewest sheds the incoming message.
	DropNewest Policy = iota

	// DropOldest evicts the oldest buffered message to admit the new
	// one. Use it when consumers only care about the latest state.
	DropOldest
)

// ErrClosed reports a Subscribe on a closed bus.
var ErrClosed = errors.New("eventbus: bus closed")

// Message is one published event.
type Message struct {
	Topic   string
	Payload any
}

// Subscription is one consumer's bounded mailbox.
type Subscription struct {
	ch      chan Message
	policy  Policy
	topics  []string
	dropped atomic.Int64

	bus    *Bus
	closed bool
}

// C is the receive channel. It closes when the subscription or the bus
// closes.
func (s *Subscription) C() <-chan Message { return s.ch }

// Dropped counts messages lost to this subscription's full buffer.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Close unsubscribes from all topics and closes C.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s)
}

// Bus routes messages from publishers to topic subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	closed bool
}

// New builds an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[string]map[*Subscription]struct{})}
}

// Subscribe registers a mailbox of the given buffer size for one or more
// topics.
func (b *Bus) Subscribe(buffer int, policy Policy, topics ...string) (*Subscription, error) {
	if buffer < 1 {
		return nil, fmt.Errorf("eventbus: buffer %d, need at least 1", buffer)
	}
	if len(topics) == 0 {
		return nil, errors.New("eventbus: no topics")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	s := &Subscription{
		ch:     make(chan Message, buffer),
		policy: policy,
		topics: topics,
		bus:    b,
	}
	for _, topic := range topics {
		if b.subs[topic] == nil {
			b.subs[topic] = make(map[*Subscription]struct{})
		}
		b.subs[topic][s] = struct{}{}
	}
	return s, nil
}

// Publish delivers payload to every subscriber of topic without ever
// blocking, applying each subscription's drop policy when its buffer is
// full. It returns the number of buffers the message landed in.
func (b *Bus) Publish(topic string, payload any) int {
	msg := Message{Topic: topic, Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0
	}

	delivered := 0
	for s := range b.subs[topic] {
		select {
		case s.ch <- msg:
			delivered++
			continue
		default:
		}
		switch s.policy {
		case DropOldest:
			select {
			case <-s.ch:
				s.dropped.Add(1)
			default:
			}
			select {
			case s.ch <- msg:
				delivered++
			default:
				// A consumer raced the eviction; the message is shed.
				s.dropped.Add(1)
			}
		default:
			s.dropped.Add(1)
		}
	}
	return delivered
}

// Subscribers reports how many subscriptions a topic has.
func (b *Bus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Close ends every subscription and rejects further subscribes.
// Publishing to a closed bus is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	seen := make(map[*Subscription]struct{})
	for _, subs := range b.subs {
		for s := range subs {
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			s.closed = true
			close(s.ch)
		}
	}
	b.subs = make(map[string]map[*Subscription]struct{})
}

func (b *Bus) unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, topic := range s.topics {
		delete(b.subs[topic], s)
		if len(b.subs[topic]) == 0 {
			delete(b.subs, topic)
		}
	}
	close(s.ch)
}
