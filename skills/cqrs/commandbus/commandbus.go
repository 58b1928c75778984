// Package commandbus implements in-process command and query buses with a
// middleware chain.
//
// Use it when a service has grown past "handler calls service calls
// repository" and cross-cutting behavior (logging, validation, metrics,
// transactions) is being pasted into every handler. Commands mutate and
// return no data; queries return data and must not mutate. Keeping two
// buses makes that asymmetry structural instead of a convention in a
// comment.
//
// Handlers are looked up by the message's concrete type, one handler per
// type: a command with two handlers is a design smell, and fan-out belongs
// on an event bus, not here. Middleware wraps dispatch outside-in in the
// order it was added, so the first Use sees the command first and the
// last Use runs closest to the handler.
//
// Skill metadata:
//
//	name: command-bus
//	category: cqrs
//	tags: cqrs, command, query, middleware, dispatch
//	level: intermediate
package commandbus

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
)

var (
	// ErrNoHandler is returned when no handler is registered for the
	// message type.
	ErrNoHandler = errors.New("commandbus: no handler for message type")

	// ErrDuplicateHandler is returned when a type is registered twice.
	ErrDuplicateHandler = errors.New("commandbus: handler already registered")
)

// CommandHandler is the erased form middleware wraps.
type CommandHandler func(ctx context.Context, cmd any) error

// Middleware wraps command dispatch.
type Middleware func(next CommandHandler) CommandHandler

// CommandBus routes each command to its single handler.
type CommandBus struct {
	mu         sync.RWMutex
	handlers   map[reflect.Type]CommandHandler
	middleware []Middleware
}

// NewCommandBus returns an empty command bus.
func NewCommandBus() *CommandBus {
	return &CommandBus{handlers: make(map[reflect.Type]CommandHandler)}
}

// Use appends mw to the chain. All registrations share the chain; add
// middleware before dispatching.
func (b *CommandBus) Use(mw ...Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middleware = append(b.middleware, mw...)
}

// RegisterCommand binds the handler for command type C.
func RegisterCommand[C any](b *CommandBus, h func(ctx context.Context, cmd C) error) error {
	t := reflect.TypeOf((*C)(nil)).Elem()
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, dup := b.handlers[t]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, t)
	}
	b.handlers[t] = func(ctx context.Context, cmd any) error {
		return h(ctx, cmd.(C))
	}
	return nil
}

// Dispatch runs cmd through the middleware chain into its handler.
func (b *CommandBus) Dispatch(ctx context.Context, cmd any) error {
	t := reflect.TypeOf(cmd)
	b.mu.RLock()
	h, ok := b.handlers[t]
	chain := b.middleware
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoHandler, t)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		h = chain[i](h)
	}
	return h(ctx, cmd)
}

// QueryHandler is the erased query form.
type QueryHandler func(ctx context.Context, q any) (any, error)

// QueryBus routes each query to its single handler.
type QueryBus struct {
	mu       sync.RWMutex
	handlers map[reflect.Type]QueryHandler
}

// NewQueryBus returns an empty query bus.
func NewQueryBus() *QueryBus {
	return &QueryBus{handlers: make(map[reflect.Type]QueryHandler)}
}

// RegisterQuery binds the handler for query type Q returning R.
func RegisterQuery[Q any, R any](b *QueryBus, h func(ctx context.Context, q Q) (R, error)) error {
	t := reflect.TypeOf((*Q)(nil)).Elem()
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, dup := b.handlers[t]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, t)
	}
	b.handlers[t] = func(ctx context.Context, q any) (any, error) {
		return h(ctx, q.(Q))
	}
	return nil
}

// Ask dispatches q and returns the handler's typed result.
func Ask[R any](ctx context.Context, b *QueryBus, q any) (R, error) {
	var zero R
	t := reflect.TypeOf(q)
	b.mu.RLock()
	h, ok := b.handlers[t]
	b.mu.RUnlock()
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrNoHandler, t)
	}
	out, err := h(ctx, q)
	if err != nil {
		return zero, err
	}
	r, ok := out.(R)
	if !ok {
		return zero, fmt.Errorf("commandbus: handler for %s returned %T, caller wants %T", t, out, zero)
	}
	return r, nil
}
