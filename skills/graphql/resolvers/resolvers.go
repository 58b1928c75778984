// Package resolvers implements a GraphQL schema with batched child
// resolution.
//
// The wiring shows the three things every graphql-go schema needs: object
// types with typed fields, argument declarations with access through
// ResolveParams, and a root query object handed to NewSchema. Resolver
// errors surface in the result's Errors list, not as Go errors; the
// transport stays 200 and the client sees a partial result.
//
// The part worth copying is the answer to the N+1 problem. A nested query
// like users { orders } naively costs one orders query per user because
// each child resolver fires alone. This executor resolves fields
// serially, so the fix lives in the parent: the users resolver fetches
// orders for the whole page in one batch and parks them in a per-request
// cache on the context, and the child resolver only reads the cache. Two
// store queries for any page size, and the cache dies with the request so
// nothing leaks across users.
//
// Skill metadata:
//
//	name: graphql-resolvers
//	category: graphql
//	tags: graphql, schema, resolver, batching, n+1
//	level: advanced
package resolvers

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/graphql-go/graphql"
)

// User is a parent node in the graph.
type User struct {
	ID    string
	Name  string
	Email string
}

// Order is a child node, owned by one user.
type Order struct {
	ID     string
	UserID string
	Total  float64
	Status string
}

// Store is the backing source of users and orders. It counts queries so
// the batching behavior is observable.
type Store struct {
	mu      sync.RWMutex
	users   map[string]User
	orders  map[string][]Order
	queries atomic.Int64
}

// NewStore seeds a store.
func NewStore(users []User, orders []Order) *Store {
	s := &Store{
		users:  make(map[string]User, len(users)),
		orders: make(map[string][]Order),
	}
	for _, u := range users {
		s.users[u.ID] = u
	}
	for _, o := range orders {
		s.orders[o.UserID] = append(s.orders[o.UserID], o)
	}
	return s
}

// Users returns up to limit users ordered by ID. limit <= 0 means all.
func (s *Store) Users(limit int) []User {
	s.queries.Add(1)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

// User returns one user by ID.
func (s *Store) User(id string) (User, bool) {
	s.queries.Add(1)
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok
}

// OrdersByUser returns the orders of every given user in one query. A
// user with no orders maps to an empty, never nil, slice.
func (s *Store) OrdersByUser(ids ...string) map[string][]Order {
	s.queries.Add(1)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]Order, len(ids))
	for _, id := range ids {
		out[id] = append([]Order{}, s.orders[id]...)
	}
	return out
}

// Queries returns how many store queries have run.
func (s *Store) Queries() int64 { return s.queries.Load() }

// orderCache holds prefetched orders for the lifetime of one request.
type orderCache struct {
	mu     sync.Mutex
	orders map[string][]Order
}

type cacheKey struct{}

// WithRequestCache returns ctx carrying a fresh per-request cache. Pass
// the result as the request context of every Do call; reusing one cache
// across requests would serve stale children.
func WithRequestCache(ctx context.Context) context.Context {
	return context.WithValue(ctx, cacheKey{}, &orderCache{orders: make(map[string][]Order)})
}

func requestCache(ctx context.Context) *orderCache {
	c, _ := ctx.Value(cacheKey{}).(*orderCache)
	return c
}

func (c *orderCache) put(batch map[string][]Order) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, orders := range batch {
		c.orders[id] = orders
	}
}

func (c *orderCache) get(userID string) ([]Order, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	orders, ok := c.orders[userID]
	return orders, ok
}

// New builds the schema over store.
func New(store *Store) (graphql.Schema, error) {
	orderType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Order",
		Fields: graphql.Fields{
			"id":     &graphql.Field{Type: graphql.NewNonNull(graphql.ID)},
			"total":  &graphql.Field{Type: graphql.NewNonNull(graphql.Float)},
			"status": &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		},
	})

	userType := graphql.NewObject(graphql.ObjectConfig{
		Name: "User",
		Fields: graphql.Fields{
			"id":    &graphql.Field{Type: graphql.NewNonNull(graphql.ID)},
			"name":  &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"email": &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		},
	})

	// Added after construction so the resolver can close over both types.
	userType.AddFieldConfig("orders", &graphql.Field{
		Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(orderType))),
		Resolve: func(p graphql.ResolveParams) (interface{}, error) {
			u, ok := p.Source.(User)
			if !ok {
				return nil, fmt.Errorf("orders resolved against %T, want User", p.Source)
			}
			cache := requestCache(p.Context)
			if orders, ok := cache.get(u.ID); ok {
				return orders, nil
			}
			// Single-user path: one extra query, then cached.
			batch := store.OrdersByUser(u.ID)
			cache.put(batch)
			return batch[u.ID], nil
		},
	})

	query := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"user": &graphql.Field{
				Type: userType,
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					id, _ := p.Args["id"].(string)
					u, ok := store.User(id)
					if !ok {
						return nil, fmt.Errorf("no user %q", id)
					}
					return u, nil
				},
			},
			"users": &graphql.Field{
				Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(userType))),
				Args: graphql.FieldConfigArgument{
					"limit": &graphql.ArgumentConfig{
						Type:         graphql.Int,
						DefaultValue: 0,
					},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					limit, _ := p.Args["limit"].(int)
					users := store.Users(limit)

					// Batch the children for the whole page up front so
					// the orders field costs one query, not one per user.
					ids := make([]string, len(users))
					for i, u := range users {
						ids[i] = u.ID
					}
					requestCache(p.Context).put(store.OrdersByUser(ids...))
					return users, nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{Query: query})
}

// Do runs one query against the schema with a fresh per-request cache.
func Do(ctx context.Context, schema graphql.Schema, query string, vars map[string]interface{}) *graphql.Result {
	return graphql.Do(graphql.Params{
		Schema:         schema,
		RequestString:  query,
		VariableValues: vars,
		Context:        WithRequestCache(ctx),
	})
}
