// Package requestkeys makes unsafe HTTP methods safe to retry by
// honoring an Idempotency-Key header.
//
// Retries are not an edge case. Mobile clients resend on flaky radios,
// proxies resend on timeouts, and users double-click, so a POST that
// charges a card or creates an order must tolerate arriving twice. The
// contract here is record-and-replay: the first request with a given
// key runs the handler and records exactly what it sent, and every
// later request with that key gets the recorded response back, marked
// with Idempotency-Replayed, without the handler running again.
//
// Two details carry the correctness. A key whose first request is still
// executing answers 409 Conflict rather than running the handler
// concurrently, which would defeat the whole point. And recorded
// responses live in an expirable LRU with a capacity bound and a
// retention window, so the registry can neither grow without limit nor
// replay stale responses forever; an expired key simply runs fresh.
//
// Skill metadata:
//
//	name: idempotency-keys
//	category: idempotency
//	tags: http, idempotency, retries, lru, middleware
//	level: advanced
package requestkeys

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// HeaderKey names the request header carrying the idempotency key.
const HeaderKey = "Idempotency-Key"

// HeaderReplayed marks responses served from the registry.
const HeaderReplayed = "Idempotency-Replayed"

// Status reports what the registry knows about a key.
type Status int

const (
	// StatusNew means the key is unclaimed and the caller now owns it.
	StatusNew Status = iota
	// StatusInFlight means another request with this key is executing.
	StatusInFlight
	// StatusDone means a recorded response exists.
	StatusDone
)

// Response is the recorded outcome of a keyed request.
type Response struct {
	Code   int
	Header http.Header
	Body   []byte
}

// Registry tracks in-flight keys and recorded responses.
type Registry struct {
	mu       sync.Mutex
	inflight map[string]struct{}
	done     *expirable.LRU[string, *Response]
}

// NewRegistry bounds recorded responses to capacity entries retained
// for ttl.
func NewRegistry(capacity int, ttl time.Duration) (*Registry, error) {
	if capacity <= 0 {
		return nil, errors.New("requestkeys: capacity must be positive")
	}
	if ttl <= 0 {
		return nil, errors.New("requestkeys: ttl must be positive")
	}
	return &Registry{
		inflight: make(map[string]struct{}),
		done:     expirable.NewLRU[string, *Response](capacity, nil, ttl),
	}, nil
}

// Begin claims key for the caller. StatusNew means proceed and later
// call Finish or Abort. StatusDone returns the recorded response.
func (r *Registry) Begin(key string) (Status, *Response) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if resp, ok := r.done.Get(key); ok {
		return StatusDone, resp
	}
	if _, ok := r.inflight[key]; ok {
		return StatusInFlight, nil
	}
	r.inflight[key] = struct{}{}
	return StatusNew, nil
}

// Finish records resp as the durable answer for key.
func (r *Registry) Finish(key string, resp *Response) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, key)
	r.done.Add(key, resp)
}

// Abort releases a claim without recording, so a retry runs fresh.
func (r *Registry) Abort(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, key)
}

// Middleware applies the registry to unsafe methods. Requests without a
// key, and safe methods, pass through untouched.
func (r *Registry) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		key := req.Header.Get(HeaderKey)
		if key == "" || !unsafeMethod(req.Method) {
			next.ServeHTTP(w, req)
			return
		}

		switch status, resp := r.Begin(key); status {
		case StatusDone:
			replay(w, resp)
			return
		case StatusInFlight:
			http.Error(w, "request with this idempotency key is in flight", http.StatusConflict)
			return
		}

		rec := &recorder{ResponseWriter: w}
		defer func() {
			if p := recover(); p != nil {
				// Never record a half-produced response.
				r.Abort(key)
				panic(p)
			}
			r.Finish(key, rec.snapshot())
		}()
		next.ServeHTTP(rec, req)
	})
}

func unsafeMethod(m string) bool {
	switch m {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func replay(w http.ResponseWriter, resp *Response) {
	for k, vs := range resp.Header {
		w.Header()[k] = vs
	}
	w.Header().Set(HeaderReplayed, "true")
	w.WriteHeader(resp.Code)
	w.Write(resp.Body)
}

// recorder forwards to the client while keeping a copy for the
// registry.
type recorder struct {
	http.ResponseWriter
	code int
	body []byte
}

func (rec *recorder) WriteHeader(code int) {
	if rec.code == 0 {
		rec.code = code
	}
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *recorder) Write(p []byte) (int, error) {
	if rec.code == 0 {
		rec.code = http.StatusOK
	}
	rec.body = append(rec.body, p...)
	return rec.ResponseWriter.Write(p)
}

func (rec *recorder) snapshot() *Response {
	code := rec.code
	if code == 0 {
		code = http.StatusOK
	}
	return &Response{
		Code:   code,
		Header: rec.Header().Clone(),
		Body:   append([]byte(nil), rec.body...),
	}
}
