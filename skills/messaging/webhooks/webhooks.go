// Package webhooks implements signed webhook delivery with a retry
// schedule.
//
// A webhook endpoint is someone else's server: it will be down, slow,
// and occasionally wrong, and none of that may hurt the sender or lose
// an event. Delivery is therefore at-least-once with scheduled retries.
// An attempt is one POST; HTTP 2xx settles the event and anything else
// burns one slot in Schedule, spacing attempts from immediate out to a
// day. An event that survives the whole schedule moves to the dead
// letter list, where an operator can Replay it after the receiver is
// fixed.
//
// Authenticity rides in two headers. The signature is an HMAC-SHA256
// over timestamp + "." + body, so the receiver can verify both that the
// payload is untouched and that it is fresh; Verify rejects timestamps
// outside a tolerance window, which blocks replaying a captured request
// later. Receivers deduplicate by the event ID, because retries after a
// lost response redeliver.
//
// Skill metadata:
//
//	name: webhook-delivery
//	category: messaging
//	tags: webhooks, hmac, retries, dead-letter, at-least-once
//	level: advanced
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Schedule spaces delivery attempts. Index n is the wait before attempt
// n+1; the first attempt is immediate.
var Schedule = []time.Duration{
	0,
	5 * time.Minute,
	30 * time.Minute,
	2 * time.Hour,
	8 * time.Hour,
	24 * time.Hour,
}

// Request headers carrying identity and authenticity.
const (
	HeaderID        = "X-Webhook-ID"
	HeaderTimestamp = "X-Webhook-Timestamp"
	HeaderSignature = "X-Webhook-Signature"
)

var (
	// ErrBadSignature reports a signature that does not match the body.
	ErrBadSignature = errors.New("webhooks: signature mismatch")

	// ErrStaleTimestamp reports a timestamp outside the tolerance
	// window, the shape of a replayed capture.
	ErrStaleTimestamp = errors.New("webhooks: timestamp outside tolerance")

	// ErrUnknownEvent reports a Replay of an event not in the dead
	// letter list.
	ErrUnknownEvent = errors.New("webhooks: unknown event")
)

// Event is one webhook payload.
type Event struct {
	ID        uuid.UUID       `json:"event_id"`
	Type      string          `json:"event_type"`
	CreatedAt time.Time       `json:"created_at"`
	Data      json.RawMessage `json:"data"`
}

// Sign computes the signature for a body sent at ts.
func Sign(secret []byte, ts time.Time, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	fmt.Fprintf(mac, "%d.", ts.Unix())
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a received webhook: the timestamp must be within
// tolerance of now and the signature must match the body. Comparison is
// constant time.
func Verify(secret []byte, timestamp, signature string, body []byte, now time.Time, tolerance time.Duration) error {
	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("webhooks: bad timestamp %q: %w", timestamp, err)
	}
	ts := time.Unix(unix, 0)
	if d := now.Sub(ts); d > tolerance || d < -tolerance {
		return fmt.Errorf("%w: %s", ErrStaleTimestamp, timestamp)
	}
	want := Sign(secret, ts, body)
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}

// Sender posts signed events to one endpoint.
type Sender struct {
	url    string
	secret []byte
	client *http.Client

	now func() time.Time
}

// NewSender builds a sender for one endpoint and secret.
func NewSender(url string, secret []byte) (*Sender, error) {
	if url == "" {
		return nil, errors.New("webhooks: empty endpoint URL")
	}
	if len(secret) == 0 {
		return nil, errors.New("webhooks: empty secret")
	}
	return &Sender{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}, nil
}

// Deliver makes one signed delivery attempt. Any status outside 2xx is
// an error.
func (s *Sender) Deliver(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("webhooks: encode event %s: %w", ev.ID, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhooks: build request: %w", err)
	}
	ts := s.now()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderID, ev.ID.String())
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts.Unix(), 10))
	req.Header.Set(HeaderSignature, Sign(s.secret, ts, body))

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhooks: post %s: %w", ev.ID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhooks: event %s got status %d", ev.ID, resp.StatusCode)
	}
	return nil
}

type delivery struct {
	event    Event
	attempts int
	nextAt   time.Time
	inflight bool
}

// Dispatcher schedules deliveries through a Sender.
type Dispatcher struct {
	sender *Sender

	mu      sync.Mutex
	pending []*delivery
	dead    []*delivery

	now func() time.Time
}

// NewDispatcher builds a dispatcher over sender.
func NewDispatcher(sender *Sender) *Dispatcher {
	return &Dispatcher{sender: sender, now: time.Now}
}

// Enqueue schedules ev for immediate delivery.
func (d *Dispatcher) Enqueue(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = append(d.pending, &delivery{event: ev, nextAt: d.now()})
}

// Tick attempts every due delivery once. It returns how many events
// settled and how many exhausted the schedule this pass.
func (d *Dispatcher) Tick(ctx context.Context) (delivered, exhausted int) {
	now := d.now()

	d.mu.Lock()
	var due []*delivery
	for _, dl := range d.pending {
		if dl.inflight || dl.nextAt.After(now) {
			continue
		}
		dl.inflight = true
		due = append(due, dl)
	}
	d.mu.Unlock()

	for _, dl := range due {
		err := d.sender.Deliver(ctx, dl.event)

		d.mu.Lock()
		dl.inflight = false
		dl.attempts++
		switch {
		case err == nil:
			d.remove(dl)
			delivered++
		case dl.attempts >= len(Schedule):
			d.remove(dl)
			d.dead = append(d.dead, dl)
			exhausted++
		default:
			dl.nextAt = d.now().Add(Schedule[dl.attempts])
		}
		d.mu.Unlock()
	}
	return delivered, exhausted
}

// Run ticks on an interval until ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		d.Tick(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Pending reports deliveries still being attempted.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// DeadLetters lists events that exhausted the schedule.
func (d *Dispatcher) DeadLetters() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Event, len(d.dead))
	for i, dl := range d.dead {
		out[i] = dl.event
	}
	return out
}

// Replay moves a dead event back into the queue with a fresh schedule.
func (d *Dispatcher) Replay(id uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, dl := range d.dead {
		if dl.event.ID == id {
			d.dead = append(d.dead[:i], d.dead[i+1:]...)
			d.pending = append(d.pending, &delivery{event: dl.event, nextAt: d.now()})
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownEvent, id)
}

// remove drops dl from pending. Caller holds the lock.
func (d *Dispatcher) remove(dl *delivery) {
	for i, p := range d.pending {
		if p == dl {
			d.pending = append(d.pending[:i], d.pending[i+1:]...)
			return
		}
	}
}
