package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

var testSecret = []byte("whsec_3b5c9d2f8a714e06")

func testEvent() Event {
	return Event{
		ID:        uuid.New(),
		Type:      "payment.captured",
		CreatedAt: time.Unix(1700000000, 0).UTC(),
		Data:      json.RawMessage(`{"amount":100,"currency":"EUR"}`),
	}
}

func TestSignVerify(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	body := []byte(`{"event_id":"abc"}`)
	sig := Sign(testSecret, ts, body)
	if !strings.HasPrefix(sig, "sha256=") {
		t.Fatalf("signature %q lacks scheme prefix", sig)
	}

	now := ts.Add(30 * time.Second)
	if err := Verify(testSecret, "1700000000", sig, body, now, 5*time.Minute); err != nil {
		t.Errorf("Verify(valid) = %v", err)
	}
	if err := Verify(testSecret, "1700000000", sig, []byte(`{"event_id":"tampered"}`), now, 5*time.Minute); !errors.Is(err, ErrBadSignature) {
		t.Errorf("Verify(tampered body) = %v, want ErrBadSignature", err)
	}
	if err := Verify([]byte("other secret"), "1700000000", sig, body, now, 5*time.Minute); !errors.Is(err, ErrBadSignature) {
		t.Errorf("Verify(wrong secret) = %v, want ErrBadSignature", err)
	}
	if err := Verify(testSecret, "1700000000", sig, body, ts.Add(time.Hour), 5*time.Minute); !errors.Is(err, ErrStaleTimestamp) {
		t.Errorf("Verify(old capture) = %v, want ErrStaleTimestamp", err)
	}
	if err := Verify(testSecret, "not-a-number", sig, body, now, 5*time.Minute); err == nil {
		t.Error("Verify accepted a garbage timestamp")
	}
}

func TestDeliver_SignedRequest(t *testing.T) {
	ev := testEvent()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Error(err)
		}
		if got := r.Header.Get(HeaderID); got != ev.ID.String() {
			t.Errorf("%s = %q", HeaderID, got)
		}
		err = Verify(testSecret,
			r.Header.Get(HeaderTimestamp), r.Header.Get(HeaderSignature),
			body, time.Now(), 5*time.Minute)
		if err != nil {
			t.Errorf("receiver-side Verify = %v", err)
		}

		var payload map[string]any
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatal(err)
		}
		if payload["event_id"] != ev.ID.String() || payload["event_type"] != "payment.captured" {
			t.Errorf("payload = %v", payload)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, err := NewSender(srv.URL, testSecret)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Deliver(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
}

func TestDeliver_Non2xxIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s, _ := NewSender(srv.URL, testSecret)
	err := s.Deliver(context.Background(), testEvent())
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Errorf("Deliver = %v, want a status 500 failure", err)
	}
}

func TestDispatcher_WalksTheSchedule(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	s, _ := NewSender(srv.URL, testSecret)
	d := NewDispatcher(s)
	clock := time.Now()
	d.now = func() time.Time { return clock }

	ev := testEvent()
	d.Enqueue(ev)
	ctx := context.Background()

	// First attempt is immediate.
	d.Tick(ctx)
	if got := hits.Load(); got != 1 {
		t.Fatalf("hits = %d after first tick, want 1", got)
	}
	// Not due again until the schedule says so.
	d.Tick(ctx)
	if got := hits.Load(); got != 1 {
		t.Fatalf("hits = %d on an idle tick, want 1", got)
	}

	var exhausted int
	for i := 1; i < len(Schedule); i++ {
		clock = clock.Add(Schedule[i])
		_, ex := d.Tick(ctx)
		exhausted += ex
		if got := hits.Load(); got != int32(i+1) {
			t.Fatalf("hits = %d after wait %v, want %d", got, Schedule[i], i+1)
		}
	}

	if exhausted != 1 {
		t.Errorf("exhausted = %d, want 1", exhausted)
	}
	if d.Pending() != 0 {
		t.Errorf("Pending = %d after exhaustion, want 0", d.Pending())
	}
	dead := d.DeadLetters()
	if len(dead) != 1 || dead[0].ID != ev.ID {
		t.Errorf("DeadLetters = %v", dead)
	}
}

func TestDispatcher_SuccessSettles(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			http.Error(w, "flaky", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s, _ := NewSender(srv.URL, testSecret)
	d := NewDispatcher(s)
	clock := time.Now()
	d.now = func() time.Time { return clock }

	d.Enqueue(testEvent())
	ctx := context.Background()

	d.Tick(ctx)
	clock = clock.Add(Schedule[1])
	d.Tick(ctx)
	clock = clock.Add(Schedule[2])
	delivered, exhausted := d.Tick(ctx)

	if delivered != 1 || exhausted != 0 {
		t.Errorf("Tick = (%d, %d), want (1, 0)", delivered, exhausted)
	}
	if hits.Load() != 3 {
		t.Errorf("hits = %d, want 3", hits.Load())
	}
	if d.Pending() != 0 || len(d.DeadLetters()) != 0 {
		t.Errorf("Pending = %d, DeadLetters = %d", d.Pending(), len(d.DeadLetters()))
	}
}

func TestReplay(t *testing.T) {
	var healed atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healed.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, _ := NewSender(srv.URL, testSecret)
	d := NewDispatcher(s)
	clock := time.Now()
	d.now = func() time.Time { return clock }

	ev := testEvent()
	d.Enqueue(ev)
	ctx := context.Background()
	d.Tick(ctx)
	for i := 1; i < len(Schedule); i++ {
		clock = clock.Add(Schedule[i])
		d.Tick(ctx)
	}
	if len(d.DeadLetters()) != 1 {
		t.Fatalf("DeadLetters = %d, want 1", len(d.DeadLetters()))
	}

	healed.Store(true)
	if err := d.Replay(ev.ID); err != nil {
		t.Fatal(err)
	}
	if err := d.Replay(uuid.New()); !errors.Is(err, ErrUnknownEvent) {
		t.Errorf("Replay(unknown) = %v, want ErrUnknownEvent", err)
	}

	delivered, _ := d.Tick(ctx)
	if delivered != 1 {
		t.Errorf("delivered = %d after replay, want 1", delivered)
	}
	if len(d.DeadLetters()) != 0 {
		t.Error("event still dead after successful replay")
	}
}

func TestRun_DeliversUntilCanceled(t *testing.T) {
	got := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- struct{}{}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, _ := NewSender(srv.URL, testSecret)
	d := NewDispatcher(s)
	d.Enqueue(testEvent())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, 10*time.Millisecond) }()

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("Run never delivered")
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestNewSender_Validation(t *testing.T) {
	if _, err := NewSender("", testSecret); err == nil {
		t.Error("NewSender accepted an empty URL")
	}
	if _, err := NewSender("http://example.com", nil); err == nil {
		t.Error("NewSender accepted an empty secret")
	}
}
