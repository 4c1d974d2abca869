package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/moctezuma-dev/zappy-back/internal/analyzer"
	"github.com/moctezuma-dev/zappy-back/internal/taskqueue"
)

// fakeSource hands out the event callback and blocks until cancelled.
type fakeSource struct {
	mu      sync.Mutex
	fn      func(Event)
	active  atomic.Int32
	listens atomic.Int32
	ready   chan struct{}
}

func newFakeSource() *fakeSource { return &fakeSource{ready: make(chan struct{}, 8)} }

func (s *fakeSource) Listen(ctx context.Context, _ string, fn func(Event)) error {
	s.listens.Add(1)
	if s.active.Add(1) > 1 {
		panic("two live subscriptions")
	}
	defer s.active.Add(-1)
	s.mu.Lock()
	s.fn = fn
	s.mu.Unlock()
	s.ready <- struct{}{}
	<-ctx.Done()
	return ctx.Err()
}

func (s *fakeSource) emit(ev Event) {
	s.mu.Lock()
	fn := s.fn
	s.mu.Unlock()
	fn(ev)
}

type fakeHandler struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (h *fakeHandler) AnalyzeByID(_ context.Context, table, id string) (*analyzer.Output, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, table+":"+id)
	return &analyzer.Output{Summary: "ok"}, h.err
}

func (h *fakeHandler) snapshot() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

func waitReady(t *testing.T, s *fakeSource) {
	t.Helper()
	select {
	case <-s.ready:
	case <-time.After(2 * time.Second):
		t.Fatalf("source never listened")
	}
}

func newTestWatcher(t *testing.T, h Handler) (*Watcher, *fakeSource, *taskqueue.Queue) {
	t.Helper()
	q := taskqueue.New(taskqueue.Config{Shards: 1, MaxAttempts: 1}, zerolog.Nop())
	t.Cleanup(q.Stop)
	src := newFakeSource()
	w := New(Config{}, src, h, q, zerolog.Nop())
	t.Cleanup(func() { _ = w.Close() })
	return w, src, q
}

func TestDispatch_FiltersAndOrders(t *testing.T) {
	h := &fakeHandler{}
	w, src, q := newTestWatcher(t, h)
	w.Subscribe(context.Background())
	waitReady(t, src)

	src.emit(Event{Table: "interactions", Op: "INSERT", ID: "i1"})
	src.emit(Event{Table: "interactions", Op: "update", ID: "i1"})
	src.emit(Event{Table: "invoices", Op: "INSERT", ID: "x"})
	src.emit(Event{Table: "work_items", Op: "DELETE", ID: "w1"})
	src.emit(Event{Table: "contacts", Op: "INSERT"})

	if err := q.Barrier(context.Background(), "interactions:i1"); err != nil {
		t.Fatalf("barrier: %v", err)
	}
	got := h.snapshot()
	if len(got) != 2 || got[0] != "interactions:i1" || got[1] != "interactions:i1" {
		t.Fatalf("unexpected dispatches: %v", got)
	}
}

func TestSubscribe_Idempotent(t *testing.T) {
	w, src, _ := newTestWatcher(t, &fakeHandler{})
	w.Subscribe(context.Background())
	waitReady(t, src)
	w.Subscribe(context.Background())

	time.Sleep(20 * time.Millisecond)
	if n := src.listens.Load(); n != 1 {
		t.Fatalf("expected one Listen call, got %d", n)
	}
	if !w.Subscribed() {
		t.Fatalf("expected subscribed")
	}
}

func TestResubscribe_TearsDownFirst(t *testing.T) {
	w, src, _ := newTestWatcher(t, &fakeHandler{})
	w.Subscribe(context.Background())
	waitReady(t, src)

	w.Resubscribe()
	waitReady(t, src)
	if n := src.listens.Load(); n != 2 {
		t.Fatalf("expected two Listen calls, got %d", n)
	}
	if a := src.active.Load(); a != 1 {
		t.Fatalf("expected one live subscription, got %d", a)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if w.Subscribed() {
		t.Fatalf("expected unsubscribed after Close")
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestDispatch_HandlerErrorDoesNotStopStream(t *testing.T) {
	h := &fakeHandler{err: errors.New("boom")}
	w, src, q := newTestWatcher(t, h)
	w.Subscribe(context.Background())
	waitReady(t, src)

	src.emit(Event{Table: "fresh_data", Op: "INSERT", ID: "f1"})
	src.emit(Event{Table: "fresh_data", Op: "INSERT", ID: "f2"})
	_ = q.Barrier(context.Background(), "fresh_data:f1")
	_ = q.Barrier(context.Background(), "fresh_data:f2")

	if got := h.snapshot(); len(got) != 2 {
		t.Fatalf("expected both events handled, got %v", got)
	}
	if !w.Subscribed() {
		t.Fatalf("subscription should survive handler errors")
	}
}

func TestDispatch_WithoutSource(t *testing.T) {
	h := &fakeHandler{}
	q := taskqueue.New(taskqueue.Config{Shards: 1, MaxAttempts: 1}, zerolog.Nop())
	t.Cleanup(q.Stop)
	w := New(Config{}, nil, h, q, zerolog.Nop())

	w.Subscribe(context.Background())
	if w.Subscribed() {
		t.Fatalf("a watcher without a source never subscribes")
	}
	w.Dispatch(context.Background(), "interactions", "i9")
	if err := q.Barrier(context.Background(), "interactions:i9"); err != nil {
		t.Fatalf("barrier: %v", err)
	}
	if got := h.snapshot(); len(got) != 1 || got[0] != "interactions:i9" {
		t.Fatalf("unexpected dispatches: %v", got)
	}
}
