package mailwatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/moctezuma-dev/zappy-back/internal/ingest"
	"github.com/moctezuma-dev/zappy-back/internal/model"
)

type fakeMailbox struct {
	mu      sync.Mutex
	msgs    []Message
	seen    map[uint32]bool
	listErr error
	markErr error
	polls   int
}

func (f *fakeMailbox) Unseen(_ context.Context, limit int) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []Message
	for _, m := range f.msgs {
		if !f.seen[m.UID] && len(out) < limit {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMailbox) MarkSeen(_ context.Context, uids []uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	for _, u := range uids {
		f.seen[u] = true
	}
	return nil
}

func (f *fakeMailbox) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

// fakeIngester fails bodies containing "boom" transiently and "bad" permanently.
type fakeIngester struct {
	mu        sync.Mutex
	companies []string
	bodies    []string
}

func (f *fakeIngester) IngestRawEmail(_ context.Context, r io.Reader, company string) (*ingest.Result, error) {
	b, _ := io.ReadAll(r)
	body := string(b)
	switch {
	case strings.Contains(body, "boom"):
		return nil, errors.New("store down")
	case strings.Contains(body, "bad"):
		return nil, fmt.Errorf("%w: parse email", model.ErrValidation)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.companies = append(f.companies, company)
	f.bodies = append(f.bodies, body)
	return &ingest.Result{InteractionID: fmt.Sprintf("i-%d", len(f.bodies))}, nil
}

func newMailbox(msgs ...Message) *fakeMailbox {
	return &fakeMailbox{msgs: msgs, seen: map[uint32]bool{}}
}

func TestPoll_IngestsAndMarksSeen(t *testing.T) {
	mb := newMailbox(
		Message{UID: 1, Raw: []byte("Subject: hola\r\n\r\nprecio")},
		Message{UID: 2, Raw: []byte("bad")},
		Message{UID: 3, Raw: []byte("boom")},
	)
	ing := &fakeIngester{}
	p := New(Config{Company: "acme.com"}, mb, ing, zerolog.Nop())

	n, err := p.Poll(context.Background())
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if n != 1 {
		t.Fatalf("want 1 stored, got %d", n)
	}
	if !mb.seen[1] || !mb.seen[2] {
		t.Fatalf("stored and rejected messages must be marked seen: %v", mb.seen)
	}
	if mb.seen[3] {
		t.Fatalf("transient failure must stay unseen")
	}
	if len(ing.companies) != 1 || ing.companies[0] != "acme.com" {
		t.Fatalf("company hint not passed: %v", ing.companies)
	}

	// Only the failed message is retried.
	n, err = p.Poll(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("second poll: n=%d err=%v", n, err)
	}
	if len(ing.bodies) != 1 {
		t.Fatalf("stored messages must not be ingested twice")
	}
}

func TestPoll_Errors(t *testing.T) {
	mb := newMailbox()
	mb.listErr = errors.New("login failed")
	p := New(Config{}, mb, &fakeIngester{}, zerolog.Nop())
	if _, err := p.Poll(context.Background()); err == nil {
		t.Fatalf("expected list error")
	}

	mb = newMailbox(Message{UID: 7, Raw: []byte("ok")})
	mb.markErr = errors.New("connection reset")
	p = New(Config{}, mb, &fakeIngester{}, zerolog.Nop())
	n, err := p.Poll(context.Background())
	if err == nil {
		t.Fatalf("expected mark error")
	}
	if n != 1 {
		t.Fatalf("stored count should still be reported, got %d", n)
	}
}

func TestStartStop(t *testing.T) {
	mb := newMailbox()
	p := New(Config{Interval: 10 * time.Millisecond}, mb, &fakeIngester{}, zerolog.Nop())

	p.Start(context.Background())
	p.Start(context.Background())
	if !p.Running() {
		t.Fatalf("expected running")
	}
	deadline := time.Now().Add(2 * time.Second)
	for mb.pollCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if mb.pollCount() < 2 {
		t.Fatalf("expected repeated polls, got %d", mb.pollCount())
	}
	p.Stop()
	p.Stop()
	if p.Running() {
		t.Fatalf("expected stopped")
	}
}

func TestNewIMAPMailbox_Defaults(t *testing.T) {
	m := NewIMAPMailbox(IMAPConfig{Host: "imap.example.com"})
	if m.cfg.Port != 993 || m.cfg.Mailbox != "INBOX" {
		t.Fatalf("unexpected defaults: %+v", m.cfg)
	}
}
