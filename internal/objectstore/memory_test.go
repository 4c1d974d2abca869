package objectstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/moctezuma-dev/zappy-back/internal/model"
)

func TestMemoryListNewestFirst(t *testing.T) {
	m := NewMemory()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	m.now = func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Minute) }

	ctx := context.Background()
	for _, p := range []string{"in/a.mp3", "in/b.mp4", "in/nested/c.mp3", "root.wav"} {
		if _, err := m.Upload(ctx, "media", p, []byte(p), UploadOptions{}); err != nil {
			t.Fatalf("upload %s: %v", p, err)
		}
	}

	objs, err := m.List(ctx, "media", "in", ListOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(objs) != 2 || objs[0].Path != "in/b.mp4" || objs[1].Path != "in/a.mp3" {
		t.Fatalf("unexpected listing: %+v", objs)
	}

	objs, _ = m.List(ctx, "media", "in", ListOptions{Limit: 1, Offset: 1})
	if len(objs) != 1 || objs[0].Name != "a.mp3" {
		t.Fatalf("paging: %+v", objs)
	}
}

func TestMemoryUploadConflictAndDownload(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if _, err := m.Upload(ctx, "b", "x", []byte("1"), UploadOptions{}); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if _, err := m.Upload(ctx, "b", "x", []byte("2"), UploadOptions{}); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := m.Upload(ctx, "b", "x", []byte("3"), UploadOptions{Upsert: true}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	data, err := m.Download(ctx, "b", "x")
	if err != nil || string(data) != "3" {
		t.Fatalf("download = %q, %v", data, err)
	}
	if _, err := m.Download(ctx, "b", "nope"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
