package objectstore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/moctezuma-dev/zappy-back/internal/model"
)

type memObject struct {
	data      []byte
	mimeType  string
	metadata  map[string]any
	createdAt time.Time
}

// Memory is an in-process Store.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]map[string]*memObject
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{objects: map[string]map[string]*memObject{}, now: time.Now}
}

// List returns the direct children of folder, newest first.
func (m *Memory) List(_ context.Context, bucket, folder string, opts ListOptions) ([]Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	prefix := ""
	if folder != "" {
		prefix = strings.TrimSuffix(folder, "/") + "/"
	}
	var out []Object
	for p, o := range m.objects[bucket] {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		name := strings.TrimPrefix(p, prefix)
		if strings.Contains(name, "/") {
			continue
		}
		out = append(out, Object{Name: name, Path: p, Size: int64(len(o.data)), MIMEType: o.mimeType, CreatedAt: o.createdAt})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Path < out[j].Path
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if opts.Offset >= len(out) {
		return []Object{}, nil
	}
	out = out[opts.Offset:]
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (m *Memory) Download(_ context.Context, bucket, path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.objects[bucket][path]
	if !ok {
		return nil, fmt.Errorf("download %s/%s: %w", bucket, path, model.ErrNotFound)
	}
	return slices.Clone(o.data), nil
}

func (m *Memory) Upload(_ context.Context, bucket, path string, data []byte, opts UploadOptions) (*Uploaded, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects[bucket] == nil {
		m.objects[bucket] = map[string]*memObject{}
	}
	if _, exists := m.objects[bucket][path]; exists && !opts.Upsert {
		return nil, fmt.Errorf("upload %s/%s: %w", bucket, path, model.ErrConflict)
	}
	m.objects[bucket][path] = &memObject{
		data:      slices.Clone(data),
		mimeType:  opts.ContentType,
		metadata:  maps.Clone(opts.Metadata),
		createdAt: m.now(),
	}
	return &Uploaded{Path: path, URL: m.PublicURL(bucket, path)}, nil
}

func (m *Memory) PublicURL(bucket, path string) string {
	return "memory://" + bucket + "/" + path
}
