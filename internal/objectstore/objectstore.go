// Package objectstore is a bucket-oriented blob store client. The Supabase
// implementation speaks the Storage REST API; Memory backs tests and local runs.
package objectstore

import (
	"context"
	"time"
)

// Object is a listed bucket entry. Path is relative to the bucket.
type Object struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	MIMEType  string    `json:"mime_type,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type ListOptions struct {
	Limit  int
	Offset int
}

type UploadOptions struct {
	ContentType string
	Upsert      bool
	Metadata    map[string]any
}

// Uploaded describes a stored object.
type Uploaded struct {
	Path string `json:"path"`
	URL  string `json:"url"`
}

// Store lists newest objects first.
type Store interface {
	List(ctx context.Context, bucket, folder string, opts ListOptions) ([]Object, error)
	Download(ctx context.Context, bucket, path string) ([]byte, error)
	Upload(ctx context.Context, bucket, path string, data []byte, opts UploadOptions) (*Uploaded, error)
	PublicURL(bucket, path string) string
}

func joinPath(folder, name string) string {
	if folder == "" {
		return name
	}
	return folder + "/" + name
}
