package objectstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/moctezuma-dev/zappy-back/internal/model"
)

// Supabase talks to a Supabase Storage endpoint with a service key.
type Supabase struct {
	client  *resty.Client
	baseURL string
}

func NewSupabase(baseURL, serviceKey string, timeout time.Duration) *Supabase {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	base := strings.TrimRight(baseURL, "/")
	c := resty.New().
		SetBaseURL(base+"/storage/v1").
		SetHeader("apikey", serviceKey).
		SetAuthToken(serviceKey).
		SetTimeout(timeout)
	return &Supabase{client: c, baseURL: base}
}

type listRequest struct {
	Prefix string   `json:"prefix"`
	Limit  int      `json:"limit"`
	Offset int      `json:"offset"`
	SortBy sortSpec `json:"sortBy"`
}

type sortSpec struct {
	Column string `json:"column"`
	Order  string `json:"order"`
}

type listEntry struct {
	Name      string         `json:"name"`
	ID        *string        `json:"id"`
	CreatedAt string         `json:"created_at"`
	Metadata  map[string]any `json:"metadata"`
}

func (s *Supabase) List(ctx context.Context, bucket, folder string, opts ListOptions) ([]Object, error) {
	if opts.Limit <= 0 {
		opts.Limit = 100
	}
	var entries []listEntry
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(listRequest{
			Prefix: folder,
			Limit:  opts.Limit,
			Offset: opts.Offset,
			SortBy: sortSpec{Column: "created_at", Order: "desc"},
		}).
		SetResult(&entries).
		Post("/object/list/" + url.PathEscape(bucket))
	if err != nil {
		return nil, fmt.Errorf("list %s/%s: %w", bucket, folder, err)
	}
	if err := statusError(resp, "list "+bucket); err != nil {
		return nil, err
	}

	out := make([]Object, 0, len(entries))
	for _, e := range entries {
		if e.ID == nil {
			// Folder placeholder.
			continue
		}
		o := Object{Name: e.Name, Path: joinPath(folder, e.Name)}
		if t, err := time.Parse(time.RFC3339, e.CreatedAt); err == nil {
			o.CreatedAt = t
		}
		if size, ok := e.Metadata["size"].(float64); ok {
			o.Size = int64(size)
		}
		if mt, ok := e.Metadata["mimetype"].(string); ok {
			o.MIMEType = mt
		}
		out = append(out, o)
	}
	return out, nil
}

func (s *Supabase) Download(ctx context.Context, bucket, path string) ([]byte, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		Get(objectPath(bucket, path))
	if err != nil {
		return nil, fmt.Errorf("download %s/%s: %w", bucket, path, err)
	}
	if err := statusError(resp, "download "+bucket+"/"+path); err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

func (s *Supabase) Upload(ctx context.Context, bucket, path string, data []byte, opts UploadOptions) (*Uploaded, error) {
	if opts.ContentType == "" {
		opts.ContentType = "application/octet-stream"
	}
	req := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", opts.ContentType).
		SetHeader("x-upsert", strconv.FormatBool(opts.Upsert)).
		SetBody(data)
	if len(opts.Metadata) > 0 {
		raw, err := json.Marshal(opts.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		req.SetHeader("x-metadata", base64.StdEncoding.EncodeToString(raw))
	}
	resp, err := req.Post(objectPath(bucket, path))
	if err != nil {
		return nil, fmt.Errorf("upload %s/%s: %w", bucket, path, err)
	}
	if err := statusError(resp, "upload "+bucket+"/"+path); err != nil {
		return nil, err
	}
	return &Uploaded{Path: path, URL: s.PublicURL(bucket, path)}, nil
}

func (s *Supabase) PublicURL(bucket, path string) string {
	return s.baseURL + "/storage/v1/object/public/" + url.PathEscape(bucket) + "/" + escapePath(path)
}

func objectPath(bucket, path string) string {
	return "/object/" + url.PathEscape(bucket) + "/" + escapePath(path)
}

func escapePath(p string) string {
	parts := strings.Split(strings.TrimLeft(p, "/"), "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

func statusError(resp *resty.Response, op string) error {
	if resp.IsSuccess() {
		return nil
	}
	body := strings.TrimSpace(resp.String())
	switch resp.StatusCode() {
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w: %s", op, model.ErrNotFound, body)
	case http.StatusConflict:
		return fmt.Errorf("%s: %w: %s", op, model.ErrConflict, body)
	}
	// Storage reports a missing object as 400 with statusCode "404" in the body.
	if strings.Contains(body, `"statusCode":"404"`) {
		return fmt.Errorf("%s: %w: %s", op, model.ErrNotFound, body)
	}
	return fmt.Errorf("%s: status %d: %s", op, resp.StatusCode(), body)
}
