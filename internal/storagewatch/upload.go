package storagewatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/moctezuma-dev/zappy-back/internal/llm"
	"github.com/moctezuma-dev/zappy-back/internal/media"
	"github.com/moctezuma-dev/zappy-back/internal/model"
	"github.com/moctezuma-dev/zappy-back/internal/objectstore"
	"github.com/moctezuma-dev/zappy-back/internal/taskqueue"
)

// Upload is a recording pushed through the API.
type Upload struct {
	Bucket   string
	Path     string
	MIMEType string
	Data     []byte
	Source   string
	Process  bool
}

type UploadResult struct {
	Bucket      string `json:"bucket"`
	Path        string `json:"path"`
	URL         string `json:"url"`
	WillProcess bool   `json:"willProcess"`
}

// Scheduler runs a job in the background under key.
type Scheduler interface {
	Go(ctx context.Context, key string, job taskqueue.Job)
}

// Store uploads a recording and, when asked, processes it in the background
// through sched. Without a scheduler the file is processed before returning.
func (w *Watcher) Store(ctx context.Context, up Upload, sched Scheduler) (*UploadResult, error) {
	if len(up.Data) == 0 {
		return nil, fmt.Errorf("%w: empty upload", model.ErrValidation)
	}
	if up.MIMEType == "" {
		up.MIMEType = "video/mp4"
	}
	if !media.IsVideoMIME(up.MIMEType) && !media.IsAudioMIME(up.MIMEType) {
		return nil, fmt.Errorf("%w: unsupported mime type %q", model.ErrValidation, up.MIMEType)
	}
	if up.Bucket == "" {
		up.Bucket = w.cfg.Bucket
	}
	if up.Path == "" {
		name := "media-" + uuid.NewString() + media.ExtensionFor(up.MIMEType, ".bin")
		up.Path = name
		if w.cfg.Folder != "" {
			up.Path = w.cfg.Folder + "/" + name
		}
	}
	if up.Source == "" {
		up.Source = "api"
	}

	stored, err := w.objects.Upload(ctx, up.Bucket, up.Path, up.Data, objectstore.UploadOptions{
		ContentType: up.MIMEType,
		Metadata: map[string]any{
			"source":      up.Source,
			"uploaded_at": w.now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return nil, err
	}
	w.log.Info().Str("bucket", up.Bucket).Str("path", stored.Path).Int("bytes", len(up.Data)).Msg("media uploaded")

	if up.Process {
		bucket, path := up.Bucket, stored.Path
		job := func(ctx context.Context) error {
			_, err := w.ProcessFile(ctx, bucket, path)
			if err == nil {
				return nil
			}
			w.log.Error().Err(err).Str("path", path).Msg("post-upload processing failed")
			if retryable(err) {
				return err
			}
			return taskqueue.Permanent(err)
		}
		if sched != nil {
			sched.Go(ctx, "storage:"+bucket+"/"+path, taskqueue.JobFunc(job))
		} else if err := job(ctx); err != nil {
			return nil, err
		}
	}
	return &UploadResult{Bucket: up.Bucket, Path: stored.Path, URL: stored.URL, WillProcess: up.Process}, nil
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, model.ErrNotFound),
		errors.Is(err, ErrUnsupportedMedia),
		errors.Is(err, llm.ErrModelUnavailable),
		errors.Is(err, llm.ErrInvalidCredential):
		return false
	}
	return true
}
