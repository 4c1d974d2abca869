// Package storagewatch polls an object storage folder for new recordings,
// analyses each one through the media extractor and the model, and records
// the result as a call or meeting interaction.
package storagewatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/moctezuma-dev/zappy-back/internal/ingest"
	"github.com/moctezuma-dev/zappy-back/internal/llm"
	"github.com/moctezuma-dev/zappy-back/internal/media"
	"github.com/moctezuma-dev/zappy-back/internal/model"
	"github.com/moctezuma-dev/zappy-back/internal/objectstore"
	"github.com/moctezuma-dev/zappy-back/internal/store"
)

var ErrUnsupportedMedia = errors.New("unsupported media type")

const (
	scanLimit   = 100
	lookupLimit = 1000
)

// MediaModel is the part of the model adapter used for recordings.
type MediaModel interface {
	ExtractAudio(ctx context.Context, audio llm.Blob) (*model.Facts, error)
	ExtractVideo(ctx context.Context, audio *llm.Blob, frames []llm.Blob) (*model.Facts, error)
}

// Splitter separates a video into its audio track and sampled frames.
type Splitter interface {
	Split(ctx context.Context, video []byte, mimeType string) (*media.Asset, []media.Asset, error)
}

// Inserter writes a normalized interaction.
type Inserter interface {
	Insert(ctx context.Context, n ingest.Normalized) (*ingest.Result, error)
}

type Config struct {
	Bucket   string
	Folder   string
	Interval time.Duration
}

type Deps struct {
	Objects objectstore.Store
	Ledger  Ledger
	Media   Splitter
	Model   MediaModel
	Ingest  Inserter
	Jobs    store.Jobs
}

type Watcher struct {
	cfg     Config
	objects objectstore.Store
	ledger  Ledger
	media   Splitter
	model   MediaModel
	ingest  Inserter
	jobs    store.Jobs
	now     func() time.Time
	log     zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config, deps Deps, log zerolog.Logger) *Watcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if deps.Ledger == nil {
		deps.Ledger = NewMemoryLedger()
	}
	return &Watcher{
		cfg:     cfg,
		objects: deps.Objects,
		ledger:  deps.Ledger,
		media:   deps.Media,
		model:   deps.Model,
		ingest:  deps.Ingest,
		jobs:    deps.Jobs,
		now:     time.Now,
		log:     log.With().Str("component", "storagewatch").Logger(),
	}
}

// Bucket returns the watched bucket.
func (w *Watcher) Bucket() string { return w.cfg.Bucket }

// Start scans once and then on every interval until Stop or ctx ends.
// Calling Start on a running watcher is a no-op.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		w.log.Info().Msg("storage watcher already running")
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	w.cancel, w.done = cancel, done

	folder := w.cfg.Folder
	if folder == "" {
		folder = "(root)"
	}
	w.log.Info().Str("bucket", w.cfg.Bucket).Str("folder", folder).Dur("interval", w.cfg.Interval).Msg("storage watcher started")

	go func() {
		defer close(done)
		ticker := time.NewTicker(w.cfg.Interval)
		defer ticker.Stop()
		for {
			if _, err := w.Scan(ctx); err != nil && ctx.Err() == nil {
				w.log.Error().Err(err).Msg("storage scan failed")
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop halts polling and waits for an in-flight scan to return.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
	w.cancel, w.done = nil, nil
	w.log.Info().Msg("storage watcher stopped")
}

// Running reports whether the polling loop is active.
func (w *Watcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancel != nil
}

// Scan processes every unseen media file among the newest objects of the
// watched folder. A failing file is logged and left unmarked so the next
// scan retries it. Scan returns the number of files processed.
func (w *Watcher) Scan(ctx context.Context) (int, error) {
	objs, err := w.objects.List(ctx, w.cfg.Bucket, w.cfg.Folder, objectstore.ListOptions{Limit: scanLimit})
	if err != nil {
		scans.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("list %s/%s: %w", w.cfg.Bucket, w.cfg.Folder, err)
	}
	scans.WithLabelValues("ok").Inc()

	processed := 0
	for _, o := range objs {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		if !media.IsMediaFile(o.Name) {
			continue
		}
		seen, err := w.ledger.Seen(ctx, w.cfg.Bucket, o.Path)
		if err != nil {
			w.log.Warn().Err(err).Str("path", o.Path).Msg("ledger lookup failed")
			continue
		}
		if seen {
			continue
		}
		if _, err := w.process(ctx, w.cfg.Bucket, o.Path); err != nil {
			w.log.Error().Err(err).Str("bucket", w.cfg.Bucket).Str("path", o.Path).Msg("process file failed")
			if errors.Is(err, llm.ErrModelUnavailable) || errors.Is(err, llm.ErrInvalidCredential) {
				// Every remaining file would fail the same way.
				return processed, err
			}
			continue
		}
		processed++
	}
	return processed, nil
}

// ProcessFile processes one object on demand, whether or not it was seen before.
func (w *Watcher) ProcessFile(ctx context.Context, bucket, filePath string) (*ingest.Result, error) {
	if bucket == "" {
		bucket = w.cfg.Bucket
	}
	folder, name := path.Split(filePath)
	folder = strings.TrimRight(folder, "/")
	objs, err := w.objects.List(ctx, bucket, folder, objectstore.ListOptions{Limit: lookupLimit})
	if err != nil {
		return nil, fmt.Errorf("verify %s: %w", filePath, err)
	}
	found := false
	for _, o := range objs {
		if o.Name == name {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: Archivo no encontrado: %s", model.ErrNotFound, filePath)
	}
	return w.process(ctx, bucket, filePath)
}

func (w *Watcher) process(ctx context.Context, bucket, filePath string) (*ingest.Result, error) {
	mimeType := media.DetectMIME(filePath)
	kind := "audio"
	if media.IsVideoMIME(mimeType) {
		kind = "video"
	} else if !media.IsAudioMIME(mimeType) {
		filesProcessed.WithLabelValues("other", "unsupported").Inc()
		w.log.Warn().Str("path", filePath).Str("mime_type", mimeType).Msg("unsupported file type")
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMedia, mimeType)
	}

	res, err := w.analyse(ctx, bucket, filePath, mimeType, kind)
	if err != nil {
		filesProcessed.WithLabelValues(kind, "error").Inc()
		return nil, err
	}
	filesProcessed.WithLabelValues(kind, "ok").Inc()
	return res, nil
}

func (w *Watcher) analyse(ctx context.Context, bucket, filePath, mimeType, kind string) (*ingest.Result, error) {
	w.log.Info().Str("bucket", bucket).Str("path", filePath).Msg("processing file")
	data, err := w.objects.Download(ctx, bucket, filePath)
	if err != nil {
		return nil, err
	}

	var facts *model.Facts
	if kind == "video" {
		audio, frames, err := w.media.Split(ctx, data, mimeType)
		if err != nil {
			return nil, fmt.Errorf("split %s: %w", filePath, err)
		}
		var audioBlob *llm.Blob
		if audio != nil {
			audioBlob = &llm.Blob{MIMEType: audio.MIMEType, Data: audio.Data}
		}
		frameBlobs := make([]llm.Blob, len(frames))
		for i, f := range frames {
			frameBlobs[i] = llm.Blob{MIMEType: f.MIMEType, Data: f.Data}
		}
		facts, err = w.model.ExtractVideo(ctx, audioBlob, frameBlobs)
		if err != nil {
			return nil, fmt.Errorf("analyse video %s: %w", filePath, err)
		}
	} else {
		facts, err = w.model.ExtractAudio(ctx, llm.Blob{MIMEType: mimeType, Data: data})
		if err != nil {
			return nil, fmt.Errorf("analyse audio %s: %w", filePath, err)
		}
	}

	res, err := w.ingest.Insert(ctx, InteractionFromFacts(facts, bucket, filePath, mimeType, w.now()))
	if err != nil {
		return nil, err
	}

	if w.jobs != nil {
		_, err := w.jobs.Append(ctx, &model.Job{
			Type:   model.JobTypeMediaAnalysis,
			Status: model.JobStatusCompleted,
			Input:  map[string]any{"bucket": bucket, "file_path": filePath, "mime_type": mimeType},
			Output: facts,
		})
		if err != nil {
			w.log.Warn().Err(err).Str("path", filePath).Msg("media job audit failed")
		}
	}
	if err := w.ledger.Mark(ctx, bucket, filePath); err != nil {
		w.log.Warn().Err(err).Str("path", filePath).Msg("ledger mark failed")
	}
	w.log.Info().Str("path", filePath).Str("interaction_id", res.InteractionID).Msg("file processed")
	return res, nil
}

// InteractionFromFacts builds the call or meeting interaction for an analysed recording.
func InteractionFromFacts(f *model.Facts, bucket, filePath, mimeType string, now time.Time) ingest.Normalized {
	if f == nil {
		f = &model.Facts{}
	}
	transcript := f.Transcript
	if transcript == "" {
		transcript = "N/A"
	}
	dump, _ := json.MarshalIndent(f, "", "  ")

	channel := model.ChannelCall
	if media.IsVideoMIME(mimeType) {
		channel = model.ChannelMeeting
	}

	contact := ingest.ContactInfo{}
	if f.Contact != nil {
		contact = ingest.ContactInfo{Name: f.Contact.Name, Email: f.Contact.Email, Company: f.Contact.Company}
	}
	participants := []string{contact.Name}
	if contact.Name == "" {
		participants[0] = "Desconocido"
	}
	if contact.Company != "" {
		participants = append(participants, contact.Company)
	}

	currency := "USD"
	var budget *float64
	if f.Deal != nil {
		if f.Deal.Value != nil && *f.Deal.Value != 0 {
			v := *f.Deal.Value
			budget = &v
		}
		if f.Deal.Currency != "" {
			currency = f.Deal.Currency
		}
	}

	var deadline *time.Time
	if len(f.NextSteps) > 0 {
		if d, ok := f.NextSteps[0].Due(); ok {
			deadline = &d
		}
	}

	keyVisual := f.KeyVisualElements
	if keyVisual == nil {
		keyVisual = []string{}
	}
	var visualSummary any
	if f.VisualSummary != "" {
		visualSummary = f.VisualSummary
	}

	return ingest.Normalized{
		Interaction: &model.Interaction{
			Channel:      channel,
			OccurredAt:   now,
			Notes:        "Transcripción: " + transcript + "\n\nAnálisis: " + string(dump),
			Participants: participants,
			Budget:       budget,
			Currency:     &currency,
			Requirements: orEmpty(f.Requirements),
			KPIs:         orEmpty(f.KPIs),
			Deadline:     deadline,
			Data: map[string]any{
				"source":              "storage",
				"bucket":              bucket,
				"file_path":           filePath,
				"mime_type":           mimeType,
				"transcript":          f.Transcript,
				"visual_summary":      visualSummary,
				"key_visual_elements": keyVisual,
			},
		},
		Contact: contact,
	}
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
