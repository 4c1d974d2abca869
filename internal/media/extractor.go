// Package media turns raw video into inputs the analysis model accepts: a
// WAV audio track and a handful of JPEG frames. It shells out to ffmpeg.
package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// ErrNotVideo is returned when the input is empty or not a video media type.
var ErrNotVideo = errors.New("media: input is not a video")

// Asset is an extracted piece of media.
type Asset struct {
	MIMEType string
	Data     []byte
}

// Runner executes an external command to completion.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, name string, args ...string) error

func (f RunnerFunc) Run(ctx context.Context, name string, args ...string) error {
	return f(ctx, name, args...)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, tail(out, 512))
	}
	return nil
}

func tail(b []byte, n int) string {
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return strings.TrimSpace(string(b))
}

type Config struct {
	FFmpegPath string
	TempDir    string
	FPS        int
	MaxFrames  int
}

// Extractor is safe for concurrent use; every call works in its own temp dir.
type Extractor struct {
	cfg Config
	run Runner
	log zerolog.Logger
}

func NewExtractor(cfg Config, log zerolog.Logger) *Extractor {
	return NewExtractorWithRunner(cfg, execRunner{}, log)
}

// NewExtractorWithRunner is NewExtractor with an explicit command runner.
func NewExtractorWithRunner(cfg Config, run Runner, log zerolog.Logger) *Extractor {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 1
	}
	if cfg.MaxFrames <= 0 {
		cfg.MaxFrames = 6
	}
	return &Extractor{cfg: cfg, run: run, log: log.With().Str("component", "media").Logger()}
}

// ExtractAudio drops the video stream and returns the soundtrack as 16-bit PCM WAV.
func (e *Extractor) ExtractAudio(ctx context.Context, video []byte, mimeType string) (Asset, error) {
	if len(video) == 0 || !IsVideoMIME(mimeType) {
		return Asset{}, ErrNotVideo
	}
	dir, in, err := e.stage(video, mimeType)
	if err != nil {
		return Asset{}, err
	}
	defer e.cleanup(dir)

	out := filepath.Join(dir, "audio.wav")
	if err := e.run.Run(ctx, e.cfg.FFmpegPath,
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", in, "-vn", "-acodec", "pcm_s16le", "-f", "wav", out,
	); err != nil {
		return Asset{}, fmt.Errorf("extract audio: %w", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		return Asset{}, fmt.Errorf("read extracted audio: %w", err)
	}
	return Asset{MIMEType: "audio/wav", Data: data}, nil
}

// SampleFrames grabs frames at the configured rate, capped at MaxFrames, in
// playback order.
func (e *Extractor) SampleFrames(ctx context.Context, video []byte, mimeType string) ([]Asset, error) {
	if len(video) == 0 || !IsVideoMIME(mimeType) {
		return nil, ErrNotVideo
	}
	dir, in, err := e.stage(video, mimeType)
	if err != nil {
		return nil, err
	}
	defer e.cleanup(dir)

	framesDir := filepath.Join(dir, "frames")
	if err := os.Mkdir(framesDir, 0o755); err != nil {
		return nil, fmt.Errorf("create frames dir: %w", err)
	}
	pattern := filepath.Join(framesDir, "frame-%03d.jpg")
	if err := e.run.Run(ctx, e.cfg.FFmpegPath,
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", in, "-vf", "fps="+strconv.Itoa(e.cfg.FPS), "-frames:v", strconv.Itoa(e.cfg.MaxFrames), pattern,
	); err != nil {
		return nil, fmt.Errorf("sample frames: %w", err)
	}

	entries, err := os.ReadDir(framesDir)
	if err != nil {
		return nil, fmt.Errorf("read frames dir: %w", err)
	}
	var names []string
	for _, ent := range entries {
		n := ent.Name()
		if strings.HasPrefix(n, "frame-") && strings.HasSuffix(n, ".jpg") {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	if len(names) > e.cfg.MaxFrames {
		names = names[:e.cfg.MaxFrames]
	}

	frames := make([]Asset, 0, len(names))
	for _, n := range names {
		data, err := os.ReadFile(filepath.Join(framesDir, n))
		if err != nil {
			return nil, fmt.Errorf("read frame %s: %w", n, err)
		}
		frames = append(frames, Asset{MIMEType: "image/jpeg", Data: data})
	}
	return frames, nil
}

// Split extracts both the audio track and the sampled frames. A video with
// no usable audio still yields its frames; failing both is an error.
func (e *Extractor) Split(ctx context.Context, video []byte, mimeType string) (*Asset, []Asset, error) {
	audio, aerr := e.ExtractAudio(ctx, video, mimeType)
	if errors.Is(aerr, ErrNotVideo) {
		return nil, nil, aerr
	}
	frames, ferr := e.SampleFrames(ctx, video, mimeType)
	switch {
	case aerr != nil && ferr != nil:
		return nil, nil, errors.Join(aerr, ferr)
	case aerr != nil:
		e.log.Warn().Err(aerr).Int("frames", len(frames)).Msg("video has no usable audio track")
		return nil, frames, nil
	case ferr != nil:
		e.log.Warn().Err(ferr).Msg("frame sampling failed, continuing with audio only")
	}
	return &audio, frames, nil
}

func (e *Extractor) stage(video []byte, mimeType string) (dir, in string, err error) {
	dir, err = os.MkdirTemp(e.cfg.TempDir, "zappy-media-")
	if err != nil {
		return "", "", fmt.Errorf("create temp dir: %w", err)
	}
	in = filepath.Join(dir, "input"+videoExt(mimeType))
	if err := os.WriteFile(in, video, 0o600); err != nil {
		e.cleanup(dir)
		return "", "", fmt.Errorf("write temp video: %w", err)
	}
	return dir, in, nil
}

func (e *Extractor) cleanup(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		e.log.Debug().Err(err).Str("dir", dir).Msg("temp cleanup failed")
	}
}
