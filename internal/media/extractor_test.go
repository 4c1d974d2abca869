package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFFmpeg writes the output file(s) ffmpeg would produce and records the
// input path it was given.
type fakeFFmpeg struct {
	frames   int
	failWAV  bool
	failJPEG bool
	inputs   []string
	calls    [][]string
}

func (f *fakeFFmpeg) Run(_ context.Context, _ string, args ...string) error {
	f.calls = append(f.calls, args)
	for i, a := range args {
		if a == "-i" && i+1 < len(args) {
			f.inputs = append(f.inputs, args[i+1])
			if _, err := os.Stat(args[i+1]); err != nil {
				return fmt.Errorf("input missing: %w", err)
			}
		}
	}
	out := args[len(args)-1]
	if strings.Contains(out, "%03d") {
		if f.failJPEG {
			return errors.New("no video stream")
		}
		for n := 1; n <= f.frames; n++ {
			name := strings.Replace(out, "%03d", fmt.Sprintf("%03d", n), 1)
			if err := os.WriteFile(name, []byte(fmt.Sprintf("jpeg-%d", n)), 0o600); err != nil {
				return err
			}
		}
		return nil
	}
	if f.failWAV {
		return errors.New("no audio stream")
	}
	return os.WriteFile(out, []byte("RIFF"), 0o600)
}

func newTestExtractor(t *testing.T, fake *fakeFFmpeg) *Extractor {
	t.Helper()
	return NewExtractorWithRunner(Config{TempDir: t.TempDir()}, fake, zerolog.Nop())
}

func TestExtractAudio(t *testing.T) {
	fake := &fakeFFmpeg{}
	e := newTestExtractor(t, fake)

	audio, err := e.ExtractAudio(context.Background(), []byte("video"), "video/quicktime")
	require.NoError(t, err)
	assert.Equal(t, "audio/wav", audio.MIMEType)
	assert.Equal(t, []byte("RIFF"), audio.Data)
	require.Len(t, fake.inputs, 1)
	assert.Equal(t, ".mov", filepath.Ext(fake.inputs[0]))
	assert.Contains(t, fake.calls[0], "-vn")
	assert.Contains(t, fake.calls[0], "pcm_s16le")

	_, err = os.Stat(filepath.Dir(fake.inputs[0]))
	assert.True(t, os.IsNotExist(err), "temp dir should be removed")
}

func TestExtractAudio_RejectsNonVideo(t *testing.T) {
	e := newTestExtractor(t, &fakeFFmpeg{})
	_, err := e.ExtractAudio(context.Background(), []byte("x"), "audio/mpeg")
	assert.ErrorIs(t, err, ErrNotVideo)
	_, err = e.ExtractAudio(context.Background(), nil, "video/mp4")
	assert.ErrorIs(t, err, ErrNotVideo)
}

func TestSampleFrames_CapsAndOrders(t *testing.T) {
	fake := &fakeFFmpeg{frames: 9}
	e := newTestExtractor(t, fake)

	frames, err := e.SampleFrames(context.Background(), []byte("video"), "video/mp4")
	require.NoError(t, err)
	require.Len(t, frames, 6)
	for i, f := range frames {
		assert.Equal(t, "image/jpeg", f.MIMEType)
		assert.Equal(t, fmt.Sprintf("jpeg-%d", i+1), string(f.Data))
	}
	args := strings.Join(fake.calls[0], " ")
	assert.Contains(t, args, "-vf fps=1")
	assert.Contains(t, args, "-frames:v 6")
}

func TestSplit_AudioFailureKeepsFrames(t *testing.T) {
	e := newTestExtractor(t, &fakeFFmpeg{frames: 2, failWAV: true})

	audio, frames, err := e.Split(context.Background(), []byte("video"), "video/webm")
	require.NoError(t, err)
	assert.Nil(t, audio)
	assert.Len(t, frames, 2)
}

func TestSplit_BothFail(t *testing.T) {
	e := newTestExtractor(t, &fakeFFmpeg{failWAV: true, failJPEG: true})

	_, _, err := e.Split(context.Background(), []byte("video"), "video/mp4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no audio stream")
	assert.Contains(t, err.Error(), "no video stream")
}

func TestMIMEHelpers(t *testing.T) {
	assert.Equal(t, "video/quicktime", DetectMIME("calls/demo.MOV"))
	assert.Equal(t, "audio/mp4", DetectMIME("a.m4a"))
	assert.Equal(t, "application/octet-stream", DetectMIME("notes.txt"))

	assert.Equal(t, ".mp3", ExtensionFor("audio/mp3", ".bin"))
	assert.Equal(t, ".wav", ExtensionFor("audio/x-wav", ".bin"))
	assert.Equal(t, ".bin", ExtensionFor("application/pdf", ".bin"))

	assert.True(t, IsVideoFile("zoom/session.WEBM"))
	assert.False(t, IsVideoFile("session.mp4.txt"))
	assert.True(t, IsAudioFile("voice.ogg"))
	assert.False(t, IsMediaFile("slides.pdf"))
}
