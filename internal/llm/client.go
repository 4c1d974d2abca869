// Package llm is the analysis model adapter: structured extraction from text,
// audio and video, text embeddings and grounded chat responses.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/moctezuma-dev/zappy-back/internal/model"
)

// Embedding task types understood by the embedding endpoint.
const (
	TaskRetrievalDocument = "RETRIEVAL_DOCUMENT"
	TaskRetrievalQuery    = "RETRIEVAL_QUERY"
)

const maxVideoFrames = 8

type Config struct {
	APIKey          string
	Model           string
	EmbedModel      string
	EmbedDimension  int
	SearchRetrieval bool
	RequestsPerSec  int
}

// Client is safe for concurrent use. A Client without a backend reports
// ErrModelUnavailable from every call.
type Client struct {
	backend Backend
	cfg     Config
	log     zerolog.Logger
	limiter *rate.Limiter
	sleep   sleepFunc
}

// New builds a client for the Gemini API. An empty API key yields a client
// that is not Available.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		log.Info().Msg("analysis model not configured, heuristics only")
		return NewWithBackend(nil, cfg, log), nil
	}
	backend, err := newGeminiBackend(ctx, cfg.APIKey)
	if err != nil {
		return nil, err
	}
	return NewWithBackend(backend, cfg, log), nil
}

// NewWithBackend wires an explicit backend; nil means "not configured".
func NewWithBackend(backend Backend, cfg Config, log zerolog.Logger) *Client {
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = "text-embedding-004"
	}
	c := &Client{
		backend: backend,
		cfg:     cfg,
		log:     log.With().Str("component", "llm").Logger(),
		sleep:   sleepCtx,
	}
	if cfg.RequestsPerSec > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.RequestsPerSec)
	}
	return c
}

// Available reports whether a model credential is configured.
func (c *Client) Available() bool { return c != nil && c.backend != nil }

// TextInput is a text interaction to analyse.
type TextInput struct {
	Notes        string
	Channel      string
	Participants []string
}

// ExtractText derives Facts from interaction text.
func (c *Client) ExtractText(ctx context.Context, in TextInput) (*model.Facts, error) {
	return c.extract(ctx, "extract_text", GenerateRequest{
		Prompt: interactionPrompt(in.Channel, in.Notes, in.Participants),
	})
}

// ExtractAudio derives Facts (including a transcript) from an audio recording.
func (c *Client) ExtractAudio(ctx context.Context, audio Blob) (*model.Facts, error) {
	return c.extract(ctx, "extract_audio", GenerateRequest{
		Prompt: audioPrompt,
		Blobs:  []Blob{audio},
	})
}

// ExtractVideo derives Facts from an audio track plus sampled frames. At most
// eight image frames are sent.
func (c *Client) ExtractVideo(ctx context.Context, audio *Blob, frames []Blob) (*model.Facts, error) {
	var blobs []Blob
	if audio != nil && len(audio.Data) > 0 && audio.MIMEType != "" {
		blobs = append(blobs, *audio)
	}
	n := 0
	for _, f := range frames {
		if n == maxVideoFrames {
			break
		}
		if len(f.Data) == 0 || !strings.HasPrefix(f.MIMEType, "image/") {
			continue
		}
		blobs = append(blobs, f)
		n++
	}
	return c.extract(ctx, "extract_video", GenerateRequest{Prompt: videoPrompt, Blobs: blobs})
}

func (c *Client) extract(ctx context.Context, op string, req GenerateRequest) (*model.Facts, error) {
	if !c.Available() {
		return nil, ErrModelUnavailable
	}
	req.Model = c.cfg.Model
	req.JSON = true

	start := time.Now()
	var text string
	err := c.withRetry(ctx, op, func(ctx context.Context) error {
		var gerr error
		text, gerr = c.backend.Generate(ctx, req)
		return gerr
	})
	observe(op, start, err)
	if err != nil {
		c.log.Warn().Err(err).Str("op", op).Msg("model extraction failed")
		return nil, err
	}
	facts, err := model.ParseFacts(text)
	if err != nil {
		modelCalls.WithLabelValues(op, "parse_error").Inc()
		c.log.Warn().Err(err).Str("op", op).Msg("model output rejected")
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return facts, nil
}

// Embed returns the embedding for text. Empty text or an empty vector is
// reported as ErrEmptyEmbedding.
func (c *Client) Embed(ctx context.Context, text, taskType string) ([]float32, error) {
	if !c.Available() {
		return nil, ErrModelUnavailable
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyEmbedding
	}
	if taskType == "" {
		taskType = TaskRetrievalDocument
	}
	start := time.Now()
	var vec []float32
	err := c.withRetry(ctx, "embed", func(ctx context.Context) error {
		var eerr error
		vec, eerr = c.backend.Embed(ctx, c.cfg.EmbedModel, text, taskType, c.cfg.EmbedDimension)
		return eerr
	})
	observe("embed", start, err)
	if err != nil {
		return nil, err
	}
	if len(vec) == 0 {
		return nil, ErrEmptyEmbedding
	}
	return vec, nil
}

// ChatRequest is a grounded chat turn.
type ChatRequest struct {
	SystemPrompt string
	History      []Turn
	ContextText  string
	Temperature  float32
	MaxTokens    int32
}

// GenerateResponse answers the last turn of History using ContextText as
// grounding material.
func (c *Client) GenerateResponse(ctx context.Context, in ChatRequest) (string, error) {
	if !c.Available() {
		return "", ErrModelUnavailable
	}
	temp := in.Temperature
	if temp == 0 {
		temp = 0.3
	}
	maxTokens := in.MaxTokens
	if maxTokens == 0 {
		maxTokens = 2048
	}
	req := GenerateRequest{
		Model:       c.cfg.Model,
		System:      in.SystemPrompt,
		Turns:       in.History,
		Temperature: &temp,
		MaxTokens:   maxTokens,
		Search:      c.cfg.SearchRetrieval,
	}
	if in.ContextText != "" {
		req.Prompt = "Contexto relevante:\n" + in.ContextText
	}

	start := time.Now()
	var text string
	err := c.withRetry(ctx, "chat", func(ctx context.Context) error {
		var gerr error
		text, gerr = c.backend.Generate(ctx, req)
		return gerr
	})
	observe("chat", start, err)
	return strings.TrimSpace(text), err
}

// CredentialState is the outcome of ValidateCredential.
type CredentialState string

const (
	CredentialValid       CredentialState = "valid"
	CredentialInvalid     CredentialState = "invalid"
	CredentialUnavailable CredentialState = "unavailable"
)

// CredentialStatus reports whether the configured credential works.
type CredentialStatus struct {
	State CredentialState `json:"state"`
	Error string          `json:"error,omitempty"`
}

// ValidateCredential probes the embedding endpoint with a tiny request.
func (c *Client) ValidateCredential(ctx context.Context) CredentialStatus {
	if !c.Available() {
		return CredentialStatus{State: CredentialUnavailable, Error: ErrModelUnavailable.Error()}
	}
	_, err := c.Embed(ctx, "test", TaskRetrievalQuery)
	switch {
	case err == nil:
		return CredentialStatus{State: CredentialValid}
	case errors.Is(err, ErrInvalidCredential):
		return CredentialStatus{State: CredentialInvalid, Error: err.Error()}
	default:
		return CredentialStatus{State: CredentialUnavailable, Error: err.Error()}
	}
}
