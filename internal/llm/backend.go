package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// Blob is inline binary input (audio track, video frame).
type Blob struct {
	MIMEType string
	Data     []byte
}

// Turn is one message of a conversation.
type Turn struct {
	Role string // "user" or "assistant"
	Text string
}

// GenerateRequest is the vendor-neutral request handed to a Backend.
type GenerateRequest struct {
	Model       string
	System      string
	Turns       []Turn
	Prompt      string
	Blobs       []Blob
	JSON        bool
	Temperature *float32
	MaxTokens   int32
	Search      bool
}

// Backend is the slice of the model service the adapter depends on.
type Backend interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
	Embed(ctx context.Context, model, text, taskType string, dimension int) ([]float32, error)
}

// geminiBackend talks to the Gemini API through google.golang.org/genai.
type geminiBackend struct {
	client *genai.Client
}

func newGeminiBackend(ctx context.Context, apiKey string) (*geminiBackend, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("init genai client: %w", err)
	}
	return &geminiBackend{client: client}, nil
}

func (b *geminiBackend) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	contents := make([]*genai.Content, 0, len(req.Turns)+1)
	for _, t := range req.Turns {
		if t.Text == "" {
			continue
		}
		role := genai.RoleUser
		if t.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{genai.NewPartFromText(t.Text)},
		})
	}
	if req.Prompt != "" || len(req.Blobs) > 0 {
		parts := []*genai.Part{}
		if req.Prompt != "" {
			parts = append(parts, genai.NewPartFromText(req.Prompt))
		}
		for _, blob := range req.Blobs {
			parts = append(parts, genai.NewPartFromBytes(blob.Data, blob.MIMEType))
		}
		contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: parts})
	}

	cfg := &genai.GenerateContentConfig{
		Temperature:     req.Temperature,
		MaxOutputTokens: req.MaxTokens,
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.Search {
		cfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}

	resp, err := b.client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", nil
	}
	return resp.Text(), nil
}

func (b *geminiBackend) Embed(ctx context.Context, model, text, taskType string, dimension int) ([]float32, error) {
	cfg := &genai.EmbedContentConfig{TaskType: taskType}
	if dimension > 0 {
		dim := int32(dimension)
		cfg.OutputDimensionality = &dim
	}
	res, err := b.client.Models.EmbedContent(ctx, model, []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}, cfg)
	if err != nil {
		return nil, err
	}
	if res == nil || len(res.Embeddings) == 0 || res.Embeddings[0] == nil {
		return nil, nil
	}
	return res.Embeddings[0].Values, nil
}
