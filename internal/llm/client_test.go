package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type fakeBackend struct {
	mu         sync.Mutex
	generate   func(req GenerateRequest) (string, error)
	embed      func(text, taskType string) ([]float32, error)
	calls      int
	lastReq    GenerateRequest
	lastTask   string
	embedModel string
}

func (f *fakeBackend) Generate(_ context.Context, req GenerateRequest) (string, error) {
	f.mu.Lock()
	f.calls++
	f.lastReq = req
	f.mu.Unlock()
	return f.generate(req)
}

func (f *fakeBackend) Embed(_ context.Context, model, text, taskType string, _ int) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	f.lastTask = taskType
	f.embedModel = model
	f.mu.Unlock()
	return f.embed(text, taskType)
}

// newTestClient returns a client whose sleeps are recorded instead of waited.
func newTestClient(b Backend) (*Client, *[]time.Duration) {
	c := NewWithBackend(b, Config{}, zerolog.Nop())
	var slept []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return c, &slept
}

func TestExtractText_ParsesFacts(t *testing.T) {
	fb := &fakeBackend{generate: func(GenerateRequest) (string, error) {
		return "```json\n{\"summary\":\"Pide propuesta\",\"sentiment\":\"Positive\",\"urgency\":\"high\",\"next_steps\":[{\"title\":\"Enviar propuesta\",\"due_date\":\"2025-03-01\",\"priority\":\"high\"}]}\n```", nil
	}}
	c, _ := newTestClient(fb)

	facts, err := c.ExtractText(context.Background(), TextInput{Notes: "hola", Channel: "email", Participants: []string{"a@b.c"}})
	require.NoError(t, err)
	assert.Equal(t, "Pide propuesta", facts.Summary)
	assert.Equal(t, "positive", string(facts.Sentiment))
	require.Len(t, facts.NextSteps, 1)
	assert.True(t, fb.lastReq.JSON)
	assert.Contains(t, fb.lastReq.Prompt, "interacción de email")
	assert.Contains(t, fb.lastReq.Prompt, "a@b.c")
}

func TestExtractText_Unavailable(t *testing.T) {
	c := NewWithBackend(nil, Config{}, zerolog.Nop())
	assert.False(t, c.Available())
	_, err := c.ExtractText(context.Background(), TextInput{Notes: "x"})
	assert.ErrorIs(t, err, ErrModelUnavailable)
	_, err = c.Embed(context.Background(), "x", "")
	assert.ErrorIs(t, err, ErrModelUnavailable)
}

func TestExtractText_ParseError(t *testing.T) {
	for name, body := range map[string]string{
		"not json":        "lo siento, no puedo",
		"bad sentiment":   `{"sentiment":"furious"}`,
		"negative budget": `{"budget":-3}`,
	} {
		t.Run(name, func(t *testing.T) {
			c, _ := newTestClient(&fakeBackend{generate: func(GenerateRequest) (string, error) { return body, nil }})
			_, err := c.ExtractText(context.Background(), TextInput{Notes: "x"})
			assert.ErrorIs(t, err, ErrParse)
		})
	}
}

func TestRetry_TransientExhaustsThreeAttempts(t *testing.T) {
	fb := &fakeBackend{generate: func(GenerateRequest) (string, error) {
		return "", genai.APIError{Code: 503, Status: "UNAVAILABLE", Message: "overloaded"}
	}}
	c, slept := newTestClient(fb)

	_, err := c.ExtractText(context.Background(), TextInput{Notes: "x"})
	var transient *TransientError
	require.ErrorAs(t, err, &transient)
	assert.Equal(t, 3, transient.Attempts)
	assert.Equal(t, 3, fb.calls)
	require.Len(t, *slept, 2)
	assert.Equal(t, time.Second, (*slept)[0])
	assert.Equal(t, 2*time.Second, (*slept)[1])
	assert.LessOrEqual(t, (*slept)[0], (*slept)[1])
}

func TestRetry_RecoversAfterTransient(t *testing.T) {
	n := 0
	fb := &fakeBackend{generate: func(GenerateRequest) (string, error) {
		n++
		if n == 1 {
			return "", errors.New("googleapi: Error 503: Service Unavailable")
		}
		return `{"summary":"ok"}`, nil
	}}
	c, slept := newTestClient(fb)
	facts, err := c.ExtractText(context.Background(), TextInput{Notes: "x"})
	require.NoError(t, err)
	assert.Equal(t, "ok", facts.Summary)
	assert.Len(t, *slept, 1)
}

func TestRetry_NonTransientNotRetried(t *testing.T) {
	fb := &fakeBackend{generate: func(GenerateRequest) (string, error) {
		return "", genai.APIError{Code: 400, Message: "bad request"}
	}}
	c, slept := newTestClient(fb)
	_, err := c.ExtractText(context.Background(), TextInput{Notes: "x"})
	require.Error(t, err)
	assert.Equal(t, 1, fb.calls)
	assert.Empty(t, *slept)
	assert.NotErrorIs(t, err, ErrInvalidCredential)
}

func TestInvalidCredentialIsDistinct(t *testing.T) {
	fb := &fakeBackend{
		embed: func(string, string) ([]float32, error) {
			return nil, genai.APIError{
				Code:    400,
				Message: "API key not valid. Please pass a valid API key.",
				Details: []map[string]any{{"reason": "API_KEY_INVALID"}},
			}
		},
	}
	c, _ := newTestClient(fb)
	_, err := c.Embed(context.Background(), "hola", "")
	assert.ErrorIs(t, err, ErrInvalidCredential)
	assert.NotErrorIs(t, err, ErrModelUnavailable)

	st := c.ValidateCredential(context.Background())
	assert.Equal(t, CredentialInvalid, st.State)
}

func TestEmbed_EmptyVector(t *testing.T) {
	fb := &fakeBackend{embed: func(string, string) ([]float32, error) { return nil, nil }}
	c, _ := newTestClient(fb)
	_, err := c.Embed(context.Background(), "hola", TaskRetrievalQuery)
	assert.ErrorIs(t, err, ErrEmptyEmbedding)
	assert.Equal(t, TaskRetrievalQuery, fb.lastTask)

	_, err = c.Embed(context.Background(), "   ", "")
	assert.ErrorIs(t, err, ErrEmptyEmbedding)
}

func TestEmbed_DefaultsAndValidate(t *testing.T) {
	fb := &fakeBackend{embed: func(string, string) ([]float32, error) { return []float32{0.1, 0.2}, nil }}
	c, _ := newTestClient(fb)
	v, err := c.Embed(context.Background(), "hola", "")
	require.NoError(t, err)
	assert.Len(t, v, 2)
	assert.Equal(t, TaskRetrievalDocument, fb.lastTask)
	assert.Equal(t, "text-embedding-004", fb.embedModel)
	assert.Equal(t, CredentialValid, c.ValidateCredential(context.Background()).State)

	none := NewWithBackend(nil, Config{}, zerolog.Nop())
	assert.Equal(t, CredentialUnavailable, none.ValidateCredential(context.Background()).State)
}

func TestExtractVideo_LimitsFrames(t *testing.T) {
	fb := &fakeBackend{generate: func(GenerateRequest) (string, error) { return `{"transcript":"hola"}`, nil }}
	c, _ := newTestClient(fb)
	frames := make([]Blob, 12)
	for i := range frames {
		frames[i] = Blob{MIMEType: "image/jpeg", Data: []byte{byte(i)}}
	}
	frames[0].MIMEType = "text/plain"
	audio := &Blob{MIMEType: "audio/mpeg", Data: []byte("mp3")}

	facts, err := c.ExtractVideo(context.Background(), audio, frames)
	require.NoError(t, err)
	assert.Equal(t, "hola", facts.Transcript)
	require.Len(t, fb.lastReq.Blobs, 1+maxVideoFrames)
	assert.Equal(t, "audio/mpeg", fb.lastReq.Blobs[0].MIMEType)
	for _, b := range fb.lastReq.Blobs[1:] {
		assert.Equal(t, "image/jpeg", b.MIMEType)
	}
}

func TestGenerateResponse_Defaults(t *testing.T) {
	fb := &fakeBackend{generate: func(GenerateRequest) (string, error) { return "  respuesta  ", nil }}
	c, _ := newTestClient(fb)
	out, err := c.GenerateResponse(context.Background(), ChatRequest{
		SystemPrompt: "eres un asistente",
		History:      []Turn{{Role: "user", Text: "¿alertas?"}},
		ContextText:  "[1] algo",
	})
	require.NoError(t, err)
	assert.Equal(t, "respuesta", out)
	require.NotNil(t, fb.lastReq.Temperature)
	assert.InDelta(t, 0.3, *fb.lastReq.Temperature, 1e-6)
	assert.Equal(t, int32(2048), fb.lastReq.MaxTokens)
	assert.Equal(t, "Contexto relevante:\n[1] algo", fb.lastReq.Prompt)
	assert.False(t, fb.lastReq.JSON)
}

func TestRetry_ContextCancelledDuringSleep(t *testing.T) {
	fb := &fakeBackend{generate: func(GenerateRequest) (string, error) {
		return "", genai.APIError{Code: 503}
	}}
	c := NewWithBackend(fb, Config{}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.ExtractText(ctx, TextInput{Notes: "x"})
	assert.ErrorIs(t, err, context.Canceled)
}
