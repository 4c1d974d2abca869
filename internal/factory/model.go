package factory

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/moctezuma-dev/zappy-back/internal/config"
	"github.com/moctezuma-dev/zappy-back/internal/embeddings"
	"github.com/moctezuma-dev/zappy-back/internal/llm"
	"github.com/moctezuma-dev/zappy-back/internal/media"
	"github.com/moctezuma-dev/zappy-back/internal/taskqueue"
)

const warmupTimeout = 10 * time.Second

// NewModel builds the analysis model client. Without an API key the client
// is returned unavailable and the pipeline runs on heuristics.
func NewModel(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*llm.Client, error) {
	return llm.New(ctx, llm.Config{
		APIKey:          cfg.GeminiAPIKey,
		Model:           cfg.GeminiModel,
		EmbedModel:      cfg.EmbedModel,
		EmbedDimension:  cfg.EmbedDimension,
		SearchRetrieval: cfg.EnableSearchRetrieval,
		RequestsPerSec:  int(cfg.ModelRPS),
	}, log)
}

// NewEmbeddingProvider returns the model client as an embeddings provider,
// or nil when the model is not configured. Launches an async warmup that
// only logs; startup never waits for it.
func NewEmbeddingProvider(ctx context.Context, client *llm.Client, log zerolog.Logger) embeddings.Provider {
	if !client.Available() {
		return nil
	}

	go func() {
		warmupCtx, cancel := context.WithTimeout(ctx, warmupTimeout)
		defer cancel()

		if vec, err := client.Embed(warmupCtx, "factory-warmup-check", llm.TaskRetrievalQuery); err != nil || len(vec) == 0 {
			log.Warn().Err(err).Int("vec_len", len(vec)).Msg("embedding provider warmup failed")
		} else {
			log.Debug().Int("vec_len", len(vec)).Msg("embedding provider warmup completed")
		}
	}()

	return client
}

func NewMediaExtractor(cfg *config.Config, log zerolog.Logger) *media.Extractor {
	return media.NewExtractor(media.Config{FFmpegPath: cfg.FFmpegPath, MaxFrames: cfg.MediaMaxFrames}, log)
}

// NewQueue builds the keyed task queue. Jobs that fail for the last time
// are logged with their key.
func NewQueue(cfg *config.Config, log zerolog.Logger) *taskqueue.Queue {
	qlog := log.With().Str("component", "taskqueue").Logger()
	return taskqueue.New(taskqueue.Config{
		Shards:      cfg.TaskShards,
		QueueSize:   cfg.TaskQueueSize,
		MaxAttempts: cfg.TaskMaxAttempts,
		ErrorHandler: func(key string, err error) {
			qlog.Error().Err(err).Str("key", key).Msg("background job failed")
		},
	}, log)
}
