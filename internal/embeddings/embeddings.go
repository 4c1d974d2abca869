// Package embeddings defines the text-embedding capability consumed by the
// context indexer and retrieval, plus its health checker.
package embeddings

import "context"

// Provider produces vector representations for text. taskType distinguishes
// documents being indexed from queries being searched.
type Provider interface {
	Embed(ctx context.Context, text, taskType string) ([]float32, error)
}

// ProviderFunc adapts a function to a Provider.
type ProviderFunc func(ctx context.Context, text, taskType string) ([]float32, error)

func (f ProviderFunc) Embed(ctx context.Context, text, taskType string) ([]float32, error) {
	return f(ctx, text, taskType)
}
