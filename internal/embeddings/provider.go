package embeddings

import (
	"context"
	"os"
	"strings"
)

// Provider produces embedding vectors for text. Implementations must be
// concurrency-safe: the search indexer calls Embed from its worker goroutine.
type Provider interface {
	// Name returns the provider name (e.g., "openai", "ollama").
	Name() string
	// Dimensions returns the embedding dimensionality this provider produces.
	Dimensions() int
	// Embed returns one embedding per input string.
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// New constructs a provider by name, configured from environment variables.
// An empty or unknown name yields nil; callers treat nil as "embeddings
// disabled" and index only lexically.
func New(name string) Provider {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "openai":
		return newOpenAIFromEnv()
	case "ollama":
		return newOllamaFromEnv()
	default:
		return nil
	}
}

// NewFromEnv constructs a provider based on EMBEDDINGS_PROVIDER.
func NewFromEnv() Provider {
	return New(os.Getenv("EMBEDDINGS_PROVIDER"))
}
