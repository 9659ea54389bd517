package embeddings

import (
	"context"
	"fmt"
)

// Backend produces embeddings for text.
type Backend interface {
	// Name identifies the backend in logs and errors (e.g. "tei", "openai").
	Name() string
	Embed(ctx context.Context, text string) (Vector, error)
	EmbedBatch(ctx context.Context, texts []string) ([]Vector, error)
	// Available reports whether the backend can currently serve requests.
	Available(ctx context.Context) bool
	ModelName() string
	Dimensions() int
}

// QueryEmbedder is implemented by backends that embed search queries
// differently from stored documents.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) (Vector, error)
}

// BackendError wraps a failure reported by an embedding backend.
type BackendError struct {
	Backend string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("embedding backend %s: %v", e.Backend, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }
