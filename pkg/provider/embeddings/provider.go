// Package embeddings defines the Provider interface for vector embedding
// backends.
//
// An embeddings provider maps text to dense float32 vectors. The meeting
// store uses these vectors for semantic recall over past transcript
// segments ("what did we decide about X last week?").
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over any text-embedding backend.
//
// All vectors returned by a single Provider instance share the same
// dimensionality (Dimensions). Vectors from different providers or models
// must not be mixed in one similarity computation.
type Provider interface {
	// Embed computes the embedding vector for a single text string. The
	// returned slice has length Dimensions(). Text is passed through
	// verbatim; any model-specific formatting is the caller's job.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds a slice of texts in one provider call; the i-th
	// result corresponds to texts[i]. On error the whole result is nil —
	// partial results are never returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed vector length produced by this provider.
	Dimensions() int

	// ModelID returns the provider-specific model identifier, for logging
	// and for checking model consistency across sessions.
	ModelID() string
}
