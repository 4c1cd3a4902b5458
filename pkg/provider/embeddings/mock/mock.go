// Package mock provides a deterministic embeddings provider for tests.
package mock

import (
	"context"
	"hash/fnv"

	"github.com/mkarols/notula/pkg/provider/embeddings"
)

// Dim is the vector length produced by the mock provider.
const Dim = 8

// Provider implements embeddings.Provider with a cheap deterministic hash:
// equal texts always embed to equal vectors.
type Provider struct {
	// Err, when non-nil, is returned by Embed and EmbedBatch.
	Err error
}

var _ embeddings.Provider = (*Provider)(nil)

// Embed returns a deterministic vector derived from text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	out := make([]float32, Dim)
	for i := range out {
		seed = seed*6364136223846793005 + 1442695040888963407
		out[i] = float32(int64(seed>>33)) / float32(1<<31)
	}
	return out, nil
}

// EmbedBatch embeds each text via Embed.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := p.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int { return Dim }

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string { return "mock-embeddings" }
