// Package mock provides an in-memory LLM provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/mkarols/notula/pkg/provider/llm"
)

// Provider implements llm.Provider with scripted responses.
type Provider struct {
	// Response is returned by every Complete call.
	Response string

	// Err, when non-nil, is returned by Complete and StreamCompletion.
	Err error

	mu       sync.Mutex
	requests []llm.CompletionRequest
}

var _ llm.Provider = (*Provider)(nil)

// Complete records the request and returns the scripted response.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.Err != nil {
		return nil, p.Err
	}
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	return &llm.CompletionResponse{Content: p.Response}, nil
}

// StreamCompletion emits the scripted response as a single chunk.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	ch := make(chan llm.Chunk, 2)
	ch <- llm.Chunk{Text: p.Response}
	ch <- llm.Chunk{FinishReason: "stop"}
	close(ch)
	return ch, nil
}

// Requests returns a copy of all recorded requests in call order.
func (p *Provider) Requests() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]llm.CompletionRequest, len(p.requests))
	copy(out, p.requests)
	return out
}
