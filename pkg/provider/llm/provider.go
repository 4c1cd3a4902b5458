// Package llm defines the Provider interface for Large Language Model
// backends that generate meeting suggestions and summaries.
//
// A provider wraps a remote or local model API (OpenAI, Anthropic, a local
// Ollama instance, …) behind a uniform completion interface so the
// suggestion scheduler never couples to a specific SDK.
//
// Implementations must be safe for concurrent use and must propagate context
// cancellation promptly. Channels returned by StreamCompletion are closed by
// the implementation when the stream ends or ctx is cancelled.
package llm

import "context"

// Message is a single turn in a conversation history.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// Usage holds token accounting returned by the backend. Counts are in the
// model's native token unit and differ between providers for the same text.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens.
	TotalTokens int
}

// CompletionRequest carries everything the model needs to produce a
// response. Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is
	// typically from the "user" role and drives the response.
	Messages []Message

	// SystemPrompt is an optional high-priority instruction injected before
	// the history. Providers without a dedicated system field prepend it as a
	// "system"-role message.
	SystemPrompt string

	// Temperature controls output randomness in [0.0, 2.0]. Zero selects the
	// provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero selects the provider
	// default.
	MaxTokens int
}

// Chunk is one fragment of a streaming completion.
type Chunk struct {
	// Text is the incremental content; may be empty on the final chunk.
	Text string

	// FinishReason is set on the final chunk: "stop", "length", or "error"
	// for failures that occur after the stream opened.
	FinishReason string
}

// CompletionResponse is returned by the non-streaming Complete method.
type CompletionResponse struct {
	// Content is the full text of the model's reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// StreamCompletion sends req and returns a channel emitting chunks as
	// they arrive. The channel is never nil when error is nil; callers must
	// drain it. Errors after the stream opens surface as a Chunk with
	// FinishReason "error".
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)
}
