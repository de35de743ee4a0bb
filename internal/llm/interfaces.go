// Package llm provides the opaque text-generation and embedding contracts the
// memory engine depends on, along with HTTP clients for Ollama, OpenAI, and
// Anthropic. All clients wrap their calls with circuit breaker protection and
// a shared rate limiter.
package llm

import "context"

// Request is a single completion request. The caller supplies the system
// prompt and sampling temperature explicitly; there is no ambient provider
// state.
type Request struct {
	// System is the system prompt. May be empty.
	System string

	// Prompt is the user-turn prompt text.
	Prompt string

	// Temperature is the sampling temperature. Zero means the provider default.
	Temperature float64
}

// TextGenerator is the interface for LLM text completion. The response is
// free text that may wrap a JSON payload in incidental formatting; callers
// parse it with the response parser in this package.
type TextGenerator interface {
	Complete(ctx context.Context, req Request) (string, error)
	Model() string
}

// EmbeddingGenerator is the interface for generating vector embeddings.
// Embed accepts a batch and returns one vector per input, in order.
type EmbeddingGenerator interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}
