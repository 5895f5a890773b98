// Package llm defines the language-model capability used by the navigator
// pipeline and its swappable backend implementations.
//
// The pipeline treats the model as a black box: it supplies a prompt (and
// optionally a system instruction via Chat) and receives text. Backends are
// selected at construction time, never per query.
package llm

import "context"

// GenerationParams carries optional sampling parameters. Nil fields mean
// "use the backend default".
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client defines the standard interface for any LLM backend.
//
// Implementations must be safe for concurrent use and must respect
// context cancellation on every call.
type Client interface {
	// Generate produces text for a bare prompt.
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)

	// Chat produces text for a sequence of role-tagged messages.
	Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error)
}
