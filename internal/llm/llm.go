// Package llm wraps remote chat-completion providers behind a retrying,
// rate-limited client. Generation is treated as opaque: prompt in, text out.
// Responses are never cached because generation is not deterministic enough
// to memoize safely.
package llm

import "context"

type Message struct {
	Role    string
	Content string
}

// Provider is a single upstream generation backend.
type Provider interface {
	Name() string
	Generate(ctx context.Context, model string, messages []Message) (string, error)
	Embed(ctx context.Context, model string, text string) ([]float32, error)
}

// Client is what the pipeline consumes: retry, backoff, and rate limiting
// are already applied behind this interface.
type Client interface {
	Chat(ctx context.Context, messages []Message, model string) (string, error)
	Embed(ctx context.Context, text string) ([]float32, error)
	Close() error
}

func UserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

func SystemMessage(content string) Message {
	return Message{Role: "system", Content: content}
}
