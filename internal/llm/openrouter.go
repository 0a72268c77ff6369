package llm

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenRouterProvider speaks the OpenAI-compatible chat completions API,
// pointed at OpenRouter by default. A shared connection pool is reused
// across calls and released exactly once via Close.
type OpenRouterProvider struct {
	client     *openai.Client
	httpClient *http.Client
}

func NewOpenRouter(apiKey, baseURL string, requestTimeout time.Duration) *OpenRouterProvider {
	if apiKey == "" {
		apiKey = os.Getenv("OPENROUTER_API_KEY")
	}
	if requestTimeout <= 0 {
		requestTimeout = 60 * time.Second
	}

	httpClient := &http.Client{Timeout: requestTimeout}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	cfg.HTTPClient = httpClient

	return &OpenRouterProvider{
		client:     openai.NewClientWithConfig(cfg),
		httpClient: httpClient,
	}
}

func (p *OpenRouterProvider) Name() string {
	return "openrouter"
}

func (p *OpenRouterProvider) Generate(ctx context.Context, model string, messages []Message) (string, error) {
	var msgs []openai.ChatCompletionMessage
	for _, m := range messages {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: msgs,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *OpenRouterProvider) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embedding data returned")
	}
	return resp.Data[0].Embedding, nil
}

func (p *OpenRouterProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}
