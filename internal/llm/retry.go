package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	merrors "github.com/mera-ai/mera/internal/errors"
	"github.com/mera-ai/mera/internal/logger"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// RetryingClient enforces the generation call policy: a per-model minimum
// inter-request interval, exponential backoff on transient failures, and
// immediate failure on client errors. 4xx responses are never retried.
type RetryingClient struct {
	registry       *Registry
	mapper         *merrors.DefaultErrorMapper
	embeddingModel string

	maxRetries  int
	baseDelay   time.Duration
	minInterval time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	sleep func(ctx context.Context, d time.Duration) error

	closeOnce sync.Once
	closeErr  error
}

type RetryOptions struct {
	MaxRetries         int
	BaseDelay          time.Duration
	MinRequestInterval time.Duration
	EmbeddingModel     string
}

func NewRetryingClient(registry *Registry, opts RetryOptions) *RetryingClient {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if opts.MinRequestInterval <= 0 {
		opts.MinRequestInterval = 100 * time.Millisecond
	}

	return &RetryingClient{
		registry:       registry,
		mapper:         merrors.NewDefaultErrorMapper(),
		embeddingModel: opts.EmbeddingModel,
		maxRetries:     opts.MaxRetries,
		baseDelay:      opts.BaseDelay,
		minInterval:    opts.MinRequestInterval,
		limiters:       make(map[string]*rate.Limiter),
		sleep:          sleepCtx,
	}
}

var _ Client = (*RetryingClient)(nil)

// Chat dispatches a completion request with rate limiting and retry.
func (c *RetryingClient) Chat(ctx context.Context, messages []Message, model string) (string, error) {
	provider, err := c.registry.Resolve(model)
	if err != nil {
		return "", err
	}

	if err := c.waitTurn(ctx, model); err != nil {
		return "", err
	}

	traceID := logger.GetTraceID(ctx)
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		text, err := provider.Generate(ctx, model, messages)
		if err == nil {
			return text, nil
		}

		classified := c.classify(err)
		if !merrors.IsRetryable(classified) {
			slog.Warn("Generation failed, not retrying", "model", model, "error", err, "trace_id", traceID)
			return "", classified
		}

		lastErr = classified
		if attempt < c.maxRetries-1 {
			delay := c.baseDelay * (1 << attempt)
			slog.Warn("Generation failed, backing off", "model", model, "attempt", attempt+1, "delay", delay, "trace_id", traceID)
			if err := c.sleep(ctx, delay); err != nil {
				return "", err
			}
		}
	}

	return "", merrors.Wrap(lastErr, fmt.Sprintf("generation failed after %d attempts", c.maxRetries))
}

// Embed routes to the configured embedding model's provider. Embeddings are
// not retried: callers treat a failed embedding as a cache-style soft miss.
func (c *RetryingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	provider, err := c.registry.Resolve(c.embeddingModel)
	if err != nil {
		return nil, err
	}
	return provider.Embed(ctx, c.embeddingModel, text)
}

// Close releases provider connection pools. Safe to call more than once.
func (c *RetryingClient) Close() error {
	c.closeOnce.Do(func() {
		for _, p := range c.registry.Providers() {
			if closer, ok := p.(io.Closer); ok {
				if err := closer.Close(); err != nil && c.closeErr == nil {
					c.closeErr = err
				}
			}
		}
	})
	return c.closeErr
}

// waitTurn enforces the per-model dispatch floor. The limiter remembers the
// last dispatch per model; we reserve a slot and sleep out the remainder.
func (c *RetryingClient) waitTurn(ctx context.Context, model string) error {
	c.mu.Lock()
	limiter, ok := c.limiters[model]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(c.minInterval), 1)
		c.limiters[model] = limiter
	}
	c.mu.Unlock()

	res := limiter.Reserve()
	if !res.OK() {
		return merrors.Internal("rate limiter rejected reservation")
	}
	if delay := res.Delay(); delay > 0 {
		return c.sleep(ctx, delay)
	}
	return nil
}

func (c *RetryingClient) classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.HTTPStatusCode, err)
	}
	return c.mapper.MapError(err)
}

func classifyStatus(status int, err error) error {
	switch {
	case status >= 500:
		return merrors.WrapWithCategory(err, "upstream failure", merrors.ErrTransient)
	case status == 429:
		return merrors.WrapWithCategory(err, "rate limited", merrors.ErrTransient)
	case status >= 400:
		return merrors.WrapWithCategory(err, "request rejected", merrors.ErrTerminal)
	default:
		return merrors.WrapWithCategory(err, "request failed", merrors.ErrTransient)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
