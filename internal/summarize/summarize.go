// Package summarize generates chat transcript summaries through the
// OpenAI chat-completions API.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/commit365/chatzipper/internal/log"
	"github.com/commit365/chatzipper/internal/metrics"
)

const systemPrompt = "Summarize these chat messages concisely:"

// ErrThrottled is returned when the upstream rate limit is exhausted and
// the caller is not willing to wait.
var ErrThrottled = errors.New("summarize: rate limit exhausted")

// Summarizer produces a summary for a chat transcript.
type Summarizer interface {
	Summarize(ctx context.Context, lines []string) (string, error)
}

// Options configures the OpenAI-backed summarizer.
type Options struct {
	Model   string
	BaseURL string // override for tests and proxies
	Timeout time.Duration
	RPS     float64
	Burst   int
}

// Client is the OpenAI-backed Summarizer.
type Client struct {
	api     *openai.Client
	model   string
	limiter *rate.Limiter
	timeout time.Duration
}

// New builds a summarize client for the given API key.
func New(apiKey string, opts Options) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}

	model := opts.Model
	if model == "" {
		model = openai.GPT3Dot5Turbo
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	rps := opts.RPS
	if rps <= 0 {
		rps = 0.5
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		api:     openai.NewClientWithConfig(cfg),
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		timeout: timeout,
	}
}

// Summarize joins the transcript lines and requests a concise summary.
// The call respects the client rate limit; it blocks until a slot is
// available or the context expires.
func (c *Client) Summarize(ctx context.Context, lines []string) (string, error) {
	logger := log.WithComponentFromContext(ctx, "summarize")

	if len(lines) == 0 {
		return "", errors.New("summarize: empty transcript")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		metrics.IncOpenAIRequest("throttled")
		return "", fmt.Errorf("%w: %v", ErrThrottled, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(reqCtx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: strings.Join(lines, "\n")},
		},
	})
	if err != nil {
		metrics.IncOpenAIRequest("error")
		logger.Error().
			Err(err).
			Str("event", "summarize.request_failed").
			Str("model", c.model).
			Int("lines", len(lines)).
			Msg("chat completion failed")
		return "", fmt.Errorf("summarize: chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		metrics.IncOpenAIRequest("error")
		return "", errors.New("summarize: no choices in response")
	}

	metrics.IncOpenAIRequest("success")
	logger.Debug().
		Str("event", "summarize.success").
		Str("model", c.model).
		Int("lines", len(lines)).
		Dur("duration", time.Since(start)).
		Msg("summary generated")

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
