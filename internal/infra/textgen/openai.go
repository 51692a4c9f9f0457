package textgen

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"
)

type Config struct {
	APIKey         string
	Model          string
	MaxTokens      int
	RequestTimeout time.Duration
	MaxRetries     int
}

// client wraps the chat-completion capability used for transcript cleanup
// and summarization. The prompt template is joined with the source text by
// a blank line, the whole thing sent as a single user message.
type client struct {
	api        *openai.Client
	model      string
	maxTokens  int
	timeout    time.Duration
	maxRetries int
}

func New(cfg Config) *client {
	return &client{
		api:        openai.NewClient(cfg.APIKey),
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		timeout:    cfg.RequestTimeout,
		maxRetries: cfg.MaxRetries,
	}
}

// Generate returns the model output plus prompt/completion token counts for
// usage accounting.
func (c *client) Generate(ctx context.Context, template, source string) (string, int, int, error) {
	req := openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: template + "\n\n" + source,
			},
		},
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			slog.Warn("text generation retry",
				slog.Int("attempt", attempt),
				slog.String("error", lastErr.Error()),
			)
			select {
			case <-ctx.Done():
				return "", 0, 0, ctx.Err()
			case <-time.After(time.Duration(attempt) * 2 * time.Second):
			}
		}

		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		resp, err := c.api.CreateChatCompletion(reqCtx, req)
		cancel()

		if err == nil {
			if len(resp.Choices) == 0 {
				return "", 0, 0, fmt.Errorf("empty completion response")
			}
			return resp.Choices[0].Message.Content,
				resp.Usage.PromptTokens,
				resp.Usage.CompletionTokens,
				nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return "", 0, 0, ctx.Err()
		}
	}

	return "", 0, 0, fmt.Errorf("chat completion: %w", lastErr)
}
