package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/dskam73/interview-automation/internal/domain"
)

type Config struct {
	APIKey         string
	RequestTimeout time.Duration
	MaxRetries     int
}

// client wraps the speech-to-text capability. One call per audio file or
// segment; the retry policy lives here so the worker stays a plain
// sequential loop.
type client struct {
	api        *openai.Client
	timeout    time.Duration
	maxRetries int
}

func New(cfg Config) *client {
	return &client{
		api:        openai.NewClient(cfg.APIKey),
		timeout:    cfg.RequestTimeout,
		maxRetries: cfg.MaxRetries,
	}
}

// Transcribe converts the audio at path to text and reports the audio
// duration in seconds for usage accounting.
func (c *client) Transcribe(ctx context.Context, path string, mode domain.TranscriptionMode) (string, float64, error) {
	req := openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: path,
		Format:   openai.AudioResponseFormatVerboseJSON,
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			slog.Warn("transcription retry",
				slog.String("path", path),
				slog.Int("attempt", attempt),
				slog.String("error", lastErr.Error()),
			)
			select {
			case <-ctx.Done():
				return "", 0, ctx.Err()
			case <-time.After(backoff(attempt)):
			}
		}

		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		resp, err := c.call(reqCtx, req, mode)
		cancel()

		if err == nil {
			return resp.Text, resp.Duration, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return "", 0, ctx.Err()
		}
	}

	return "", 0, fmt.Errorf("transcribe %s: %w", path, lastErr)
}

func (c *client) call(ctx context.Context, req openai.AudioRequest, mode domain.TranscriptionMode) (openai.AudioResponse, error) {
	if mode == domain.ModeTranslate {
		return c.api.CreateTranslation(ctx, req)
	}
	return c.api.CreateTranscription(ctx, req)
}

func backoff(attempt int) time.Duration {
	return time.Duration(attempt) * 2 * time.Second
}
