package anthropic

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// SenderConfig configures a TextSender.
type SenderConfig struct {
	Model       string
	MaxTokens   int64
	Temperature *float64
	// Timeout bounds each call. Zero means no per-call timeout.
	Timeout time.Duration
	// RequestsPerMinute caps the call rate. Zero disables the limiter.
	RequestsPerMinute int
}

// TextSender sends one prompt as a single user message and returns the
// concatenated reply text.
type TextSender struct {
	client  Client
	cfg     SenderConfig
	limiter *rate.Limiter
}

// NewTextSender creates a TextSender over client.
func NewTextSender(client Client, cfg SenderConfig) *TextSender {
	s := &TextSender{client: client, cfg: cfg}
	if cfg.RequestsPerMinute > 0 {
		s.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	return s
}

// Send performs one remote call. Retries belong to the caller.
func (s *TextSender) Send(ctx context.Context, prompt string) (string, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return "", eris.Wrap(err, "anthropic: rate limit wait")
		}
	}

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	resp, err := s.client.CreateMessage(ctx, MessageRequest{
		Model:       s.cfg.Model,
		MaxTokens:   s.cfg.MaxTokens,
		Messages:    []Message{{Role: "user", Content: prompt}},
		Temperature: s.cfg.Temperature,
	})
	if err != nil {
		return "", err
	}

	resp.Usage.LogCost(s.cfg.Model, "extract")
	if resp.StopReason == "max_tokens" {
		zap.L().Warn("anthropic: reply truncated at max_tokens",
			zap.String("message_id", resp.ID),
			zap.Int64("max_tokens", s.cfg.MaxTokens),
		)
	}
	return resp.Text(), nil
}
