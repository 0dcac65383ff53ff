package extract

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/topic-analysis/internal/model"
	"github.com/sells-group/topic-analysis/internal/resilience"
)

// Sender performs one remote call and returns the raw reply text.
type Sender interface {
	Send(ctx context.Context, prompt string) (string, error)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, prompt string) (string, error)

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Sentinel causes carried by AttemptError.
var (
	ErrNoJSON      = eris.New("extract: no JSON object in reply")
	ErrUnparseable = eris.New("extract: no parse tier recovered the object")
	ErrExhausted   = eris.New("extract: attempts exhausted")
)

// AttemptError describes why a single attempt produced no record.
type AttemptError struct {
	Kind model.FailureKind
	Err  error
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *AttemptError) Unwrap() error {
	return e.Err
}

// ExhaustedError is returned when every attempt failed. It matches
// ErrExhausted with errors.Is.
type ExhaustedError struct {
	Attempts int
	Last     *AttemptError
}

func (e *ExhaustedError) Error() string {
	if e.Last == nil {
		return fmt.Sprintf("extract: %d attempts exhausted", e.Attempts)
	}
	return fmt.Sprintf("extract: %d attempts exhausted, last: %v", e.Attempts, e.Last)
}

// Is reports whether target is ErrExhausted.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrExhausted
}

func (e *ExhaustedError) Unwrap() error {
	if e.Last == nil {
		return nil
	}
	return e.Last
}

// Kind returns the failure kind of the last attempt.
func (e *ExhaustedError) Kind() model.FailureKind {
	if e.Last == nil {
		return model.FailureTransport
	}
	return e.Last.Kind
}

// Config controls the retrying extraction call.
type Config struct {
	MaxAttempts  int
	RetryDelay   time.Duration
	SyntaxRepair bool
	Schema       Schema
}

// Extractor turns a prompt into a validated Analysis, retrying on any
// failure up to a fixed attempt budget.
type Extractor struct {
	sender      Sender
	schema      Schema
	parser      *Parser
	maxAttempts int
	retryDelay  time.Duration
}

// Option customizes an Extractor.
type Option func(*Extractor)

// WithParser replaces the default parse ladder.
func WithParser(p *Parser) Option {
	return func(x *Extractor) { x.parser = p }
}

// New creates an Extractor that calls sender.
func New(sender Sender, cfg Config, opts ...Option) *Extractor {
	schema := cfg.Schema.WithDefaults()
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	x := &Extractor{
		sender:      sender,
		schema:      schema,
		parser:      NewParser(schema, WithSyntaxRepair(cfg.SyntaxRepair)),
		maxAttempts: maxAttempts,
		retryDelay:  cfg.RetryDelay,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Schema returns the reply schema the extractor validates against.
func (x *Extractor) Schema() Schema {
	return x.schema
}

// Extract runs up to MaxAttempts remote calls. Transport failures, locator
// misses, parse failures, and incomplete records all consume one attempt and
// are followed by RetryDelay when attempts remain. When the budget runs out
// an *ExhaustedError is returned; a cancelled context returns ctx.Err().
func (x *Extractor) Extract(ctx context.Context, prompt string) (model.Analysis, error) {
	cfg := resilience.FixedRetryConfig(x.maxAttempts, x.retryDelay)
	cfg.OnRetry = resilience.RetryLogger("anthropic", "extract",
		zap.Int("max_attempts", x.maxAttempts),
		zap.Duration("retry_delay", x.retryDelay),
	)

	attempts := 0
	analysis, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (model.Analysis, error) {
		attempts++
		return x.attempt(ctx, prompt, attempts)
	})
	if err == nil {
		return analysis, nil
	}
	if ctx.Err() != nil {
		return model.Analysis{}, ctx.Err()
	}

	var last *AttemptError
	errors.As(err, &last)
	return model.Analysis{}, &ExhaustedError{Attempts: attempts, Last: last}
}

func (x *Extractor) attempt(ctx context.Context, prompt string, n int) (model.Analysis, error) {
	log := zap.L().With(zap.Int("attempt", n))

	reply, err := x.sender.Send(ctx, prompt)
	if err != nil {
		log.Warn("extract: remote call failed",
			zap.String("class", resilience.Classify(err)),
			zap.Error(err),
		)
		return model.Analysis{}, &AttemptError{Kind: model.FailureTransport, Err: err}
	}

	if n == 1 {
		head, tail := preview(reply, 200)
		log.Debug("extract: reply received",
			zap.Int("reply_len", len(reply)),
			zap.String("head", head),
			zap.String("tail", tail),
		)
	}

	span, ok := Locate(reply)
	if !ok {
		log.Warn("extract: no JSON object in reply", zap.Int("reply_len", len(reply)))
		return model.Analysis{}, &AttemptError{Kind: model.FailureLocatorMiss, Err: ErrNoJSON}
	}

	fields, tier, ok := x.parser.Parse(span)
	if !ok {
		head, _ := preview(span, 300)
		log.Warn("extract: JSON parse failed",
			zap.Int("span_len", len(span)),
			zap.String("span", head),
		)
		return model.Analysis{}, &AttemptError{Kind: model.FailureParse, Err: ErrUnparseable}
	}

	analysis, err := x.schema.Decode(fields)
	if err != nil {
		log.Warn("extract: reply does not match schema",
			zap.Error(err),
			zap.Strings("actual_fields", fields.Keys()),
		)
		return model.Analysis{}, &AttemptError{Kind: model.FailureSchema, Err: err}
	}

	log.Debug("extract: record recovered", zap.String("tier", tier))
	return analysis, nil
}

// preview returns about the first and last n bytes of s, or s and "" when
// short. Cuts never split a UTF-8 sequence.
func preview(s string, n int) (head, tail string) {
	if len(s) <= 2*n {
		return s, ""
	}
	end := n
	for end > 0 && !utf8.RuneStart(s[end]) {
		end--
	}
	start := len(s) - n
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return s[:end], s[start:]
}
