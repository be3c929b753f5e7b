package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// Sentinel errors. The pipeline branches on these values instead of catching
// provider-specific failures.
var (
	// ErrTransient marks failures that persisted through the retry budget
	// (network, 5xx, rate limits). The caller may retry the orchestration.
	ErrTransient = errors.New("transient llm failure")
	// ErrInvalidOutput marks responses that are not the requested shape.
	// The pipeline falls back rather than failing the utterance.
	ErrInvalidOutput = errors.New("invalid llm output")
	// ErrAuth marks credential failures. Fatal to the request.
	ErrAuth = errors.New("llm authentication failed")
)

// Client performs stateless prompt → text completions against any
// OpenAI-compatible endpoint. Safe for concurrent use.
type Client struct {
	model      llms.Model
	templates  *Templates
	deadline   time.Duration
	maxElapsed time.Duration
}

// Options configures a Client.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	Deadline   time.Duration // per-attempt timeout
	MaxElapsed time.Duration // total retry budget
}

// NewClient builds a Client for the configured provider endpoint.
func NewClient(opts Options, templates *Templates) (*Client, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("llm api key is required")
	}
	if opts.Deadline <= 0 {
		opts.Deadline = 30 * time.Second
	}
	if opts.MaxElapsed <= 0 {
		opts.MaxElapsed = 20 * time.Second
	}

	model, err := openai.New(
		openai.WithBaseURL(opts.BaseURL),
		openai.WithModel(opts.Model),
		openai.WithToken(opts.APIKey),
	)
	if err != nil {
		return nil, fmt.Errorf("creating llm client: %w", err)
	}

	return &Client{
		model:      model,
		templates:  templates,
		deadline:   opts.Deadline,
		maxElapsed: opts.MaxElapsed,
	}, nil
}

// NewClientWithModel wires an arbitrary llms.Model. Used by tests.
func NewClientWithModel(model llms.Model, templates *Templates) *Client {
	return &Client{
		model:      model,
		templates:  templates,
		deadline:   30 * time.Second,
		maxElapsed: 20 * time.Second,
	}
}

// Complete renders the named template with vars and returns the sanitized
// completion text. Transient provider failures are retried with exponential
// backoff until the retry budget is exhausted.
func (c *Client) Complete(ctx context.Context, template string, vars map[string]string) (string, error) {
	prompt, err := c.templates.Render(template, vars)
	if err != nil {
		return "", err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.Multiplier = 2
	bo.MaxElapsedTime = c.maxElapsed

	var text string
	op := func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.deadline)
		defer cancel()

		out, err := llms.GenerateFromSinglePrompt(callCtx, c.model, prompt,
			llms.WithTemperature(0.1),
			llms.WithMaxTokens(2048),
		)
		if err != nil {
			if isAuthError(err) {
				return backoff.Permanent(fmt.Errorf("%w: %v", ErrAuth, err))
			}
			if ctx.Err() != nil {
				return backoff.Permanent(fmt.Errorf("%w: %v", ErrTransient, ctx.Err()))
			}
			slog.Warn("llm call failed, will retry", "template", template, "error", err)
			return err
		}
		text = out
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		if errors.Is(err, ErrAuth) || errors.Is(err, ErrTransient) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrTransient, err)
	}

	return Sanitize(text), nil
}

// CompleteJSON is Complete plus a shape check: the sanitized text must be
// valid JSON, otherwise ErrInvalidOutput is returned alongside the sanitized
// text so callers can log it.
func (c *Client) CompleteJSON(ctx context.Context, template string, vars map[string]string) (string, error) {
	text, err := c.Complete(ctx, template, vars)
	if err != nil {
		return "", err
	}
	if !json.Valid([]byte(text)) {
		return text, fmt.Errorf("%w: not valid JSON", ErrInvalidOutput)
	}
	return text, nil
}

// Sanitize strips surrounding prose from a model response: the first fenced
// code block wins; otherwise the widest brace- or bracket-delimited slice;
// otherwise the trimmed text unchanged.
func Sanitize(text string) string {
	trimmed := strings.TrimSpace(text)

	if fenced, ok := extractFence(trimmed); ok {
		return fenced
	}

	best := ""
	for _, pair := range [][2]byte{{'{', '}'}, {'[', ']'}} {
		start := strings.IndexByte(trimmed, pair[0])
		end := strings.LastIndexByte(trimmed, pair[1])
		if start >= 0 && end > start {
			candidate := trimmed[start : end+1]
			if len(candidate) > len(best) && json.Valid([]byte(candidate)) {
				best = candidate
			}
		}
	}
	if best != "" {
		return best
	}

	return trimmed
}

func extractFence(text string) (string, bool) {
	start := strings.Index(text, "```")
	if start < 0 {
		return "", false
	}
	rest := text[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		// Skip the info string ("json", "JSON", ...).
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

func isAuthError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"401", "403", "unauthorized", "forbidden", "invalid api key", "api key not valid"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
