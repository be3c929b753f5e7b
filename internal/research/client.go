// Package research finds learning resources for subtask headings through a
// Perplexity-style web-research API. Research is never critical: every
// failure degrades to an empty result instead of an error.
package research

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/kolapsis/genie/internal/llm"
	"github.com/kolapsis/genie/internal/model"
)

// Finder is the consumer-side interface the planner depends on.
type Finder interface {
	FindResources(ctx context.Context, query string, maxResults int) []model.Resource
}

// Client queries an OpenAI-compatible research endpoint (Perplexity by
// default). Stateless and safe for concurrent use.
type Client struct {
	model     llms.Model
	templates *llm.Templates
	deadline  time.Duration
}

// Options configures a Client.
type Options struct {
	APIKey   string
	BaseURL  string
	Model    string
	Deadline time.Duration
}

// NewClient builds a research client. An empty API key yields a disabled
// client that always returns no resources.
func NewClient(opts Options, templates *llm.Templates) (*Client, error) {
	if opts.Deadline <= 0 {
		opts.Deadline = 10 * time.Second
	}
	c := &Client{templates: templates, deadline: opts.Deadline}
	if opts.APIKey == "" {
		slog.Warn("research api key not set, research disabled")
		return c, nil
	}

	m, err := openai.New(
		openai.WithBaseURL(opts.BaseURL),
		openai.WithModel(opts.Model),
		openai.WithToken(opts.APIKey),
	)
	if err != nil {
		return nil, fmt.Errorf("creating research client: %w", err)
	}
	c.model = m
	return c, nil
}

// NewClientWithModel wires an arbitrary llms.Model. Used by tests.
func NewClientWithModel(m llms.Model, templates *llm.Templates, deadline time.Duration) *Client {
	return &Client{model: m, templates: templates, deadline: deadline}
}

type rawResource struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Kind  string `json:"type"`
	Focus string `json:"focus_section"`
}

// FindResources returns up to maxResults ranked resources for the query,
// deduplicated by URL. Upstream failures return an empty slice.
func (c *Client) FindResources(ctx context.Context, query string, maxResults int) []model.Resource {
	if c.model == nil || query == "" {
		return nil
	}
	if maxResults < 1 {
		maxResults = 1
	}

	prompt, err := c.templates.Render("research", map[string]string{
		"query":       query,
		"max_results": strconv.Itoa(maxResults),
	})
	if err != nil {
		slog.Warn("research prompt unavailable", "error", err)
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, c.deadline)
	defer cancel()

	text, err := llms.GenerateFromSinglePrompt(callCtx, c.model, prompt,
		llms.WithTemperature(0.1),
		llms.WithMaxTokens(1024),
	)
	if err != nil {
		slog.Warn("research query failed", "query", query, "error", err)
		return nil
	}

	var raw []rawResource
	if err := json.Unmarshal([]byte(llm.Sanitize(text)), &raw); err != nil {
		slog.Warn("research response not a resource list", "query", query, "error", err)
		return nil
	}

	return normalize(raw, maxResults)
}

// normalize drops entries without a URL, deduplicates by URL, coerces unknown
// kinds to article, and caps the result.
func normalize(raw []rawResource, maxResults int) []model.Resource {
	seen := make(map[string]bool, len(raw))
	var out []model.Resource
	for _, r := range raw {
		if r.URL == "" || seen[r.URL] {
			continue
		}
		seen[r.URL] = true

		kind := model.ResourceKind(r.Kind)
		switch kind {
		case model.ResourceArticle, model.ResourceVideo, model.ResourceTutorial, model.ResourceDocs:
		default:
			kind = model.ResourceArticle
		}

		out = append(out, model.Resource{
			Title: r.Title,
			URL:   r.URL,
			Kind:  kind,
			Focus: r.Focus,
		})
		if len(out) >= maxResults {
			break
		}
	}
	return out
}
