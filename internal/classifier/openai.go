package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/hochfrequenz/selfheal/internal/domain"
)

const classifySystemPrompt = `You classify CI/CD pipeline failure log segments.
Respond with a single JSON object: {"category": "...", "severity": "...", "confidence": 0.0}
category is one of: dependency, permission, configuration, network, resource, build, test, deployment, security, unknown.
severity is one of: critical, high, medium, low, info.
confidence is your certainty between 0 and 1. No prose.`

const generateSystemPrompt = `You propose minimal fixes for CI/CD pipeline errors.
Respond with a one-line description, then a unified diff in a fenced code block.
If you cannot propose a concrete fix, respond with exactly NO_FIX.`

// OpenAIAdapter implements Adapter against an OpenAI-compatible chat API
type OpenAIAdapter struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	limiter *rate.Limiter
}

// OpenAIOptions configures the adapter
type OpenAIOptions struct {
	APIKey         string
	BaseURL        string // optional, for OpenAI-compatible endpoints
	Model          string
	Timeout        time.Duration
	RequestsPerMin int
}

// NewOpenAIAdapter creates the production classifier/generation adapter
func NewOpenAIAdapter(opts OpenAIOptions) (*OpenAIAdapter, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("classifier: API key not set")
	}
	if opts.Model == "" {
		opts.Model = "gpt-4o-mini"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.RequestsPerMin <= 0 {
		opts.RequestsPerMin = 30
	}

	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}

	return &OpenAIAdapter{
		client:  openai.NewClientWithConfig(cfg),
		model:   opts.Model,
		timeout: opts.Timeout,
		limiter: rate.NewLimiter(rate.Limit(float64(opts.RequestsPerMin)/60.0), opts.RequestsPerMin),
	}, nil
}

// Classify implements Adapter
func (a *OpenAIAdapter) Classify(ctx context.Context, segment string) (Classification, error) {
	reply, err := a.complete(ctx, classifySystemPrompt, segment)
	if err != nil {
		return Classification{}, err
	}
	return parseClassification(reply)
}

// GeneratePatch implements Adapter
func (a *OpenAIAdapter) GeneratePatch(ctx context.Context, e *domain.Error) (*PatchProposal, error) {
	prompt := fmt.Sprintf("Category: %s\nMessage: %s\n", e.Category, e.Message)
	if e.Location != nil {
		prompt += fmt.Sprintf("Location: %s\n", e.Location)
	}
	prompt += "Log excerpt:\n" + e.RawLogExcerpt

	reply, err := a.complete(ctx, generateSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}
	return parseProposal(reply), nil
}

func (a *OpenAIAdapter) complete(ctx context.Context, system, user string) (string, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		slog.Warn("classifier call failed", "model", a.model, "error", err)
		return "", fmt.Errorf("classifier call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("classifier returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// parseClassification extracts the JSON verdict from a model reply.
// Replies wrapped in prose or code fences are tolerated.
func parseClassification(reply string) (Classification, error) {
	start := strings.IndexByte(reply, '{')
	end := strings.LastIndexByte(reply, '}')
	if start == -1 || end <= start {
		return Classification{}, fmt.Errorf("malformed classifier response: no JSON object")
	}

	var raw struct {
		Category   string  `json:"category"`
		Severity   string  `json:"severity"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(reply[start:end+1]), &raw); err != nil {
		return Classification{}, fmt.Errorf("malformed classifier response: %w", err)
	}

	c := Classification{
		Category:   domain.ParseCategory(raw.Category),
		Severity:   domain.Severity(raw.Severity),
		Confidence: raw.Confidence,
	}
	if c.Confidence < 0 {
		c.Confidence = 0
	}
	if c.Confidence > 1 {
		c.Confidence = 1
	}
	if c.Severity.Rank() == 0 && c.Severity != domain.SeverityInfo {
		c.Severity = domain.SeverityMedium
	}
	return c, nil
}

// parseProposal extracts a description and unified diff from a model reply.
// Returns nil when the model declined to propose a fix.
func parseProposal(reply string) *PatchProposal {
	reply = strings.TrimSpace(reply)
	if reply == "" || strings.Contains(reply, "NO_FIX") {
		return nil
	}

	diff := extractFencedBlock(reply)
	if diff == "" {
		// Some models return a bare diff without fences
		if idx := strings.Index(reply, "--- "); idx >= 0 {
			diff = reply[idx:]
		}
	}
	if diff == "" {
		return nil
	}

	description := strings.TrimSpace(strings.SplitN(reply, "\n", 2)[0])
	if strings.HasPrefix(description, "```") || strings.HasPrefix(description, "--- ") {
		description = "model-generated fix"
	}

	return &PatchProposal{
		Description: description,
		UnifiedDiff: diff,
		Confidence:  0.5, // the API carries no confidence field for generations
	}
}

func extractFencedBlock(s string) string {
	start := strings.Index(s, "```")
	if start == -1 {
		return ""
	}
	rest := s[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:] // drop the language tag line
	}
	end := strings.Index(rest, "```")
	if end == -1 {
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(rest[:end])
}
