// Package openai implements interview analysis and text résumé extraction
// with OpenAI chat completions in structured-output mode.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/nexus/internal/interview"
	"github.com/MrWong99/nexus/internal/observe"
)

var (
	_ interview.ResumeExtractor = (*Client)(nil)
	_ interview.Analyzer        = (*Client)(nil)
)

const defaultModel = "gpt-4o-mini"

// config holds optional configuration for the client.
type config struct {
	model   string
	baseURL string
	timeout time.Duration
	metrics *observe.Metrics
}

// Option is a functional option for Client.
type Option func(*config)

// WithModel sets the chat model.
func WithModel(model string) Option {
	return func(c *config) {
		if model != "" {
			c.model = model
		}
	}
}

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithMetrics records request latency and outcome on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *config) { c.metrics = m }
}

// Client calls OpenAI chat completions.
type Client struct {
	client  oai.Client
	model   string
	metrics *observe.Metrics
}

// New constructs a Client.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	cfg := &config{model: defaultModel}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(1),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	if cfg.metrics == nil {
		cfg.metrics = observe.DefaultMetrics()
	}
	return &Client{
		client:  oai.NewClient(reqOpts...),
		model:   cfg.model,
		metrics: cfg.metrics,
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Extract reads text résumés only; binary documents such as PDFs need the
// Gemini extractor.
func (c *Client) Extract(ctx context.Context, doc []byte, mimeType string) (_ interview.ResumeData, err error) {
	ctx, span := observe.StartSpan(ctx, "interview.extract")
	defer func() { observe.EndSpan(span, err) }()

	if !strings.HasPrefix(mimeType, "text/") {
		return interview.ResumeData{}, fmt.Errorf("openai: extract: %w: %s", interview.ErrUnsupportedDocument, mimeType)
	}
	text, err := c.complete(ctx, "extract", "resume", []oai.ChatCompletionMessageParamUnion{
		oai.SystemMessage(interview.ExtractionPrompt),
		oai.UserMessage(string(doc)),
	}, resumeSchema)
	if err != nil {
		return interview.ResumeData{}, fmt.Errorf("openai: extract: %w", err)
	}
	r, err := interview.DecodeResume(text)
	if err != nil {
		return interview.ResumeData{}, fmt.Errorf("openai: extract: %w", err)
	}
	return r, nil
}

// Analyze scores transcript for role.
func (c *Client) Analyze(ctx context.Context, transcript, role string, resume *interview.ResumeData) (_ interview.Feedback, err error) {
	ctx, span := observe.StartSpan(ctx, "interview.analyze")
	defer func() { observe.EndSpan(span, err) }()

	text, err := c.complete(ctx, "analyze", "feedback", []oai.ChatCompletionMessageParamUnion{
		oai.UserMessage(interview.AnalysisPrompt(transcript, role, resume)),
	}, feedbackSchema)
	if err != nil {
		return interview.Feedback{}, fmt.Errorf("openai: analyze: %w", err)
	}
	fb, err := interview.DecodeFeedback(text)
	if err != nil {
		return interview.Feedback{}, fmt.Errorf("openai: analyze: %w", err)
	}
	return fb, nil
}

// complete sends one structured-output request and returns the message text.
func (c *Client) complete(ctx context.Context, kind, schemaName string, msgs []oai.ChatCompletionMessageParamUnion, schema map[string]any) (string, error) {
	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: msgs,
		ResponseFormat: oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &oai.ResponseFormatJSONSchemaParam{
				JSONSchema: oai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   schemaName,
					Schema: schema,
					Strict: param.NewOpt(true),
				},
			},
		},
	}

	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, params)
	c.metrics.RecordAnalysis(ctx, "openai", kind, time.Since(start).Seconds(), err)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", interview.ErrEmptyResponse
	}
	msg := resp.Choices[0].Message
	if msg.Refusal != "" {
		return "", fmt.Errorf("refused: %s", msg.Refusal)
	}
	return msg.Content, nil
}

// ── Schemas ───────────────────────────────────────────────────────────────────

var stringList = map[string]any{"type": "array", "items": map[string]any{"type": "string"}}

// Strict mode needs every property listed as required and no additional
// properties.
var resumeSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"extractedName": map[string]any{"type": "string"},
		"extractedRole": map[string]any{"type": "string"},
		"summary":       map[string]any{"type": "string"},
		"skills":        stringList,
	},
	"required":             []string{"extractedName", "extractedRole", "summary", "skills"},
	"additionalProperties": false,
}

var feedbackSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"overallScore": map[string]any{"type": "number"},
		"summary":      map[string]any{"type": "string"},
		"strengths":    stringList,
		"weaknesses":   stringList,
		"stats": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"clarity":    map[string]any{"type": "number"},
				"confidence": map[string]any{"type": "number"},
				"technical":  map[string]any{"type": "number"},
				"softSkills": map[string]any{"type": "number"},
			},
			"required":             []string{"clarity", "confidence", "technical", "softSkills"},
			"additionalProperties": false,
		},
	},
	"required":             []string{"overallScore", "summary", "strengths", "weaknesses", "stats"},
	"additionalProperties": false,
}
