// Package gemini implements résumé extraction and interview analysis with the
// Gemini API through google.golang.org/genai. Both calls use JSON mode with a
// response schema so the model answers with a document the interview package
// can decode directly.
package gemini

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/MrWong99/nexus/internal/interview"
	"github.com/MrWong99/nexus/internal/observe"
)

var (
	_ interview.ResumeExtractor = (*Client)(nil)
	_ interview.Analyzer        = (*Client)(nil)
)

// generator is the subset of *genai.Models used by Client.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Option configures a Client.
type Option func(*options)

type options struct {
	model   string
	baseURL string
	metrics *observe.Metrics
}

// WithModel sets the text model. Defaults to [interview.DefaultTextModel].
func WithModel(model string) Option {
	return func(o *options) {
		if model != "" {
			o.model = model
		}
	}
}

// WithBaseURL points the client at a different API endpoint.
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

// WithMetrics records request latency and outcome on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Client calls the Gemini API for extraction and analysis.
type Client struct {
	models  generator
	model   string
	metrics *observe.Metrics
}

// New creates a Client authenticated with apiKey.
func New(ctx context.Context, apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: apiKey must not be empty")
	}
	o := options{model: interview.DefaultTextModel}
	for _, fn := range opts {
		fn(&o)
	}

	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if o.baseURL != "" {
		cfg.HTTPOptions.BaseURL = o.baseURL
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: client: %w", err)
	}
	return newClient(client.Models, o), nil
}

func newClient(models generator, o options) *Client {
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return &Client{models: models, model: o.model, metrics: o.metrics}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Extract sends the document inline together with [interview.ExtractionPrompt].
func (c *Client) Extract(ctx context.Context, doc []byte, mimeType string) (_ interview.ResumeData, err error) {
	ctx, span := observe.StartSpan(ctx, "interview.extract")
	defer func() { observe.EndSpan(span, err) }()

	if len(doc) == 0 {
		return interview.ResumeData{}, fmt.Errorf("gemini: extract: empty document")
	}
	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			genai.NewPartFromBytes(doc, mimeType),
			genai.NewPartFromText(interview.ExtractionPrompt),
		},
	}}
	text, err := c.generate(ctx, "extract", contents, resumeSchema)
	if err != nil {
		return interview.ResumeData{}, fmt.Errorf("gemini: extract: %w", err)
	}
	r, err := interview.DecodeResume(text)
	if err != nil {
		return interview.ResumeData{}, fmt.Errorf("gemini: extract: %w", err)
	}
	return r, nil
}

// Analyze scores transcript for role.
func (c *Client) Analyze(ctx context.Context, transcript, role string, resume *interview.ResumeData) (_ interview.Feedback, err error) {
	ctx, span := observe.StartSpan(ctx, "interview.analyze")
	defer func() { observe.EndSpan(span, err) }()

	contents := []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{genai.NewPartFromText(interview.AnalysisPrompt(transcript, role, resume))},
	}}
	text, err := c.generate(ctx, "analyze", contents, feedbackSchema)
	if err != nil {
		return interview.Feedback{}, fmt.Errorf("gemini: analyze: %w", err)
	}
	fb, err := interview.DecodeFeedback(text)
	if err != nil {
		return interview.Feedback{}, fmt.Errorf("gemini: analyze: %w", err)
	}
	return fb, nil
}

// generate runs one JSON-mode request and returns the concatenated text of
// the first candidate.
func (c *Client) generate(ctx context.Context, kind string, contents []*genai.Content, schema *genai.Schema) (string, error) {
	start := time.Now()
	resp, err := c.models.GenerateContent(ctx, c.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   schema,
	})
	c.metrics.RecordAnalysis(ctx, "gemini", kind, time.Since(start).Seconds(), err)
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", interview.ErrEmptyResponse
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	return sb.String(), nil
}

// ── Schemas ───────────────────────────────────────────────────────────────────

var (
	stringType = &genai.Schema{Type: genai.TypeString}
	numberType = &genai.Schema{Type: genai.TypeNumber}
	stringList = &genai.Schema{Type: genai.TypeArray, Items: stringType}
)

var resumeSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"extractedName": stringType,
		"extractedRole": stringType,
		"summary":       stringType,
		"skills":        stringList,
	},
	Required: []string{"summary", "skills"},
}

var feedbackSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"overallScore": numberType,
		"summary":      stringType,
		"strengths":    stringList,
		"weaknesses":   stringList,
		"stats": {
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"clarity":    numberType,
				"confidence": numberType,
				"technical":  numberType,
				"softSkills": numberType,
			},
			Required: []string{"clarity", "confidence", "technical", "softSkills"},
		},
	},
	Required: []string{"overallScore", "summary", "strengths", "weaknesses", "stats"},
}
