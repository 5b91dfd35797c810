package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/nexus/internal/interview"
)

// Compile-time interface assertions.
var (
	_ interview.Analyzer        = (*Analyzer)(nil)
	_ interview.ResumeExtractor = (*Extractor)(nil)
)

// Analyzer scores interviews with the first healthy backend.
type Analyzer struct {
	chain *Chain[interview.Analyzer]
}

// NewAnalyzer creates an empty failover analyzer.
func NewAnalyzer(cfg BreakerConfig) *Analyzer {
	return &Analyzer{chain: NewChain[interview.Analyzer](cfg)}
}

// Add appends a backend.
func (a *Analyzer) Add(name string, an interview.Analyzer) { a.chain.Add(name, an) }

// Names returns the backend names in call order.
func (a *Analyzer) Names() []string { return a.chain.Names() }

// Analyze implements [interview.Analyzer].
func (a *Analyzer) Analyze(ctx context.Context, transcript, role string, resume *interview.ResumeData) (interview.Feedback, error) {
	return Call(ctx, a.chain, func(ctx context.Context, an interview.Analyzer) (interview.Feedback, error) {
		return an.Analyze(ctx, transcript, role, resume)
	})
}

// Extractor reads résumés with the first backend that accepts the document.
// A backend that rejects the document type is skipped without being counted
// as unhealthy.
type Extractor struct {
	chain *Chain[interview.ResumeExtractor]
}

// NewExtractor creates an empty failover extractor.
func NewExtractor(cfg BreakerConfig) *Extractor {
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool {
			return !errors.Is(err, interview.ErrUnsupportedDocument)
		}
	}
	return &Extractor{chain: NewChain[interview.ResumeExtractor](cfg)}
}

// Add appends a backend.
func (e *Extractor) Add(name string, ex interview.ResumeExtractor) { e.chain.Add(name, ex) }

// Names returns the backend names in call order.
func (e *Extractor) Names() []string { return e.chain.Names() }

// Extract implements [interview.ResumeExtractor].
func (e *Extractor) Extract(ctx context.Context, doc []byte, mimeType string) (interview.ResumeData, error) {
	return Call(ctx, e.chain, func(ctx context.Context, ex interview.ResumeExtractor) (interview.ResumeData, error) {
		return ex.Extract(ctx, doc, mimeType)
	})
}
