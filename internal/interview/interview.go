// Package interview holds the interview domain around the live audio session:
// the candidate's résumé, the recruiter persona given to the live model and
// the scored feedback report produced once the conversation ends.
//
// Résumé extraction and feedback analysis are delegated to a hosted text
// model through the [ResumeExtractor] and [Analyzer] interfaces. The
// gemini and openai subpackages implement them.
package interview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
)

const (
	// DefaultVoice is the prebuilt voice used for the recruiter.
	DefaultVoice = "Zephyr"

	// DefaultLiveModel is the Gemini model used for the live conversation.
	DefaultLiveModel = "gemini-2.5-flash-native-audio-preview-09-2025"

	// DefaultTextModel is the Gemini model used for extraction and analysis.
	DefaultTextModel = "gemini-3-flash-preview"
)

var (
	// ErrEmptyResponse is returned when the model produced no text.
	ErrEmptyResponse = errors.New("interview: empty model response")

	// ErrInvalidResponse is returned when the model output is not the
	// expected JSON document.
	ErrInvalidResponse = errors.New("interview: invalid model response")

	// ErrUnsupportedDocument is returned by extractors that cannot read a
	// document's MIME type.
	ErrUnsupportedDocument = errors.New("interview: unsupported document type")
)

// ── Types ─────────────────────────────────────────────────────────────────────

// ResumeData is what extraction pulls out of a résumé.
type ResumeData struct {
	ExtractedName string   `json:"extractedName,omitempty"`
	ExtractedRole string   `json:"extractedRole,omitempty"`
	Summary       string   `json:"summary"`
	Skills        []string `json:"skills"`
}

// Stats are the per-dimension scores of a feedback report.
type Stats struct {
	Clarity    float64 `json:"clarity"`
	Confidence float64 `json:"confidence"`
	Technical  float64 `json:"technical"`
	SoftSkills float64 `json:"softSkills"`
}

// Feedback is the scored evaluation of one interview.
type Feedback struct {
	OverallScore float64  `json:"overallScore"`
	Summary      string   `json:"summary"`
	Strengths    []string `json:"strengths"`
	Weaknesses   []string `json:"weaknesses"`
	Stats        Stats    `json:"stats"`
}

// Report is a finished interview as it is persisted.
type Report struct {
	ID            string      `json:"id,omitempty"`
	CandidateName string      `json:"candidateName"`
	Role          string      `json:"role"`
	Transcript    string      `json:"transcript"`
	Resume        *ResumeData `json:"resume,omitempty"`
	Feedback      *Feedback   `json:"feedback,omitempty"`
	StartedAt     time.Time   `json:"startedAt"`
	EndedAt       time.Time   `json:"endedAt"`
}

// ── Services ──────────────────────────────────────────────────────────────────

// ResumeExtractor turns a résumé document into structured data.
type ResumeExtractor interface {
	Extract(ctx context.Context, doc []byte, mimeType string) (ResumeData, error)
}

// Analyzer scores a finished interview. resume may be nil.
type Analyzer interface {
	Analyze(ctx context.Context, transcript, role string, resume *ResumeData) (Feedback, error)
}

// ── Prompts ───────────────────────────────────────────────────────────────────

// ExtractionPrompt accompanies the résumé document in an extraction request.
const ExtractionPrompt = "Extract the following information from this resume: candidate name, " +
	"target/recent role, a brief professional summary, and a list of key technical skills. " +
	"Respond in JSON format."

// Instructions builds the system instruction for the live recruiter.
func Instructions(candidate, role string, resume *ResumeData) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are an expert recruiter named Nexus. You are interviewing %s for a %s position. ", candidate, role)
	if resume != nil {
		fmt.Fprintf(&b, "The candidate's resume shows experience in: %s. Key skills to probe: %s. ",
			resume.Summary, strings.Join(resume.Skills, ", "))
	}
	b.WriteString("Be professional, probing, and insightful. Start by welcoming them. " +
		"Do not mention that you have their resume explicitly unless it makes the conversation flow better. " +
		"Ask deep technical questions based on their reported skills.")
	return b.String()
}

// AnalysisPrompt builds the feedback request for transcript.
func AnalysisPrompt(transcript, role string, resume *ResumeData) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze this interview transcript for a %s position.\n", role)
	if resume != nil {
		fmt.Fprintf(&b, "Resume Context: %s. Skills to verify: %s.\n",
			resume.Summary, strings.Join(resume.Skills, ", "))
	}
	fmt.Fprintf(&b, "Transcript: %s\n", transcript)
	return b.String()
}

// ── Decoding ──────────────────────────────────────────────────────────────────

// DecodeResume parses the model's JSON answer to an extraction request.
func DecodeResume(text string) (ResumeData, error) {
	var r ResumeData
	if err := decodeJSON(text, &r); err != nil {
		return ResumeData{}, err
	}
	if r.Skills == nil {
		r.Skills = []string{}
	}
	return r, nil
}

// DecodeFeedback parses the model's JSON answer to an analysis request.
func DecodeFeedback(text string) (Feedback, error) {
	var f Feedback
	if err := decodeJSON(text, &f); err != nil {
		return Feedback{}, err
	}
	return f, nil
}

func decodeJSON(text string, v any) error {
	text = strings.TrimSpace(text)
	// Some models wrap JSON in a markdown fence even in JSON mode.
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(text, "```")
		text = strings.TrimSpace(text)
	}
	if text == "" {
		return ErrEmptyResponse
	}
	err := json.Unmarshal([]byte(text), v)
	var syntaxErr *json.SyntaxError
	// Truncated or sloppy objects (trailing commas, unclosed arrays) are
	// repaired once. Prose answers are rejected as they are.
	if errors.As(err, &syntaxErr) && strings.HasPrefix(text, "{") {
		if fixed, rerr := jsonrepair.JSONRepair(text); rerr == nil {
			err = json.Unmarshal([]byte(fixed), v)
		}
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	return nil
}

// Candidate resolves the name and role to interview for. Explicit values win;
// otherwise the résumé's extracted fields are used.
func Candidate(name, role string, resume *ResumeData) (string, string) {
	if resume != nil {
		if name == "" {
			name = resume.ExtractedName
		}
		if role == "" {
			role = resume.ExtractedRole
		}
	}
	if name == "" {
		name = "the candidate"
	}
	if role == "" {
		role = "software engineering"
	}
	return name, role
}
