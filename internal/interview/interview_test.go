package interview

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInstructions(t *testing.T) {
	t.Parallel()

	t.Run("without resume", func(t *testing.T) {
		t.Parallel()
		got := Instructions("Ada", "Backend Engineer", nil)
		if !strings.HasPrefix(got, "You are an expert recruiter named Nexus. You are interviewing Ada for a Backend Engineer position.") {
			t.Errorf("unexpected prefix: %q", got)
		}
		if strings.Contains(got, "resume shows") {
			t.Errorf("resume context present without resume: %q", got)
		}
		if !strings.HasSuffix(got, "Ask deep technical questions based on their reported skills.") {
			t.Errorf("unexpected suffix: %q", got)
		}
	})

	t.Run("with resume", func(t *testing.T) {
		t.Parallel()
		got := Instructions("Ada", "Backend Engineer", &ResumeData{
			Summary: "8 years of distributed systems",
			Skills:  []string{"Go", "Postgres", "Kafka"},
		})
		want := "The candidate's resume shows experience in: 8 years of distributed systems. Key skills to probe: Go, Postgres, Kafka."
		if !strings.Contains(got, want) {
			t.Errorf("Instructions = %q, want it to contain %q", got, want)
		}
	})
}

func TestAnalysisPrompt(t *testing.T) {
	t.Parallel()

	got := AnalysisPrompt("Hello there", "SRE", &ResumeData{Summary: "ops", Skills: []string{"k8s"}})
	for _, want := range []string{
		"Analyze this interview transcript for a SRE position.",
		"Resume Context: ops. Skills to verify: k8s.",
		"Transcript: Hello there",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("AnalysisPrompt missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(AnalysisPrompt("x", "SRE", nil), "Resume Context") {
		t.Error("resume context present without resume")
	}
}

func TestDecodeResume(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		text    string
		want    ResumeData
		wantErr error
	}{
		{
			name: "full",
			text: `{"extractedName":"Ada","extractedRole":"Engineer","summary":"s","skills":["Go"]}`,
			want: ResumeData{ExtractedName: "Ada", ExtractedRole: "Engineer", Summary: "s", Skills: []string{"Go"}},
		},
		{
			name: "fenced",
			text: "```json\n{\"summary\":\"s\",\"skills\":[]}\n```",
			want: ResumeData{Summary: "s", Skills: []string{}},
		},
		{
			name: "missing skills",
			text: `{"summary":"s"}`,
			want: ResumeData{Summary: "s", Skills: []string{}},
		},
		{
			name: "repaired trailing comma",
			text: `{"summary":"s","skills":["Go","SQL",],}`,
			want: ResumeData{Summary: "s", Skills: []string{"Go", "SQL"}},
		},
		{name: "empty", text: "  ", wantErr: ErrEmptyResponse},
		{name: "not json", text: "I cannot read this file", wantErr: ErrInvalidResponse},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := DecodeResume(tc.text)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeResume: %v", err)
			}
			if got.ExtractedName != tc.want.ExtractedName || got.ExtractedRole != tc.want.ExtractedRole ||
				got.Summary != tc.want.Summary || strings.Join(got.Skills, ",") != strings.Join(tc.want.Skills, ",") {
				t.Errorf("DecodeResume = %+v, want %+v", got, tc.want)
			}
			if got.Skills == nil {
				t.Error("Skills must never be nil")
			}
		})
	}
}

func TestDecodeFeedback(t *testing.T) {
	t.Parallel()

	text := `{"overallScore":82,"summary":"solid","strengths":["clear"],"weaknesses":["brief"],
		"stats":{"clarity":90,"confidence":75,"technical":80,"softSkills":85}}`
	fb, err := DecodeFeedback(text)
	if err != nil {
		t.Fatalf("DecodeFeedback: %v", err)
	}
	if fb.OverallScore != 82 || fb.Summary != "solid" {
		t.Errorf("feedback = %+v", fb)
	}
	if fb.Stats != (Stats{Clarity: 90, Confidence: 75, Technical: 80, SoftSkills: 85}) {
		t.Errorf("stats = %+v", fb.Stats)
	}

	if _, err := DecodeFeedback(`{"overallScore":"high"}`); !errors.Is(err, ErrInvalidResponse) {
		t.Errorf("type mismatch err = %v, want ErrInvalidResponse", err)
	}
}

func TestCandidate(t *testing.T) {
	t.Parallel()

	resume := &ResumeData{ExtractedName: "Grace", ExtractedRole: "Compiler Engineer"}
	tests := []struct {
		name, inName, inRole string
		resume               *ResumeData
		wantName, wantRole   string
	}{
		{"explicit wins", "Ada", "SRE", resume, "Ada", "SRE"},
		{"from resume", "", "", resume, "Grace", "Compiler Engineer"},
		{"defaults", "", "", nil, "the candidate", "software engineering"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			name, role := Candidate(tc.inName, tc.inRole, tc.resume)
			if name != tc.wantName || role != tc.wantRole {
				t.Errorf("Candidate = %q, %q; want %q, %q", name, role, tc.wantName, tc.wantRole)
			}
		})
	}
}

func TestReadDocument(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	pdf := filepath.Join(dir, "cv.PDF")
	if err := os.WriteFile(pdf, []byte("%PDF-1.7\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	txt := filepath.Join(dir, "cv")
	if err := os.WriteFile(txt, []byte("Ada Lovelace\nAnalyst"), 0o600); err != nil {
		t.Fatal(err)
	}

	_, typ, err := ReadDocument(pdf)
	if err != nil {
		t.Fatalf("ReadDocument: %v", err)
	}
	if typ != "application/pdf" {
		t.Errorf("pdf MIME = %q", typ)
	}

	_, typ, err = ReadDocument(txt)
	if err != nil {
		t.Fatalf("ReadDocument: %v", err)
	}
	if typ != "text/plain" {
		t.Errorf("sniffed MIME = %q, want text/plain", typ)
	}

	if _, _, err := ReadDocument(filepath.Join(dir, "missing.pdf")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file err = %v", err)
	}
}
