package resilience

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/nexus/internal/interview"
)

func TestCall_PrimaryWins(t *testing.T) {
	t.Parallel()
	c := NewChain[string](BreakerConfig{})
	c.Add("gemini", "gemini")
	c.Add("openai", "openai")

	var calls []string
	got, err := Call(context.Background(), c, func(_ context.Context, v string) (string, error) {
		calls = append(calls, v)
		return v, nil
	})
	if err != nil || got != "gemini" {
		t.Fatalf("Call = %q, %v", got, err)
	}
	if len(calls) != 1 {
		t.Errorf("calls = %v, want only the primary", calls)
	}
}

func TestCall_FallsBack(t *testing.T) {
	t.Parallel()
	c := NewChain[string](BreakerConfig{})
	c.Add("gemini", "gemini")
	c.Add("openai", "openai")

	got, err := Call(context.Background(), c, func(_ context.Context, v string) (string, error) {
		if v == "gemini" {
			return "", errTest
		}
		return v, nil
	})
	if err != nil || got != "openai" {
		t.Fatalf("Call = %q, %v", got, err)
	}
}

func TestCall_AllFail(t *testing.T) {
	t.Parallel()
	c := NewChain[string](BreakerConfig{})
	c.Add("gemini", "gemini")
	c.Add("openai", "openai")

	_, err := Call(context.Background(), c, func(context.Context, string) (int, error) {
		return 0, errTest
	})
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, errTest) {
		t.Fatalf("err = %v, want ErrAllFailed wrapping errTest", err)
	}
}

func TestCall_Empty(t *testing.T) {
	t.Parallel()
	_, err := Call(context.Background(), NewChain[string](BreakerConfig{}), func(context.Context, string) (int, error) {
		t.Fatal("fn called on empty chain")
		return 0, nil
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v", err)
	}
}

func TestCall_SkipsOpenBreaker(t *testing.T) {
	t.Parallel()
	c := NewChain[string](BreakerConfig{MaxFailures: 1, Cooldown: time.Hour})
	c.Add("gemini", "gemini")
	c.Add("openai", "openai")

	primaryCalls := 0
	fn := func(_ context.Context, v string) (string, error) {
		if v == "gemini" {
			primaryCalls++
			return "", errTest
		}
		return v, nil
	}
	for range 3 {
		if _, err := Call(context.Background(), c, fn); err != nil {
			t.Fatalf("Call: %v", err)
		}
	}
	if primaryCalls != 1 {
		t.Errorf("primary called %d times, want 1 (breaker should open)", primaryCalls)
	}
}

func TestCall_StopsWhenContextDone(t *testing.T) {
	t.Parallel()
	c := NewChain[string](BreakerConfig{})
	c.Add("gemini", "gemini")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Call(ctx, c, func(context.Context, string) (int, error) {
		t.Fatal("fn called with a done context")
		return 0, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestChain_Names(t *testing.T) {
	t.Parallel()
	c := NewChain[int](BreakerConfig{})
	c.Add("openai", 1)
	c.Add("gemini", 2)
	if got := c.Names(); !slices.Equal(got, []string{"openai", "gemini"}) || c.Len() != 2 {
		t.Errorf("Names = %v, Len = %d", got, c.Len())
	}
}

// ── interview adapters ─────────────────────────────────────────────────────────

type stubAnalyzer struct {
	fb    interview.Feedback
	err   error
	calls int
}

func (s *stubAnalyzer) Analyze(context.Context, string, string, *interview.ResumeData) (interview.Feedback, error) {
	s.calls++
	return s.fb, s.err
}

type stubExtractor struct {
	data  interview.ResumeData
	err   error
	calls int
}

func (s *stubExtractor) Extract(context.Context, []byte, string) (interview.ResumeData, error) {
	s.calls++
	return s.data, s.err
}

func TestAnalyzer_FailsOver(t *testing.T) {
	t.Parallel()
	primary := &stubAnalyzer{err: interview.ErrInvalidResponse}
	backup := &stubAnalyzer{fb: interview.Feedback{OverallScore: 7, Summary: "solid"}}

	a := NewAnalyzer(BreakerConfig{})
	a.Add("gemini", primary)
	a.Add("openai", backup)

	fb, err := a.Analyze(context.Background(), "Q: hi\nA: hello", "backend", nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if fb.OverallScore != 7 || primary.calls != 1 || backup.calls != 1 {
		t.Errorf("fb = %+v, calls = %d/%d", fb, primary.calls, backup.calls)
	}
	if !slices.Equal(a.Names(), []string{"gemini", "openai"}) {
		t.Errorf("Names = %v", a.Names())
	}
}

func TestExtractor_UnsupportedDocumentKeepsBreakerClosed(t *testing.T) {
	t.Parallel()
	textOnly := &stubExtractor{err: interview.ErrUnsupportedDocument}
	multimodal := &stubExtractor{data: interview.ResumeData{ExtractedName: "Ada"}}

	e := NewExtractor(BreakerConfig{MaxFailures: 1, Cooldown: time.Hour})
	e.Add("openai", textOnly)
	e.Add("gemini", multimodal)

	for range 2 {
		data, err := e.Extract(context.Background(), []byte("%PDF-1.7"), "application/pdf")
		if err != nil || data.ExtractedName != "Ada" {
			t.Fatalf("Extract = %+v, %v", data, err)
		}
	}
	// A rejected document type is not an outage, so openai is still asked.
	if textOnly.calls != 2 {
		t.Errorf("text-only extractor called %d times, want 2", textOnly.calls)
	}
}
