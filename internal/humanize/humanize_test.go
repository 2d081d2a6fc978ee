package humanize

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/folioworks/folio/internal/config"
	"github.com/folioworks/folio/internal/providers"
	"github.com/folioworks/folio/internal/scoring"
)

func rewriteRegistry(mock *providers.MockClient) *providers.Registry {
	reg := providers.NewRegistry()
	reg.Register("mock", mock)
	reg.SetRole("rewrite", "mock")
	return reg
}

const sampleDoc = "## 1 Intro\n\nThis is a plainly generated sentence (Smith, 2020, p. 12). " +
	"Another sentence follows here. A third one closes the paragraph."

func TestHumanizerRun(t *testing.T) {
	cfg := config.DefaultPipeline()

	t.Run("score at target short-circuits with zero rewrites", func(t *testing.T) {
		mock := providers.NewMockClient()
		det := &scoring.MockDetector{Scores: []float64{95}}
		h := NewHumanizer(rewriteRegistry(mock), det, cfg, nil)

		text, result, hist, err := h.Run(context.Background(), sampleDoc)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if text != sampleDoc {
			t.Error("document was modified despite passing score")
		}
		if result == nil || result.HumanScore != 95 {
			t.Errorf("result = %+v", result)
		}
		if mock.RequestCount() != 0 {
			t.Errorf("rewrite calls = %d, want 0", mock.RequestCount())
		}
		if len(hist.Scores) != 1 {
			t.Errorf("history = %v", hist.Scores)
		}
	})

	t.Run("detector unavailable passes document through with nil result", func(t *testing.T) {
		mock := providers.NewMockClient()
		det := &scoring.MockDetector{Err: fmt.Errorf("service down")}
		h := NewHumanizer(rewriteRegistry(mock), det, cfg, nil)

		text, result, _, err := h.Run(context.Background(), sampleDoc)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if result != nil {
			t.Errorf("result = %+v, want nil (never fabricate a score)", result)
		}
		if text != sampleDoc {
			t.Error("document modified without a score")
		}
	})

	t.Run("low score triggers rewrites and keeps best text", func(t *testing.T) {
		flagged := "This is a plainly generated sentence (Smith, 2020, p. 12)."
		mock := providers.NewMockClient()
		mock.ResponseFunc = func(req *providers.GenerateRequest) (string, error) {
			return `{"rewrites": [{"index": 0, "text": "Oddly enough, the sentence now breathes (Smith, 2020, p. 12)."}]}`, nil
		}
		det := &scoring.MockDetector{Scores: []float64{40, 75}, Flagged: []string{flagged}}
		h := NewHumanizer(rewriteRegistry(mock), det, cfg, nil)

		text, result, hist, err := h.Run(context.Background(), sampleDoc)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if !strings.Contains(text, "Oddly enough") {
			t.Error("rewrite not applied")
		}
		if result.HumanScore != 75 {
			t.Errorf("final score = %v, want 75", result.HumanScore)
		}
		if len(hist.Scores) != 2 {
			t.Errorf("history = %v", hist.Scores)
		}
	})

	t.Run("rewrite dropping a citation is rejected", func(t *testing.T) {
		flagged := "This is a plainly generated sentence (Smith, 2020, p. 12)."
		mock := providers.NewMockClient()
		mock.ResponseFunc = func(req *providers.GenerateRequest) (string, error) {
			return `{"rewrites": [{"index": 0, "text": "A rewrite that lost the citation entirely."}]}`, nil
		}
		det := &scoring.MockDetector{Scores: []float64{40, 45, 45, 45, 45, 45, 45}, Flagged: []string{flagged}}
		h := NewHumanizer(rewriteRegistry(mock), det, cfg, nil)

		text, _, _, err := h.Run(context.Background(), sampleDoc)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if !strings.Contains(text, "(Smith, 2020, p. 12)") {
			t.Error("citation lost during humanization")
		}
	})
}

func TestCitationsPreserved(t *testing.T) {
	cases := []struct {
		name     string
		original string
		rewrite  string
		want     bool
	}{
		{"kept", "Claim (Smith, 2020, p. 3).", "Different claim (Smith, 2020, p. 3).", true},
		{"dropped", "Claim (Smith, 2020, p. 3).", "Different claim.", false},
		{"footnote kept", "Claim.[^2]", "Other claim.[^2]", true},
		{"footnote dropped", "Claim.[^2]", "Other claim.", false},
		{"no citations", "Plain claim.", "Other claim.", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := citationsPreserved(tc.original, tc.rewrite); got != tc.want {
				t.Errorf("citationsPreserved() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestPlagiarismPass(t *testing.T) {
	cfg := config.DefaultPipeline()

	t.Run("original document passes untouched", func(t *testing.T) {
		mock := providers.NewMockClient()
		checker := &scoring.MockPlagiarismChecker{Scores: []float64{96}}
		p := NewPlagiarismPass(rewriteRegistry(mock), checker, cfg, nil)

		text, result, err := p.Run(context.Background(), sampleDoc)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if text != sampleDoc || result.OriginalityScore != 96 {
			t.Errorf("text changed or score = %v", result)
		}
		if mock.RequestCount() != 0 {
			t.Errorf("rewrite calls = %d, want 0", mock.RequestCount())
		}
	})

	t.Run("flagged span rewritten with exact substitution", func(t *testing.T) {
		span := "Another sentence follows here."
		mock := providers.NewMockClient()
		mock.ResponseText = "A different formulation takes its place."
		checker := &scoring.MockPlagiarismChecker{Scores: []float64{70, 93}, Flagged: []string{span}}
		p := NewPlagiarismPass(rewriteRegistry(mock), checker, cfg, nil)

		text, result, err := p.Run(context.Background(), sampleDoc)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if strings.Contains(text, span) {
			t.Error("flagged span still present")
		}
		if !strings.Contains(text, "A different formulation") {
			t.Error("paraphrase missing")
		}
		if result.OriginalityScore != 93 {
			t.Errorf("score = %v", result.OriginalityScore)
		}
	})

	t.Run("whitespace-relaxed substitution", func(t *testing.T) {
		// Checker reports the span with collapsed whitespace.
		span := "Another sentence follows here."
		doc := strings.Replace(sampleDoc, span, "Another  sentence\nfollows here.", 1)
		mock := providers.NewMockClient()
		mock.ResponseText = "Fresh wording appears instead."
		checker := &scoring.MockPlagiarismChecker{Scores: []float64{70, 95}, Flagged: []string{span}}
		p := NewPlagiarismPass(rewriteRegistry(mock), checker, cfg, nil)

		text, _, err := p.Run(context.Background(), doc)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if !strings.Contains(text, "Fresh wording appears instead.") {
			t.Error("relaxed substitution did not apply")
		}
	})

	t.Run("attempts bounded", func(t *testing.T) {
		span := "Another sentence follows here."
		mock := providers.NewMockClient()
		mock.ResponseFunc = func(req *providers.GenerateRequest) (string, error) {
			return "Rewrite attempt " + fmt.Sprint(mock.RequestCount()) + " of the span here.", nil
		}
		checker := &scoring.MockPlagiarismChecker{Scores: []float64{70}, Flagged: []string{span}}
		p := NewPlagiarismPass(rewriteRegistry(mock), checker, cfg, nil)

		_, result, err := p.Run(context.Background(), sampleDoc)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		// Initial check + one per attempt.
		if checker.Calls() > cfg.MaxPlagiarismAttempts+1 {
			t.Errorf("checker calls = %d, want <= %d", checker.Calls(), cfg.MaxPlagiarismAttempts+1)
		}
		if result == nil {
			t.Fatal("expected a result")
		}
	})

	t.Run("checker unavailable yields nil result", func(t *testing.T) {
		mock := providers.NewMockClient()
		checker := &scoring.MockPlagiarismChecker{Err: fmt.Errorf("down")}
		p := NewPlagiarismPass(rewriteRegistry(mock), checker, cfg, nil)

		text, result, err := p.Run(context.Background(), sampleDoc)
		if err != nil || result != nil || text != sampleDoc {
			t.Errorf("got text changed=%v result=%v err=%v", text != sampleDoc, result, err)
		}
	})
}
