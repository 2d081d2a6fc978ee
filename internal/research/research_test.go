package research

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/folioworks/folio/internal/bib"
	"github.com/folioworks/folio/internal/config"
	"github.com/folioworks/folio/internal/providers"
	"github.com/folioworks/folio/internal/search"
)

type fakeProvider struct {
	name    string
	sources []bib.Source
	err     error
	calls   int
}

func (f *fakeProvider) Search(ctx context.Context, query string, limit int) ([]bib.Source, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.sources, nil
}

func (f *fakeProvider) Name() string { return f.name }

func germanSpec() *bib.ThesisSpec {
	return &bib.ThesisSpec{
		Title:            "KI in der Logistik",
		Field:            "Wirtschaftsinformatik",
		ResearchQuestion: "Wie verändert KI die Lieferkette?",
		Language:         "de",
		Outline: []bib.OutlineChapter{
			{Number: "1", Title: "Einleitung"},
			{Number: "2", Title: "Grundlagen"},
			{Number: "3", Title: "Literaturverzeichnis"},
		},
	}
}

func TestGenerateQueries(t *testing.T) {
	t.Run("queries per content chapter only", func(t *testing.T) {
		mock := providers.NewMockClient()
		mock.ResponseText = `{"queries": ["ai logistics", "KI Lieferkette", "machine learning supply chain", "künstliche Intelligenz Logistik"]}`
		reg := providers.NewRegistry()
		reg.Register("mock", mock)
		reg.SetRole("queries", "mock")

		qs, err := GenerateQueries(context.Background(), reg, germanSpec())
		if err != nil {
			t.Fatalf("GenerateQueries() error = %v", err)
		}
		// The bibliography chapter gets no queries.
		if len(qs) != 2 {
			t.Fatalf("got queries for %d chapters, want 2", len(qs))
		}
		if len(qs[0].Queries) != 4 {
			t.Errorf("chapter 1 queries = %d, want 4", len(qs[0].Queries))
		}
	})

	t.Run("non-english spec requests bilingual queries", func(t *testing.T) {
		mock := providers.NewMockClient()
		mock.ResponseText = `{"queries": ["q1", "q2"]}`
		reg := providers.NewRegistry()
		reg.Register("mock", mock)
		reg.SetRole("queries", "mock")

		if _, err := GenerateQueries(context.Background(), reg, germanSpec()); err != nil {
			t.Fatalf("GenerateQueries() error = %v", err)
		}
		prompt := mock.Requests()[0].Prompt
		if !strings.Contains(prompt, "2 in de and 2 in English") {
			t.Errorf("prompt missing bilingual instruction: %s", prompt)
		}
	})
}

func TestSearcherRun(t *testing.T) {
	queries := []ChapterQueries{
		{ChapterNumber: "2", ChapterTitle: "Grundlagen", Queries: []string{"q1", "q2"}},
	}

	t.Run("tags results with chapter", func(t *testing.T) {
		p := &fakeProvider{name: "a", sources: []bib.Source{{Title: "Paper"}}}
		s := NewSearcher([]search.Provider{p}, 2, slog.Default())

		results, err := s.Run(context.Background(), queries)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if len(results) != 2 { // 2 queries x 1 provider
			t.Fatalf("got %d results", len(results))
		}
		if results[0].ChapterNumber != "2" || results[0].ChapterTitle != "Grundlagen" {
			t.Errorf("chapter tag missing: %+v", results[0])
		}
	})

	t.Run("one failing provider degrades gracefully", func(t *testing.T) {
		good := &fakeProvider{name: "good", sources: []bib.Source{{Title: "Paper"}}}
		bad := &fakeProvider{name: "bad", err: fmt.Errorf("rate limited")}
		s := NewSearcher([]search.Provider{good, bad}, 2, slog.Default())

		results, err := s.Run(context.Background(), queries)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if len(results) != 2 {
			t.Errorf("got %d results from surviving provider", len(results))
		}
	})

	t.Run("total failure is an error", func(t *testing.T) {
		bad := &fakeProvider{name: "bad", err: fmt.Errorf("down")}
		s := NewSearcher([]search.Provider{bad}, 2, slog.Default())

		if _, err := s.Run(context.Background(), queries); err == nil {
			t.Fatal("expected error when nothing was found")
		}
	})
}

func TestDedupe(t *testing.T) {
	t.Run("doi collapses duplicates and prefers documents", func(t *testing.T) {
		sources := []bib.Source{
			{Title: "Paper A", DOI: "10.1/a", ChapterNumber: "1", CitationCount: 5},
			{Title: "Paper A variant", DOI: "10.1/a", ChapterNumber: "2", PDFURL: "https://x/a.pdf"},
			{Title: "Paper B"},
			{Title: "paper b "}, // title-key duplicate
		}

		got := Dedupe(sources)
		if len(got) != 2 {
			t.Fatalf("got %d sources, want 2", len(got))
		}
		if !got[0].HasDocument() {
			t.Errorf("expected the PDF-bearing copy to win")
		}
		if got[0].ChapterNumber != "1" {
			t.Errorf("chapter assignment = %q, want the first occurrence's", got[0].ChapterNumber)
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		sources := []bib.Source{
			{Title: "A", DOI: "10.1/a"},
			{Title: "A dup", DOI: "10.1/a", PDFURL: "x"},
			{Title: "B"},
		}
		once := Dedupe(sources)
		twice := Dedupe(once)
		if len(once) != len(twice) {
			t.Fatalf("dedupe not idempotent: %d then %d", len(once), len(twice))
		}
		for i := range once {
			if once[i].Key() != twice[i].Key() {
				t.Errorf("order changed at %d", i)
			}
		}
	})
}

func TestRanker(t *testing.T) {
	cfg := config.DefaultPipeline()
	cfg.RankBatchSize = 2
	cfg.RankProcessingCap = 4

	spec := germanSpec()
	sources := make([]bib.Source, 6)
	for i := range sources {
		sources[i] = bib.Source{Title: fmt.Sprintf("Paper %d", i), DOI: fmt.Sprintf("10.1/%d", i)}
	}

	t.Run("scores batches and caps processing", func(t *testing.T) {
		mock := providers.NewMockClient()
		mock.ResponseFunc = func(req *providers.GenerateRequest) (string, error) {
			return `{"scores": [{"index": 0, "score": 90}, {"index": 1, "score": 30}]}`, nil
		}
		reg := providers.NewRegistry()
		reg.Register("mock", mock)
		reg.SetRole("rank", "mock")

		ranker := NewRanker(reg, cfg, slog.Default())
		ranked, err := ranker.Rank(context.Background(), spec, sources)
		if err != nil {
			t.Fatalf("Rank() error = %v", err)
		}
		if mock.RequestCount() != 2 { // 4 capped sources / batch of 2
			t.Errorf("requests = %d, want 2", mock.RequestCount())
		}
		if ranked[0].RelevanceScore != 90 || ranked[1].RelevanceScore != 30 {
			t.Errorf("batch scores = %d, %d", ranked[0].RelevanceScore, ranked[1].RelevanceScore)
		}
		// Beyond the cap: heuristic default.
		if ranked[4].RelevanceScore != cfg.DefaultHeuristicScore {
			t.Errorf("capped score = %d, want %d", ranked[4].RelevanceScore, cfg.DefaultHeuristicScore)
		}
	})

	t.Run("prompt carries field and scoring rubric", func(t *testing.T) {
		mock := providers.NewMockClient()
		mock.ResponseText = `{"scores": [{"index": 0, "score": 90}, {"index": 1, "score": 30}]}`
		reg := providers.NewRegistry()
		reg.Register("mock", mock)
		reg.SetRole("rank", "mock")

		ranker := NewRanker(reg, cfg, slog.Default())
		if _, err := ranker.Rank(context.Background(), spec, sources[:2]); err != nil {
			t.Fatalf("Rank() error = %v", err)
		}
		prompt := mock.Requests()[0].Prompt
		for _, want := range []string{
			"Field: Wirtschaftsinformatik",
			"outside the thesis field score below 20",
			"not clearly on-topic for the research question score below 60",
		} {
			if !strings.Contains(prompt, want) {
				t.Errorf("prompt missing %q", want)
			}
		}
	})

	t.Run("llm failure falls back to heuristic", func(t *testing.T) {
		mock := providers.NewMockClient()
		mock.ShouldFail = true
		reg := providers.NewRegistry()
		reg.Register("mock", mock)
		reg.SetRole("rank", "mock")

		ranker := NewRanker(reg, cfg, slog.Default())
		ranked, err := ranker.Rank(context.Background(), spec, sources)
		if err != nil {
			t.Fatalf("Rank() error = %v", err)
		}
		for _, s := range ranked {
			if s.RelevanceScore != cfg.DefaultHeuristicScore {
				t.Errorf("score = %d, want heuristic %d", s.RelevanceScore, cfg.DefaultHeuristicScore)
			}
		}
	})

	t.Run("filter drops below cutoff and sorts", func(t *testing.T) {
		ranker := NewRanker(providers.NewRegistry(), cfg, slog.Default())
		in := []bib.Source{
			{Title: "low", RelevanceScore: 40},
			{Title: "high", RelevanceScore: 95},
			{Title: "edge", RelevanceScore: cfg.MinRelevanceScore},
		}
		got := ranker.FilterRelevant(in)
		if len(got) != 2 {
			t.Fatalf("got %d sources, want 2", len(got))
		}
		if got[0].Title != "high" || got[1].Title != "edge" {
			t.Errorf("order = %v", got)
		}
	})
}

func TestSelect(t *testing.T) {
	cfg := config.DefaultPipeline()
	cfg.TargetSourceCount = 5
	cfg.MinSourcesPerChapter = 2

	outline := []bib.OutlineChapter{
		{Number: "1", Title: "Intro"},
		{Number: "2", Title: "Methods"},
	}

	ranked := []bib.Source{
		{Title: "m1", DOI: "10.1/m1", ChapterNumber: "2", RelevanceScore: 99},
		{Title: "i1", DOI: "10.1/i1", ChapterNumber: "1", RelevanceScore: 95},
		{Title: "i2", DOI: "10.1/i2", ChapterNumber: "1", RelevanceScore: 90},
		{Title: "m2", DOI: "10.1/m2", ChapterNumber: "2", RelevanceScore: 85},
		{Title: "i3", DOI: "10.1/i3", ChapterNumber: "1", RelevanceScore: 80},
		{Title: "x1", DOI: "10.1/x1", ChapterNumber: "1", RelevanceScore: 70},
	}

	t.Run("chapter minimums then budget fill", func(t *testing.T) {
		got := Select(ranked, outline, cfg)
		if len(got) != 5 {
			t.Fatalf("selected %d, want 5", len(got))
		}

		perChapter := map[string]int{}
		seen := map[string]bool{}
		for _, s := range got {
			perChapter[s.ChapterNumber]++
			if seen[s.Key()] {
				t.Errorf("duplicate source %s", s.Key())
			}
			seen[s.Key()] = true
			if s.ID == "" {
				t.Errorf("source %s missing ID", s.Title)
			}
		}
		if perChapter["1"] < 2 || perChapter["2"] < 2 {
			t.Errorf("chapter balance = %v, want >= 2 each", perChapter)
		}
	})

	t.Run("mandatory sources always included", func(t *testing.T) {
		withMandatory := append([]bib.Source{
			{Title: "must", DOI: "10.1/must", ChapterNumber: "1", RelevanceScore: 10, Mandatory: true},
		}, ranked...)

		got := Select(withMandatory, outline, cfg)
		found := false
		for _, s := range got {
			if s.DOI == "10.1/must" {
				found = true
			}
		}
		if !found {
			t.Error("mandatory source was dropped")
		}
	})
}
