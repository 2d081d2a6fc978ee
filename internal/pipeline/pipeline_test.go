package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/folioworks/folio/internal/bib"
	"github.com/folioworks/folio/internal/config"
	"github.com/folioworks/folio/internal/filestore"
	"github.com/folioworks/folio/internal/providers"
	"github.com/folioworks/folio/internal/queue"
	"github.com/folioworks/folio/internal/scoring"
	"github.com/folioworks/folio/internal/search"
	"github.com/folioworks/folio/internal/store"
)

type fakeProvider struct {
	pdfURL string
	calls  atomic.Int64
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Search(ctx context.Context, query string, limit int) ([]bib.Source, error) {
	f.calls.Add(1)
	return []bib.Source{
		{Title: "Deep Learning Foundations", Authors: []string{"Anna Smith"}, Year: 2020, DOI: "10.1/a", PDFURL: f.pdfURL, CitationCount: 90},
		{Title: "Supply Chain Optimization", Authors: []string{"Bob Lee"}, Year: 2021, DOI: "10.1/b", PDFURL: f.pdfURL, CitationCount: 40},
		{Title: "Applied Forecasting Methods", Authors: []string{"Cara Diaz"}, Year: 2019, DOI: "10.1/c", PDFURL: f.pdfURL, CitationCount: 20},
	}, nil
}

func prose(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("word%d", i)
	}
	return strings.Join(words, " ")
}

// scriptedModel answers every pipeline role by recognizing the prompt.
func scriptedModel() *providers.MockClient {
	mc := providers.NewMockClient()
	mc.ResponseFunc = func(req *providers.GenerateRequest) (string, error) {
		p := req.Prompt
		switch {
		case strings.Contains(p, "literature search queries"):
			return `{"queries": ["machine learning logistics", "supply chain forecasting", "neural network planning", "demand prediction models"]}`, nil
		case strings.Contains(p, "Score each source"):
			return `{"scores": [{"index": 0, "score": 85}, {"index": 1, "score": 80}, {"index": 2, "score": 75}]}`, nil
		case strings.Contains(p, "Plan the word distribution"):
			return `{"chapters": [
				{"chapter_number": "1", "min_words": 90, "max_words": 110, "focus": "framing"},
				{"chapter_number": "2", "min_words": 90, "max_words": 110, "focus": "analysis"}
			]}`, nil
		case strings.Contains(p, "Audit this thesis draft"):
			return `{"findings": {
				"structure": "ok", "research_question_coverage": "ok",
				"source_fidelity": "ok", "page_numbers": "ok", "language_hygiene": "ok"
			}, "defects": []}`, nil
		case strings.Contains(p, "Summarize chapter"):
			return "The chapter introduces the topic and its open problems.", nil
		case strings.Contains(p, "writing chapter 1 ("):
			return "## 1 Introduction\n\nA claim (Smith, 2020). " + prose(100), nil
		case strings.Contains(p, "writing chapter 2 ("):
			return "## 2 Analysis\n\nAnother claim (Lee, 2021). " + prose(100), nil
		default:
			return "", fmt.Errorf("unscripted prompt: %.80s", p)
		}
	}
	return mc
}

func testRegistry(mc *providers.MockClient) *providers.Registry {
	reg := providers.NewRegistry()
	reg.Register(providers.MockClientName, mc)
	for _, role := range []string{"queries", "rank", "generate", "critique", "pages", "rewrite"} {
		reg.SetRole(role, providers.MockClientName)
	}
	return reg
}

func testPipelineConfig() config.PipelineConfig {
	cfg := config.DefaultPipeline()
	cfg.TargetSourceCount = 3
	cfg.MinSourcesPerChapter = 1
	cfg.RequiredUploads = 1
	cfg.MinDocumentBytes = 10
	cfg.VerifyCitationPages = false
	cfg.MaxConcurrentJobs = 1
	return cfg
}

func testSpec() bib.ThesisSpec {
	return bib.ThesisSpec{
		Title:            "Machine Learning in Logistics",
		Field:            "Operations Research",
		ThesisType:       "Bachelorarbeit",
		ResearchQuestion: "How can ML improve demand forecasting?",
		CitationStyle:    bib.StyleAPA,
		TargetLength:     200,
		LengthUnit:       bib.LengthUnitWords,
		Language:         "en",
		Outline: []bib.OutlineChapter{
			{Number: "1", Title: "Introduction"},
			{Number: "2", Title: "Analysis"},
			{Number: "3", Title: "Bibliography"},
		},
	}
}

func newTestRunner(t *testing.T, st *store.Store, pdfURL string) (*Runner, *filestore.MockStore) {
	t.Helper()
	files := filestore.NewMockStore()
	runner := NewRunner(Deps{
		Store:     st,
		Files:     files,
		Registry:  testRegistry(scriptedModel()),
		Providers: []search.Provider{&fakeProvider{pdfURL: pdfURL}},
		Detector:  &scoring.MockDetector{Scores: []float64{95}},
		Checker:   &scoring.MockPlagiarismChecker{Scores: []float64{96}},
		Admission: queue.NewAdmissionController(1),
		Cfg:       testPipelineConfig(),
	})
	return runner, files
}

func TestRunnerExecute(t *testing.T) {
	pdfServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("%PDF-1.4 " + prose(200)))
	}))
	defer pdfServer.Close()

	ctx := context.Background()
	st, err := store.OpenSQLite(":memory:", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	runner, files := newTestRunner(t, st, pdfServer.URL)

	job, err := st.CreateJob(ctx, testSpec())
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if err := st.TransitionJob(ctx, job.ID, store.StatusDraft, store.StatusQueued); err != nil {
		t.Fatalf("queue job: %v", err)
	}

	if err := runner.Execute(ctx, job.ID); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}

	got, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}

	t.Run("job completes with document and scores", func(t *testing.T) {
		if got.Status != store.StatusCompleted {
			t.Fatalf("status = %q (stage %q, error %q)", got.Status, got.Stage, got.Error)
		}
		if !strings.HasPrefix(got.Document, "# Machine Learning in Logistics") {
			t.Errorf("document does not start with the title")
		}
		if got.WordCount == 0 {
			t.Error("word count is zero")
		}
		if got.DetectabilityScore == nil || *got.DetectabilityScore != 95 {
			t.Errorf("detectability = %v, want 95", got.DetectabilityScore)
		}
		if got.OriginalityScore == nil || *got.OriginalityScore != 96 {
			t.Errorf("originality = %v, want 96", got.OriginalityScore)
		}
	})

	t.Run("bibliography holds only cited sources", func(t *testing.T) {
		if !strings.Contains(got.Document, "Deep Learning Foundations") {
			t.Error("cited source missing from bibliography")
		}
		if strings.Contains(got.Document, "Applied Forecasting Methods") {
			t.Error("bibliography contains an uncited source")
		}
	})

	t.Run("sources persisted and ingested", func(t *testing.T) {
		sources, err := st.GetSources(ctx, job.ID)
		if err != nil {
			t.Fatalf("get sources: %v", err)
		}
		if len(sources) != 3 {
			t.Fatalf("sources = %d, want 3", len(sources))
		}
		ingested := 0
		for _, s := range sources {
			if s.Ingested {
				ingested++
			}
		}
		if ingested != 3 {
			t.Errorf("ingested = %d, want 3", ingested)
		}
	})

	t.Run("documents uploaded to the job store", func(t *testing.T) {
		if n := len(files.Uploads(got.FileStoreID)); n != 3 {
			t.Errorf("uploads = %d, want 3", n)
		}
	})

	t.Run("score history recorded", func(t *testing.T) {
		det, err := st.GetScores(ctx, job.ID, "detectability")
		if err != nil || len(det) != 1 || det[0].Score != 95 {
			t.Errorf("detectability history = %v (err %v)", det, err)
		}
		orig, err := st.GetScores(ctx, job.ID, "originality")
		if err != nil || len(orig) != 1 || orig[0].Score != 96 {
			t.Errorf("originality history = %v (err %v)", orig, err)
		}
	})

	t.Run("critique history persisted", func(t *testing.T) {
		reports, err := st.GetCritiques(ctx, job.ID)
		if err != nil || len(reports) != 1 {
			t.Fatalf("critiques = %d (err %v), want 1", len(reports), err)
		}
		if !reports[0].Clean() {
			t.Error("critique should be clean")
		}
	})
}

func TestRunnerResumesIngestedJob(t *testing.T) {
	var downloads atomic.Int64
	pdfServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		downloads.Add(1)
		w.Write([]byte("%PDF-1.4 " + prose(200)))
	}))
	defer pdfServer.Close()

	ctx := context.Background()
	st, err := store.OpenSQLite(":memory:", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	provider := &fakeProvider{pdfURL: pdfServer.URL}
	files := filestore.NewMockStore()
	mc := scriptedModel()
	runner := NewRunner(Deps{
		Store:     st,
		Files:     files,
		Registry:  testRegistry(mc),
		Providers: []search.Provider{provider},
		Detector:  &scoring.MockDetector{Scores: []float64{95}},
		Checker:   &scoring.MockPlagiarismChecker{Scores: []float64{96}},
		Admission: queue.NewAdmissionController(1),
		Cfg:       testPipelineConfig(),
	})

	// The job already went through research and ingestion before its
	// worker died: sources are persisted and marked, the store exists.
	job, err := st.CreateJob(ctx, testSpec())
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	persisted := []bib.Source{
		{ID: "s1", Title: "Deep Learning Foundations", Authors: []string{"Anna Smith"}, Year: 2020, DOI: "10.1/a", PDFURL: pdfServer.URL, Ingested: true},
		{ID: "s2", Title: "Supply Chain Optimization", Authors: []string{"Bob Lee"}, Year: 2021, DOI: "10.1/b", PDFURL: pdfServer.URL, Ingested: true},
		{ID: "s3", Title: "Applied Forecasting Methods", Authors: []string{"Cara Diaz"}, Year: 2019, DOI: "10.1/c", PDFURL: pdfServer.URL, Ingested: true},
	}
	if err := st.ReplaceSources(ctx, job.ID, persisted); err != nil {
		t.Fatalf("persist sources: %v", err)
	}
	if err := st.SetFileStore(ctx, job.ID, "fileSearchStores/pre"); err != nil {
		t.Fatalf("persist store id: %v", err)
	}
	if err := st.TransitionJob(ctx, job.ID, store.StatusDraft, store.StatusQueued); err != nil {
		t.Fatalf("queue job: %v", err)
	}

	if err := runner.Execute(ctx, job.ID); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}

	if n := provider.calls.Load(); n != 0 {
		t.Errorf("search provider queried %d times, want 0", n)
	}
	if n := downloads.Load(); n != 0 {
		t.Errorf("already-ingested documents downloaded %d times, want 0", n)
	}
	if n := len(files.Uploads("fileSearchStores/pre")); n != 0 {
		t.Errorf("re-uploaded %d documents, want 0", n)
	}

	got, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != store.StatusCompleted {
		t.Fatalf("status = %q (stage %q, error %q)", got.Status, got.Stage, got.Error)
	}
	if got.FileStoreID != "fileSearchStores/pre" {
		t.Errorf("FileStoreID = %q, want the recorded store", got.FileStoreID)
	}

	for _, req := range mc.Requests() {
		if strings.Contains(req.Prompt, "writing chapter") && req.FileSearchStoreID != "fileSearchStores/pre" {
			t.Errorf("chapter generation grounded in %q, want the recorded store", req.FileSearchStoreID)
		}
	}
}

func TestRunnerExecuteRequiresQueuedStatus(t *testing.T) {
	ctx := context.Background()
	st, err := store.OpenSQLite(":memory:", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	runner, _ := newTestRunner(t, st, "http://unused")

	job, err := st.CreateJob(ctx, testSpec())
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	// Still a draft: must be rejected, not executed.
	if err := runner.Execute(ctx, job.ID); err == nil {
		t.Fatal("Execute() on a draft job succeeded, want error")
	}
	got, _ := st.GetJob(ctx, job.ID)
	if got.Status != store.StatusDraft {
		t.Errorf("status = %q, want draft", got.Status)
	}
}

type fakeResolver struct {
	calls int
}

func (f *fakeResolver) ResolvePDF(ctx context.Context, doi string) (string, error) {
	f.calls++
	return "https://example.org/" + doi + ".pdf", nil
}

func TestResolveDocumentsRateLimited(t *testing.T) {
	resolver := &fakeResolver{}
	cfg := testPipelineConfig()
	cfg.OpenAccessRateLimit = 600 // fast enough for the test
	runner := NewRunner(Deps{Resolver: resolver, Cfg: cfg})

	sources := []bib.Source{
		{Title: "A", DOI: "10.1/a"},
		{Title: "B", DOI: "10.1/b"},
		{Title: "C", DOI: "10.1/c", PDFURL: "https://known/c.pdf"}, // no lookup needed
		{Title: "D"}, // no DOI
	}
	runner.resolveDocuments(context.Background(), sources, slog.Default())

	if resolver.calls != 2 {
		t.Errorf("lookups = %d, want 2", resolver.calls)
	}
	if got := runner.resolveLimit.TotalConsumed(); got != 2 {
		t.Errorf("rate limiter tokens consumed = %d, want one per lookup", got)
	}
	if sources[0].PDFURL == "" || sources[1].PDFURL == "" {
		t.Error("resolved documents not recorded")
	}
	if sources[2].PDFURL != "https://known/c.pdf" {
		t.Error("known document overwritten")
	}
}

func TestRunnerMarksJobFailed(t *testing.T) {
	ctx := context.Background()
	st, err := store.OpenSQLite(":memory:", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	// No reachable document server: ingestion cannot meet the upload
	// minimum and the job must land in failed.
	runner, _ := newTestRunner(t, st, "http://127.0.0.1:1/missing.pdf")

	job, _ := st.CreateJob(ctx, testSpec())
	_ = st.TransitionJob(ctx, job.ID, store.StatusDraft, store.StatusQueued)

	if err := runner.Execute(ctx, job.ID); err == nil {
		t.Fatal("Execute() succeeded, want error")
	}
	got, _ := st.GetJob(ctx, job.ID)
	if got.Status != store.StatusFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
	if got.Error == "" {
		t.Error("failure reason not recorded")
	}
}
