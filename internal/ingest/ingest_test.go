package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/folioworks/folio/internal/bib"
	"github.com/folioworks/folio/internal/config"
	"github.com/folioworks/folio/internal/filestore"
	"github.com/folioworks/folio/internal/providers"
)

func testConfig() config.PipelineConfig {
	cfg := config.DefaultPipeline()
	cfg.MinDocumentBytes = 8
	cfg.RequiredUploads = 0
	cfg.VerifyCitationPages = false
	return cfg
}

func testRegistry(response string) *providers.Registry {
	mock := providers.NewMockClient()
	mock.ResponseText = response
	reg := providers.NewRegistry()
	reg.Register("mock", mock)
	reg.SetRole("pages", "mock")
	return reg
}

func pdfServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "broken") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("%PDF-1.7 some fake pdf body content"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDownloaderValidate(t *testing.T) {
	d := NewDownloader(100, 8)

	cases := []struct {
		name string
		data []byte
		ok   bool
	}{
		{"pdf", []byte("%PDF-1.7 content here"), true},
		{"legacy office", append([]byte{0xD0, 0xCF, 0x11, 0xE0}, make([]byte, 20)...), true},
		{"zip container", []byte("PK\x03\x04 plus some payload"), true},
		{"html error page", []byte("<html><body>404</body></html>"), false},
		{"too small", []byte("%PDF-"), false},
		{"too large", append([]byte("%PDF-"), make([]byte, 200)...), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := d.Validate(tc.data)
			if tc.ok && err != nil {
				t.Errorf("Validate() error = %v", err)
			}
			if !tc.ok && err == nil {
				t.Error("expected rejection")
			}
		})
	}
}

func TestIngestorRun(t *testing.T) {
	srv := pdfServer(t)

	t.Run("uploads documents and marks ingested", func(t *testing.T) {
		files := filestore.NewMockStore()
		ing := NewIngestor(files, testRegistry(""), testConfig(), nil)

		selected := []bib.Source{
			{ID: "s1", Title: "With PDF", PDFURL: srv.URL + "/a.pdf"},
			{ID: "s2", Title: "Citation Only"}, // no document URL
		}
		res, out, err := ing.Run(context.Background(), "store-1", selected, nil)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if res.Uploaded != 1 {
			t.Errorf("Uploaded = %d, want 1", res.Uploaded)
		}
		if !out[0].Ingested {
			t.Error("s1 not marked ingested")
		}
		if out[1].Ingested {
			t.Error("citation-only source must never be uploaded")
		}
		if got := files.Uploads("store-1"); len(got) != 1 {
			t.Errorf("store uploads = %v", got)
		}
	})

	t.Run("failed source replaced same chapter first", func(t *testing.T) {
		files := filestore.NewMockStore()
		ing := NewIngestor(files, testRegistry(""), testConfig(), nil)

		selected := []bib.Source{
			{ID: "s1", Title: "Broken", ChapterNumber: "2", PDFURL: srv.URL + "/broken.pdf"},
		}
		reserve := []bib.Source{
			{ID: "r1", Title: "Other Chapter", ChapterNumber: "1", PDFURL: srv.URL + "/r1.pdf"},
			{ID: "r2", Title: "Same Chapter", ChapterNumber: "2", PDFURL: srv.URL + "/r2.pdf"},
		}

		res, out, err := ing.Run(context.Background(), "store-1", selected, reserve)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if res.Uploaded != 1 || len(res.Failed) != 1 {
			t.Errorf("result = %+v", res)
		}
		if out[len(out)-1].ID != "r2" {
			t.Errorf("replacement = %s, want same-chapter r2", out[len(out)-1].ID)
		}
	})

	t.Run("reserves drawn until a replacement sticks", func(t *testing.T) {
		files := filestore.NewMockStore()
		ing := NewIngestor(files, testRegistry(""), testConfig(), nil)

		selected := []bib.Source{
			{ID: "s1", Title: "Broken", ChapterNumber: "2", PDFURL: srv.URL + "/broken.pdf"},
		}
		// The preferred same-chapter reserve is broken too; the run must
		// keep drawing until the working one is found.
		reserve := []bib.Source{
			{ID: "r1", ChapterNumber: "2", PDFURL: srv.URL + "/broken-r1.pdf"},
			{ID: "r2", ChapterNumber: "2", PDFURL: srv.URL + "/broken-r2.pdf"},
			{ID: "r3", ChapterNumber: "1", PDFURL: srv.URL + "/r3.pdf"},
		}

		res, out, err := ing.Run(context.Background(), "store-1", selected, reserve)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if res.Uploaded != 1 {
			t.Errorf("Uploaded = %d, want 1", res.Uploaded)
		}
		if len(res.Failed) != 3 {
			t.Errorf("Failed = %v, want s1, r1 and r2", res.Failed)
		}
		if out[len(out)-1].ID != "r3" {
			t.Errorf("replacement = %s, want r3", out[len(out)-1].ID)
		}
	})

	t.Run("ingestion progress reported per source", func(t *testing.T) {
		files := filestore.NewMockStore()
		ing := NewIngestor(files, testRegistry(""), testConfig(), nil)
		var seen []string
		ing.OnIngested = func(_ context.Context, src bib.Source) {
			seen = append(seen, src.ID)
		}

		selected := []bib.Source{
			{ID: "s1", PDFURL: srv.URL + "/a.pdf"},
			{ID: "s2", PDFURL: srv.URL + "/b.pdf"},
			{ID: "s3", PDFURL: srv.URL + "/c.pdf", Ingested: true},
		}
		if _, _, err := ing.Run(context.Background(), "store-1", selected, nil); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if len(seen) != 2 || seen[0] != "s1" || seen[1] != "s2" {
			t.Errorf("reported = %v, want [s1 s2] (skips stay silent)", seen)
		}
	})

	t.Run("no source attempted twice", func(t *testing.T) {
		files := filestore.NewMockStore()
		ing := NewIngestor(files, testRegistry(""), testConfig(), nil)

		// Both selected entries fail; the single reserve source must be
		// used for only one of them.
		selected := []bib.Source{
			{ID: "s1", ChapterNumber: "1", PDFURL: srv.URL + "/broken1.pdf"},
			{ID: "s2", ChapterNumber: "1", PDFURL: srv.URL + "/broken2.pdf"},
		}
		reserve := []bib.Source{
			{ID: "r1", ChapterNumber: "1", PDFURL: srv.URL + "/r1.pdf"},
		}

		res, _, err := ing.Run(context.Background(), "store-1", selected, reserve)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if res.Uploaded != 1 {
			t.Errorf("Uploaded = %d, want 1 (reserve used once)", res.Uploaded)
		}
	})

	t.Run("rerun skips already ingested", func(t *testing.T) {
		files := filestore.NewMockStore()
		ing := NewIngestor(files, testRegistry(""), testConfig(), nil)

		selected := []bib.Source{
			{ID: "s1", Title: "Done", PDFURL: srv.URL + "/a.pdf", Ingested: true},
		}
		res, _, err := ing.Run(context.Background(), "store-1", selected, nil)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if res.Skipped != 1 || res.Uploaded != 0 {
			t.Errorf("result = %+v, want skip without re-upload", res)
		}
		if got := files.Uploads("store-1"); len(got) != 0 {
			t.Errorf("unexpected uploads %v", got)
		}
	})

	t.Run("required uploads enforced", func(t *testing.T) {
		files := filestore.NewMockStore()
		cfg := testConfig()
		cfg.RequiredUploads = 2
		ing := NewIngestor(files, testRegistry(""), cfg, nil)

		selected := []bib.Source{
			{ID: "s1", PDFURL: srv.URL + "/a.pdf"},
		}
		if _, _, err := ing.Run(context.Background(), "store-1", selected, nil); err == nil {
			t.Fatal("expected error below required upload count")
		}
	})
}

func TestExtractStrings(t *testing.T) {
	stream := []byte(`BT /F1 9 Tf (Journal of Testing) Tj (doi:10.1234/jt.55) Tj (117) Tj ET
q (paren \(escaped\)) Tj Q`)
	got := extractStrings(stream)
	want := `Journal of Testing doi:10.1234/jt.55 117 paren (escaped)`
	if got != want {
		t.Errorf("extractStrings = %q, want %q", got, want)
	}
}

func TestEdgeSample(t *testing.T) {
	long := strings.Repeat("a", 400) + strings.Repeat("z", 400)
	got := edgeSample(long)
	if !strings.HasPrefix(got, "aaa") || !strings.HasSuffix(got, "zzz") || !strings.Contains(got, "[...]") {
		t.Errorf("edgeSample did not keep both edges: %q", got[:20])
	}
	if edgeSample("short") != "short" {
		t.Error("short text must pass through unchanged")
	}
}

func TestInferPageRange(t *testing.T) {
	mock := providers.NewMockClient()
	mock.ResponseText = `{"page_start": 117, "page_end": 134}`
	reg := providers.NewRegistry()
	reg.Register("mock", mock)
	reg.SetRole("pages", "mock")

	src := &bib.Source{ID: "s1", Title: "On Testing", Venue: "Journal of Testing", Year: 2020}
	edges := []PageText{
		{Page: 2, Text: "Journal of Testing doi:10.1234/jt.55 117"},
		{Page: 3, Text: "Journal of Testing doi:10.1234/jt.55 118"},
	}
	start, end, err := InferPageRange(context.Background(), reg, src, 18, edges)
	if err != nil {
		t.Fatalf("InferPageRange() error = %v", err)
	}
	if start != 117 || end != 134 {
		t.Errorf("range = %d-%d, want 117-134", start, end)
	}

	reqs := mock.Requests()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(reqs))
	}
	prompt := reqs[0].Prompt
	for _, want := range []string{
		"Physical page 2: Journal of Testing doi:10.1234/jt.55 117",
		"Physical page 3: Journal of Testing doi:10.1234/jt.55 118",
		"increases by one",
		"identical on both pages is an identifier",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestPlausibleRange(t *testing.T) {
	cases := []struct {
		name             string
		start, end, phys int
		ok               bool
	}{
		{"normal article", 117, 134, 18, true},
		{"inverted", 30, 10, 20, false},
		{"zero start", 0, 10, 10, false},
		{"absurd end", 1, 50000, 20, false},
		{"span far exceeds physical", 1, 100, 10, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := plausibleRange(tc.start, tc.end, tc.phys); got != tc.ok {
				t.Errorf("plausibleRange(%d, %d, %d) = %v", tc.start, tc.end, tc.phys, got)
			}
		})
	}
}
