package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/folioworks/folio/internal/retryutil"
)

// fastRetry keeps retried subtests quick.
var fastRetry = retryutil.Options{BaseDelay: time.Millisecond}

func TestOpenAlexSearch(t *testing.T) {
	t.Run("normalizes results", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got := r.URL.Query().Get("search"); got != "transformer models" {
				t.Errorf("search param = %q", got)
			}
			if got := r.URL.Query().Get("mailto"); got != "dev@example.com" {
				t.Errorf("mailto param = %q", got)
			}
			w.Write([]byte(`{
				"results": [{
					"title": "Attention Is All You Need",
					"publication_year": 2017,
					"doi": "https://doi.org/10.5555/3295222",
					"cited_by_count": 90000,
					"authorships": [
						{"author": {"display_name": "Ashish Vaswani"}},
						{"author": {"display_name": "Noam Shazeer"}}
					],
					"primary_location": {
						"landing_page_url": "https://example.org/paper",
						"pdf_url": "https://example.org/paper.pdf",
						"source": {"display_name": "NeurIPS"}
					},
					"abstract_inverted_index": {"dominant": [2], "The": [0], "sequence": [1]}
				}]
			}`))
		}))
		defer srv.Close()

		client := NewOpenAlexClient(OpenAlexConfig{BaseURL: srv.URL, Mailto: "dev@example.com"})
		sources, err := client.Search(context.Background(), "transformer models", 5)
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if len(sources) != 1 {
			t.Fatalf("got %d sources, want 1", len(sources))
		}

		s := sources[0]
		if s.Title != "Attention Is All You Need" {
			t.Errorf("Title = %q", s.Title)
		}
		if s.DOI != "10.5555/3295222" {
			t.Errorf("DOI = %q, want bare identifier", s.DOI)
		}
		if len(s.Authors) != 2 || s.Authors[0] != "Ashish Vaswani" {
			t.Errorf("Authors = %v", s.Authors)
		}
		if s.PDFURL != "https://example.org/paper.pdf" {
			t.Errorf("PDFURL = %q", s.PDFURL)
		}
		if s.Abstract != "The sequence dominant" {
			t.Errorf("Abstract = %q", s.Abstract)
		}
		if s.Provider != OpenAlexName {
			t.Errorf("Provider = %q", s.Provider)
		}
	})

	t.Run("falls back to open access url", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{
				"results": [{
					"title": "A Paper",
					"open_access": {"oa_url": "https://repo.example.org/a.pdf"}
				}]
			}`))
		}))
		defer srv.Close()

		client := NewOpenAlexClient(OpenAlexConfig{BaseURL: srv.URL})
		sources, err := client.Search(context.Background(), "q", 1)
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if sources[0].PDFURL != "https://repo.example.org/a.pdf" {
			t.Errorf("PDFURL = %q", sources[0].PDFURL)
		}
	})

	t.Run("server error surfaces", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer srv.Close()

		client := NewOpenAlexClient(OpenAlexConfig{BaseURL: srv.URL, Retry: fastRetry})
		if _, err := client.Search(context.Background(), "q", 1); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("transient outage retried", func(t *testing.T) {
		var calls atomic.Int64
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte(`{"results": [{"title": "Recovered"}]}`))
		}))
		defer srv.Close()

		client := NewOpenAlexClient(OpenAlexConfig{BaseURL: srv.URL, Retry: fastRetry})
		sources, err := client.Search(context.Background(), "q", 1)
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if len(sources) != 1 || sources[0].Title != "Recovered" {
			t.Errorf("sources = %v", sources)
		}
		if calls.Load() != 3 {
			t.Errorf("calls = %d, want 3", calls.Load())
		}
	})
}

func TestSemanticScholarSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "sk-test" {
			t.Errorf("api key header = %q", got)
		}
		if got := r.URL.Query().Get("query"); got != "graph neural networks" {
			t.Errorf("query param = %q", got)
		}
		w.Write([]byte(`{
			"data": [{
				"paperId": "abc123",
				"title": "Graph Networks",
				"abstract": "We study graphs.",
				"year": 2020,
				"venue": "ICML",
				"citationCount": 42,
				"url": "https://example.org/gn",
				"authors": [{"name": "Jane Doe"}],
				"externalIds": {"DOI": "10.1234/gn"},
				"openAccessPdf": {"url": "https://example.org/gn.pdf"}
			}]
		}`))
	}))
	defer srv.Close()

	client := NewSemanticScholarClient(SemanticScholarConfig{BaseURL: srv.URL, APIKey: "sk-test"})
	sources, err := client.Search(context.Background(), "graph neural networks", 3)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(sources) != 1 {
		t.Fatalf("got %d sources, want 1", len(sources))
	}

	s := sources[0]
	if s.Title != "Graph Networks" || s.Year != 2020 || s.DOI != "10.1234/gn" {
		t.Errorf("unexpected source: %+v", s)
	}
	if s.PDFURL != "https://example.org/gn.pdf" {
		t.Errorf("PDFURL = %q", s.PDFURL)
	}
	if s.Provider != SemanticScholarName {
		t.Errorf("Provider = %q", s.Provider)
	}
}

func TestUnpaywallResolvePDF(t *testing.T) {
	t.Run("best location wins", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{
				"best_oa_location": {"url_for_pdf": "https://oa.example.org/best.pdf"},
				"oa_locations": [{"url_for_pdf": "https://oa.example.org/other.pdf"}]
			}`))
		}))
		defer srv.Close()

		client := NewUnpaywallClient(UnpaywallConfig{BaseURL: srv.URL, Email: "dev@example.com"})
		got, err := client.ResolvePDF(context.Background(), "https://doi.org/10.1/x")
		if err != nil {
			t.Fatalf("ResolvePDF() error = %v", err)
		}
		if got != "https://oa.example.org/best.pdf" {
			t.Errorf("url = %q", got)
		}
	})

	t.Run("falls back to other locations", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{
				"best_oa_location": {"url_for_pdf": ""},
				"oa_locations": [{"url_for_pdf": ""}, {"url_for_pdf": "https://oa.example.org/second.pdf"}]
			}`))
		}))
		defer srv.Close()

		client := NewUnpaywallClient(UnpaywallConfig{BaseURL: srv.URL})
		got, err := client.ResolvePDF(context.Background(), "10.1/x")
		if err != nil {
			t.Fatalf("ResolvePDF() error = %v", err)
		}
		if got != "https://oa.example.org/second.pdf" {
			t.Errorf("url = %q", got)
		}
	})

	t.Run("unknown DOI returns empty without error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		client := NewUnpaywallClient(UnpaywallConfig{BaseURL: srv.URL})
		got, err := client.ResolvePDF(context.Background(), "10.9999/missing")
		if err != nil {
			t.Fatalf("ResolvePDF() error = %v", err)
		}
		if got != "" {
			t.Errorf("url = %q, want empty", got)
		}
	})

	t.Run("empty DOI rejected", func(t *testing.T) {
		client := NewUnpaywallClient(UnpaywallConfig{})
		if _, err := client.ResolvePDF(context.Background(), ""); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestNormalizeDOI(t *testing.T) {
	cases := []struct{ in, want string }{
		{"https://doi.org/10.1/x", "10.1/x"},
		{"http://doi.org/10.1/x", "10.1/x"},
		{"doi:10.1/x", "10.1/x"},
		{" 10.1/x ", "10.1/x"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := normalizeDOI(tc.in); got != tc.want {
			t.Errorf("normalizeDOI(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
