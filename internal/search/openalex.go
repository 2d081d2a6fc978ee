package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/folioworks/folio/internal/bib"
	"github.com/folioworks/folio/internal/retryutil"
)

const OpenAlexName = "openalex"

// OpenAlexConfig holds configuration for the OpenAlex client.
type OpenAlexConfig struct {
	BaseURL    string // optional (tests)
	Mailto     string // polite pool identifier
	HTTPClient *http.Client
	Retry      retryutil.Options
}

// OpenAlexClient queries the OpenAlex works API.
type OpenAlexClient struct {
	baseURL string
	mailto  string
	client  *http.Client
	retry   retryutil.Options
}

// NewOpenAlexClient creates a new OpenAlex client.
func NewOpenAlexClient(cfg OpenAlexConfig) *OpenAlexClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openalex.org"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &OpenAlexClient{
		baseURL: cfg.BaseURL,
		mailto:  cfg.Mailto,
		client:  client,
		retry:   cfg.Retry,
	}
}

// Name returns the provider identifier.
func (c *OpenAlexClient) Name() string { return OpenAlexName }

type openAlexWork struct {
	Title           string `json:"title"`
	DisplayName     string `json:"display_name"`
	PublicationYear int    `json:"publication_year"`
	DOI             string `json:"doi"`
	CitedByCount    int    `json:"cited_by_count"`
	Authorships     []struct {
		Author struct {
			DisplayName string `json:"display_name"`
		} `json:"author"`
	} `json:"authorships"`
	PrimaryLocation struct {
		LandingPageURL string `json:"landing_page_url"`
		PDFURL         string `json:"pdf_url"`
		Source         struct {
			DisplayName string `json:"display_name"`
		} `json:"source"`
	} `json:"primary_location"`
	OpenAccess struct {
		OAURL string `json:"oa_url"`
	} `json:"open_access"`
	AbstractInvertedIndex map[string][]int `json:"abstract_inverted_index"`
}

type openAlexResponse struct {
	Results []openAlexWork `json:"results"`
}

// Search runs a works search.
func (c *OpenAlexClient) Search(ctx context.Context, query string, limit int) ([]bib.Source, error) {
	if limit <= 0 {
		limit = 10
	}

	params := url.Values{}
	params.Set("search", query)
	params.Set("per-page", fmt.Sprintf("%d", limit))
	if c.mailto != "" {
		params.Set("mailto", c.mailto)
	}

	reqURL := fmt.Sprintf("%s/works?%s", c.baseURL, params.Encode())
	status, body, err := getJSON(ctx, "openalex search", c.client, reqURL, nil, c.retry)
	if err != nil {
		return nil, fmt.Errorf("openalex request failed: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("openalex error (status %d): %s", status, string(body))
	}

	var oa openAlexResponse
	if err := json.Unmarshal(body, &oa); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	sources := make([]bib.Source, 0, len(oa.Results))
	for _, w := range oa.Results {
		sources = append(sources, c.normalize(w))
	}
	return sources, nil
}

func (c *OpenAlexClient) normalize(w openAlexWork) bib.Source {
	title := w.Title
	if title == "" {
		title = w.DisplayName
	}

	authors := make([]string, 0, len(w.Authorships))
	for _, a := range w.Authorships {
		if a.Author.DisplayName != "" {
			authors = append(authors, a.Author.DisplayName)
		}
	}

	pdfURL := w.PrimaryLocation.PDFURL
	if pdfURL == "" {
		pdfURL = w.OpenAccess.OAURL
	}

	return bib.Source{
		Title:         title,
		Authors:       authors,
		Year:          w.PublicationYear,
		DOI:           normalizeDOI(w.DOI),
		URL:           w.PrimaryLocation.LandingPageURL,
		PDFURL:        pdfURL,
		Abstract:      reconstructAbstract(w.AbstractInvertedIndex),
		Venue:         w.PrimaryLocation.Source.DisplayName,
		CitationCount: w.CitedByCount,
		Provider:      OpenAlexName,
	}
}

// reconstructAbstract rebuilds plain text from OpenAlex's inverted
// index representation (word -> positions).
func reconstructAbstract(index map[string][]int) string {
	if len(index) == 0 {
		return ""
	}

	type posWord struct {
		pos  int
		word string
	}
	var words []posWord
	for word, positions := range index {
		for _, p := range positions {
			words = append(words, posWord{pos: p, word: word})
		}
	}
	sort.Slice(words, func(i, j int) bool { return words[i].pos < words[j].pos })

	parts := make([]string, len(words))
	for i, pw := range words {
		parts[i] = pw.word
	}
	return joinWords(parts)
}

func joinWords(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += " "
		}
		out += p
	}
	return out
}

var _ Provider = (*OpenAlexClient)(nil)
