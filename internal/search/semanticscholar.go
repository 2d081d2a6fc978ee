package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/folioworks/folio/internal/bib"
	"github.com/folioworks/folio/internal/retryutil"
)

const SemanticScholarName = "semanticscholar"

// semanticScholarFields is the field list requested from the graph API.
const semanticScholarFields = "title,abstract,year,authors,externalIds,openAccessPdf,citationCount,venue,url"

// SemanticScholarConfig holds configuration for the Semantic Scholar
// client. An API key is optional; without one the shared public rate
// limit applies.
type SemanticScholarConfig struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Retry      retryutil.Options
}

// SemanticScholarClient queries the Semantic Scholar graph API.
type SemanticScholarClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	retry   retryutil.Options
}

// NewSemanticScholarClient creates a new Semantic Scholar client.
func NewSemanticScholarClient(cfg SemanticScholarConfig) *SemanticScholarClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.semanticscholar.org/graph/v1"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &SemanticScholarClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  client,
		retry:   cfg.Retry,
	}
}

// Name returns the provider identifier.
func (c *SemanticScholarClient) Name() string { return SemanticScholarName }

type semanticScholarPaper struct {
	PaperID       string `json:"paperId"`
	Title         string `json:"title"`
	Abstract      string `json:"abstract"`
	Year          int    `json:"year"`
	Venue         string `json:"venue"`
	CitationCount int    `json:"citationCount"`
	URL           string `json:"url"`
	Authors       []struct {
		Name string `json:"name"`
	} `json:"authors"`
	ExternalIDs struct {
		DOI string `json:"DOI"`
	} `json:"externalIds"`
	OpenAccessPdf struct {
		URL string `json:"url"`
	} `json:"openAccessPdf"`
}

type semanticScholarResponse struct {
	Data []semanticScholarPaper `json:"data"`
}

// Search runs a paper search.
func (c *SemanticScholarClient) Search(ctx context.Context, query string, limit int) ([]bib.Source, error) {
	if limit <= 0 {
		limit = 10
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("limit", fmt.Sprintf("%d", limit))
	params.Set("fields", semanticScholarFields)

	reqURL := fmt.Sprintf("%s/paper/search?%s", c.baseURL, params.Encode())
	var headers map[string]string
	if c.apiKey != "" {
		headers = map[string]string{"x-api-key": c.apiKey}
	}
	status, body, err := getJSON(ctx, "semantic scholar search", c.client, reqURL, headers, c.retry)
	if err != nil {
		return nil, fmt.Errorf("semantic scholar request failed: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("semantic scholar error (status %d): %s", status, string(body))
	}

	var ss semanticScholarResponse
	if err := json.Unmarshal(body, &ss); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	sources := make([]bib.Source, 0, len(ss.Data))
	for _, p := range ss.Data {
		sources = append(sources, c.normalize(p))
	}
	return sources, nil
}

func (c *SemanticScholarClient) normalize(p semanticScholarPaper) bib.Source {
	authors := make([]string, 0, len(p.Authors))
	for _, a := range p.Authors {
		if a.Name != "" {
			authors = append(authors, a.Name)
		}
	}

	return bib.Source{
		Title:         p.Title,
		Authors:       authors,
		Year:          p.Year,
		DOI:           normalizeDOI(p.ExternalIDs.DOI),
		URL:           p.URL,
		PDFURL:        p.OpenAccessPdf.URL,
		Abstract:      p.Abstract,
		Venue:         p.Venue,
		CitationCount: p.CitationCount,
		Provider:      SemanticScholarName,
	}
}

var _ Provider = (*SemanticScholarClient)(nil)
