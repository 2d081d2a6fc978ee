package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/folioworks/folio/internal/bib"
	"github.com/folioworks/folio/internal/retryutil"
)

// PlagiarismConfig holds configuration for the HTTP plagiarism client.
type PlagiarismConfig struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Retry      retryutil.Options
}

// HTTPPlagiarismChecker calls an originality-scoring endpoint.
type HTTPPlagiarismChecker struct {
	baseURL string
	apiKey  string
	client  *http.Client
	retry   retryutil.Options
}

// NewHTTPPlagiarismChecker creates a new plagiarism client.
func NewHTTPPlagiarismChecker(cfg PlagiarismConfig) *HTTPPlagiarismChecker {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	return &HTTPPlagiarismChecker{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  client,
		retry:   cfg.Retry,
	}
}

type plagiarismRequest struct {
	Text string `json:"text"`
}

type plagiarismResponse struct {
	PlagiarismPercentage float64 `json:"plagiarism_percentage"`
	Matches              []struct {
		Text string `json:"text"`
	} `json:"matches"`
}

// Check scores the text. The service reports a plagiarism percentage;
// the originality score is its complement.
func (p *HTTPPlagiarismChecker) Check(ctx context.Context, text string) (*bib.PlagiarismResult, error) {
	if p.baseURL == "" {
		return nil, fmt.Errorf("plagiarism checker not configured")
	}
	if text == "" {
		return nil, fmt.Errorf("empty text")
	}

	payload, err := json.Marshal(plagiarismRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var headers map[string]string
	if p.apiKey != "" {
		headers = map[string]string{"Authorization": "Bearer " + p.apiKey}
	}
	status, body, err := postJSON(ctx, "plagiarism check", p.client, p.baseURL, payload, headers, p.retry)
	if err != nil {
		return nil, fmt.Errorf("plagiarism request failed: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("plagiarism error (status %d): %s", status, string(body))
	}

	var pr plagiarismResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	spans := make([]string, 0, len(pr.Matches))
	for _, m := range pr.Matches {
		if m.Text != "" {
			spans = append(spans, m.Text)
		}
	}

	return &bib.PlagiarismResult{
		OriginalityScore: 100 - pr.PlagiarismPercentage,
		FlaggedSpans:     spans,
		CheckedAt:        time.Now().UTC(),
	}, nil
}

var _ PlagiarismChecker = (*HTTPPlagiarismChecker)(nil)
