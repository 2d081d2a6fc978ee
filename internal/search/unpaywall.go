package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/folioworks/folio/internal/retryutil"
)

// UnpaywallConfig holds configuration for the Unpaywall resolver.
// Email is required by the API's terms.
type UnpaywallConfig struct {
	BaseURL    string
	Email      string
	HTTPClient *http.Client
	Retry      retryutil.Options
}

// UnpaywallClient resolves DOIs to open access PDF locations.
type UnpaywallClient struct {
	baseURL string
	email   string
	client  *http.Client
	retry   retryutil.Options
}

// NewUnpaywallClient creates a new Unpaywall client.
func NewUnpaywallClient(cfg UnpaywallConfig) *UnpaywallClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.unpaywall.org/v2"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &UnpaywallClient{
		baseURL: cfg.BaseURL,
		email:   cfg.Email,
		client:  client,
		retry:   cfg.Retry,
	}
}

type unpaywallResponse struct {
	BestOALocation struct {
		URLForPDF string `json:"url_for_pdf"`
	} `json:"best_oa_location"`
	OALocations []struct {
		URLForPDF string `json:"url_for_pdf"`
	} `json:"oa_locations"`
}

// ResolvePDF looks up the best open access PDF URL for a DOI. Returns
// "" without error when the DOI is unknown or has no open copy.
func (c *UnpaywallClient) ResolvePDF(ctx context.Context, doi string) (string, error) {
	doi = normalizeDOI(doi)
	if doi == "" {
		return "", fmt.Errorf("empty DOI")
	}

	reqURL := fmt.Sprintf("%s/%s?email=%s", c.baseURL, url.PathEscape(doi), url.QueryEscape(c.email))
	status, body, err := getJSON(ctx, "unpaywall lookup", c.client, reqURL, nil, c.retry)
	if err != nil {
		return "", fmt.Errorf("unpaywall request failed: %w", err)
	}
	if status == http.StatusNotFound {
		return "", nil
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("unpaywall error (status %d): %s", status, string(body))
	}

	var up unpaywallResponse
	if err := json.Unmarshal(body, &up); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if up.BestOALocation.URLForPDF != "" {
		return up.BestOALocation.URLForPDF, nil
	}
	for _, loc := range up.OALocations {
		if loc.URLForPDF != "" {
			return loc.URLForPDF, nil
		}
	}
	return "", nil
}

var _ OpenAccessResolver = (*UnpaywallClient)(nil)
