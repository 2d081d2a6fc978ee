// Package search adapts the bibliographic search providers (OpenAlex,
// Semantic Scholar) and the open access resolver behind narrow
// interfaces. All results are normalized into bib.Source at this
// boundary: authors are always an ordered string slice, DOIs are bare
// identifiers without the resolver prefix.
package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/folioworks/folio/internal/bib"
	"github.com/folioworks/folio/internal/retryutil"
)

// Provider is one bibliographic search API.
type Provider interface {
	// Search runs a free-text query and returns normalized sources.
	Search(ctx context.Context, query string, limit int) ([]bib.Source, error)

	// Name returns the provider identifier (e.g., "openalex").
	Name() string
}

// OpenAccessResolver looks up a free full-text location for a DOI.
type OpenAccessResolver interface {
	// ResolvePDF returns a direct PDF URL for the DOI, or "" when no
	// open access copy is known.
	ResolvePDF(ctx context.Context, doi string) (string, error)
}

// getJSON fetches a URL with bounded retry. Transport failures, rate
// limiting and server-side errors are retried; any other status is
// returned to the caller as final.
func getJSON(ctx context.Context, op string, client *http.Client, url string, headers map[string]string, opts retryutil.Options) (int, []byte, error) {
	var status int
	body, err := retryutil.DoValue(ctx, op, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("status %d: %s", resp.StatusCode, b)
		}
		status = resp.StatusCode
		return b, nil
	}, opts)
	if err != nil {
		return 0, nil, err
	}
	return status, body, nil
}

// normalizeDOI strips resolver URL prefixes so DOIs compare equal
// across providers.
func normalizeDOI(doi string) string {
	doi = strings.TrimSpace(doi)
	doi = strings.TrimPrefix(doi, "https://doi.org/")
	doi = strings.TrimPrefix(doi, "http://doi.org/")
	doi = strings.TrimPrefix(doi, "doi:")
	return doi
}
