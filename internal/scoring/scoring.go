// Package scoring wraps the external text scoring services: the AI
// detectability scorer and the plagiarism checker. Both are optional
// runtime dependencies; callers must treat an error as "no score
// available" and never substitute a fabricated value.
package scoring

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/folioworks/folio/internal/bib"
	"github.com/folioworks/folio/internal/retryutil"
)

// Detector scores how human-like a text reads.
type Detector interface {
	// Detect returns a detectability result for the text. Higher
	// HumanScore means more human-like.
	Detect(ctx context.Context, text string) (*bib.DetectionResult, error)
}

// PlagiarismChecker scores the originality of a text.
type PlagiarismChecker interface {
	// Check returns an originality result for the text. Higher
	// OriginalityScore means more original.
	Check(ctx context.Context, text string) (*bib.PlagiarismResult, error)
}

// postJSON posts a JSON payload with bounded retry. The payload is a
// byte slice so each attempt sends a fresh body. Transport failures,
// rate limiting and server-side errors are retried; other statuses are
// final.
func postJSON(ctx context.Context, op string, client *http.Client, url string, payload []byte, headers map[string]string, opts retryutil.Options) (int, []byte, error) {
	var status int
	body, err := retryutil.DoValue(ctx, op, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
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
