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

// DetectorConfig holds configuration for the HTTP detector client.
type DetectorConfig struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Retry      retryutil.Options
}

// HTTPDetector calls a ZeroGPT-compatible detection endpoint.
type HTTPDetector struct {
	baseURL string
	apiKey  string
	client  *http.Client
	retry   retryutil.Options
}

// NewHTTPDetector creates a new detector client.
func NewHTTPDetector(cfg DetectorConfig) *HTTPDetector {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPDetector{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  client,
		retry:   cfg.Retry,
	}
}

type detectRequest struct {
	InputText string `json:"input_text"`
}

type detectResponse struct {
	Success bool `json:"success"`
	Data    struct {
		FakePercentage float64 `json:"fakePercentage"`
		Sentences      []string `json:"h"` // flagged (AI-like) sentences
	} `json:"data"`
	Message string `json:"message"`
}

// Detect scores the text. The service reports an AI percentage; the
// human score is its complement.
func (d *HTTPDetector) Detect(ctx context.Context, text string) (*bib.DetectionResult, error) {
	if d.baseURL == "" {
		return nil, fmt.Errorf("detector not configured")
	}
	if text == "" {
		return nil, fmt.Errorf("empty text")
	}

	payload, err := json.Marshal(detectRequest{InputText: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var headers map[string]string
	if d.apiKey != "" {
		headers = map[string]string{"ApiKey": d.apiKey}
	}
	status, body, err := postJSON(ctx, "detect text", d.client, d.baseURL, payload, headers, d.retry)
	if err != nil {
		return nil, fmt.Errorf("detector request failed: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("detector error (status %d): %s", status, string(body))
	}

	var dr detectResponse
	if err := json.Unmarshal(body, &dr); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if !dr.Success {
		return nil, fmt.Errorf("detector rejected request: %s", dr.Message)
	}

	return &bib.DetectionResult{
		HumanScore:       100 - dr.Data.FakePercentage,
		FlaggedSentences: dr.Data.Sentences,
		CheckedAt:        time.Now().UTC(),
	}, nil
}

var _ Detector = (*HTTPDetector)(nil)
