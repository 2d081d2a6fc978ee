package filestore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/folioworks/folio/internal/retryutil"
)

// GeminiConfig holds configuration for the Gemini file search store
// client.
type GeminiConfig struct {
	APIKey     string
	BaseURL    string // optional (tests)
	HTTPClient *http.Client
	Logger     *slog.Logger
	Retry      retryutil.Options
}

// GeminiStore talks to the Gemini file search store API.
type GeminiStore struct {
	apiKey   string
	baseURL  string
	client   *http.Client
	logger   *slog.Logger
	retry    retryutil.Options
	pollBase time.Duration
}

// NewGeminiStore creates a new file search store client.
func NewGeminiStore(cfg GeminiConfig) *GeminiStore {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retry := cfg.Retry
	if retry.Logger == nil {
		retry.Logger = logger
	}
	return &GeminiStore{
		apiKey:   cfg.APIKey,
		baseURL:  cfg.BaseURL,
		client:   client,
		logger:   logger,
		retry:    retry,
		pollBase: 2 * time.Second,
	}
}

type createStoreRequest struct {
	DisplayName string `json:"displayName"`
}

type storeResource struct {
	Name string `json:"name"`
}

type operationResource struct {
	Name  string `json:"name"`
	Done  bool   `json:"done"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// CreateStore provisions a new file search store.
func (g *GeminiStore) CreateStore(ctx context.Context, displayName string) (string, error) {
	payload, err := json.Marshal(createStoreRequest{DisplayName: displayName})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	body, err := g.do(ctx, "POST", "/v1beta/fileSearchStores", "application/json", payload)
	if err != nil {
		return "", fmt.Errorf("failed to create store: %w", err)
	}

	var store storeResource
	if err := json.Unmarshal(body, &store); err != nil {
		return "", fmt.Errorf("failed to unmarshal store: %w", err)
	}
	if store.Name == "" {
		return "", fmt.Errorf("store response missing name")
	}

	g.logger.Info("created file search store", "store", store.Name, "display_name", displayName)
	return store.Name, nil
}

// Upload pushes one document into the store via the multipart upload
// endpoint. The returned operation name must be polled with
// WaitOperation before the document is searchable.
func (g *GeminiStore) Upload(ctx context.Context, storeID, filename string, data []byte, metadata map[string]string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("empty document")
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	meta := map[string]any{"file": map[string]any{"displayName": filename}}
	if len(metadata) > 0 {
		attrs := make([]map[string]any, 0, len(metadata))
		for k, v := range metadata {
			attrs = append(attrs, map[string]any{"key": k, "stringValue": v})
		}
		meta["customMetadata"] = attrs
	}
	metaPart, err := mw.CreateFormField("metadata")
	if err != nil {
		return "", fmt.Errorf("failed to create metadata part: %w", err)
	}
	if err := json.NewEncoder(metaPart).Encode(meta); err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}

	filePart, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := filePart.Write(data); err != nil {
		return "", fmt.Errorf("failed to write file part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	path := fmt.Sprintf("/upload/v1beta/%s:uploadToFileSearchStore", storeID)
	body, err := g.do(ctx, "POST", path, mw.FormDataContentType(), buf.Bytes())
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", filename, err)
	}

	var op operationResource
	if err := json.Unmarshal(body, &op); err != nil {
		return "", fmt.Errorf("failed to unmarshal operation: %w", err)
	}
	if op.Name == "" {
		return "", fmt.Errorf("upload response missing operation name")
	}

	g.logger.Debug("uploaded document", "store", storeID, "filename", filename, "operation", op.Name)
	return op.Name, nil
}

// WaitOperation polls an indexing operation until it reports done.
func (g *GeminiStore) WaitOperation(ctx context.Context, opName string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	delay := g.pollBase

	for {
		body, err := g.do(ctx, "GET", "/v1beta/"+opName, "", nil)
		if err != nil {
			return fmt.Errorf("failed to poll operation %s: %w", opName, err)
		}

		var op operationResource
		if err := json.Unmarshal(body, &op); err != nil {
			return fmt.Errorf("failed to unmarshal operation: %w", err)
		}
		if op.Done {
			if op.Error != nil {
				return fmt.Errorf("operation %s failed: %s (code %d)", opName, op.Error.Message, op.Error.Code)
			}
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("operation %s did not complete within %s", opName, timeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if delay < 30*time.Second {
			delay *= 2
		}
	}
}

// DeleteStore removes a store and everything in it.
func (g *GeminiStore) DeleteStore(ctx context.Context, storeID string) error {
	if _, err := g.do(ctx, "DELETE", "/v1beta/"+storeID+"?force=true", "", nil); err != nil {
		return fmt.Errorf("failed to delete store %s: %w", storeID, err)
	}
	return nil
}

// do performs one API call with bounded retry. payload is a byte slice
// so every attempt sends a fresh body; transport failures, rate
// limiting and server-side errors are retried.
func (g *GeminiStore) do(ctx context.Context, method, path, contentType string, payload []byte) ([]byte, error) {
	var status int
	respBody, err := retryutil.DoValue(ctx, method+" "+path, func(ctx context.Context) ([]byte, error) {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("x-goog-api-key", g.apiKey)
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := g.client.Do(req)
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
	}, g.retry)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("API error (status %d): %s", status, string(respBody))
	}
	return respBody, nil
}

var _ Store = (*GeminiStore)(nil)
