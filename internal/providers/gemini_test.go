package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func geminiTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *GeminiClient) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewGeminiClient(GeminiConfig{
		APIKey:    "test-key",
		BaseURL:   srv.URL,
		RateLimit: 6000,
	})
	return srv, client
}

func TestGeminiGenerate(t *testing.T) {
	t.Run("returns candidate text", func(t *testing.T) {
		_, client := geminiTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			if got := r.Header.Get("x-goog-api-key"); got != "test-key" {
				t.Errorf("api key header = %q", got)
			}
			json.NewEncoder(w).Encode(map[string]any{
				"candidates": []map[string]any{
					{"content": map[string]any{"parts": []map[string]any{{"text": "generated text"}}}},
				},
				"usageMetadata": map[string]any{"promptTokenCount": 10, "candidatesTokenCount": 5, "totalTokenCount": 15},
			})
		})

		result, err := client.Generate(context.Background(), &GenerateRequest{Prompt: "write"})
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if result.Text != "generated text" {
			t.Errorf("Text = %q", result.Text)
		}
		if result.TotalTokens != 15 {
			t.Errorf("TotalTokens = %d, want 15", result.TotalTokens)
		}
	})

	t.Run("grounded request carries file search tool", func(t *testing.T) {
		var gotBody geminiRequest
		_, client := geminiTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewDecoder(r.Body).Decode(&gotBody)
			json.NewEncoder(w).Encode(map[string]any{
				"candidates": []map[string]any{
					{"content": map[string]any{"parts": []map[string]any{{"text": "grounded"}}}},
				},
			})
		})

		_, err := client.Generate(context.Background(), &GenerateRequest{
			Prompt:            "write",
			FileSearchStoreID: "fileSearchStores/abc",
		})
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if len(gotBody.Tools) != 1 || gotBody.Tools[0].FileSearch == nil {
			t.Fatalf("expected fileSearch tool, got %+v", gotBody.Tools)
		}
		if got := gotBody.Tools[0].FileSearch.FileSearchStoreNames[0]; got != "fileSearchStores/abc" {
			t.Errorf("store name = %q", got)
		}
	})

	t.Run("retries server errors", func(t *testing.T) {
		var calls atomic.Int64
		_, client := geminiTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"candidates": []map[string]any{
					{"content": map[string]any{"parts": []map[string]any{{"text": "ok"}}}},
				},
			})
		})
		client.retryDelay = 0

		result, err := client.Generate(context.Background(), &GenerateRequest{Prompt: "write"})
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if result.Text != "ok" {
			t.Errorf("Text = %q", result.Text)
		}
		if calls.Load() != 2 {
			t.Errorf("calls = %d, want 2", calls.Load())
		}
	})

	t.Run("non-retryable error surfaces", func(t *testing.T) {
		_, client := geminiTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error": {"code": 400, "message": "bad request"}}`))
		})

		_, err := client.Generate(context.Background(), &GenerateRequest{Prompt: "write"})
		if err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("empty prompt rejected", func(t *testing.T) {
		client := NewGeminiClient(GeminiConfig{APIKey: "k"})
		if _, err := client.Generate(context.Background(), &GenerateRequest{}); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestRegistryRoles(t *testing.T) {
	reg := NewRegistry()
	mock := NewMockClient()
	reg.Register("mock", mock)
	reg.SetRole("rank", "mock")

	t.Run("known role resolves", func(t *testing.T) {
		c, err := reg.ForRole("rank")
		if err != nil {
			t.Fatalf("ForRole() error = %v", err)
		}
		if c.Name() != MockClientName {
			t.Errorf("Name() = %q", c.Name())
		}
	})

	t.Run("unknown role falls back to any client", func(t *testing.T) {
		c, err := reg.ForRole("unconfigured")
		if err != nil {
			t.Fatalf("ForRole() error = %v", err)
		}
		if c == nil {
			t.Fatal("expected a client")
		}
	})

	t.Run("role to missing provider errors", func(t *testing.T) {
		reg.SetRole("broken", "nope")
		if _, err := reg.ForRole("broken"); err == nil {
			t.Fatal("expected error")
		}
	})
}
