package providers

import (
	"context"
	"encoding/json"
	"testing"
)

var testSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"score": {"type": "integer"},
		"reason": {"type": "string"}
	},
	"required": ["score"]
}`)

func TestGenerateStructured(t *testing.T) {
	t.Run("valid JSON passes", func(t *testing.T) {
		mock := NewMockClient()
		mock.ResponseText = `{"score": 85, "reason": "on topic"}`

		var out struct {
			Score  int    `json:"score"`
			Reason string `json:"reason"`
		}
		_, err := GenerateStructured(context.Background(), mock, &GenerateRequest{
			Prompt:         "rate this",
			ResponseSchema: testSchema,
		}, &out)
		if err != nil {
			t.Fatalf("GenerateStructured() error = %v", err)
		}
		if out.Score != 85 {
			t.Errorf("score = %d, want 85", out.Score)
		}
	})

	t.Run("fenced JSON is unwrapped", func(t *testing.T) {
		mock := NewMockClient()
		mock.ResponseText = "Here you go:\n```json\n{\"score\": 42}\n```"

		var out struct {
			Score int `json:"score"`
		}
		_, err := GenerateStructured(context.Background(), mock, &GenerateRequest{
			Prompt:         "rate this",
			ResponseSchema: testSchema,
		}, &out)
		if err != nil {
			t.Fatalf("GenerateStructured() error = %v", err)
		}
		if out.Score != 42 {
			t.Errorf("score = %d, want 42", out.Score)
		}
	})

	t.Run("invalid output triggers repair re-ask", func(t *testing.T) {
		mock := NewMockClient()
		mock.Responses = []string{
			`{"reason": "missing required score"}`,
			`{"score": 10}`,
		}

		var out struct {
			Score int `json:"score"`
		}
		_, err := GenerateStructured(context.Background(), mock, &GenerateRequest{
			Prompt:         "rate this",
			ResponseSchema: testSchema,
		}, &out)
		if err != nil {
			t.Fatalf("GenerateStructured() error = %v", err)
		}
		if mock.RequestCount() != 2 {
			t.Errorf("requests = %d, want 2", mock.RequestCount())
		}
		if out.Score != 10 {
			t.Errorf("score = %d, want 10", out.Score)
		}
	})

	t.Run("persistent garbage exhausts repairs", func(t *testing.T) {
		mock := NewMockClient()
		mock.ResponseText = "not json at all"

		var out map[string]any
		_, err := GenerateStructured(context.Background(), mock, &GenerateRequest{
			Prompt:         "rate this",
			ResponseSchema: testSchema,
		}, &out)
		if err == nil {
			t.Fatal("expected error")
		}
		if mock.RequestCount() != maxStructuredRepairAttempts+1 {
			t.Errorf("requests = %d, want %d", mock.RequestCount(), maxStructuredRepairAttempts+1)
		}
	})
}

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"a": 1}`, `{"a": 1}`},
		{"json fence", "```json\n[1,2]\n```", "[1,2]"},
		{"plain fence", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"prose prefix", `The answer is: {"a": 1} hope that helps`, `{"a": 1}`},
		{"array with prose", `Results: [1, 2, 3].`, `[1, 2, 3]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractJSON(tc.in); got != tc.want {
				t.Errorf("ExtractJSON(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
