// Package providers contains the external LLM service adapters used
// by the generation pipeline, plus the registry that routes pipeline
// roles to configured providers.
package providers

import (
	"context"
	"encoding/json"
	"time"
)

// LLMClient is the interface every text-generation provider satisfies.
// A request with FileSearchStoreID set asks for retrieval-augmented
// generation against the uploaded-document store; providers that
// cannot ground return ErrGroundingUnsupported.
type LLMClient interface {
	// Generate sends a generation request.
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error)

	// Name returns the client identifier (e.g., "gemini").
	Name() string
}

// GenerateRequest is a request to an LLM.
type GenerateRequest struct {
	// System is the system instruction (optional).
	System string

	// Prompt is the user-turn content.
	Prompt string

	// Model overrides the client default when set.
	Model string

	// Generation parameters.
	Temperature     float64
	MaxOutputTokens int

	// FileSearchStoreID asks for retrieval-augmented generation
	// against the named document store.
	FileSearchStoreID string

	// ResponseSchema requests structured JSON output validated
	// against this JSON schema (see GenerateStructured).
	ResponseSchema json.RawMessage

	// RequestID is used for log correlation.
	RequestID string
}

// GenerateResult is the response from an LLM call.
type GenerateResult struct {
	Text string `json:"text"`

	PromptTokens int `json:"prompt_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`

	Provider  string        `json:"provider"`
	ModelUsed string        `json:"model_used"`
	Elapsed   time.Duration `json:"elapsed"`
}
