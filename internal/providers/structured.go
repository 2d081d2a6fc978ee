package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// maxStructuredRepairAttempts limits re-ask loops when structured
// output parsing or validation fails.
const maxStructuredRepairAttempts = 2

// GenerateStructured runs a generation request whose output must be
// JSON conforming to req.ResponseSchema, unmarshalled into out. When
// the model returns malformed or non-conforming JSON the call is
// retried with the validation error appended to the prompt.
func GenerateStructured(ctx context.Context, client LLMClient, req *GenerateRequest, out any) (*GenerateResult, error) {
	if len(req.ResponseSchema) == 0 {
		return nil, fmt.Errorf("response schema is required")
	}

	schema, err := compileSchema(req.ResponseSchema)
	if err != nil {
		return nil, fmt.Errorf("invalid response schema: %w", err)
	}

	attemptReq := *req
	var lastErr error
	for attempt := 0; attempt <= maxStructuredRepairAttempts; attempt++ {
		result, err := client.Generate(ctx, &attemptReq)
		if err != nil {
			return nil, err
		}

		raw := ExtractJSON(result.Text)
		if validateErr := validateAgainst(schema, raw); validateErr != nil {
			lastErr = validateErr
			attemptReq.Prompt = repairPrompt(req.Prompt, raw, validateErr)
			continue
		}

		if err := json.Unmarshal([]byte(raw), out); err != nil {
			lastErr = err
			attemptReq.Prompt = repairPrompt(req.Prompt, raw, err)
			continue
		}

		return result, nil
	}

	return nil, fmt.Errorf("structured output failed after %d attempts: %w",
		maxStructuredRepairAttempts+1, lastErr)
}

func compileSchema(raw json.RawMessage) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(string(raw))); err != nil {
		return nil, err
	}
	return compiler.Compile("schema.json")
}

func validateAgainst(schema *jsonschema.Schema, raw string) error {
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return fmt.Errorf("output is not valid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("output does not match schema: %w", err)
	}
	return nil
}

func repairPrompt(original, badOutput string, cause error) string {
	if len(badOutput) > 2000 {
		badOutput = badOutput[:2000]
	}
	return fmt.Sprintf(`%s

Your previous response was rejected: %v

Previous response (truncated):
%s

Return ONLY valid JSON matching the required schema. No prose, no markdown fences.`,
		original, cause, badOutput)
}

// ExtractJSON strips markdown code fences and surrounding prose from a
// model response, returning the JSON payload. Models wrap JSON in
// fences often enough that every structured call goes through this.
func ExtractJSON(text string) string {
	text = strings.TrimSpace(text)

	if idx := strings.Index(text, "```json"); idx != -1 {
		text = text[idx+len("```json"):]
		if end := strings.Index(text, "```"); end != -1 {
			text = text[:end]
		}
		return strings.TrimSpace(text)
	}
	if idx := strings.Index(text, "```"); idx != -1 {
		text = text[idx+3:]
		if end := strings.Index(text, "```"); end != -1 {
			text = text[:end]
		}
		return strings.TrimSpace(text)
	}

	// No fences: trim to the outermost JSON bracket pair.
	start := strings.IndexAny(text, "[{")
	if start == -1 {
		return text
	}
	open := text[start]
	closeCh := byte(']')
	if open == '{' {
		closeCh = '}'
	}
	end := strings.LastIndexByte(text, closeCh)
	if end > start {
		return strings.TrimSpace(text[start : end+1])
	}
	return strings.TrimSpace(text[start:])
}
