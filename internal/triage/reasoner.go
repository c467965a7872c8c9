package triage

import (
	"context"
	"encoding/json"
	"fmt"
)

// Default token budget for a single structured reasoning call.
const reasonMaxTokens = 4096

// ReasonRequest is one structured reasoning-service invocation. Schema is a
// JSON Schema object describing the expected output; the provider is
// responsible for forcing the model to produce a conforming instance.
type ReasonRequest struct {
	Task        string          // short machine name for the result, e.g. "record_classification"
	Description string          // one-line description of what the result captures
	Prompt      string          // full prompt text
	Schema      json.RawMessage // JSON Schema for the structured output
	MaxTokens   int
}

// Reasoner is the interface for any structured-output LLM backend.
type Reasoner interface {
	Invoke(ctx context.Context, req *ReasonRequest) (json.RawMessage, error)
}

// reason invokes the reasoner and decodes the structured output into out.
// Transport and parse failures surface as a single stage-local error.
func reason(ctx context.Context, r Reasoner, req *ReasonRequest, out any) error {
	if req.MaxTokens == 0 {
		req.MaxTokens = reasonMaxTokens
	}
	raw, err := r.Invoke(ctx, req)
	if err != nil {
		return fmt.Errorf("reasoning call %s: %w", req.Task, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s output: %w", req.Task, err)
	}
	return nil
}
