package triage

import (
	"context"
	"encoding/json"
	"fmt"
)

var analysisSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"conclusion": {
			"type": "string",
			"enum": ["malicious", "benign"],
			"description": "Overall conclusion"
		},
		"investigation_steps": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"step":    {"type": "integer", "description": "Step number, starting at 1"},
					"title":   {"type": "string"},
					"details": {"type": "string"}
				},
				"required": ["step", "title", "details"]
			},
			"description": "Ordered investigation steps, most urgent first"
		}
	},
	"required": ["conclusion", "investigation_steps"]
}`)

// analyzeStage produces the final conclusion and investigation steps. With a
// verdict already set by ti_matching it asks for a write-up consistent with
// that verdict; without one it asks for an independent full analysis carrying
// the complete entity set. Either way the service's own conclusion is
// returned as-is, never overwritten.
type analyzeStage struct {
	reasoner Reasoner
}

func (analyzeStage) Name() string { return "analysis" }

func (s analyzeStage) Execute(ctx context.Context, st *State) (*Update, error) {
	req := &ReasonRequest{
		Task:        "record_analysis",
		Description: "Record the triage conclusion and investigation steps.",
		Schema:      analysisSchema,
	}
	if st.Verdict != nil {
		req.Prompt = analysisKnownVerdictPrompt(st)
	} else {
		req.Prompt = analysisFullPrompt(st)
	}

	var out Analysis
	if err := reason(ctx, s.reasoner, req, &out); err != nil {
		return nil, err
	}
	if out.Conclusion != VerdictMalicious && out.Conclusion != VerdictBenign {
		return nil, fmt.Errorf("unexpected conclusion %q", out.Conclusion)
	}
	return &Update{Analysis: &out}, nil
}
