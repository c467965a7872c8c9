package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
)

var classificationSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"source_type": {
			"type": "string",
			"enum": ["Endpoint", "Network"],
			"description": "Alert origin: Endpoint (host telemetry) or Network (traffic telemetry)"
		},
		"category": {
			"type": "string",
			"enum": ["Ransomware", "Malware", "Command & Control", "Network Exploitation", "Credential Access", "Reconnaissance", "Phishing", "Data Exfiltration", "Network Anomaly"],
			"description": "Alert category"
		},
		"reasoning": {
			"type": "string",
			"description": "Short reasoning for the classification"
		}
	},
	"required": ["source_type", "category"]
}`)

// classifyStage assigns the alert a source type and category from the closed
// category set.
type classifyStage struct {
	reasoner Reasoner
}

func (classifyStage) Name() string { return "classify" }

func (s classifyStage) Execute(ctx context.Context, st *State) (*Update, error) {
	var out Classification
	err := reason(ctx, s.reasoner, &ReasonRequest{
		Task:        "record_classification",
		Description: "Record the alert's source type and category.",
		Prompt:      classificationPrompt(st.RawAlert),
		Schema:      classificationSchema,
	}, &out)
	if err != nil {
		return nil, err
	}

	// The category set is closed; an out-of-set value is a contract violation
	// of the reasoning adapter and fails the stage.
	if !slices.Contains(SourceTypes, out.SourceType) {
		return nil, fmt.Errorf("unexpected source_type %q", out.SourceType)
	}
	if !slices.Contains(Categories, out.Category) {
		return nil, fmt.Errorf("unexpected category %q", out.Category)
	}

	return &Update{Classification: &out}, nil
}
