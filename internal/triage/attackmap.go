package triage

import (
	"context"
	"encoding/json"
	"fmt"
)

var attackMappingSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"tactic": {
			"type": "string",
			"description": "MITRE ATT&CK tactic ID, e.g. TA0011"
		},
		"technique": {
			"type": "string",
			"description": "MITRE ATT&CK technique ID, e.g. T1071"
		},
		"reasoning": {
			"type": "string",
			"description": "Short reasoning for the mapping"
		}
	},
	"required": ["tactic", "technique"]
}`)

// attackMapStage maps the alert to a MITRE ATT&CK tactic and technique.
// It runs even when classification is absent, with an empty-object
// placeholder as prompt context. Identifiers are free-form at this layer.
type attackMapStage struct {
	reasoner Reasoner
}

func (attackMapStage) Name() string { return "attack_mapping" }

func (s attackMapStage) Execute(ctx context.Context, st *State) (*Update, error) {
	var out AttackMapping
	err := reason(ctx, s.reasoner, &ReasonRequest{
		Task:        "record_attack_mapping",
		Description: "Record the ATT&CK tactic and technique for the alert.",
		Prompt:      attackMappingPrompt(st.RawAlert, st.Classification),
		Schema:      attackMappingSchema,
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.Tactic == "" || out.Technique == "" {
		return nil, fmt.Errorf("empty tactic or technique")
	}
	return &Update{AttackMapping: &out}, nil
}
