package triage

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestAnalyzeStage_KnownVerdictPath(t *testing.T) {
	t.Parallel()

	var gotPrompt string
	reasoner := &promptCapturingReasoner{
		out:     json.RawMessage(`{"conclusion":"malicious","investigation_steps":[{"step":1,"title":"Isolate","details":"Quarantine host."}]}`),
		capture: func(p string) { gotPrompt = p },
	}

	v := VerdictMalicious
	st := &State{
		RawAlert:   json.RawMessage(`{"alert_name":"C2 beacon"}`),
		Verdict:    &v,
		TIMatching: &TIMatching{TotalChecked: 1, MaliciousFound: 1},
		Entities:   &Entities{IPs: []string{"203.0.113.5"}},
	}

	upd, err := analyzeStage{reasoner: reasoner}.Execute(context.Background(), st)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if !strings.Contains(gotPrompt, "already determined the verdict: malicious") {
		t.Error("expected confirm-and-explain prompt for known verdict")
	}
	if strings.Contains(gotPrompt, "Extracted entities") {
		t.Error("known-verdict prompt should not carry the entity section")
	}
	if upd.Analysis.Conclusion != VerdictMalicious {
		t.Errorf("Conclusion = %q", upd.Analysis.Conclusion)
	}
	if len(upd.Analysis.InvestigationSteps) != 1 {
		t.Errorf("InvestigationSteps = %+v", upd.Analysis.InvestigationSteps)
	}
}

func TestAnalyzeStage_FullAnalysisPath(t *testing.T) {
	t.Parallel()

	var gotPrompt string
	reasoner := &promptCapturingReasoner{
		out:     json.RawMessage(`{"conclusion":"benign","investigation_steps":[]}`),
		capture: func(p string) { gotPrompt = p },
	}

	st := &State{
		RawAlert: json.RawMessage(`{"alert_name":"Odd traffic"}`),
		Entities: &Entities{Domains: []string{"a.example.com"}},
	}

	upd, err := analyzeStage{reasoner: reasoner}.Execute(context.Background(), st)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if !strings.Contains(gotPrompt, "Extracted entities") {
		t.Error("full-analysis prompt should carry the entity section")
	}
	if !strings.Contains(gotPrompt, "a.example.com") {
		t.Error("full-analysis prompt missing entity values")
	}
	if upd.Analysis.Conclusion != VerdictBenign {
		t.Errorf("Conclusion = %q", upd.Analysis.Conclusion)
	}
}

func TestAnalyzeStage_RejectsUnknownConclusion(t *testing.T) {
	t.Parallel()

	reasoner := &promptCapturingReasoner{
		out:     json.RawMessage(`{"conclusion":"inconclusive","investigation_steps":[]}`),
		capture: func(string) {},
	}

	_, err := analyzeStage{reasoner: reasoner}.Execute(context.Background(), &State{RawAlert: json.RawMessage(`{}`)})
	if err == nil {
		t.Fatal("expected error for out-of-set conclusion")
	}
}

func TestClassifyStage_RejectsOutOfSetValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		out  string
	}{
		{"unknown category", `{"source_type":"Network","category":"Cryptomining","reasoning":"x"}`},
		{"unknown source type", `{"source_type":"Cloud","category":"Malware","reasoning":"x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			reasoner := &promptCapturingReasoner{out: json.RawMessage(tt.out), capture: func(string) {}}
			_, err := classifyStage{reasoner: reasoner}.Execute(context.Background(), &State{RawAlert: json.RawMessage(`{}`)})
			if err == nil {
				t.Fatal("expected contract-violation error")
			}
		})
	}
}

func TestClassifyStage_AcceptsClosedSetValues(t *testing.T) {
	t.Parallel()

	reasoner := &promptCapturingReasoner{
		out:     json.RawMessage(`{"source_type":"Endpoint","category":"Ransomware","reasoning":"encryption burst"}`),
		capture: func(string) {},
	}
	upd, err := classifyStage{reasoner: reasoner}.Execute(context.Background(), &State{RawAlert: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if upd.Classification.Category != "Ransomware" {
		t.Errorf("Category = %q", upd.Classification.Category)
	}
}

func TestAttackMapStage_RunsWithoutClassification(t *testing.T) {
	t.Parallel()

	var gotPrompt string
	reasoner := &promptCapturingReasoner{
		out:     json.RawMessage(`{"tactic":"TA0001","technique":"T1190","reasoning":"edge exploit"}`),
		capture: func(p string) { gotPrompt = p },
	}

	upd, err := attackMapStage{reasoner: reasoner}.Execute(context.Background(), &State{RawAlert: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(gotPrompt, "{}") {
		t.Error("expected empty-object classification placeholder in prompt")
	}
	if upd.AttackMapping.Tactic != "TA0001" {
		t.Errorf("Tactic = %q", upd.AttackMapping.Tactic)
	}
}
