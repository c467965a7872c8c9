package triage

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestExtractStage_MergesDirectAndReasonedIPs(t *testing.T) {
	t.Parallel()

	reasoner := &mockReasoner{outputs: map[string]json.RawMessage{
		"record_entities": json.RawMessage(`{"ips":["198.51.100.7","203.0.113.5","999.1.1.1"]}`),
	}}
	upd, err := parseStage{}.Execute(context.Background(), &State{RawAlert: testRaw()})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	state := &State{RawAlert: testRaw(), BaseInfo: upd.BaseInfo}
	out, err := extractStage{reasoner: reasoner}.Execute(context.Background(), state)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	// Direct IPs first (src then dst), then reasoned; invalid dropped; deduped.
	want := []string{"203.0.113.5", "10.0.0.2", "198.51.100.7"}
	got := out.Entities.IPs
	if len(got) != len(want) {
		t.Fatalf("IPs = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("IPs[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestExtractStage_ValidatesCandidates(t *testing.T) {
	t.Parallel()

	reasoner := &mockReasoner{outputs: map[string]json.RawMessage{
		"record_entities": json.RawMessage(`{
			"domains": ["evil.example.com", "not a domain", "evil.example.com"],
			"urls": ["https://evil.example.com/x", "ftp://nope"],
			"hashes": ["` + strings.Repeat("a", 40) + `", "` + strings.Repeat("a", 31) + `"],
			"emails": ["a@b.co", "nope"],
			"cmdlines": ["whoami", "whoami"]
		}`),
	}}

	out, err := extractStage{reasoner: reasoner}.Execute(context.Background(), &State{RawAlert: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	e := out.Entities

	if len(e.Domains) != 1 || e.Domains[0] != "evil.example.com" {
		t.Errorf("Domains = %v", e.Domains)
	}
	if len(e.URLs) != 1 {
		t.Errorf("URLs = %v", e.URLs)
	}
	if len(e.Hashes) != 1 || len(e.Hashes[0]) != 40 {
		t.Errorf("Hashes = %v", e.Hashes)
	}
	if len(e.Emails) != 1 || e.Emails[0] != "a@b.co" {
		t.Errorf("Emails = %v", e.Emails)
	}
	if len(e.Cmdlines) != 1 {
		t.Errorf("Cmdlines = %v, want deduped pass-through", e.Cmdlines)
	}
}

func TestExtractStage_CategoryContext(t *testing.T) {
	t.Parallel()

	var gotPrompt string
	reasoner := &promptCapturingReasoner{
		out: json.RawMessage(`{}`),
		capture: func(p string) {
			gotPrompt = p
		},
	}

	st := &State{
		RawAlert:       json.RawMessage(`{}`),
		Classification: &Classification{Category: "Phishing"},
	}
	if _, err := (extractStage{reasoner: reasoner}).Execute(context.Background(), st); err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !strings.Contains(gotPrompt, "Phishing") {
		t.Error("prompt missing classification category context")
	}

	gotPrompt = ""
	if _, err := (extractStage{reasoner: reasoner}).Execute(context.Background(), &State{RawAlert: json.RawMessage(`{}`)}); err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !strings.Contains(gotPrompt, "unknown") {
		t.Error("prompt missing unknown-category placeholder")
	}
}

func TestFilterDedup_FixedPoint(t *testing.T) {
	t.Parallel()

	in := []string{"b.example.com", "a.example.com", "b.example.com"}
	first := filterDedup(in, nil)
	second := filterDedup(first, nil)

	if len(first) != 2 {
		t.Fatalf("first = %v", first)
	}
	if len(second) != len(first) {
		t.Fatalf("re-validation changed length: %v vs %v", first, second)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("re-validation changed order: %v vs %v", first, second)
		}
	}
}

// promptCapturingReasoner records the prompt of each invocation.
type promptCapturingReasoner struct {
	out     json.RawMessage
	capture func(string)
}

func (r *promptCapturingReasoner) Invoke(_ context.Context, req *ReasonRequest) (json.RawMessage, error) {
	r.capture(req.Prompt)
	return r.out, nil
}
