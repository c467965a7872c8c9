package triage

import (
	"encoding/json"
	"fmt"
	"strings"
)

// jsonBlock renders v as indented JSON for prompt interpolation, falling back
// to an empty object so a missing section never breaks a prompt.
func jsonBlock(v any) string {
	if v == nil {
		return "{}"
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}

func rawBlock(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}

func classificationPrompt(raw json.RawMessage) string {
	return fmt.Sprintf(`You are a SOC analyst triaging a security alert.

Classify the alert below.

Rules:
- source_type is "Endpoint" for host/process/file telemetry, "Network" for traffic/flow/protocol telemetry.
- category must be exactly one of: %s.
- Keep reasoning short and operational.

Alert:
%s`,
		strings.Join(Categories, ", "),
		rawBlock(raw),
	)
}

func attackMappingPrompt(raw json.RawMessage, classification *Classification) string {
	return fmt.Sprintf(`You are a SOC analyst mapping a security alert to MITRE ATT&CK.

Identify the single most relevant tactic and technique (IDs like TA0011 / T1071).
Use the classification as context if present.

Classification:
%s

Alert:
%s`,
		jsonBlock(classification),
		rawBlock(raw),
	)
}

func extractionPrompt(raw json.RawMessage, category string) string {
	return fmt.Sprintf(`You are a SOC analyst extracting indicators of compromise from a security alert.

Alert category: %s

Extract every concrete observable present in the alert:
- ips: IPv4/IPv6 addresses
- domains: DNS names (no URLs, no IPs)
- urls: full http/https URLs
- hashes: MD5/SHA1/SHA256 hex digests
- file_paths, process_paths, cmdlines, accounts, emails

Only values literally present in the alert. Do not invent or expand indicators.

Alert:
%s`,
		category,
		rawBlock(raw),
	)
}

func analysisKnownVerdictPrompt(st *State) string {
	return fmt.Sprintf(`You are a SOC analyst writing up a triaged security alert.

Threat-intelligence matching already determined the verdict: %s.
Produce a conclusion consistent with that verdict and a numbered list of
investigation steps an on-call responder should take, most urgent first.

Classification:
%s

ATT&CK mapping:
%s

Threat intelligence results:
%s

Alert:
%s`,
		*st.Verdict,
		jsonBlock(st.Classification),
		jsonBlock(st.AttackMapping),
		jsonBlock(st.TIMatching),
		rawBlock(st.RawAlert),
	)
}

func analysisFullPrompt(st *State) string {
	return fmt.Sprintf(`You are a SOC analyst making the final call on a security alert.

Reputation checks were inconclusive. Weigh all evidence below and decide
whether the activity is malicious or benign, then produce a numbered list of
investigation steps an on-call responder should take, most urgent first.

Classification:
%s

ATT&CK mapping:
%s

Extracted entities:
%s

Threat intelligence results:
%s

Alert:
%s`,
		jsonBlock(st.Classification),
		jsonBlock(st.AttackMapping),
		jsonBlock(st.Entities),
		jsonBlock(st.TIMatching),
		rawBlock(st.RawAlert),
	)
}
