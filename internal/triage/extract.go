package triage

import (
	"context"
	"encoding/json"

	"github.com/linnemanlabs/warden/internal/ioc"
)

var extractionSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"ips":           {"type": "array", "items": {"type": "string"}, "description": "IPv4/IPv6 addresses"},
		"domains":       {"type": "array", "items": {"type": "string"}, "description": "DNS names"},
		"urls":          {"type": "array", "items": {"type": "string"}, "description": "Full http/https URLs"},
		"hashes":        {"type": "array", "items": {"type": "string"}, "description": "MD5/SHA1/SHA256 hex digests"},
		"file_paths":    {"type": "array", "items": {"type": "string"}},
		"process_paths": {"type": "array", "items": {"type": "string"}},
		"cmdlines":      {"type": "array", "items": {"type": "string"}},
		"accounts":      {"type": "array", "items": {"type": "string"}},
		"emails":        {"type": "array", "items": {"type": "string"}}
	},
	"required": []
}`)

// extractStage merges two indicator sources: IPs already present in BaseInfo
// and a reasoning-derived candidate set. Every candidate passes the ioc
// validators; invalid values are silently dropped. Discovery order is kept
// (direct IPs first), duplicates collapse to the first occurrence.
type extractStage struct {
	reasoner Reasoner
}

func (extractStage) Name() string { return "entity_extraction" }

func (s extractStage) Execute(ctx context.Context, st *State) (*Update, error) {
	category := "unknown"
	if st.Classification != nil {
		category = st.Classification.Category
	}

	var candidate Entities
	err := reason(ctx, s.reasoner, &ReasonRequest{
		Task:        "record_entities",
		Description: "Record every indicator of compromise present in the alert.",
		Prompt:      extractionPrompt(st.RawAlert, category),
		Schema:      extractionSchema,
	}, &candidate)
	if err != nil {
		return nil, err
	}

	var directIPs []string
	if st.BaseInfo != nil {
		directIPs = append(directIPs, st.BaseInfo.SrcIP...)
		directIPs = append(directIPs, st.BaseInfo.DstIP...)
		directIPs = append(directIPs, st.BaseInfo.AttackerIP...)
		directIPs = append(directIPs, st.BaseInfo.VictimIP...)
	}

	out := Entities{
		// Direct-extraction IPs are filtered like any other candidate.
		IPs:          filterDedup(append(directIPs, candidate.IPs...), ioc.ValidIP),
		Domains:      filterDedup(candidate.Domains, ioc.ValidDomain),
		URLs:         filterDedup(candidate.URLs, ioc.ValidURL),
		Hashes:       filterDedup(candidate.Hashes, ioc.ValidHash),
		Emails:       filterDedup(candidate.Emails, ioc.ValidEmail),
		FilePaths:    filterDedup(candidate.FilePaths, nil),
		ProcessPaths: filterDedup(candidate.ProcessPaths, nil),
		Cmdlines:     filterDedup(candidate.Cmdlines, nil),
		Accounts:     filterDedup(candidate.Accounts, nil),
	}

	return &Update{Entities: &out}, nil
}

// filterDedup keeps values passing valid (nil means pass-through), collapsing
// duplicates to their first occurrence. Re-applying it to valid output is a
// no-op.
func filterDedup(values []string, valid func(string) bool) []string {
	var out []string
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if valid != nil && !valid(v) {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
