package triage

import (
	"encoding/json"
	"time"

	"github.com/linnemanlabs/warden/internal/alert"
	"github.com/linnemanlabs/warden/internal/ioc"
)

// Status tracks where a triage is in its lifecycle.
type Status string

const (
	// StatusPending means created, not yet started
	StatusPending Status = "pending"

	// StatusInProgress means currently being processed
	StatusInProgress Status = "in_progress"

	// StatusComplete means finished successfully
	StatusComplete Status = "complete"

	// StatusFailed means the pipeline could not produce a result
	StatusFailed Status = "failed"
)

// Verdict is the binary early classification determined from reputation
// results before full analysis.
type Verdict string

const (
	VerdictMalicious Verdict = "malicious"
	VerdictBenign    Verdict = "benign"
)

// SourceTypes is the closed set of alert origins.
var SourceTypes = []string{"Endpoint", "Network"}

// Categories is the closed set of alert categories. No stage may invent a
// value outside this set; a reasoning result outside it is rejected at the
// adapter boundary.
var Categories = []string{
	"Ransomware",
	"Malware",
	"Command & Control",
	"Network Exploitation",
	"Credential Access",
	"Reconnaissance",
	"Phishing",
	"Data Exfiltration",
	"Network Anomaly",
}

// Classification is the classify stage output.
type Classification struct {
	SourceType string `json:"source_type"`
	Category   string `json:"category"`
	Reasoning  string `json:"reasoning"`
}

// AttackMapping is the attack-mapping stage output. Tactic and technique are
// free-form MITRE ATT&CK identifiers, not validated against a taxonomy here.
type AttackMapping struct {
	Tactic    string `json:"tactic"`
	Technique string `json:"technique"`
	Reasoning string `json:"reasoning"`
}

// Entities is the validated, deduplicated IOC set. Slices keep discovery
// order; uniqueness is enforced at write time in the extraction stage.
type Entities struct {
	IPs          []string `json:"ips"`
	Domains      []string `json:"domains"`
	URLs         []string `json:"urls"`
	Hashes       []string `json:"hashes"`
	FilePaths    []string `json:"file_paths"`
	ProcessPaths []string `json:"process_paths"`
	Cmdlines     []string `json:"cmdlines"`
	Accounts     []string `json:"accounts"`
	Emails       []string `json:"emails"`
}

// EntityRow is the persistence view of a single entity. Hashes are stored
// sub-typed (hash_md5/hash_sha1/hash_sha256) while reputation matching and
// API payloads keep the generic "hash" kind; the split is intentional.
type EntityRow struct {
	Kind  string `json:"entity_type"`
	Value string `json:"entity_value"`
}

// Rows flattens the entity set for persistence, applying hash sub-typing.
func (e *Entities) Rows() []EntityRow {
	var rows []EntityRow
	add := func(kind ioc.Kind, values []string) {
		for _, v := range values {
			rows = append(rows, EntityRow{Kind: string(kind), Value: v})
		}
	}
	add(ioc.KindIP, e.IPs)
	add(ioc.KindDomain, e.Domains)
	add(ioc.KindURL, e.URLs)
	for _, h := range e.Hashes {
		rows = append(rows, EntityRow{Kind: string(ioc.HashKindOf(h)), Value: h})
	}
	add(ioc.KindFilePath, e.FilePaths)
	add(ioc.KindProcessPath, e.ProcessPaths)
	add(ioc.KindCmdline, e.Cmdlines)
	add(ioc.KindAccount, e.Accounts)
	add(ioc.KindEmail, e.Emails)
	return rows
}

// TiMatchItem is one checked entity's reputation outcome. EntityType is
// always a generic kind (ip/domain/url/hash).
type TiMatchItem struct {
	EntityType  string `json:"entity_type"`
	EntityValue string `json:"entity_value"`
	Malicious   int    `json:"malicious"`
	Total       int    `json:"total"`
}

// TIMatching is the ti_matching stage output. Results keep a stable order:
// grouped ip, domain, url, hash; discovery order within each group.
type TIMatching struct {
	TotalChecked   int           `json:"total_checked"`
	MaliciousFound int           `json:"malicious_found"`
	Results        []TiMatchItem `json:"results"`
}

// InvestigationStep is one recommended action from the analysis stage.
type InvestigationStep struct {
	Step    int    `json:"step"`
	Title   string `json:"title"`
	Details string `json:"details"`
}

// Analysis is the analyze stage output.
type Analysis struct {
	Conclusion         Verdict             `json:"conclusion"`
	InvestigationSteps []InvestigationStep `json:"investigation_steps"`
}

// State is the shared pipeline state. Exactly one stage writes at a time;
// only the executor merges stage updates, and each optional field is written
// by exactly one stage.
type State struct {
	RawAlert json.RawMessage
	StartAt  time.Time

	BaseInfo       *alert.BaseInfo
	Classification *Classification
	AttackMapping  *AttackMapping
	Entities       *Entities
	TIMatching     *TIMatching
	Verdict        *Verdict
	Analysis       *Analysis

	// Errors is append-only, one entry per failed stage, in execution order.
	Errors []string
}

// Update is a stage's partial contribution to the state. Nil fields are not
// merged; the executor never lets a later stage overwrite an earlier write.
type Update struct {
	BaseInfo       *alert.BaseInfo
	Classification *Classification
	AttackMapping  *AttackMapping
	Entities       *Entities
	TIMatching     *TIMatching
	Verdict        *Verdict
	Analysis       *Analysis
}

func (s *State) apply(u *Update) {
	if u == nil {
		return
	}
	if u.BaseInfo != nil && s.BaseInfo == nil {
		s.BaseInfo = u.BaseInfo
	}
	if u.Classification != nil && s.Classification == nil {
		s.Classification = u.Classification
	}
	if u.AttackMapping != nil && s.AttackMapping == nil {
		s.AttackMapping = u.AttackMapping
	}
	if u.Entities != nil && s.Entities == nil {
		s.Entities = u.Entities
	}
	if u.TIMatching != nil && s.TIMatching == nil {
		s.TIMatching = u.TIMatching
	}
	if u.Verdict != nil && s.Verdict == nil {
		s.Verdict = u.Verdict
	}
	if u.Analysis != nil && s.Analysis == nil {
		s.Analysis = u.Analysis
	}
}

// Result is the outcome of a triage run. Optional sections are nil when the
// owning stage failed; Errors attributes every missing section.
type Result struct {
	ID               string          `json:"id"`
	AlertID          string          `json:"alert_id"`
	Status           Status          `json:"status"`
	BaseInfo         *alert.BaseInfo `json:"base_info,omitempty"`
	Classification   *Classification `json:"classification,omitempty"`
	AttackMapping    *AttackMapping  `json:"attack_mapping,omitempty"`
	Entities         *Entities       `json:"entities,omitempty"`
	TIMatching       *TIMatching     `json:"ti_matching,omitempty"`
	Verdict          *Verdict        `json:"verdict,omitempty"`
	Analysis         *Analysis       `json:"analysis,omitempty"`
	ProcessingTimeMs int64           `json:"processing_time_ms"`
	Errors           []string        `json:"errors"`
	CreatedAt        time.Time       `json:"created_at"`
	CompletedAt      time.Time       `json:"completed_at,omitempty"`
}
