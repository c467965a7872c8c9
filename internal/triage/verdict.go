package triage

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// pureIOCKeywords marks alerts whose only notable content is indicator
// values, eligible for a fast benign determination when reputation comes
// back clean.
var pureIOCKeywords = []string{
	"ioc",
	"indicator",
	"threat intel",
	"ti match",
	"blacklist",
	"reputation",
}

// determineVerdict applies the deterministic early-verdict rule, in order:
//
//  1. any malicious reputation hit -> malicious
//  2. pure-IOC alert with at least one checked entity -> benign
//  3. otherwise nil, deferring to the analysis stage
func determineVerdict(raw json.RawMessage, entities *Entities, ti *TIMatching) *Verdict {
	if ti.MaliciousFound > 0 {
		v := VerdictMalicious
		return &v
	}
	if isPureIOCAlert(raw, entities) && ti.TotalChecked > 0 {
		v := VerdictBenign
		return &v
	}
	return nil
}

// isPureIOCAlert reports whether the alert's name or type carries an IOC
// keyword, or the entity shape is IOC-only (at least one checkable indicator,
// no command lines or process paths).
func isPureIOCAlert(raw json.RawMessage, entities *Entities) bool {
	name := strings.ToLower(gjson.GetBytes(raw, "alert_name").String())
	typ := strings.ToLower(gjson.GetBytes(raw, "type").String())
	if name == "" {
		name = strings.ToLower(gjson.GetBytes(raw, "base_alert_info.name").String())
	}

	for _, kw := range pureIOCKeywords {
		if strings.Contains(name, kw) || strings.Contains(typ, kw) {
			return true
		}
	}

	if entities == nil {
		return false
	}
	hasIOC := len(entities.IPs) > 0 || len(entities.Domains) > 0 ||
		len(entities.URLs) > 0 || len(entities.Hashes) > 0
	return hasIOC && len(entities.Cmdlines) == 0 && len(entities.ProcessPaths) == 0
}
