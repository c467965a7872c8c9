// Package alert defines the normalized alert record and the helpers that
// extract it from raw sensor payloads.
package alert

import (
	"encoding/json"
	"time"

	"github.com/tidwall/gjson"
)

// TimeLayout is the timestamp format produced by the upstream sensors.
const TimeLayout = "2006-01-02 15:04:05"

// severityLevels maps the numeric 1..5 sensor severity to a display level.
// Anything outside the map (including the 0 "unset" default) is Medium.
var severityLevels = map[int]string{
	1: "Info",
	2: "Low",
	3: "Medium",
	4: "High",
	5: "Critical",
}

// BaseInfo is the subset of the raw alert extracted without any reasoning
// call. Timestamps stay nil here; defaulting to "now" happens only when the
// record is persisted.
type BaseInfo struct {
	UUID       string   `json:"uuid"`
	Name       string   `json:"name"`
	Severity   int      `json:"severity"`
	SrcIP      []string `json:"src_ip"`
	DstIP      []string `json:"dst_ip"`
	HostIP     string   `json:"host_ip,omitempty"`
	AttackerIP []string `json:"attacker_ip"`
	VictimIP   []string `json:"victim_ip"`
	FirstTime  string   `json:"first_time,omitempty"`
	LastTime   string   `json:"last_time,omitempty"`
}

// Alert is the persisted record for an ingested alert.
type Alert struct {
	ID         string          `json:"id"`
	Name       string          `json:"alert_name"`
	Level      string          `json:"alert_level"`
	SourceIP   []string        `json:"source_ip"`
	DestIP     []string        `json:"destination_ip"`
	HostIP     string          `json:"host_ip,omitempty"`
	FirstTime  time.Time       `json:"first_alert_time"`
	LastTime   time.Time       `json:"last_alert_time"`
	UploadTime time.Time       `json:"upload_time"`
	Raw        json.RawMessage `json:"raw_data,omitempty"`
}

// SeverityLevel maps a numeric severity to its display level.
func SeverityLevel(severity int) string {
	if lvl, ok := severityLevels[severity]; ok {
		return lvl
	}
	return "Medium"
}

// ParseBaseInfo extracts the base_alert_info sub-object from a raw alert.
// A missing sub-object yields a zero BaseInfo; every field tolerates absence.
func ParseBaseInfo(raw json.RawMessage) BaseInfo {
	base := gjson.GetBytes(raw, "base_alert_info")
	return BaseInfo{
		UUID:       base.Get("uuid").String(),
		Name:       base.Get("name").String(),
		Severity:   int(base.Get("severity").Int()),
		SrcIP:      stringList(base.Get("src_ip")),
		DstIP:      stringList(base.Get("dst_ip")),
		HostIP:     HostIP(base.Get("host_ip").String()),
		AttackerIP: stringList(base.Get("attacker_ip")),
		VictimIP:   stringList(base.Get("victim_ip")),
		FirstTime:  base.Get("first_time").String(),
		LastTime:   base.Get("last_time").String(),
	}
}

// HostIP normalizes the host_ip field. Some sensors emit the literal string
// "[]" for an absent host; both that sentinel and "" normalize to absent.
func HostIP(v string) string {
	if v == "[]" {
		return ""
	}
	return v
}

// ParseTime parses a sensor timestamp, defaulting to now when the value is
// missing or unparsable. Only used at persistence time.
func ParseTime(v string, now time.Time) time.Time {
	if v == "" {
		return now
	}
	t, err := time.Parse(TimeLayout, v)
	if err != nil {
		return now
	}
	return t
}

// FromRaw builds a persistable Alert from a raw payload. The caller assigns
// the ID.
func FromRaw(raw json.RawMessage, now time.Time) *Alert {
	base := ParseBaseInfo(raw)

	name := base.Name
	if name == "" {
		name = "Unknown Alert"
	}

	return &Alert{
		Name:       name,
		Level:      SeverityLevel(base.Severity),
		SourceIP:   base.SrcIP,
		DestIP:     base.DstIP,
		HostIP:     base.HostIP,
		FirstTime:  ParseTime(base.FirstTime, now),
		LastTime:   ParseTime(base.LastTime, now),
		UploadTime: now,
		Raw:        raw,
	}
}

func stringList(v gjson.Result) []string {
	if !v.IsArray() {
		// Single-string variant some sensors send instead of a list.
		if s := v.String(); s != "" && s != "[]" {
			return []string{s}
		}
		return nil
	}
	var out []string
	for _, item := range v.Array() {
		if s := item.String(); s != "" {
			out = append(out, s)
		}
	}
	return out
}
