package triage

import (
	"context"

	"github.com/linnemanlabs/warden/internal/alert"
)

// ListOptions controls pagination, filtering and ordering of stored alerts.
type ListOptions struct {
	Page     int    // 1-based
	PageSize int
	Level    string // filter by alert level, empty = all
	Verdict  string // filter by analysis conclusion, empty = all
	SortBy   string // upload_time, first_alert_time, last_alert_time, alert_level, alert_name
	SortDesc bool
}

// ListSortFields are the accepted SortBy values; anything else falls back to
// upload_time.
var ListSortFields = []string{
	"upload_time",
	"first_alert_time",
	"last_alert_time",
	"alert_level",
	"alert_name",
}

// Stats is the dashboard aggregation over stored alerts and verdicts.
type Stats struct {
	TotalAlerts int            `json:"total_alerts"`
	ByLevel     map[string]int `json:"by_level"`
	ByVerdict   map[string]int `json:"by_verdict"`
}

// Store is the persistence interface for alerts and triage results.
type Store interface {
	SaveAlert(ctx context.Context, a *alert.Alert) error
	GetAlert(ctx context.Context, id string) (*alert.Alert, bool, error)
	ListAlerts(ctx context.Context, opts ListOptions) ([]*alert.Alert, int, error)

	SaveResult(ctx context.Context, r *Result) error
	GetResult(ctx context.Context, id string) (*Result, bool, error)
	GetResultByAlert(ctx context.Context, alertID string) (*Result, bool, error)

	Stats(ctx context.Context) (*Stats, error)
}
