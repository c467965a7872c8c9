// Package memstore provides an in-memory implementation of triage.Store.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/linnemanlabs/warden/internal/alert"
	"github.com/linnemanlabs/warden/internal/triage"
)

// levelRank orders alert levels for sorting, lowest first.
var levelRank = map[string]int{
	"Info":     1,
	"Low":      2,
	"Medium":   3,
	"High":     4,
	"Critical": 5,
}

// Store holds alerts and triage results in memory. Suitable for dev/testing.
type Store struct {
	mu      sync.RWMutex
	alerts  map[string]*alert.Alert
	results map[string]*triage.Result // result ID -> result
	byAlert map[string]string         // alert ID -> result ID
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		alerts:  make(map[string]*alert.Alert),
		results: make(map[string]*triage.Result),
		byAlert: make(map[string]string),
	}
}

// SaveAlert stores a copy of the alert.
func (s *Store) SaveAlert(_ context.Context, a *alert.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.alerts[a.ID] = &cp
	return nil
}

// GetAlert retrieves an alert by its ID. Returns a copy.
func (s *Store) GetAlert(_ context.Context, id string) (*alert.Alert, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, false, nil
	}
	cp := *a
	return &cp, true, nil
}

// ListAlerts returns one page of alerts matching opts, plus the total match
// count before pagination.
func (s *Store) ListAlerts(_ context.Context, opts triage.ListOptions) ([]*alert.Alert, int, error) {
	s.mu.RLock()
	matched := make([]*alert.Alert, 0, len(s.alerts))
	for _, a := range s.alerts {
		if opts.Level != "" && a.Level != opts.Level {
			continue
		}
		if opts.Verdict != "" && s.verdictForAlertLocked(a.ID) != opts.Verdict {
			continue
		}
		cp := *a
		matched = append(matched, &cp)
	}
	s.mu.RUnlock()

	sortAlerts(matched, opts.SortBy, opts.SortDesc)

	total := len(matched)
	page, size := opts.Page, opts.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	start := (page - 1) * size
	if start >= total {
		return []*alert.Alert{}, total, nil
	}
	end := min(start+size, total)
	return matched[start:end], total, nil
}

// verdictForAlertLocked resolves the effective verdict of an alert's triage
// result. Caller holds s.mu.
func (s *Store) verdictForAlertLocked(alertID string) string {
	id, ok := s.byAlert[alertID]
	if !ok {
		return ""
	}
	return conclusionOf(s.results[id])
}

func sortAlerts(alerts []*alert.Alert, sortBy string, desc bool) {
	less := func(a, b *alert.Alert) bool { return a.UploadTime.Before(b.UploadTime) }
	switch sortBy {
	case "first_alert_time":
		less = func(a, b *alert.Alert) bool { return a.FirstTime.Before(b.FirstTime) }
	case "last_alert_time":
		less = func(a, b *alert.Alert) bool { return a.LastTime.Before(b.LastTime) }
	case "alert_level":
		less = func(a, b *alert.Alert) bool { return levelRank[a.Level] < levelRank[b.Level] }
	case "alert_name":
		less = func(a, b *alert.Alert) bool { return strings.ToLower(a.Name) < strings.ToLower(b.Name) }
	}
	sort.SliceStable(alerts, func(i, j int) bool {
		if desc {
			return less(alerts[j], alerts[i])
		}
		return less(alerts[i], alerts[j])
	})
}

// SaveResult stores a copy of the triage result.
func (s *Store) SaveResult(_ context.Context, r *triage.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.results[r.ID] = &cp
	s.byAlert[r.AlertID] = r.ID
	return nil
}

// GetResult retrieves a triage result by its ID. Returns a copy.
func (s *Store) GetResult(_ context.Context, id string) (*triage.Result, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[id]
	if !ok {
		return nil, false, nil
	}
	cp := *r
	return &cp, true, nil
}

// GetResultByAlert retrieves the triage result for an alert. Returns a copy.
func (s *Store) GetResultByAlert(_ context.Context, alertID string) (*triage.Result, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byAlert[alertID]
	if !ok {
		return nil, false, nil
	}
	r := s.results[id]
	cp := *r
	return &cp, true, nil
}

// Stats aggregates stored alerts by level and triage results by conclusion.
func (s *Store) Stats(_ context.Context) (*triage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := &triage.Stats{
		TotalAlerts: len(s.alerts),
		ByLevel:     make(map[string]int),
		ByVerdict:   make(map[string]int),
	}
	for _, a := range s.alerts {
		st.ByLevel[a.Level]++
	}
	for _, r := range s.results {
		if v := conclusionOf(r); v != "" {
			st.ByVerdict[v]++
		}
	}
	return st, nil
}

// conclusionOf returns the effective verdict string for a result, preferring
// the analysis conclusion over the early threat-intel verdict.
func conclusionOf(r *triage.Result) string {
	if r.Analysis != nil {
		return string(r.Analysis.Conclusion)
	}
	if r.Verdict != nil {
		return string(*r.Verdict)
	}
	return ""
}
