package memstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/warden/internal/alert"
	"github.com/linnemanlabs/warden/internal/triage"
)

func TestStore_SaveAndGetAlert(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	a := &alert.Alert{ID: "a-1", Name: "Suspicious Login", Level: "High"}
	if err := s.SaveAlert(ctx, a); err != nil {
		t.Fatalf("SaveAlert: %v", err)
	}

	got, ok, err := s.GetAlert(ctx, "a-1")
	if err != nil {
		t.Fatalf("GetAlert: %v", err)
	}
	if !ok {
		t.Fatal("expected alert to be found")
	}
	if got.Name != "Suspicious Login" {
		t.Errorf("Name = %q, want %q", got.Name, "Suspicious Login")
	}

	// Stored copy must not alias the caller's struct.
	a.Name = "mutated"
	got2, _, _ := s.GetAlert(ctx, "a-1")
	if got2.Name != "Suspicious Login" {
		t.Errorf("stored alert aliased caller struct: Name = %q", got2.Name)
	}
}

func TestStore_GetAlertMissing(t *testing.T) {
	t.Parallel()

	s := New()
	_, ok, err := s.GetAlert(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("GetAlert: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for missing ID")
	}
}

func TestStore_SaveAndGetResult(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	r := &triage.Result{ID: "t-1", AlertID: "a-1", Status: triage.StatusPending}
	if err := s.SaveResult(ctx, r); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}

	got, ok, err := s.GetResult(ctx, "t-1")
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if !ok {
		t.Fatal("expected result to be found")
	}
	if got.AlertID != "a-1" {
		t.Errorf("AlertID = %q, want %q", got.AlertID, "a-1")
	}
}

func TestStore_GetResultByAlert(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	_ = s.SaveResult(ctx, &triage.Result{ID: "t-2", AlertID: "a-2", Status: triage.StatusPending})

	got, ok, err := s.GetResultByAlert(ctx, "a-2")
	if err != nil {
		t.Fatalf("GetResultByAlert: %v", err)
	}
	if !ok {
		t.Fatal("expected result to be found by alert ID")
	}
	if got.ID != "t-2" {
		t.Errorf("ID = %q, want %q", got.ID, "t-2")
	}

	_, ok, err = s.GetResultByAlert(ctx, "nonexistent")
	if err != nil {
		t.Fatalf("GetResultByAlert: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for missing alert ID")
	}
}

func TestStore_SaveResultOverwrites(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	_ = s.SaveResult(ctx, &triage.Result{ID: "t-3", AlertID: "a-3", Status: triage.StatusPending})
	_ = s.SaveResult(ctx, &triage.Result{ID: "t-3", AlertID: "a-3", Status: triage.StatusComplete})

	got, ok, err := s.GetResult(ctx, "t-3")
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if !ok {
		t.Fatal("expected result to be found")
	}
	if got.Status != triage.StatusComplete {
		t.Errorf("Status = %q, want %q", got.Status, triage.StatusComplete)
	}
}

func seedAlerts(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	alerts := []*alert.Alert{
		{ID: "a-1", Name: "Beacon", Level: "Critical", UploadTime: base.Add(3 * time.Hour)},
		{ID: "a-2", Name: "Anomaly", Level: "Low", UploadTime: base.Add(1 * time.Hour)},
		{ID: "a-3", Name: "Dropper", Level: "High", UploadTime: base.Add(4 * time.Hour)},
		{ID: "a-4", Name: "Scan", Level: "Low", UploadTime: base.Add(2 * time.Hour)},
	}
	for _, a := range alerts {
		if err := s.SaveAlert(ctx, a); err != nil {
			t.Fatalf("SaveAlert %s: %v", a.ID, err)
		}
	}
}

func TestStore_ListAlertsDefaultSort(t *testing.T) {
	t.Parallel()

	s := New()
	seedAlerts(t, s)

	got, total, err := s.ListAlerts(context.Background(), triage.ListOptions{})
	if err != nil {
		t.Fatalf("ListAlerts: %v", err)
	}
	if total != 4 {
		t.Errorf("total = %d, want 4", total)
	}
	var ids []string
	for _, a := range got {
		ids = append(ids, a.ID)
	}
	want := []string{"a-2", "a-4", "a-1", "a-3"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("order = %v, want %v", ids, want)
		}
	}
}

func TestStore_ListAlertsLevelFilter(t *testing.T) {
	t.Parallel()

	s := New()
	seedAlerts(t, s)

	got, total, err := s.ListAlerts(context.Background(), triage.ListOptions{Level: "Low"})
	if err != nil {
		t.Fatalf("ListAlerts: %v", err)
	}
	if total != 2 {
		t.Errorf("total = %d, want 2", total)
	}
	for _, a := range got {
		if a.Level != "Low" {
			t.Errorf("alert %s level = %q, want Low", a.ID, a.Level)
		}
	}
}

func TestStore_ListAlertsVerdictFilter(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	seedAlerts(t, s)

	v := triage.VerdictMalicious
	_ = s.SaveResult(ctx, &triage.Result{ID: "t-1", AlertID: "a-1", Status: triage.StatusComplete, Verdict: &v})
	_ = s.SaveResult(ctx, &triage.Result{
		ID: "t-3", AlertID: "a-3", Status: triage.StatusComplete,
		Analysis: &triage.Analysis{Conclusion: triage.VerdictBenign},
	})

	got, total, err := s.ListAlerts(ctx, triage.ListOptions{Verdict: "malicious"})
	if err != nil {
		t.Fatalf("ListAlerts: %v", err)
	}
	if total != 1 || got[0].ID != "a-1" {
		t.Errorf("got total=%d alerts=%v, want only a-1", total, got)
	}
}

func TestStore_ListAlertsLevelSortDesc(t *testing.T) {
	t.Parallel()

	s := New()
	seedAlerts(t, s)

	got, _, err := s.ListAlerts(context.Background(), triage.ListOptions{SortBy: "alert_level", SortDesc: true})
	if err != nil {
		t.Fatalf("ListAlerts: %v", err)
	}
	if got[0].Level != "Critical" {
		t.Errorf("first level = %q, want Critical", got[0].Level)
	}
	if got[len(got)-1].Level != "Low" {
		t.Errorf("last level = %q, want Low", got[len(got)-1].Level)
	}
}

func TestStore_ListAlertsPagination(t *testing.T) {
	t.Parallel()

	s := New()
	seedAlerts(t, s)

	page1, total, err := s.ListAlerts(context.Background(), triage.ListOptions{Page: 1, PageSize: 3})
	if err != nil {
		t.Fatalf("ListAlerts page 1: %v", err)
	}
	if total != 4 || len(page1) != 3 {
		t.Errorf("page 1: total=%d len=%d, want 4/3", total, len(page1))
	}

	page2, _, err := s.ListAlerts(context.Background(), triage.ListOptions{Page: 2, PageSize: 3})
	if err != nil {
		t.Fatalf("ListAlerts page 2: %v", err)
	}
	if len(page2) != 1 {
		t.Errorf("page 2 len = %d, want 1", len(page2))
	}

	page9, total, err := s.ListAlerts(context.Background(), triage.ListOptions{Page: 9, PageSize: 3})
	if err != nil {
		t.Fatalf("ListAlerts page 9: %v", err)
	}
	if len(page9) != 0 || total != 4 {
		t.Errorf("past-the-end page: len=%d total=%d, want 0/4", len(page9), total)
	}
}

func TestStore_Stats(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	seedAlerts(t, s)

	v := triage.VerdictMalicious
	_ = s.SaveResult(ctx, &triage.Result{ID: "t-1", AlertID: "a-1", Status: triage.StatusComplete, Verdict: &v})
	_ = s.SaveResult(ctx, &triage.Result{
		ID: "t-2", AlertID: "a-2", Status: triage.StatusComplete,
		Analysis: &triage.Analysis{Conclusion: triage.VerdictBenign},
	})
	_ = s.SaveResult(ctx, &triage.Result{ID: "t-3", AlertID: "a-3", Status: triage.StatusPending})

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.TotalAlerts != 4 {
		t.Errorf("TotalAlerts = %d, want 4", st.TotalAlerts)
	}
	if st.ByLevel["Low"] != 2 {
		t.Errorf("ByLevel[Low] = %d, want 2", st.ByLevel["Low"])
	}
	if st.ByVerdict["malicious"] != 1 || st.ByVerdict["benign"] != 1 {
		t.Errorf("ByVerdict = %v, want malicious:1 benign:1", st.ByVerdict)
	}
	if _, ok := st.ByVerdict[""]; ok {
		t.Error("pending results must not contribute a verdict bucket")
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	const n = 100

	var wg sync.WaitGroup
	wg.Add(n * 2)

	for i := range n {
		alertID := fmt.Sprintf("a-%d", i)
		resultID := fmt.Sprintf("t-%d", i)

		go func() {
			defer wg.Done()
			_ = s.SaveAlert(ctx, &alert.Alert{ID: alertID, Level: "Medium"})
			_ = s.SaveResult(ctx, &triage.Result{ID: resultID, AlertID: alertID, Status: triage.StatusPending})
		}()

		go func() {
			defer wg.Done()
			_, _, _ = s.GetAlert(ctx, alertID)
			_, _, _ = s.GetResultByAlert(ctx, alertID)
			_, _, _ = s.ListAlerts(ctx, triage.ListOptions{PageSize: 10})
		}()
	}

	wg.Wait()
}
