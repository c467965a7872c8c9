package triage

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/warden/internal/alert"
)

// fakeStore is an in-test Store with injectable failures.
type fakeStore struct {
	mu           sync.Mutex
	alerts       map[string]*alert.Alert
	results      map[string]*Result
	saveAlertErr error
	saveResErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		alerts:  make(map[string]*alert.Alert),
		results: make(map[string]*Result),
	}
}

func (f *fakeStore) SaveAlert(_ context.Context, a *alert.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveAlertErr != nil {
		return f.saveAlertErr
	}
	f.alerts[a.ID] = a
	return nil
}

func (f *fakeStore) GetAlert(_ context.Context, id string) (*alert.Alert, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.alerts[id]
	return a, ok, nil
}

func (f *fakeStore) ListAlerts(_ context.Context, _ ListOptions) ([]*alert.Alert, int, error) {
	return nil, 0, nil
}

func (f *fakeStore) SaveResult(_ context.Context, r *Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveResErr != nil {
		return f.saveResErr
	}
	cp := *r
	f.results[r.ID] = &cp
	return nil
}

func (f *fakeStore) GetResult(_ context.Context, id string) (*Result, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.results[id]
	if !ok {
		return nil, false, nil
	}
	cp := *r
	return &cp, true, nil
}

func (f *fakeStore) GetResultByAlert(_ context.Context, alertID string) (*Result, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.results {
		if r.AlertID == alertID {
			cp := *r
			return &cp, true, nil
		}
	}
	return nil, false, nil
}

func (f *fakeStore) Stats(_ context.Context) (*Stats, error) {
	return &Stats{}, nil
}

// recordingNotifier remembers every delivery.
type recordingNotifier struct {
	mu    sync.Mutex
	calls []string // alert IDs
}

func (n *recordingNotifier) Notify(_ context.Context, a *alert.Alert, _ *Result) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, a.ID)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

// waitForStatus polls the store until the result reaches the wanted status.
func waitForStatus(t *testing.T, store *fakeStore, id string, want Status) *Result {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		r, ok, err := store.GetResult(context.Background(), id)
		if err != nil {
			t.Fatalf("GetResult: %v", err)
		}
		if ok && r.Status == want {
			return r
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("result %s never reached status %q", id, want)
	return nil
}

func maliciousReputation() *mockReputation {
	return &mockReputation{results: map[string]*Reputation{
		"203.0.113.5": {Detected: true, Positives: 12, Total: 70},
	}}
}

func TestService_IngestRunsTriageAsync(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	reasoner := &mockReasoner{outputs: goodOutputs()}
	svc := NewService(store, newTestPipeline(reasoner, maliciousReputation()), log.Nop(), nil, nil)

	a, r, err := svc.Ingest(context.Background(), testRaw())
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if a.ID == "" || r.ID == "" {
		t.Fatalf("missing IDs: alert %q result %q", a.ID, r.ID)
	}
	if r.Status != StatusPending {
		t.Errorf("Status = %q, want %q", r.Status, StatusPending)
	}
	if r.AlertID != a.ID {
		t.Errorf("AlertID = %q, want %q", r.AlertID, a.ID)
	}

	final := waitForStatus(t, store, r.ID, StatusComplete)
	if final.Verdict == nil || *final.Verdict != VerdictMalicious {
		t.Errorf("Verdict = %v, want malicious", final.Verdict)
	}
	if final.Analysis == nil || final.Analysis.Conclusion != VerdictMalicious {
		t.Errorf("Analysis = %+v", final.Analysis)
	}
	if final.CompletedAt.IsZero() {
		t.Error("CompletedAt not set")
	}
}

func TestService_IngestSurvivesCallerCancel(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	reasoner := &mockReasoner{outputs: goodOutputs()}
	svc := NewService(store, newTestPipeline(reasoner, maliciousReputation()), log.Nop(), nil, nil)

	// The ingest HTTP request finishing must not cancel the background run.
	ctx, cancel := context.WithCancel(context.Background())
	_, r, err := svc.Ingest(ctx, testRaw())
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	cancel()

	waitForStatus(t, store, r.ID, StatusComplete)
}

func TestService_IngestSaveAlertError(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.saveAlertErr = errors.New("disk full")
	reasoner := &mockReasoner{outputs: goodOutputs()}
	svc := NewService(store, newTestPipeline(reasoner, nil), log.Nop(), nil, nil)

	_, _, err := svc.Ingest(context.Background(), testRaw())
	if err == nil {
		t.Fatal("expected error when alert save fails")
	}
}

func TestService_NotifiesOnMalicious(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	notifier := &recordingNotifier{}
	reasoner := &mockReasoner{outputs: goodOutputs()}
	svc := NewService(store, newTestPipeline(reasoner, maliciousReputation()), log.Nop(), nil, notifier)

	a, r, err := svc.Ingest(context.Background(), testRaw())
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	waitForStatus(t, store, r.ID, StatusComplete)

	deadline := time.Now().Add(time.Second)
	for notifier.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := notifier.count(); got != 1 {
		t.Fatalf("notifications = %d, want 1", got)
	}
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if notifier.calls[0] != a.ID {
		t.Errorf("notified alert = %q, want %q", notifier.calls[0], a.ID)
	}
}

func TestService_NoNotificationForBenign(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	notifier := &recordingNotifier{}
	outputs := goodOutputs()
	outputs["record_analysis"] = json.RawMessage(`{"conclusion":"benign","investigation_steps":[{"step":1,"title":"Close","details":"No action needed."}]}`)
	reasoner := &mockReasoner{outputs: outputs}
	// All lookups come back clean.
	svc := NewService(store, newTestPipeline(reasoner, &mockReputation{}), log.Nop(), nil, notifier)

	_, r, err := svc.Ingest(context.Background(), testRaw())
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	waitForStatus(t, store, r.ID, StatusComplete)

	if got := notifier.count(); got != 0 {
		t.Errorf("notifications = %d, want 0 for benign result", got)
	}
}

func TestService_TriageNotFound(t *testing.T) {
	t.Parallel()

	svc := NewService(newFakeStore(), newTestPipeline(&mockReasoner{}, nil), log.Nop(), nil, nil)

	_, err := svc.Triage(context.Background(), "missing")
	if !errors.Is(err, ErrAlertNotFound) {
		t.Errorf("err = %v, want ErrAlertNotFound", err)
	}
}

func TestService_TriageReplacesPreviousResult(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	a := alert.FromRaw(testRaw(), time.Now())
	a.ID = "alert-1"
	if err := store.SaveAlert(context.Background(), a); err != nil {
		t.Fatalf("SaveAlert: %v", err)
	}
	created := time.Now().Add(-time.Hour)
	prev := &Result{ID: "result-1", AlertID: "alert-1", Status: StatusComplete, CreatedAt: created}
	if err := store.SaveResult(context.Background(), prev); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}

	reasoner := &mockReasoner{outputs: goodOutputs()}
	svc := NewService(store, newTestPipeline(reasoner, maliciousReputation()), log.Nop(), nil, nil)

	r, err := svc.Triage(context.Background(), "alert-1")
	if err != nil {
		t.Fatalf("Triage: %v", err)
	}
	if r.ID != "result-1" {
		t.Errorf("result ID = %q, want previous ID preserved", r.ID)
	}
	if !r.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want original %v", r.CreatedAt, created)
	}
	if r.Analysis == nil || r.Analysis.Conclusion != VerdictMalicious {
		t.Errorf("Analysis = %+v", r.Analysis)
	}
}

func TestService_TriageFreshAlertGetsNewResultID(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	a := alert.FromRaw(testRaw(), time.Now())
	a.ID = "alert-2"
	if err := store.SaveAlert(context.Background(), a); err != nil {
		t.Fatalf("SaveAlert: %v", err)
	}

	reasoner := &mockReasoner{outputs: goodOutputs()}
	svc := NewService(store, newTestPipeline(reasoner, nil), log.Nop(), nil, nil)

	r, err := svc.Triage(context.Background(), "alert-2")
	if err != nil {
		t.Fatalf("Triage: %v", err)
	}
	if r.ID == "" {
		t.Error("result ID not assigned")
	}
	if r.AlertID != "alert-2" {
		t.Errorf("AlertID = %q, want alert-2", r.AlertID)
	}
}

func TestService_FailedPipelineMarksResultFailed(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	reasoner := &mockReasoner{outputs: goodOutputs()}
	svc := NewService(store, newTestPipeline(reasoner, nil), log.Nop(), nil, nil)

	// Not a JSON object: the pipeline rejects it outright.
	_, _, err := svc.Ingest(context.Background(), json.RawMessage(`[1,2,3]`))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	// Find the single stored result and wait for the failure.
	store.mu.Lock()
	var id string
	for k := range store.results {
		id = k
	}
	store.mu.Unlock()

	final := waitForStatus(t, store, id, StatusFailed)
	if len(final.Errors) == 0 {
		t.Error("expected failure recorded in Errors")
	}
}
