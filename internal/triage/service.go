package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/warden/internal/alert"
	"github.com/oklog/ulid/v2"
)

// Notifier delivers a finished triage result to an external channel.
type Notifier interface {
	Notify(ctx context.Context, a *alert.Alert, r *Result) error
}

// Service is the business boundary for alert triage: it owns ingest,
// persistence, async dispatch and notification around the pure Pipeline.
type Service struct {
	store    Store
	pipeline *Pipeline
	notifier Notifier
	logger   log.Logger
	metrics  *Metrics
}

// NewService creates a new triage service. notifier and metrics may be nil.
func NewService(store Store, pipeline *Pipeline, logger log.Logger, metrics *Metrics, notifier Notifier) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		store:    store,
		pipeline: pipeline,
		notifier: notifier,
		logger:   logger,
		metrics:  metrics,
	}
}

// Ingest stores a raw alert and kicks off asynchronous triage. The returned
// result holds the IDs the caller needs to poll.
func (s *Service) Ingest(ctx context.Context, raw json.RawMessage) (*alert.Alert, *Result, error) {
	now := time.Now()

	a := alert.FromRaw(raw, now)
	a.ID = ulid.Make().String()
	if err := s.store.SaveAlert(ctx, a); err != nil {
		s.countSubmit("store_error")
		return nil, nil, fmt.Errorf("save alert: %w", err)
	}

	r := &Result{
		ID:        ulid.Make().String(),
		AlertID:   a.ID,
		Status:    StatusPending,
		CreatedAt: now,
	}
	if err := s.store.SaveResult(ctx, r); err != nil {
		s.countSubmit("store_error")
		return nil, nil, fmt.Errorf("save result: %w", err)
	}

	s.countSubmit("accepted")

	// Async triage outlives the ingest request; pass IDs, not shared pointers.
	go s.runTriage(context.WithoutCancel(ctx), a, r.ID)

	return a, r, nil
}

// Triage runs the pipeline synchronously for an already-stored alert,
// replacing any previous result. Used by the re-triage endpoint.
func (s *Service) Triage(ctx context.Context, alertID string) (*Result, error) {
	a, ok, err := s.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, fmt.Errorf("get alert: %w", err)
	}
	if !ok {
		return nil, ErrAlertNotFound
	}

	prev, havePrev, err := s.store.GetResultByAlert(ctx, alertID)
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}

	r, err := s.pipeline.Run(ctx, a.Raw)
	if err != nil {
		return nil, err
	}

	r.AlertID = a.ID
	r.CreatedAt = time.Now()
	r.CompletedAt = time.Now()
	if havePrev {
		r.ID = prev.ID
		r.CreatedAt = prev.CreatedAt
	} else {
		r.ID = ulid.Make().String()
	}

	if err := s.store.SaveResult(ctx, r); err != nil {
		return nil, fmt.Errorf("save result: %w", err)
	}
	return r, nil
}

// GetAlert retrieves a stored alert by ID.
func (s *Service) GetAlert(ctx context.Context, id string) (*alert.Alert, bool, error) {
	return s.store.GetAlert(ctx, id)
}

// GetResultByAlert retrieves the triage result for an alert.
func (s *Service) GetResultByAlert(ctx context.Context, alertID string) (*Result, bool, error) {
	return s.store.GetResultByAlert(ctx, alertID)
}

// ListAlerts returns a page of stored alerts and the total match count.
func (s *Service) ListAlerts(ctx context.Context, opts ListOptions) ([]*alert.Alert, int, error) {
	return s.store.ListAlerts(ctx, opts)
}

// Stats returns the dashboard aggregation.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	return s.store.Stats(ctx)
}

func (s *Service) runTriage(ctx context.Context, a *alert.Alert, resultID string) {
	L := s.logger.With("triage_id", resultID, "alert_id", a.ID, "alert", a.Name)

	r, ok, err := s.store.GetResult(ctx, resultID)
	if err != nil || !ok {
		L.Error(ctx, err, "failed to fetch result for triage")
		return
	}

	r.Status = StatusInProgress
	if err := s.store.SaveResult(ctx, r); err != nil {
		L.Error(ctx, err, "failed to update status to in_progress")
		return
	}

	pr, err := s.pipeline.Run(ctx, a.Raw)
	if err != nil {
		r.Status = StatusFailed
		r.Errors = append(r.Errors, err.Error())
		r.CompletedAt = time.Now()
		if serr := s.store.SaveResult(ctx, r); serr != nil {
			L.Error(ctx, serr, "failed to persist failed triage")
		}
		L.Error(ctx, err, "triage pipeline failed")
		return
	}

	r.Status = StatusComplete
	r.BaseInfo = pr.BaseInfo
	r.Classification = pr.Classification
	r.AttackMapping = pr.AttackMapping
	r.Entities = pr.Entities
	r.TIMatching = pr.TIMatching
	r.Verdict = pr.Verdict
	r.Analysis = pr.Analysis
	r.ProcessingTimeMs = pr.ProcessingTimeMs
	r.Errors = pr.Errors
	r.CompletedAt = time.Now()

	if err := s.store.SaveResult(ctx, r); err != nil {
		L.Error(ctx, err, "failed to persist triage result")
		return
	}

	L.Info(ctx, "triage complete",
		"verdict", verdictLabel(r.Verdict),
		"duration_ms", r.ProcessingTimeMs,
		"stage_errors", len(r.Errors),
	)

	if s.notifier != nil && malicious(r) {
		if err := s.notifier.Notify(ctx, a, r); err != nil {
			L.Error(ctx, err, "notification failed")
		}
	}
}

func (s *Service) countSubmit(result string) {
	if s.metrics != nil {
		s.metrics.SubmitsTotal.WithLabelValues(result).Inc()
	}
}

func malicious(r *Result) bool {
	if r.Verdict != nil && *r.Verdict == VerdictMalicious {
		return true
	}
	return r.Analysis != nil && r.Analysis.Conclusion == VerdictMalicious
}
