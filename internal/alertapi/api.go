// Package alertapi exposes alert ingestion and triage results over HTTP.
package alertapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/warden/internal/alert"
	"github.com/linnemanlabs/warden/internal/triage"
)

// TriageService defines the business operations alertapi needs.
type TriageService interface {
	Ingest(ctx context.Context, raw json.RawMessage) (*alert.Alert, *triage.Result, error)
	Triage(ctx context.Context, alertID string) (*triage.Result, error)
	GetAlert(ctx context.Context, id string) (*alert.Alert, bool, error)
	GetResultByAlert(ctx context.Context, alertID string) (*triage.Result, bool, error)
	ListAlerts(ctx context.Context, opts triage.ListOptions) ([]*alert.Alert, int, error)
	Stats(ctx context.Context) (*triage.Stats, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    TriageService
}

// New creates a new API handler.
func New(logger log.Logger, svc TriageService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("triage service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/alerts", a.handleIngestAlert)
		r.Get("/alerts", a.handleListAlerts)
		r.Get("/alerts/{id}", a.handleGetAlert)
		r.Post("/alerts/{id}/triage", a.handleTriageAlert)
		r.Get("/stats", a.handleStats)
	})
}

func (a *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error(ctx, err, "failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
