package alertapi

import (
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/warden/internal/triage"
)

// handleTriageAlert re-runs the pipeline synchronously for a stored alert.
func (a *API) handleTriageAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("warden.alert.id", id))

	result, err := a.svc.Triage(r.Context(), id)
	if err != nil {
		if errors.Is(err, triage.ErrAlertNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		a.logger.Error(r.Context(), err, "re-triage failed", "alert_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	span.SetAttributes(attribute.String("warden.triage.status", string(result.Status)))

	a.writeJSON(r.Context(), w, http.StatusOK, result)
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.svc.Stats(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to compute stats")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	a.writeJSON(r.Context(), w, http.StatusOK, stats)
}
