package alertapi

import (
	"io"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/tidwall/gjson"

	"github.com/linnemanlabs/warden/internal/triage"
)

// maxAlertBody caps ingested alert payloads at 1 MiB.
const maxAlertBody = 1 << 20

func (a *API) handleIngestAlert(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxAlertBody+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}
	if len(body) > maxAlertBody {
		writeError(w, http.StatusRequestEntityTooLarge, "alert payload too large")
		return
	}
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		writeError(w, http.StatusBadRequest, "alert must be a JSON object")
		return
	}

	al, result, err := a.svc.Ingest(r.Context(), body)
	if err != nil {
		a.logger.Error(r.Context(), err, "alert ingest failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("warden.alert.id", al.ID),
		attribute.String("warden.alert.name", al.Name),
	)

	a.writeJSON(r.Context(), w, http.StatusAccepted, map[string]any{
		"alert_id":  al.ID,
		"result_id": result.ID,
		"status":    result.Status,
	})
}

func (a *API) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("warden.alert.id", id))

	al, ok, err := a.svc.GetAlert(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get alert", "id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	resp := map[string]any{"alert": al}
	if result, ok, err := a.svc.GetResultByAlert(r.Context(), id); err != nil {
		a.logger.Error(r.Context(), err, "failed to get triage result", "alert_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	} else if ok {
		resp["triage"] = result
	}

	a.writeJSON(r.Context(), w, http.StatusOK, resp)
}

func (a *API) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	opts := listOptionsFromQuery(r)

	alerts, total, err := a.svc.ListAlerts(r.Context(), opts)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list alerts")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	a.writeJSON(r.Context(), w, http.StatusOK, map[string]any{
		"alerts":    alerts,
		"total":     total,
		"page":      opts.Page,
		"page_size": opts.PageSize,
	})
}

func listOptionsFromQuery(r *http.Request) triage.ListOptions {
	q := r.URL.Query()

	opts := triage.ListOptions{
		Page:     1,
		PageSize: 20,
		Level:    q.Get("level"),
		Verdict:  q.Get("verdict"),
		SortBy:   q.Get("sort_by"),
		SortDesc: q.Get("order") != "asc",
	}
	if page, err := strconv.Atoi(q.Get("page")); err == nil && page > 0 {
		opts.Page = page
	}
	if size, err := strconv.Atoi(q.Get("page_size")); err == nil && size > 0 && size <= 100 {
		opts.PageSize = size
	}
	return opts
}
