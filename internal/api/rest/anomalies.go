package rest

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/seowatch/seowatch-backend/internal/models"
	"github.com/seowatch/seowatch-backend/internal/repository"
)

// ListAnomalies handles GET /anomalies.
// Filters: entity_id, metric, status, since, until (RFC 3339 or YYYY-MM-DD), limit.
func (h *Handler) ListAnomalies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.AnomalyFilter{
		EntityID: q.Get("entity_id"),
		Metric:   models.MetricName(q.Get("metric")),
		Status:   models.AnomalyStatus(q.Get("status")),
	}

	var err error
	if filter.Since, err = parseTimeParam(q.Get("since")); err != nil {
		respondError(w, http.StatusBadRequest, "invalid since: "+err.Error())
		return
	}
	if filter.Until, err = parseTimeParam(q.Get("until")); err != nil {
		respondError(w, http.StatusBadRequest, "invalid until: "+err.Error())
		return
	}
	if raw := q.Get("limit"); raw != "" {
		if filter.Limit, err = strconv.Atoi(raw); err != nil || filter.Limit < 0 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}

	anomalies, err := h.anomalies.ListAnomalies(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if anomalies == nil {
		anomalies = []*models.Anomaly{}
	}
	respondJSON(w, http.StatusOK, anomalies)
}

// GetAnomaly handles GET /anomalies/{id}
func (h *Handler) GetAnomaly(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	anomaly, err := h.anomalies.GetAnomaly(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, anomaly)
}

// ResolveAnomaly handles POST /anomalies/{id}/resolve - operator force-resolve.
// A resolved anomaly stays resolved: later detection runs re-create a new
// finding rather than reviving this one.
func (h *Handler) ResolveAnomaly(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := h.anomalies.GetAnomaly(r.Context(), id); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	if err := h.anomalies.UpdateAnomalyStatus(r.Context(), id, models.AnomalyStatusResolved); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(models.AnomalyStatusResolved)})
}

// parseTimeParam accepts RFC 3339 timestamps or bare dates.
func parseTimeParam(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	layout := time.RFC3339
	if !strings.Contains(raw, "T") {
		layout = "2006-01-02"
	}
	t, err := time.Parse(layout, raw)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}
