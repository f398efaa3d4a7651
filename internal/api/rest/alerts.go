package rest

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/seowatch/seowatch-backend/internal/models"
	"github.com/seowatch/seowatch-backend/internal/repository"
)

// ListAlerts handles GET /alerts.
// Filters: rule_id, entity_id, status, since, limit.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.AlertFilter{
		RuleID:   q.Get("rule_id"),
		EntityID: q.Get("entity_id"),
		Status:   models.AlertStatus(q.Get("status")),
	}

	var err error
	if filter.Since, err = parseTimeParam(q.Get("since")); err != nil {
		respondError(w, http.StatusBadRequest, "invalid since: "+err.Error())
		return
	}
	if raw := q.Get("limit"); raw != "" {
		if filter.Limit, err = strconv.Atoi(raw); err != nil || filter.Limit < 0 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}

	alerts, err := h.alerts.ListAlerts(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if alerts == nil {
		alerts = []*models.Alert{}
	}
	respondJSON(w, http.StatusOK, alerts)
}

// GetAlert handles GET /alerts/{id}
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	alert, err := h.alerts.GetAlert(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, alert)
}

// ListRules handles GET /rules - every loaded rule with its validation state,
// so operators can see which rules were excluded and why.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.rules.Statuses())
}
