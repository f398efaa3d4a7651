package rest

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/seowatch/seowatch-backend/internal/models"
)

// ListJobs handles GET /jobs?status=queued|in_flight|delivered|dead
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	status := models.JobStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = models.JobStatusQueued
	}
	switch status {
	case models.JobStatusQueued, models.JobStatusInFlight, models.JobStatusDelivered, models.JobStatusDead:
	default:
		respondError(w, http.StatusBadRequest, "invalid status")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		var err error
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}

	jobs, err := h.jobs.ListJobs(r.Context(), status, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if jobs == nil {
		jobs = []*models.NotificationJob{}
	}
	respondJSON(w, http.StatusOK, jobs)
}

// ListDeadJobs handles GET /jobs/dead - the dead-letter queue.
func (h *Handler) ListDeadJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.jobs.ListJobs(r.Context(), models.JobStatusDead, 0)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if jobs == nil {
		jobs = []*models.NotificationJob{}
	}
	respondJSON(w, http.StatusOK, jobs)
}

// GetJob handles GET /jobs/{id} - the job plus its full attempt history.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := h.jobs.GetJob(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	attempts, err := h.jobs.ListAttempts(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if attempts == nil {
		attempts = []*models.DeliveryAttempt{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"job":      job,
		"attempts": attempts,
	})
}

// ReplayJob handles POST /jobs/{id}/replay - requeue a dead-lettered job.
func (h *Handler) ReplayJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.jobs.ReplayDeadJob(r.Context(), id); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(models.JobStatusQueued)})
}
