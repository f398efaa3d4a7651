package rest

import "net/http"

// TriggerRun handles POST /runs - kick off a detection pass synchronously and
// return its summary. Runs are serialized inside the pipeline; a concurrent
// trigger simply waits its turn.
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	summary, err := h.runner.Run(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, summary)
}
