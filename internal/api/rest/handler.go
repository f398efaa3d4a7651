package rest

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/seowatch/seowatch-backend/internal/alerting"
	"github.com/seowatch/seowatch-backend/internal/repository"
	"github.com/seowatch/seowatch-backend/internal/service"
)

// Runner triggers an on-demand detection pass.
type Runner interface {
	Run(ctx context.Context) (*service.RunSummary, error)
}

// Handler manages HTTP request handlers
type Handler struct {
	anomalies repository.AnomalyRepository
	alerts    repository.AlertRepository
	jobs      repository.NotificationRepository
	rules     *alerting.RuleSet
	runner    Runner
}

// NewHandler creates a new HTTP handler
func NewHandler(repo repository.Repository, rules *alerting.RuleSet, runner Runner) *Handler {
	return &Handler{
		anomalies: repo,
		alerts:    repo,
		jobs:      repo,
		rules:     rules,
		runner:    runner,
	}
}

// SetupRoutes configures API routes
func SetupRoutes(router *mux.Router, h *Handler) {
	// Anomaly routes
	router.HandleFunc("/anomalies", h.ListAnomalies).Methods("GET")
	router.HandleFunc("/anomalies/{id}", h.GetAnomaly).Methods("GET")
	router.HandleFunc("/anomalies/{id}/resolve", h.ResolveAnomaly).Methods("POST")

	// Alert routes
	router.HandleFunc("/alerts", h.ListAlerts).Methods("GET")
	router.HandleFunc("/alerts/{id}", h.GetAlert).Methods("GET")

	// Rule routes
	router.HandleFunc("/rules", h.ListRules).Methods("GET")

	// Notification queue routes
	router.HandleFunc("/jobs", h.ListJobs).Methods("GET")
	router.HandleFunc("/jobs/dead", h.ListDeadJobs).Methods("GET")
	router.HandleFunc("/jobs/{id}", h.GetJob).Methods("GET")
	router.HandleFunc("/jobs/{id}/replay", h.ReplayJob).Methods("POST")

	// Pipeline control
	router.HandleFunc("/runs", h.TriggerRun).Methods("POST")
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
