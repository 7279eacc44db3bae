// ABOUTME: Admin dashboard endpoints backed by run history and the activity tracker.
// ABOUTME: Serves usage counters, chart series and the ping endpoint that marks users active.

package server

import (
	"net/http"
	"time"

	"github.com/jfeddern/VulnRisk/internal/history"
)

// AdminMetrics summarizes current service usage
type AdminMetrics struct {
	ActiveUsers      int    `json:"activeUsers"`
	QueueLength      int    `json:"queueLength"`
	DailyPredictions int    `json:"dailyPredictions"`
	ModelDeployed    string `json:"modelDeployed"`
}

func (s *Server) handleAdminMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, AdminMetrics{
		ActiveUsers:      s.tracker.ActiveUsers(),
		QueueLength:      s.tracker.QueueLength(),
		DailyPredictions: history.DailyPredictions(s.records(), s.now()),
		ModelDeployed:    s.config.ModelDeployed,
	})
}

func (s *Server) handleWeeklyPredictions(w http.ResponseWriter, r *http.Request) {
	rangeParam := r.URL.Query().Get("range")
	if rangeParam == "" {
		rangeParam = history.RangeWeekly
	}
	writeJSON(w, http.StatusOK, history.BuildSeries(s.records(), rangeParam, s.now()))
}

func (s *Server) handleModelUsage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, history.ModelUsage(s.records()))
}

func (s *Server) handleDailyTotals(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, history.DailyTotals(s.records(), s.now()))
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	s.tracker.Touch(clientIP(r))
	writeJSON(w, http.StatusOK, map[string]string{
		"message":   "pong",
		"timestamp": s.now().Format(time.RFC3339),
	})
}
