// ABOUTME: HTTP serving layer for uploads, downloads, history and the admin dashboard.
// ABOUTME: Routes are registered on a gorilla/mux router and traced with otelhttp.

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jfeddern/VulnRisk/internal/engine"
	"github.com/jfeddern/VulnRisk/internal/history"
	"github.com/jfeddern/VulnRisk/internal/types"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultMaxUploadBytes caps the size of an uploaded system log
const DefaultMaxUploadBytes int64 = 500 << 20

// DefaultModelDeployed is reported by the admin metrics endpoint when unset
const DefaultModelDeployed = "2025-03-30"

// Scorer runs scoring pipelines and direct inference. *engine.Engine implements it.
type Scorer interface {
	Run(ctx context.Context, req engine.Request) (*types.PredictionResult, error)
	Predict(ctx context.Context, req engine.PredictRequest) (*engine.Prediction, error)
}

// Config holds the directories and limits used by the handlers
type Config struct {
	Port           int
	UploadDir      string
	PredictionsDir string
	CatalogFile    string
	DefaultModel   string
	ModelDeployed  string
	MaxUploadBytes int64
}

// Server serves the scoring API
type Server struct {
	config  *Config
	scorer  Scorer
	history history.Store
	tracker *history.ActivityTracker
	metrics http.Handler
	logger  *logrus.Logger
	now     func() time.Time

	srv *http.Server
}

// NewServer creates the API server. metricsHandler may be nil.
func NewServer(config *Config, scorer Scorer, store history.Store, tracker *history.ActivityTracker, metricsHandler http.Handler, logger *logrus.Logger) *Server {
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if config.ModelDeployed == "" {
		config.ModelDeployed = DefaultModelDeployed
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "V1"
	}
	if tracker == nil {
		tracker = history.NewActivityTracker(history.DefaultActiveWindow)
	}
	return &Server{
		config:  config,
		scorer:  scorer,
		history: store,
		tracker: tracker,
		metrics: metricsHandler,
		logger:  logger,
		now:     time.Now,
	}
}

// Routes builds the router with all endpoints and middleware
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()
	r.Use(s.securityMiddleware)

	r.HandleFunc("/", s.handleHome).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/upload", s.handleUpload).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/download/{filename}", s.handleDownload).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/products", s.handleProducts).Methods(http.MethodGet)
	api.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/ping", s.handlePing).Methods(http.MethodGet)
	api.HandleFunc("/predict", s.handlePredict).Methods(http.MethodPost, http.MethodOptions)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/metrics", s.handleAdminMetrics).Methods(http.MethodGet)
	admin.HandleFunc("/weekly-predictions", s.handleWeeklyPredictions).Methods(http.MethodGet)
	admin.HandleFunc("/model-usage", s.handleModelUsage).Methods(http.MethodGet)
	admin.HandleFunc("/daily-totals", s.handleDailyTotals).Methods(http.MethodGet)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}

	return otelhttp.NewHandler(r, "vulnrisk-server")
}

// Start serves until ctx is done, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	go func() {
		<-ctx.Done()
		s.logger.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.logger.WithError(err).Error("HTTP server shutdown failed")
		}
	}()

	s.logger.WithFields(logrus.Fields{
		"port":        s.config.Port,
		"upload_dir":  s.config.UploadDir,
		"predictions": s.config.PredictionsDir,
	}).Info("Starting HTTP server")

	if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) securityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Security headers
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		// CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		s.logger.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"remote_ip":  r.RemoteAddr,
			"user_agent": r.UserAgent(),
		}).Debug("HTTP request received")

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, "Server is running!")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
