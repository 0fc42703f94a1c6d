// Package server provides the HTTP API of the threatcore service.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/threatcore/internal/anomaly"
	"github.com/invisible-tech/threatcore/internal/classifier"
	"github.com/invisible-tech/threatcore/internal/config"
	"github.com/invisible-tech/threatcore/internal/controller"
	"github.com/invisible-tech/threatcore/internal/types"
	"github.com/invisible-tech/threatcore/internal/version"
)

const (
	maxEventBody    = 1 << 20
	maxTrainingBody = 64 << 20
	defaultAlerts   = 100
)

// Server is the HTTP server for the service API.
type Server struct {
	cfg        config.ServiceConfig
	controller *controller.Controller
	log        *logrus.Logger
	httpServer *http.Server
}

// New creates a new HTTP server that uses the given controller.
func New(cfg config.ServiceConfig, ctrl *controller.Controller, log *logrus.Logger) *Server {
	mux := http.NewServeMux()
	s := &Server{cfg: cfg, controller: ctrl, log: log}
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/v1/events", s.handleEvents)
	mux.HandleFunc("/api/v1/analyze", s.handleAnalyze)
	mux.HandleFunc("/api/v1/alerts", s.handleAlerts)
	mux.HandleFunc("/api/v1/correlations", s.handleCorrelations)
	mux.HandleFunc("/api/v1/incidents", s.handleIncidents)
	mux.HandleFunc("/api/v1/ml/stats", s.handleMLStats)
	mux.HandleFunc("/api/v1/ml/anomaly/retrain", s.handleAnomalyRetrain)
	mux.HandleFunc("/api/v1/ml/classifier/train", s.handleClassifierTrain)
	mux.HandleFunc("/api/v1/ml/window/reset", s.handleWindowReset)
	mux.Handle("/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts the HTTP server. It blocks until the server is closed.
func (s *Server) ListenAndServe() error {
	s.log.WithField("addr", s.cfg.HTTPAddr).Info("threatcore listening")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": version.Version,
	})
}

func decodeEvent(w http.ResponseWriter, r *http.Request, ev *types.Event) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBody)).Decode(ev); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return false
	}
	if ev.Type == "" {
		http.Error(w, "event_type is required", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var event types.Event
	if !decodeEvent(w, r, &event) {
		return
	}
	if err := s.controller.IngestEvent(&event); err != nil {
		http.Error(w, "Event buffer full", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req types.AnalyzeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBody)).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Event.Type == "" {
		http.Error(w, "event.event_type is required", http.StatusBadRequest)
		return
	}
	insight, _ := s.controller.Analyze(r.Context(), &req.Event, req.Context)
	writeJSON(w, http.StatusOK, insight)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	limit := defaultAlerts
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, s.controller.GetAlerts(limit))
}

// handleCorrelations returns the last pass on GET and runs a pass on POST.
func (s *Server) handleCorrelations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.controller.GetCorrelations())
	case http.MethodPost:
		writeJSON(w, http.StatusOK, s.controller.RunCorrelation(r.Context()))
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleIncidents(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, s.controller.GetIncidents())
}

func (s *Server) handleMLStats(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, s.controller.Stats())
}

func (s *Server) handleAnomalyRetrain(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	n, err := s.controller.RetrainAnomaly()
	if err != nil {
		s.trainingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "trained",
		"samples": n,
	})
}

func (s *Server) handleClassifierTrain(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req types.TrainRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTrainingBody)).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	res, err := s.controller.TrainClassifier(req.Samples)
	if err != nil {
		s.trainingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) trainingError(w http.ResponseWriter, err error) {
	if errors.Is(err, classifier.ErrInsufficientData) || errors.Is(err, anomaly.ErrInsufficientData) {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	s.log.WithError(err).Warn("Model training failed")
	http.Error(w, err.Error(), http.StatusBadRequest)
}

func (s *Server) handleWindowReset(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	s.controller.ResetWindow()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
