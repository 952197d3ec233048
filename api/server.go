package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/tallisward/convdn/pkg/dollarneutral"
	"github.com/tallisward/convdn/pkg/monitor"
)

var (
	computeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "convdn_compute_total",
		Help: "Dollar-neutral computations by method and outcome.",
	}, []string{"method", "outcome"})

	computeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "convdn_compute_duration_seconds",
		Help:    "End-to-end duration of a dollar-neutral computation.",
		Buckets: prometheus.DefBuckets,
	})
)

type Server struct {
	monitor *monitor.Monitor
	logger  *logrus.Logger
	port    string
}

func NewServer(m *monitor.Monitor, logger *logrus.Logger, port string) *Server {
	return &Server{
		monitor: m,
		logger:  logger,
		port:    port,
	}
}

func (s *Server) Start() error {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/dn/compute", s.handleCompute)
	mux.HandleFunc("/api/dn/snapshots", s.handleSnapshots)
	mux.Handle("/metrics", promhttp.Handler())

	handler := corsMiddleware(mux)

	s.logger.Infof("Starting API server on port %s", s.port)
	return http.ListenAndServe(":"+s.port, handler)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	}

	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleCompute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var job monitor.Job
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	start := time.Now()
	result, err := s.monitor.Run(r.Context(), job)
	computeDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		computeTotal.WithLabelValues(string(job.Method), "error").Inc()
		s.logger.WithError(err).WithField("convertible", job.Convertible).Error("Computation failed")
		s.writeError(w, statusForError(err), err.Error())
		return
	}

	computeTotal.WithLabelValues(string(job.Method), "ok").Inc()
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, http.StatusOK, s.monitor.Snapshots())
}

// statusForError maps engine failures to HTTP statuses: caller input
// problems are 422/400, everything else is a 502 from a collaborator.
func statusForError(err error) int {
	switch {
	case errors.Is(err, dollarneutral.ErrUnsupportedMethod),
		errors.Is(err, dollarneutral.ErrMissingNukeSeries):
		return http.StatusBadRequest
	case errors.Is(err, dollarneutral.ErrEmptyOverlap),
		errors.Is(err, dollarneutral.ErrAnchorOutOfRange):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
