// Package server exposes wrapper metrics over HTTP while the CLI runs.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/psantana5/rescue/internal/report"
	"github.com/psantana5/rescue/pkg/logging"
)

// NewRouter registers the metrics endpoints.
//
//	GET /metrics   Prometheus text format
//	GET /snapshot  current series as JSON
//	GET /health
func NewRouter(m *report.Metrics, logger *logging.Logger) *mux.Router {
	if logger == nil {
		logger = logging.Discard()
	}

	router := mux.NewRouter()
	router.Use(requestLogger(logger))
	router.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/snapshot", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(m.Snapshot()); err != nil {
			logger.Error("Failed to encode snapshot", map[string]interface{}{"error": err.Error()})
		}
	}).Methods(http.MethodGet)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	}).Methods(http.MethodGet)
	return router
}

// New builds the HTTP server for addr. The caller starts it with
// ListenAndServe and stops it through shutdown.StopHTTPServer.
func New(addr string, m *report.Metrics, logger *logging.Logger) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      NewRouter(m, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func requestLogger(logger *logging.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Debug(fmt.Sprintf("%s %s", r.Method, r.URL.Path), map[string]interface{}{
				"status":   rec.status,
				"duration": time.Since(start).String(),
			})
		})
	}
}
