// Package server implements the demo batch receiver started by
// `logpipe serve`. It accepts the JSON array bodies produced by the HTTP
// sink, persists each batch, and exposes status and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GabrielNunesIT/logpipe/internal/config"
	"github.com/GabrielNunesIT/logpipe/internal/model"
)

// shutdownTimeout bounds the graceful drain of in-flight requests.
const shutdownTimeout = 5 * time.Second

// Server is the demo receiver.
type Server struct {
	cfg    config.ServerConfig
	logger *slog.Logger
	start  time.Time

	requests atomic.Uint64
	records  atomic.Uint64

	registry      *prometheus.Registry
	requestsTotal prometheus.Counter
	recordsTotal  prometheus.Counter
	batchSize     prometheus.Histogram
	badRequests   prometheus.Counter
}

// New creates a receiver. The data directory is created on demand.
func New(cfg config.ServerConfig, log *slog.Logger) *Server {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Server{
		cfg:      cfg,
		logger:   log.With("component", "server"),
		start:    time.Now(),
		registry: reg,
		requestsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "logpipe_receiver_requests_total",
			Help: "Batch requests accepted.",
		}),
		recordsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "logpipe_receiver_records_total",
			Help: "Records received across all batches.",
		}),
		batchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "logpipe_receiver_batch_size",
			Help:    "Records per received batch.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		badRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "logpipe_receiver_bad_requests_total",
			Help: "Requests rejected as malformed.",
		}),
	}
}

// Handler returns the receiver's HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/logs", s.handleLogs)
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return mux
}

// Run serves until the context is cancelled, then drains in-flight
// requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Address,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("receiver listening", "address", s.cfg.Address, "data_dir", s.cfg.DataDir)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down receiver: %w", err)
	}
	s.logger.Info("receiver stopped",
		"requests", s.requests.Load(),
		"records", s.records.Load())
	return nil
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		w.Header().Set("Allow", "POST, PUT")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var batch []model.Record
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		s.badRequests.Inc()
		http.Error(w, fmt.Sprintf("invalid batch: %v", err), http.StatusBadRequest)
		return
	}

	requestID := uuid.NewString()
	if err := s.persist(requestID, batch); err != nil {
		s.logger.Error("persisting batch failed", "request_id", requestID, "error", err)
		http.Error(w, "storing batch failed", http.StatusInternalServerError)
		return
	}

	s.requests.Add(1)
	s.records.Add(uint64(len(batch)))
	s.requestsTotal.Inc()
	s.recordsTotal.Add(float64(len(batch)))
	s.batchSize.Observe(float64(len(batch)))

	s.logger.Debug("batch received", "request_id", requestID, "records", len(batch))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":          true,
		"records_received": len(batch),
		"request_id":       requestID,
	})
}

// persist writes one batch to its own file under the data directory.
func (s *Server) persist(requestID string, batch []model.Record) error {
	if err := os.MkdirAll(s.cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	data, err := json.MarshalIndent(batch, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding batch: %w", err)
	}

	name := fmt.Sprintf("batch-%s-%s.json", time.Now().UTC().Format("20060102T150405"), requestID)
	path := filepath.Join(s.cfg.DataDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing batch file: %w", err)
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":            "ok",
		"uptime_seconds":    time.Since(s.start).Seconds(),
		"requests_received": s.requests.Load(),
		"records_received":  s.records.Load(),
	})
}
