// Package checkpoint provides durable, atomic, resumable progress tracking
// for pipeline runs.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/GabrielNunesIT/logpipe/internal/config"
)

// Run status values recorded in the checkpoint file.
const (
	StatusInitialized = "initialized"
	StatusRunning     = "running"
	StatusInterrupted = "interrupted"
	StatusCompleted   = "completed"
)

// State is the durable progress snapshot. LastProcessedOffset is monotone
// non-decreasing across the process lifetime and across resumed runs.
type State struct {
	LastProcessedOffset uint64    `json:"last_processed_offset"`
	LastProcessedLine   uint64    `json:"last_processed_line"`
	RecordsProcessed    uint64    `json:"records_processed"`
	RecordsFiltered     uint64    `json:"records_filtered"`
	RecordsSent         uint64    `json:"records_sent"`
	StartTime           time.Time `json:"start_time"`
	LastCheckpointTime  time.Time `json:"last_checkpoint_time,omitzero"`
	Status              string    `json:"status"`

	// Derived metrics, recomputed on every save.
	ElapsedSeconds   float64 `json:"elapsed_seconds"`
	RecordsPerSecond float64 `json:"records_per_second"`
}

// Manager owns the checkpoint state. In-memory updates go through Update
// (single logical writer: the pipeline's main flow); the periodic saver and
// signal handler only read a snapshot, so a small mutex suffices.
type Manager struct {
	path     string
	interval time.Duration
	enabled  bool
	logger   *slog.Logger

	mu    sync.Mutex
	state State

	// Counters carried over from a resumed checkpoint. Update reports the
	// current run's totals; these bases keep the persisted counters
	// cumulative across resumes.
	baseProcessed uint64
	baseFiltered  uint64
	baseSent      uint64
}

// New creates a manager and loads any existing checkpoint at the configured
// path. An unreadable or structurally invalid file is treated as "no
// checkpoint": logged and ignored, never fatal.
func New(cfg config.CheckpointConfig, log *slog.Logger) *Manager {
	m := &Manager{
		path:     cfg.Path,
		interval: cfg.Interval,
		enabled:  cfg.Path != "" && cfg.Resume,
		logger:   log.With("component", "checkpoint"),
		state: State{
			StartTime: time.Now(),
			Status:    StatusInitialized,
		},
	}
	m.load()
	return m
}

// load merges a previously saved checkpoint into the initial state. With
// resume disabled the file is left untouched on disk but never merged, so a
// fresh run's offsets start at zero.
func (m *Manager) load() {
	if !m.enabled {
		return
	}

	data, err := os.ReadFile(m.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			m.logger.Warn("checkpoint unreadable, starting fresh", "path", m.path, "error", err)
		}
		return
	}

	var prev State
	if err := json.Unmarshal(data, &prev); err != nil {
		m.logger.Warn("checkpoint malformed, starting fresh", "path", m.path, "error", err)
		return
	}
	if prev.LastProcessedOffset == 0 {
		return
	}

	// Shift startTime backward by the prior run's elapsed time so cumulative
	// throughput metrics stay correct across resumes.
	prev.StartTime = time.Now().Add(-time.Duration(prev.ElapsedSeconds * float64(time.Second)))
	m.state = prev
	m.baseProcessed = prev.RecordsProcessed
	m.baseFiltered = prev.RecordsFiltered
	m.baseSent = prev.RecordsSent
	m.logger.Info("loaded checkpoint",
		"offset", prev.LastProcessedOffset,
		"line", prev.LastProcessedLine,
		"status", prev.Status)
}

// Start launches the periodic saver. It returns a stop function that halts
// the timer; the final save at termination is the orchestrator's job.
func (m *Manager) Start() (stop func()) {
	if m.path == "" || m.interval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := m.Save(); err != nil {
					// Non-fatal: processing continues without this cycle's
					// checkpoint.
					m.logger.Warn("periodic checkpoint save failed", "error", err)
				}
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }
}

// Update merges progress into the in-memory state. No I/O. Offsets only
// ever advance. processed/filtered/sent are the current run's totals; the
// bases from a resumed checkpoint are added so the persisted counters never
// regress.
func (m *Manager) Update(offset, line, processed, filtered, sent uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if offset > m.state.LastProcessedOffset {
		m.state.LastProcessedOffset = offset
	}
	if line > m.state.LastProcessedLine {
		m.state.LastProcessedLine = line
	}
	m.state.RecordsProcessed = m.baseProcessed + processed
	m.state.RecordsFiltered = m.baseFiltered + filtered
	m.state.RecordsSent = m.baseSent + sent
	if m.state.Status == StatusInitialized {
		m.state.Status = StatusRunning
	}
}

// Save writes the state plus derived metrics to a temporary file and
// atomically renames it over the checkpoint path, so a crash mid-write never
// corrupts the previous checkpoint.
func (m *Manager) Save() error {
	if m.path == "" {
		return nil
	}

	m.mu.Lock()
	m.state.LastCheckpointTime = time.Now()
	m.state.ElapsedSeconds = time.Since(m.state.StartTime).Seconds()
	if m.state.ElapsedSeconds > 0 {
		m.state.RecordsPerSecond = float64(m.state.RecordsProcessed) / m.state.ElapsedSeconds
	}
	snapshot := m.state
	m.mu.Unlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}

	dir := filepath.Dir(m.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(m.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("syncing checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp checkpoint: %w", err)
	}

	if err := os.Rename(tmpName, m.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing checkpoint: %w", err)
	}
	return nil
}

// ShouldResume reports whether a prior run left resumable progress behind.
// A cleanly completed checkpoint is not resumed.
func (m *Manager) ShouldResume() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled &&
		m.state.LastProcessedOffset > 0 &&
		(m.state.Status == StatusInterrupted || m.state.Status == StatusRunning)
}

// ResumePosition returns the byte offset and line number to feed back into
// the source so reading starts where the prior run stopped.
func (m *Manager) ResumePosition() (offset, line uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.LastProcessedOffset, m.state.LastProcessedLine
}

// MarkInterrupted flags the state for the final save triggered by a
// termination signal.
func (m *Manager) MarkInterrupted() {
	m.mu.Lock()
	m.state.Status = StatusInterrupted
	m.mu.Unlock()
}

// Finalize marks the run cleanly completed and saves one last time.
func (m *Manager) Finalize() error {
	m.mu.Lock()
	m.state.Status = StatusCompleted
	m.mu.Unlock()
	return m.Save()
}

// Snapshot returns a copy of the current state, for logging and tests.
func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}
