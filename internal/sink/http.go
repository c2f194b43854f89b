package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/GabrielNunesIT/logpipe/internal/config"
	"github.com/GabrielNunesIT/logpipe/internal/model"
)

// ErrBatchFailed is returned when a batch exhausts its retry budget.
// It aborts the sink and therefore the pipeline; the batch is not requeued.
var ErrBatchFailed = errors.New("batch delivery permanently failed")

// HTTPSink accumulates records and delivers them as JSON array bodies to a
// remote endpoint, with bounded retries and exponential backoff. A full
// buffer is sent synchronously before Write returns, so the sender is the
// pipeline's backpressure point. Delivery is at-least-once; idempotency is
// the receiver's concern.
type HTTPSink struct {
	cfg    config.HTTPSinkConfig
	client HTTPDoer
	batch  []model.Record
	logger *slog.Logger

	recordsSent uint64
	batchesSent uint64
	attempts    uint64
	sendTime    time.Duration
	lastLogged  time.Time
}

// HTTPOption configures an HTTPSink.
type HTTPOption func(*HTTPSink)

// WithHTTPClient sets a custom HTTP client for testing.
func WithHTTPClient(client HTTPDoer) HTTPOption {
	return func(s *HTTPSink) {
		s.client = client
	}
}

// NewHTTPSink creates a new HTTP batch sender.
func NewHTTPSink(cfg config.HTTPSinkConfig, log *slog.Logger, opts ...HTTPOption) *HTTPSink {
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 1
	}

	s := &HTTPSink{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		batch:      make([]model.Record, 0, cfg.BatchSize),
		logger:     log.With("component", "httpsink"),
		lastLogged: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the sink identifier.
func (s *HTTPSink) Name() string {
	return "http"
}

// Write buffers one record, sending the batch once batchSize is reached.
func (s *HTTPSink) Write(ctx context.Context, rec model.Record) error {
	s.batch = append(s.batch, rec)
	if len(s.batch) >= s.cfg.BatchSize {
		return s.flush(ctx)
	}
	return nil
}

// Close flushes any remaining partial batch and logs final statistics.
func (s *HTTPSink) Close(ctx context.Context) error {
	err := s.flush(ctx)
	s.logger.Info("http sender finished",
		"records_sent", s.recordsSent,
		"batches_sent", s.batchesSent,
		"attempts", s.attempts,
		"send_time", s.sendTime.Round(time.Millisecond))
	return err
}

// flush sends the current batch with retries. The batch is discarded after
// a terminal success or permanent failure.
func (s *HTTPSink) flush(ctx context.Context) error {
	if len(s.batch) == 0 {
		return nil
	}

	body, err := json.Marshal(s.batch)
	if err != nil {
		return fmt.Errorf("encoding batch: %w", err)
	}

	start := time.Now()
	sendErr := s.send(ctx, body)
	s.sendTime += time.Since(start)

	if sendErr != nil {
		// Spent either way: a later flush must not re-send it.
		s.batch = s.batch[:0]
		return sendErr
	}

	s.recordsSent += uint64(len(s.batch))
	s.batchesSent++
	s.batch = s.batch[:0]
	s.maybeLogStats()
	return nil
}

// send issues up to Retries attempts, backing off retryDelay * 2^(n-1)
// between failures. No wait follows the final attempt.
func (s *HTTPSink) send(ctx context.Context, body []byte) error {
	var lastErr error

	for attempt := 1; attempt <= s.cfg.Retries; attempt++ {
		s.attempts++
		lastErr = s.attempt(ctx, body)
		if lastErr == nil {
			return nil
		}

		s.logger.Warn("batch send attempt failed",
			"attempt", attempt,
			"retries", s.cfg.Retries,
			"error", lastErr)

		if attempt == s.cfg.Retries {
			break
		}

		backoff := s.cfg.RetryDelay * (1 << (attempt - 1))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("%w after %d attempts: %v", ErrBatchFailed, s.cfg.Retries, lastErr)
}

// attempt issues one HTTP request. Any non-2xx status, transport error, or
// timeout is a retryable failure.
func (s *HTTPSink) attempt(ctx context.Context, body []byte) error {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, s.cfg.Method, s.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// maybeLogStats logs cumulative counters at most once per StatsInterval.
func (s *HTTPSink) maybeLogStats() {
	if s.cfg.StatsInterval <= 0 || time.Since(s.lastLogged) < s.cfg.StatsInterval {
		return
	}
	s.lastLogged = time.Now()
	s.logger.Info("http sender progress",
		"records_sent", s.recordsSent,
		"batches_sent", s.batchesSent,
		"send_time", s.sendTime.Round(time.Millisecond))
}
