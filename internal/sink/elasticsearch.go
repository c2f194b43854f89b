package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esutil"

	"github.com/GabrielNunesIT/logpipe/internal/config"
	"github.com/GabrielNunesIT/logpipe/internal/model"
)

// IndexerFactory creates a BulkIndexer.
type IndexerFactory func(cfg config.ElasticsearchSinkConfig) (esutil.BulkIndexer, error)

// ElasticsearchOption configures the ElasticsearchSink.
type ElasticsearchOption func(*ElasticsearchSink)

// WithIndexerFactory sets a custom factory for creating the BulkIndexer.
// This is primarily used for testing to inject a mock indexer.
func WithIndexerFactory(f IndexerFactory) ElasticsearchOption {
	return func(s *ElasticsearchSink) {
		s.factory = f
	}
}

// ElasticsearchSink bulk-indexes records into Elasticsearch.
type ElasticsearchSink struct {
	cfg     config.ElasticsearchSinkConfig
	factory IndexerFactory
	indexer esutil.BulkIndexer
	logger  *slog.Logger
}

// NewElasticsearchSink creates a new Elasticsearch sink.
func NewElasticsearchSink(cfg config.ElasticsearchSinkConfig, log *slog.Logger, opts ...ElasticsearchOption) *ElasticsearchSink {
	s := &ElasticsearchSink{
		cfg:    cfg,
		logger: log.With("component", "essink"),
	}

	s.factory = func(cfg config.ElasticsearchSinkConfig) (esutil.BulkIndexer, error) {
		esCfg := elasticsearch.Config{
			Addresses: cfg.Addresses,
		}
		if cfg.Username != "" {
			esCfg.Username = cfg.Username
			esCfg.Password = cfg.Password
		}

		client, err := elasticsearch.NewClient(esCfg)
		if err != nil {
			return nil, fmt.Errorf("creating elasticsearch client: %w", err)
		}

		return esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
			Client:        client,
			Index:         cfg.Index,
			NumWorkers:    2,
			FlushBytes:    5e+6, // 5MB
			FlushInterval: cfg.FlushInterval,
		})
	}

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the sink identifier.
func (s *ElasticsearchSink) Name() string {
	return "elasticsearch"
}

// Write adds one record to the bulk indexer. The indexer is created lazily
// on the first write.
func (s *ElasticsearchSink) Write(ctx context.Context, rec model.Record) error {
	if s.indexer == nil {
		indexer, err := s.factory(s.cfg)
		if err != nil {
			return err
		}
		s.indexer = indexer
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	return s.indexer.Add(ctx, esutil.BulkIndexerItem{
		Action: "index",
		Body:   bytes.NewReader(data),
		OnFailure: func(ctx context.Context, item esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem, err error) {
			s.logger.Warn("bulk index failure", "error", err, "reason", res.Error.Reason)
		},
	})
}

// Close flushes and closes the bulk indexer.
func (s *ElasticsearchSink) Close(ctx context.Context) error {
	if s.indexer == nil {
		return nil
	}

	err := s.indexer.Close(ctx)
	stats := s.indexer.Stats()
	s.logger.Info("elasticsearch sink finished",
		"indexed", stats.NumIndexed,
		"failed", stats.NumFailed)
	return err
}
