package sink

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/elastic/go-elasticsearch/v8/esutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GabrielNunesIT/logpipe/internal/config"
	"github.com/GabrielNunesIT/logpipe/internal/model"
)

// mockBulkIndexer implements esutil.BulkIndexer for testing.
type mockBulkIndexer struct {
	items  []esutil.BulkIndexerItem
	bodies [][]byte
	closed bool
	addErr error
}

func (m *mockBulkIndexer) Add(ctx context.Context, item esutil.BulkIndexerItem) error {
	if m.addErr != nil {
		return m.addErr
	}
	body, err := io.ReadAll(item.Body)
	if err != nil {
		return err
	}
	m.items = append(m.items, item)
	m.bodies = append(m.bodies, body)
	return nil
}

func (m *mockBulkIndexer) Close(ctx context.Context) error {
	m.closed = true
	return nil
}

func (m *mockBulkIndexer) Stats() esutil.BulkIndexerStats {
	return esutil.BulkIndexerStats{NumIndexed: uint64(len(m.items))}
}

func newMockESSink(t *testing.T, mock *mockBulkIndexer) *ElasticsearchSink {
	t.Helper()
	return NewElasticsearchSink(
		config.ElasticsearchSinkConfig{Index: "logs"},
		discardLogger(),
		WithIndexerFactory(func(cfg config.ElasticsearchSinkConfig) (esutil.BulkIndexer, error) {
			return mock, nil
		}),
	)
}

func TestElasticsearchSink_WriteAddsItems(t *testing.T) {
	mock := &mockBulkIndexer{}
	s := newMockESSink(t, mock)

	ctx := context.Background()
	require.NoError(t, s.Write(ctx, model.Record{"level": "INFO", "msg": "hello"}))
	require.NoError(t, s.Write(ctx, model.Record{"level": "ERROR", "msg": "boom"}))

	require.Len(t, mock.items, 2)
	assert.Equal(t, "index", mock.items[0].Action)

	var rec model.Record
	require.NoError(t, json.Unmarshal(mock.bodies[1], &rec))
	assert.Equal(t, "ERROR", rec["level"])
}

func TestElasticsearchSink_CloseFlushesIndexer(t *testing.T) {
	mock := &mockBulkIndexer{}
	s := newMockESSink(t, mock)

	require.NoError(t, s.Write(context.Background(), model.Record{"n": 1}))
	require.NoError(t, s.Close(context.Background()))
	assert.True(t, mock.closed)
}

func TestElasticsearchSink_CloseWithoutWrite(t *testing.T) {
	mock := &mockBulkIndexer{}
	s := newMockESSink(t, mock)

	// Indexer is created lazily; Close before any Write is a no-op.
	require.NoError(t, s.Close(context.Background()))
	assert.False(t, mock.closed)
}

func TestElasticsearchSink_AddError(t *testing.T) {
	mock := &mockBulkIndexer{addErr: errors.New("indexer full")}
	s := newMockESSink(t, mock)

	err := s.Write(context.Background(), model.Record{"n": 1})
	assert.Error(t, err)
}

func TestElasticsearchSink_FactoryError(t *testing.T) {
	s := NewElasticsearchSink(
		config.ElasticsearchSinkConfig{},
		discardLogger(),
		WithIndexerFactory(func(cfg config.ElasticsearchSinkConfig) (esutil.BulkIndexer, error) {
			return nil, errors.New("no addresses")
		}),
	)

	err := s.Write(context.Background(), model.Record{"n": 1})
	require.Error(t, err)
}
