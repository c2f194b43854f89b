package sink

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GabrielNunesIT/logpipe/internal/config"
	"github.com/GabrielNunesIT/logpipe/internal/model"
)

func TestFileSink_WritesNDJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.ndjson")
	s := NewFileSink(config.FileSinkConfig{Path: path})

	ctx := context.Background()
	require.NoError(t, s.Write(ctx, model.Record{"n": 1}))
	require.NoError(t, s.Write(ctx, model.Record{"n": 2}))
	require.NoError(t, s.Close(ctx))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		var rec model.Record
		assert.NoError(t, json.Unmarshal([]byte(line), &rec))
	}
}

func TestFileSink_AppendsAcrossRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.ndjson")
	ctx := context.Background()

	first := NewFileSink(config.FileSinkConfig{Path: path})
	require.NoError(t, first.Write(ctx, model.Record{"run": 1}))
	require.NoError(t, first.Close(ctx))

	second := NewFileSink(config.FileSinkConfig{Path: path})
	require.NoError(t, second.Write(ctx, model.Record{"run": 2}))
	require.NoError(t, second.Close(ctx))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 2)
}

func TestFileSink_CloseWithoutWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.ndjson")
	s := NewFileSink(config.FileSinkConfig{Path: path})

	require.NoError(t, s.Close(context.Background()))

	// No write means the file is never created.
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestFileSink_OpenError(t *testing.T) {
	s := NewFileSink(config.FileSinkConfig{Path: "/nonexistent-dir/out.ndjson"})
	err := s.Write(context.Background(), model.Record{"n": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "opening output file")
}
