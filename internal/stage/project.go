package stage

import (
	"context"

	"github.com/GabrielNunesIT/logpipe/internal/model"
)

// ProjectStage reduces each record to a fixed set of dotted paths. Paths
// missing from a record are simply absent from the output.
type ProjectStage struct {
	paths []string
}

// NewProject creates a projection onto the given dotted paths.
func NewProject(paths []string) *ProjectStage {
	return &ProjectStage{paths: paths}
}

func (s *ProjectStage) Name() string { return "project" }

// Process emits a new record containing only the selected paths.
func (s *ProjectStage) Process(ctx context.Context, rec model.Record, emit EmitFunc) error {
	out := model.New()
	for _, path := range s.paths {
		if v, ok := rec.Get(path); ok {
			out.Set(path, v)
		}
	}
	return emit(out)
}

// Flush is a no-op; projections hold no state.
func (s *ProjectStage) Flush(ctx context.Context, emit EmitFunc) error {
	return nil
}
