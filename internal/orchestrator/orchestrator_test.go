package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1kimnet/geo-ingest/internal/config"
	"github.com/1kimnet/geo-ingest/internal/handler"
	"github.com/1kimnet/geo-ingest/internal/model"
	"github.com/1kimnet/geo-ingest/internal/observability"
	"github.com/1kimnet/geo-ingest/internal/staging"
	"github.com/1kimnet/geo-ingest/internal/summary"
)

type discardLogger struct{}

func (discardLogger) Debug(string, ...any)        {}
func (discardLogger) Info(string, ...any)         {}
func (discardLogger) Warn(string, ...any)         {}
func (discardLogger) Error(string, error, ...any) {}
func (l discardLogger) WithFields(map[string]any) observability.Logger { return l }

type fakeHandler struct {
	artifacts map[string][]model.RawArtifact
	err       map[string]error
}

func (f *fakeHandler) Fetch(ctx context.Context, source model.Source, stagingRoot string) ([]model.RawArtifact, error) {
	if err, ok := f.err[source.ID]; ok {
		return nil, err
	}
	return f.artifacts[source.ID], nil
}

func newTestRegistry(t *testing.T, fh *fakeHandler) *handler.Registry {
	t.Helper()
	return handler.NewTestRegistry(map[model.HandlerKind]handler.Handler{
		model.KindDirectFile:      fh,
		model.KindFeed:            fh,
		model.KindTiledQuery:      fh,
		model.KindTiledCollection: fh,
	})
}

func buildOrchestrator(t *testing.T, sources []model.Source, fh *fakeHandler) *Orchestrator {
	t.Helper()
	root := t.TempDir()
	global := &config.GlobalSettings{
		Processing: config.ProcessingConfig{ParallelWorkers: 2, MaxPipelineFailures: 5, SourceTimeout: 5 * time.Second},
		Paths:      config.PathsConfig{Staging: root},
	}
	return &Orchestrator{
		Sources:      sources,
		Registry:     newTestRegistry(t, fh),
		Materializer: staging.NewMaterializer(root, discardLogger{}),
		Summary:      summary.New(nil),
		Global:       global,
		Logger:       discardLogger{},
	}
}

func jsonArtifact(t *testing.T, sourceID string) model.RawArtifact {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "data.json")
	writeFile(t, path, `{"type":"FeatureCollection","features":[]}`)
	return model.RawArtifact{SourceID: sourceID, PayloadPath: path}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestOrchestratorZeroEnabledSourcesCleanExit(t *testing.T) {
	o := buildOrchestrator(t, nil, &fakeHandler{})
	failed, err := o.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 0, failed)
}

func TestOrchestratorAllSourcesSucceed(t *testing.T) {
	sources := []model.Source{
		{ID: "s1", Authority: "A", Name: "S1", Enabled: true, Kind: model.KindDirectFile, StagedKind: model.StagedJSONVector},
		{ID: "s2", Authority: "A", Name: "S2", Enabled: true, Kind: model.KindDirectFile, StagedKind: model.StagedJSONVector},
	}
	fh := &fakeHandler{artifacts: map[string][]model.RawArtifact{
		"s1": {jsonArtifact(t, "s1")},
		"s2": {jsonArtifact(t, "s2")},
	}}
	o := buildOrchestrator(t, sources, fh)
	failed, err := o.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 0, failed)

	result := o.Summary.Finalize()
	assert.Equal(t, 2, result.Totals.Staged)
}

func TestOrchestratorOneFailureAmongHealthySources(t *testing.T) {
	sources := []model.Source{
		{ID: "s1", Authority: "A", Name: "S1", Enabled: true, Kind: model.KindDirectFile, StagedKind: model.StagedJSONVector},
		{ID: "s2", Authority: "A", Name: "S2", Enabled: true, Kind: model.KindDirectFile, StagedKind: model.StagedJSONVector},
	}
	fh := &fakeHandler{
		artifacts: map[string][]model.RawArtifact{"s2": {jsonArtifact(t, "s2")}},
		err:       map[string]error{"s1": fmt.Errorf("boom")},
	}
	o := buildOrchestrator(t, sources, fh)
	failed, err := o.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, failed)

	result := o.Summary.Finalize()
	assert.Equal(t, 1, result.Totals.Staged)
	assert.Equal(t, 1, result.Totals.Failed)
}

func TestOrchestratorExceedsFailureBudget(t *testing.T) {
	sources := []model.Source{
		{ID: "s1", Enabled: true, Kind: model.KindDirectFile},
		{ID: "s2", Enabled: true, Kind: model.KindDirectFile},
	}
	fh := &fakeHandler{err: map[string]error{"s1": fmt.Errorf("boom"), "s2": fmt.Errorf("boom")}}
	o := buildOrchestrator(t, sources, fh)
	o.Global.Processing.MaxPipelineFailures = 1
	failed, err := o.Run(t.Context())
	require.Error(t, err)
	assert.Equal(t, 2, failed)
}

func TestOrchestratorSkipsSourceWithZeroArtifacts(t *testing.T) {
	sources := []model.Source{{ID: "s1", Enabled: true, Kind: model.KindDirectFile}}
	fh := &fakeHandler{}
	o := buildOrchestrator(t, sources, fh)
	failed, err := o.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 0, failed)

	result := o.Summary.Finalize()
	require.Len(t, result.PerSource, 1)
	assert.Equal(t, summary.StatusSkipped, result.PerSource[0].Status)
}

func TestOrchestratorWorkersOneProcessesInOrder(t *testing.T) {
	var order []string
	sources := []model.Source{
		{ID: "s1", Authority: "A", Name: "S1", Enabled: true, Kind: model.KindDirectFile, StagedKind: model.StagedJSONVector},
		{ID: "s2", Authority: "A", Name: "S2", Enabled: true, Kind: model.KindDirectFile, StagedKind: model.StagedJSONVector},
		{ID: "s3", Authority: "A", Name: "S3", Enabled: true, Kind: model.KindDirectFile, StagedKind: model.StagedJSONVector},
	}
	fh := &trackingHandler{order: &order, artifacts: map[string][]model.RawArtifact{
		"s1": {jsonArtifact(t, "s1")},
		"s2": {jsonArtifact(t, "s2")},
		"s3": {jsonArtifact(t, "s3")},
	}}
	root := t.TempDir()
	global := &config.GlobalSettings{
		Processing: config.ProcessingConfig{ParallelWorkers: 1, MaxPipelineFailures: 5, SourceTimeout: 5 * time.Second},
		Paths:      config.PathsConfig{Staging: root},
	}
	o := &Orchestrator{
		Sources:      sources,
		Registry:     handler.NewTestRegistry(map[model.HandlerKind]handler.Handler{model.KindDirectFile: fh}),
		Materializer: staging.NewMaterializer(root, discardLogger{}),
		Summary:      summary.New(nil),
		Global:       global,
		Logger:       discardLogger{},
	}
	_, err := o.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2", "s3"}, order)
}

type trackingHandler struct {
	order     *[]string
	artifacts map[string][]model.RawArtifact
}

func (h *trackingHandler) Fetch(ctx context.Context, source model.Source, stagingRoot string) ([]model.RawArtifact, error) {
	*h.order = append(*h.order, source.ID)
	return h.artifacts[source.ID], nil
}
