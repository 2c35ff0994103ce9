package staging

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1kimnet/geo-ingest/internal/model"
	"github.com/1kimnet/geo-ingest/internal/observability"
)

type discardLogger struct{}

func (discardLogger) Debug(string, ...any)        {}
func (discardLogger) Info(string, ...any)         {}
func (discardLogger) Warn(string, ...any)         {}
func (discardLogger) Error(string, error, ...any) {}
func (l discardLogger) WithFields(map[string]any) observability.Logger { return l }

func writeFile(t *testing.T, path string, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestStageJSONVectorFeatureCollection(t *testing.T) {
	root := t.TempDir()
	artifactPath := filepath.Join(t.TempDir(), "data.json")
	writeFile(t, artifactPath, `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"Point","coordinates":[1,2]}}]}`)

	m := NewMaterializer(root, discardLogger{})
	source := model.Source{ID: "src1", Authority: "A", Name: "Src", StagedKind: model.StagedJSONVector}
	entries, err := m.Stage(model.RawArtifact{SourceID: "src1", PayloadPath: artifactPath}, source)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.FormatJSONVector, entries[0].Format)
	assert.Equal(t, model.GeometryPoint, entries[0].Geometry)
	assert.Equal(t, 1, entries[0].FeatureCount)
}

func TestStageJSONVectorMalformedWritesBadSidecar(t *testing.T) {
	root := t.TempDir()
	artifactPath := filepath.Join(t.TempDir(), "bad.json")
	writeFile(t, artifactPath, `not json`)

	m := NewMaterializer(root, discardLogger{})
	source := model.Source{ID: "src1", Authority: "A", Name: "Src", StagedKind: model.StagedJSONVector}
	_, err := m.Stage(model.RawArtifact{SourceID: "src1", PayloadPath: artifactPath}, source)
	require.Error(t, err)
	_, statErr := os.Stat(artifactPath + ".bad")
	assert.NoError(t, statErr)
}

func TestStageSplitVectorWithCompanions(t *testing.T) {
	root := t.TempDir()
	srcDir := t.TempDir()
	writeFile(t, filepath.Join(srcDir, "x.shp"), "shp")
	writeFile(t, filepath.Join(srcDir, "x.shx"), "shx")
	writeFile(t, filepath.Join(srcDir, "x.dbf"), "dbf")

	m := NewMaterializer(root, discardLogger{})
	source := model.Source{ID: "src1", Authority: "A", Name: "Src", StagedKind: model.StagedSplitVector}
	entries, err := m.Stage(model.RawArtifact{SourceID: "src1", PayloadPath: filepath.Join(srcDir, "x.shp")}, source)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.FormatSplitVector, entries[0].Format)

	_, statErr := os.Stat(filepath.Join(root, "A", "src1", entries[0].CanonicalName+".shx"))
	assert.NoError(t, statErr)
}

func TestStageSplitVectorMissingCompanionFails(t *testing.T) {
	root := t.TempDir()
	srcDir := t.TempDir()
	writeFile(t, filepath.Join(srcDir, "x.shp"), "shp")
	writeFile(t, filepath.Join(srcDir, "x.dbf"), "dbf")

	m := NewMaterializer(root, discardLogger{})
	source := model.Source{ID: "src1", Authority: "A", Name: "Src", StagedKind: model.StagedSplitVector}
	_, err := m.Stage(model.RawArtifact{SourceID: "src1", PayloadPath: filepath.Join(srcDir, "x.shp")}, source)
	require.Error(t, err)
}

func TestStageArchiveOfSplitVectorExtracts(t *testing.T) {
	root := t.TempDir()
	zipPath := filepath.Join(t.TempDir(), "a.zip")
	writeZip(t, zipPath, map[string]string{"x.shp": "shp", "x.shx": "shx", "x.dbf": "dbf"})

	m := NewMaterializer(root, discardLogger{})
	source := model.Source{ID: "src1", Authority: "A", Name: "Src", StagedKind: model.StagedArchiveOfSplitVector}
	entries, err := m.Stage(model.RawArtifact{SourceID: "src1", PayloadPath: zipPath}, source)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestStageArchiveTriesSiblingPrimaryOnFailure(t *testing.T) {
	root := t.TempDir()
	zipPath := filepath.Join(t.TempDir(), "a.zip")
	writeZip(t, zipPath, map[string]string{
		"bad.shp": "shp", // missing companions
		"good.shp": "shp", "good.shx": "shx", "good.dbf": "dbf",
	})

	m := NewMaterializer(root, discardLogger{})
	source := model.Source{ID: "src1", Authority: "A", Name: "Src", StagedKind: model.StagedArchiveOfSplitVector}
	entries, err := m.Stage(model.RawArtifact{SourceID: "src1", PayloadPath: zipPath}, source)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestCanonicalNamesDistinctWithinStagingRoot(t *testing.T) {
	root := t.TempDir()
	m := NewMaterializer(root, discardLogger{})
	source := model.Source{ID: "src1", Authority: "A", Name: "Dup", StagedKind: model.StagedJSONVector}

	a := filepath.Join(t.TempDir(), "a.json")
	writeFile(t, a, `{"type":"FeatureCollection","features":[]}`)
	b := filepath.Join(t.TempDir(), "b.json")
	writeFile(t, b, `{"type":"FeatureCollection","features":[]}`)

	e1, err := m.Stage(model.RawArtifact{SourceID: "src1", PayloadPath: a}, source)
	require.NoError(t, err)
	e2, err := m.Stage(model.RawArtifact{SourceID: "src1", PayloadPath: b}, source)
	require.NoError(t, err)

	assert.NotEqual(t, e1[0].CanonicalName, e2[0].CanonicalName)
}

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}
