package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1kimnet/geo-ingest/internal/model"
)

func writeTemp(t *testing.T, name, content string) string {
	dir := t.TempDir()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoadGlobalSettingsDefaults(t *testing.T) {
	p := writeTemp(t, "global.yaml", `
environment: production
paths:
  downloads: /tmp/downloads
  staging: /tmp/staging
`)
	gs, err := LoadGlobalSettings(p)
	require.NoError(t, err)
	assert.Equal(t, 3, gs.Retry.MaxAttempts)
	assert.Equal(t, 4, gs.Processing.ParallelWorkers)
	assert.Equal(t, "/tmp/downloads", gs.Paths.Downloads)
}

func TestLoadGlobalSettingsOverrides(t *testing.T) {
	p := writeTemp(t, "global.yaml", `
retry:
  max_attempts: 7
  base_delay: 2.5
  backoff_factor: 3
  max_delay: 120
  circuit_breaker_threshold: 9
processing:
  parallel_workers: 2
use_bbox_filter: true
global_ogc_bbox_coords: [1, 2, 3, 4]
global_ogc_bbox_crs_uri: "EPSG:3006"
paths:
  downloads: d
  staging: s
`)
	gs, err := LoadGlobalSettings(p)
	require.NoError(t, err)
	assert.Equal(t, 7, gs.Retry.MaxAttempts)
	assert.Equal(t, 9, gs.Retry.CircuitBreakerThreshold)
	assert.True(t, gs.UseBBoxFilter)
	assert.Equal(t, [4]float64{1, 2, 3, 4}, gs.GlobalBBoxCoords)
}

func TestLoadGlobalSettingsInvalidBBox(t *testing.T) {
	p := writeTemp(t, "global.yaml", `
use_bbox_filter: true
global_ogc_bbox_coords: [10, 0, 1, 0]
paths:
  downloads: d
  staging: s
`)
	_, err := LoadGlobalSettings(p)
	assert.Error(t, err)
}

func TestLoadInventoryRejectsMissingFields(t *testing.T) {
	gs := DefaultGlobalSettings()
	gs.Paths.Downloads, gs.Paths.Staging = "d", "s"

	p := writeTemp(t, "inventory.yaml", `
sources:
  - name: Good Source
    authority: NVV
    type: file
    url: http://example.com/a.zip
  - authority: LST
    type: file
    url: http://example.com/b.zip
`)
	sources, rejections, err := LoadInventory(p, gs)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	require.Len(t, rejections, 1)
	assert.Equal(t, "Good Source", sources[0].Name)
	assert.Contains(t, rejections[0].Error(), "name")
}

func TestLoadInventoryUnknownKeysPreservedInExtra(t *testing.T) {
	gs := DefaultGlobalSettings()
	p := writeTemp(t, "inventory.yaml", `
sources:
  - name: Src
    authority: NVV
    type: rest_api
    url: http://example.com/rest
    raw:
      page_size: 500
      where_clause: "1=1"
      layer_ids: [0, 1]
`)
	sources, rejections, err := LoadInventory(p, gs)
	require.NoError(t, err)
	require.Empty(t, rejections)
	require.Len(t, sources, 1)
	assert.Equal(t, 500, sources[0].ExtraInt("page_size", 0))
	assert.Equal(t, []int{0, 1}, sources[0].ExtraIntSlice("layer_ids"))
}

func TestLoadInventoryNormalizesStagedKindAliases(t *testing.T) {
	gs := DefaultGlobalSettings()
	p := writeTemp(t, "inventory.yaml", `
sources:
  - name: A
    authority: NVV
    type: file
    url: http://example.com/a
    staged_data_type: geojson
  - name: B
    authority: NVV
    type: file
    url: http://example.com/b
    staged_data_type: json
`)
	sources, rejections, err := LoadInventory(p, gs)
	require.NoError(t, err)
	require.Empty(t, rejections)
	require.Len(t, sources, 2)
	assert.Equal(t, model.StagedJSONVector, sources[0].StagedKind)
	assert.Equal(t, model.StagedJSONVector, sources[1].StagedKind)
}

func TestLoadInventoryIDsAreUniqueAndStable(t *testing.T) {
	gs := DefaultGlobalSettings()
	p := writeTemp(t, "inventory.yaml", `
sources:
  - name: Örebro Län
    authority: NVV
    type: file
    url: http://example.com/a
  - name: Örebro Län
    authority: NVV
    type: file
    url: http://example.com/b
`)
	sources, rejections, err := LoadInventory(p, gs)
	require.NoError(t, err)
	require.Empty(t, rejections)
	require.Len(t, sources, 2)
	assert.NotEqual(t, sources[0].ID, sources[1].ID)
	assert.Regexp(t, `^[A-Za-z0-9_]{1,64}$`, sources[0].ID)
}

func TestLoadNameMappingsMissingFileIsNotError(t *testing.T) {
	mappings, err := LoadNameMappings(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Empty(t, mappings)
}

func TestLoadNameMappingsParsed(t *testing.T) {
	p := writeTemp(t, "mappings.yaml", `
mappings:
  - staging_fc: nvv_src1
    sde_fc: wildlife_areas
    sde_dataset: conservation
`)
	mappings, err := LoadNameMappings(p)
	require.NoError(t, err)
	require.Len(t, mappings, 1)
	assert.True(t, mappings[0].Enabled)
	assert.Equal(t, "wildlife_areas", mappings[0].SDEFC)
}
