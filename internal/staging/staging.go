// Package staging turns a RawArtifact into a StagedEntry, validating the
// payload against its declared format and assigning a collision-free
// canonical name, grounded on the teacher's
// workers/downloader/internal/usecase staging step and the validation
// shape of workers/downloader/internal/domain.
package staging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/1kimnet/geo-ingest/internal/ingesterr"
	"github.com/1kimnet/geo-ingest/internal/model"
	"github.com/1kimnet/geo-ingest/internal/naming"
	"github.com/1kimnet/geo-ingest/internal/observability"
)

// Materializer stages RawArtifacts into StagedEntries under one
// stagingRoot, enforcing the per-run name registry (§4.6, §5).
type Materializer struct {
	StagingRoot string
	Names       *naming.Registry
	Logger      observability.Logger
}

// NewMaterializer constructs a Materializer with its own fresh name
// registry, scoped to one run.
func NewMaterializer(stagingRoot string, logger observability.Logger) *Materializer {
	return &Materializer{StagingRoot: stagingRoot, Names: naming.NewRegistry(), Logger: logger}
}

// Stage validates artifact against source's declared StagedKind and
// produces zero or more StagedEntry values. A failure is per-artifact:
// the offending file is preserved with a .bad sidecar and the error
// returned describes only that artifact, never aborting sibling staging.
func (m *Materializer) Stage(artifact model.RawArtifact, source model.Source) ([]model.StagedEntry, error) {
	switch source.StagedKind {
	case model.StagedArchiveOfSplitVector:
		return m.stageArchiveOfSplitVector(artifact, source)
	case model.StagedSplitVector:
		return m.stageSplitVector(artifact, source)
	case model.StagedContainerVector:
		return m.stageContainerVector(artifact, source)
	case model.StagedJSONVector:
		return m.stageJSONVector(artifact, source)
	default:
		err := fmt.Errorf("unrecognized staged kind %q", source.StagedKind)
		m.writeBadSidecar(artifact.PayloadPath, "unrecognized-staged-kind", err)
		return nil, ingesterr.New(ingesterr.KindValidation, "staging.stage", err)
	}
}

func (m *Materializer) destDir(source model.Source) string {
	return filepath.Join(m.StagingRoot, source.Authority, source.ID)
}

func (m *Materializer) canonicalName(source model.Source, logicalName string) string {
	name := logicalName
	if name == "" {
		name = source.Name
	}
	candidate := naming.Identifier(source.Authority + "_" + name)
	return m.Names.Resolve(candidate)
}

// writeMeta writes the .meta sidecar alongside a staged payload per §6's
// on-disk layout.
func (m *Materializer) writeMeta(destDir, canonicalName string, entry model.StagedEntry) error {
	lines := []string{
		fmt.Sprintf("format=%s", entry.Format),
		fmt.Sprintf("crs=%s", entry.CRS),
		fmt.Sprintf("featureCount=%d", entry.FeatureCount),
		fmt.Sprintf("partial=%t", entry.Partial),
	}
	path := filepath.Join(destDir, canonicalName+".meta")
	return os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644)
}

// writeBadSidecar preserves the offending artifact in place and writes a
// plain-text {reason}\n{detail} companion, recovered from
// original_source's rejected-file convention (§12 of SPEC_FULL).
func (m *Materializer) writeBadSidecar(payloadPath, reason string, detail error) {
	if payloadPath == "" {
		return
	}
	content := fmt.Sprintf("%s\n%v\n", reason, detail)
	badPath := payloadPath + ".bad"
	if err := os.WriteFile(badPath, []byte(content), 0o644); err != nil {
		m.Logger.Warn("failed to write .bad sidecar", "path", badPath, "error", err.Error())
	}
}

func detectGeometryKind(rawFeatures []json.RawMessage) model.GeometryKind {
	kinds := make(map[string]struct{})
	for _, raw := range rawFeatures {
		var f struct {
			Geometry struct {
				Type string `json:"type"`
			} `json:"geometry"`
		}
		if err := json.Unmarshal(raw, &f); err != nil {
			continue
		}
		switch f.Geometry.Type {
		case "Point", "MultiPoint":
			kinds["point"] = struct{}{}
		case "LineString", "MultiLineString":
			kinds["line"] = struct{}{}
		case "Polygon", "MultiPolygon":
			kinds["polygon"] = struct{}{}
		}
	}
	if len(kinds) == 0 {
		return model.GeometryUnknown
	}
	if len(kinds) > 1 {
		return model.GeometryMixed
	}
	for k := range kinds {
		switch k {
		case "point":
			return model.GeometryPoint
		case "line":
			return model.GeometryLine
		case "polygon":
			return model.GeometryPolygon
		}
	}
	return model.GeometryUnknown
}
