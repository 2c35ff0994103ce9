package staging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/1kimnet/geo-ingest/internal/ingesterr"
	"github.com/1kimnet/geo-ingest/internal/model"
)

// qualifiedPrefix is the leading qualifier a GeoPackage feature table name
// sometimes carries; stripping it is the "bare-name retry" recovered from
// original_source's etl/loaders/gpkg_loader.py (§12 of SPEC_FULL).
const qualifiedPrefix = "main."

// stageContainerVector checks that the container file exists; it does not
// open it or enumerate its internal feature-class names. No SQL driver for the GeoPackage/SQLite
// format appears anywhere in the reference pack (the dropped
// lib/pq/sqlx/squirrel stack is Postgres-only), so introspection here is
// metadata-driven rather than a real schema query: the source's include
// allow-list names the feature classes directly when present, and a
// single-container source with no allow-list is treated as exposing one
// feature class named after the source itself. Each declared name has a
// leading qualifier stripped (see resolveFeatureClassName), since a
// declared name may carry a stale qualifier regardless of how the name
// list was obtained.
func (m *Materializer) stageContainerVector(artifact model.RawArtifact, source model.Source) ([]model.StagedEntry, error) {
	if _, err := os.Stat(artifact.PayloadPath); err != nil {
		m.writeBadSidecar(artifact.PayloadPath, "unreadable-container", err)
		return nil, ingesterr.New(ingesterr.KindValidation, "staging.container", err)
	}

	names := source.Include
	if len(names) == 0 {
		names = []string{source.Name}
	}

	destDir := m.destDir(source)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, ingesterr.New(ingesterr.KindResource, "staging.container", err)
	}

	var staged []model.StagedEntry
	for _, name := range names {
		resolved, err := resolveFeatureClassName(name)
		if err != nil {
			m.Logger.Warn("container feature class name could not be resolved", "sourceId", source.ID, "name", name, "error", err.Error())
			continue
		}

		canonical := m.canonicalName(source, resolved)
		destPath := filepath.Join(destDir, canonical+".gpkg")
		if err := copyFile(artifact.PayloadPath, destPath); err != nil {
			continue
		}

		entry := model.StagedEntry{
			SourceID:      source.ID,
			Authority:     source.Authority,
			CanonicalName: canonical,
			Path:          destPath,
			Format:        model.FormatContainerVector,
			CRS:           artifact.DeclaredCRS,
			FeatureCount:  -1,
			Partial:       artifact.Partial,
		}
		if metaErr := m.writeMeta(destDir, canonical, entry); metaErr != nil {
			m.Logger.Warn("failed to write .meta sidecar", "path", destPath, "error", metaErr.Error())
		}
		staged = append(staged, entry)
	}

	if len(staged) == 0 {
		err := fmt.Errorf("every feature class failed to stage")
		m.writeBadSidecar(artifact.PayloadPath, "all-feature-classes-failed", err)
		return nil, ingesterr.New(ingesterr.KindValidation, "staging.container", err)
	}
	return staged, nil
}

// resolveFeatureClassName returns the bare form of name: an empty name
// fails outright, and a leading "main." qualifier is always stripped. The
// qualified form is never tried first; no lookup against the container is
// made.
func resolveFeatureClassName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", fmt.Errorf("empty feature class name")
	}
	return strings.TrimPrefix(trimmed, qualifiedPrefix), nil
}
