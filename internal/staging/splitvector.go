package staging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/1kimnet/geo-ingest/internal/ingesterr"
	"github.com/1kimnet/geo-ingest/internal/model"
)

// splitVectorCompanions are the sibling files every primary .shp member
// must be co-located with (§4.6).
var splitVectorCompanions = []string{".shx", ".dbf"}

// scanPrimaries lists every .shp stem present directly under dir.
func scanPrimaries(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var primaries []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".shp") {
			primaries = append(primaries, strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))
		}
	}
	return primaries, nil
}

// validateCompanions reports an error naming the first missing companion
// for stem, or nil if every companion is present.
func validateCompanions(dir, stem string) error {
	for _, ext := range splitVectorCompanions {
		path := filepath.Join(dir, stem+ext)
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("missing companion %s for %s", stem+ext, stem)
		}
	}
	return nil
}

// stageSplitVector stages an uncompressed on-disk split-vector source: it
// scans the artifact's directory for primaries, validates companions, and
// stages each valid primary as its own StagedEntry (§4.6).
func (m *Materializer) stageSplitVector(artifact model.RawArtifact, source model.Source) ([]model.StagedEntry, error) {
	dir := filepath.Dir(artifact.PayloadPath)
	return m.stagePrimariesFromDir(artifact, source, dir)
}

// stagePrimariesFromDir implements the shared shapefile-family staging
// algorithm used by both split-vector and (after extraction) archive-of-
// split-vector: scan primaries, validate companions, try sibling
// primaries on failure, stage everything that validates (§4.6).
func (m *Materializer) stagePrimariesFromDir(artifact model.RawArtifact, source model.Source, dir string) ([]model.StagedEntry, error) {
	primaries, err := scanPrimaries(dir)
	if err != nil {
		m.writeBadSidecar(artifact.PayloadPath, "unreadable", err)
		return nil, ingesterr.New(ingesterr.KindValidation, "staging.splitvector", err)
	}
	if len(primaries) == 0 {
		err := fmt.Errorf("no .shp primary found in %s", dir)
		m.writeBadSidecar(artifact.PayloadPath, "no-primary", err)
		return nil, ingesterr.New(ingesterr.KindValidation, "staging.splitvector", err)
	}

	destDir := m.destDir(source)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, ingesterr.New(ingesterr.KindResource, "staging.splitvector", err)
	}

	var staged []model.StagedEntry
	var lastErr error
	for _, stem := range primaries {
		if err := validateCompanions(dir, stem); err != nil {
			lastErr = err
			m.Logger.Warn("primary failed companion check, trying siblings", "sourceId", source.ID, "stem", stem, "error", err.Error())
			continue
		}

		canonical := m.canonicalName(source, stem)
		if err := copyShapefileSet(dir, stem, destDir, canonical); err != nil {
			lastErr = err
			continue
		}

		entry := model.StagedEntry{
			SourceID:      source.ID,
			Authority:     source.Authority,
			CanonicalName: canonical,
			Path:          filepath.Join(destDir, canonical+".shp"),
			Format:        model.FormatSplitVector,
			CRS:           artifact.DeclaredCRS,
			FeatureCount:  -1,
			Partial:       artifact.Partial,
		}
		if metaErr := m.writeMeta(destDir, canonical, entry); metaErr != nil {
			m.Logger.Warn("failed to write .meta sidecar", "path", entry.Path, "error", metaErr.Error())
		}
		staged = append(staged, entry)
	}

	if len(staged) == 0 {
		m.writeBadSidecar(artifact.PayloadPath, "all-primaries-failed-companion-check", lastErr)
		return nil, ingesterr.New(ingesterr.KindValidation, "staging.splitvector", lastErr)
	}
	return staged, nil
}

// copyShapefileSet copies stem plus every known split-vector companion
// extension from srcDir to destDir under canonical, preserving the
// shapefile family's required sibling relationship.
func copyShapefileSet(srcDir, stem, destDir, canonical string) error {
	exts := append([]string{".shp"}, splitVectorCompanions...)
	for _, ext := range exts {
		src := filepath.Join(srcDir, stem+ext)
		dst := filepath.Join(destDir, canonical+ext)
		if err := copyFile(src, dst); err != nil {
			return err
		}
	}
	return nil
}
