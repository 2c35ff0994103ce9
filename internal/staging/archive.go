package staging

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/1kimnet/geo-ingest/internal/ingesterr"
	"github.com/1kimnet/geo-ingest/internal/model"
)

// stageArchiveOfSplitVector opens artifact.PayloadPath as a zip, extracts
// every member into a flat staging-scratch directory, then delegates to
// the shared shapefile-family staging algorithm (§4.6).
func (m *Materializer) stageArchiveOfSplitVector(artifact model.RawArtifact, source model.Source) ([]model.StagedEntry, error) {
	extractDir, err := extractZipFlat(artifact.PayloadPath)
	if err != nil {
		m.writeBadSidecar(artifact.PayloadPath, "unreadable-archive", err)
		return nil, ingesterr.New(ingesterr.KindValidation, "staging.archive", err)
	}
	return m.stagePrimariesFromDir(artifact, source, extractDir)
}

// extractZipFlat extracts every member of the zip at path into a flat
// scratch directory alongside it, ignoring internal directory structure
// (§4.6's "extract all members into a flat directory under the source").
func extractZipFlat(path string) (string, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return "", err
	}
	defer r.Close()

	if len(r.File) == 0 {
		return "", fmt.Errorf("empty archive")
	}

	extractDir := path + ".extracted"
	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		return "", err
	}

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		dest := filepath.Join(extractDir, filepath.Base(f.Name))
		if err := extractZipMember(f, dest); err != nil {
			return "", err
		}
	}
	return extractDir, nil
}

func extractZipMember(f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
