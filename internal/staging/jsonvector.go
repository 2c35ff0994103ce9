package staging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/1kimnet/geo-ingest/internal/ingesterr"
	"github.com/1kimnet/geo-ingest/internal/model"
)

type jsonVectorDoc struct {
	Type     string            `json:"type"`
	Features []json.RawMessage `json:"features"`
}

// stageJSONVector parses and validates the artifact is a feature
// collection or a single feature, pre-scans geometry for a dominant kind,
// and assigns the artifact's canonical name (§4.6).
func (m *Materializer) stageJSONVector(artifact model.RawArtifact, source model.Source) ([]model.StagedEntry, error) {
	data, err := os.ReadFile(artifact.PayloadPath)
	if err != nil {
		m.writeBadSidecar(artifact.PayloadPath, "unreadable", err)
		return nil, ingesterr.New(ingesterr.KindValidation, "staging.jsonvector", err)
	}

	var doc jsonVectorDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		m.writeBadSidecar(artifact.PayloadPath, "malformed-json", err)
		return nil, ingesterr.New(ingesterr.KindValidation, "staging.jsonvector", err)
	}

	var features []json.RawMessage
	switch doc.Type {
	case "FeatureCollection":
		features = doc.Features
	case "Feature":
		features = []json.RawMessage{data}
	default:
		err := fmt.Errorf("unrecognized top-level type %q", doc.Type)
		m.writeBadSidecar(artifact.PayloadPath, "unrecognized-shape", err)
		return nil, ingesterr.New(ingesterr.KindValidation, "staging.jsonvector", err)
	}

	destDir := m.destDir(source)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, ingesterr.New(ingesterr.KindResource, "staging.jsonvector", err)
	}

	logicalName := artifact.SubResourceID
	canonical := m.canonicalName(source, logicalName)
	destPath := filepath.Join(destDir, canonical+".json")
	if err := copyFile(artifact.PayloadPath, destPath); err != nil {
		return nil, ingesterr.New(ingesterr.KindResource, "staging.jsonvector", err)
	}

	entry := model.StagedEntry{
		SourceID:      source.ID,
		Authority:     source.Authority,
		CanonicalName: canonical,
		Path:          destPath,
		Format:        model.FormatJSONVector,
		CRS:           artifact.DeclaredCRS,
		FeatureCount:  len(features),
		Partial:       artifact.Partial,
		Geometry:      detectGeometryKind(features),
	}
	if err := m.writeMeta(destDir, canonical, entry); err != nil {
		m.Logger.Warn("failed to write .meta sidecar", "path", destPath, "error", err.Error())
	}
	return []model.StagedEntry{entry}, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
