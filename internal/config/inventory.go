package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/1kimnet/geo-ingest/internal/model"
	"github.com/1kimnet/geo-ingest/internal/naming"
)

// SourceRejection records why one inventory entry was excluded from the
// run. The run as a whole never aborts because of these (§4.2).
type SourceRejection struct {
	Name string // best-effort name, for logging, even when the name field itself is missing
	Err  error
}

func (r SourceRejection) Error() string {
	return fmt.Sprintf("source %q: %v", r.Name, r.Err)
}

// LoadInventory parses the source inventory document into an ordered list
// of validated Source descriptors. Rejected entries are returned alongside
// (never silently dropped) so the caller can log them; order is preserved
// from the document for deterministic single-worker scheduling.
func LoadInventory(path string, global *GlobalSettings) ([]model.Source, []SourceRejection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("config: read inventory %s: %w", path, err)
	}

	var doc yamlInventoryDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("config: parse inventory %s: %w", path, err)
	}

	ids := naming.NewRegistry()
	var sources []model.Source
	var rejections []SourceRejection

	for _, raw := range doc.Sources {
		src, err := buildSource(raw, global, ids)
		if err != nil {
			rejections = append(rejections, SourceRejection{Name: raw.Name, Err: err})
			continue
		}
		sources = append(sources, src)
	}

	return sources, rejections, nil
}

func buildSource(raw yamlSourceDoc, global *GlobalSettings, ids *naming.Registry) (model.Source, error) {
	var missing []string
	if raw.Name == "" {
		missing = append(missing, "name")
	}
	if raw.Authority == "" {
		missing = append(missing, "authority")
	}
	if raw.Type == "" {
		missing = append(missing, "type")
	}
	if raw.URL == "" {
		missing = append(missing, "url")
	}
	if len(missing) > 0 {
		return model.Source{}, fmt.Errorf("missing required field(s): %s", strings.Join(missing, ", "))
	}

	kind, err := normalizeKind(raw.Type)
	if err != nil {
		return model.Source{}, err
	}

	stagedKind := model.StagedKind("")
	if raw.StagedDataType != "" {
		stagedKind, err = normalizeStagedKind(raw.StagedDataType)
		if err != nil {
			return model.Source{}, err
		}
	}

	enabled := true
	if raw.Enabled != nil {
		enabled = *raw.Enabled
	}

	var bbox *model.BBox
	if raw.BBox != nil {
		b := model.BBox{Xmin: raw.BBox.Xmin, Ymin: raw.BBox.Ymin, Xmax: raw.BBox.Xmax, Ymax: raw.BBox.Ymax, CRS: raw.BBox.CRS}
		if !b.Valid() {
			return model.Source{}, fmt.Errorf("bbox is malformed: min must be <= max per axis")
		}
		bbox = &b
	}

	id := ids.Resolve(naming.Identifier(raw.Authority + "_" + raw.Name))

	extra := raw.Raw
	if extra == nil {
		extra = map[string]any{}
	}
	if _, set := extra["download_format"]; !set && raw.DownloadFormat != "" {
		extra["download_format"] = raw.DownloadFormat
	}

	return model.Source{
		ID:         id,
		Name:       raw.Name,
		Authority:  raw.Authority,
		Kind:       kind,
		URL:        raw.URL,
		Enabled:    enabled,
		StagedKind: stagedKind,
		Include:    raw.Include,
		BBox:       bbox,
		Extra:      extra,
	}, nil
}

func normalizeKind(t string) (model.HandlerKind, error) {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "file":
		return model.KindDirectFile, nil
	case "atom_feed":
		return model.KindFeed, nil
	case "rest_api":
		return model.KindTiledQuery, nil
	case "ogc_api":
		return model.KindTiledCollection, nil
	default:
		return "", fmt.Errorf("unknown type %q (want file, atom_feed, rest_api, or ogc_api)", t)
	}
}

func normalizeStagedKind(t string) (model.StagedKind, error) {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "shapefile_collection":
		return model.StagedArchiveOfSplitVector, nil
	case "gpkg":
		return model.StagedContainerVector, nil
	case "geojson", "json":
		return model.StagedJSONVector, nil
	default:
		return "", fmt.Errorf("unknown staged_data_type %q", t)
	}
}

// BBoxFromCoords builds a BBox from the 4-number [xmin,ymin,xmax,ymax]
// global bbox representation used in the global settings document.
func BBoxFromCoords(coords [4]float64, crsURI string) model.BBox {
	return model.BBox{Xmin: coords[0], Ymin: coords[1], Xmax: coords[2], Ymax: coords[3], CRS: crsURI}
}

// EffectiveBBox resolves the bounding-box filter a handler should apply
// for src, per §4.5's rule: the source's own bbox when set, otherwise the
// global bbox when enabled, otherwise no filter.
func EffectiveBBox(src model.Source, global *GlobalSettings) *model.BBox {
	if src.BBox != nil {
		return src.BBox
	}
	if global.UseBBoxFilter {
		b := BBoxFromCoords(global.GlobalBBoxCoords, global.GlobalBBoxCRSURI)
		return &b
	}
	return nil
}
