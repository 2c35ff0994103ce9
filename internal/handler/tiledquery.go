package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/1kimnet/geo-ingest/internal/ingesterr"
	"github.com/1kimnet/geo-ingest/internal/model"
	"github.com/1kimnet/geo-ingest/internal/naming"
	"github.com/1kimnet/geo-ingest/internal/retry"
)

const defaultMaxRecordCount = 1000

// serviceMetadata is the subset of an ESRI REST service/layer metadata
// document this handler reads.
type serviceMetadata struct {
	Layers []layerMetadata `json:"layers"`
}

type layerMetadata struct {
	ID             int    `json:"id"`
	MaxRecordCount *int   `json:"maxRecordCount"`
	Name           string `json:"name"`
}

// featureCollection is the well-formed JSON-vector shape every query
// page, and the final aggregated artifact, must satisfy.
type featureCollection struct {
	Type                 string            `json:"type"`
	Features             []json.RawMessage `json:"features"`
	ExceededTransferLimit bool             `json:"exceededTransferLimit"`
}

// TiledQuery targets endpoints exposing a metadata document listing
// numbered layers with server-advertised record limits (§4.5.3).
type TiledQuery struct {
	Deps
}

func (h *TiledQuery) Fetch(ctx context.Context, source model.Source, stagingRoot string) ([]model.RawArtifact, error) {
	meta, err := h.fetchServiceMetadata(ctx, source)
	if err != nil {
		return nil, err
	}

	targets := targetLayers(source, meta)
	if len(targets) == 0 {
		return nil, errNoTargetLayers
	}

	dir := stagingDir(stagingRoot, source)
	bbox := applyBBox(h.Global, source)

	var artifacts []model.RawArtifact
	for _, layer := range targets {
		artifact, err := h.fetchLayer(ctx, source, dir, layer, bbox)
		if err != nil {
			if ingesterr.IsCancelled(err) {
				return artifacts, err
			}
			h.Logger.Warn("tiledquery layer failed", "sourceId", source.ID, "layer", layer.ID, "error", err.Error())
			continue
		}
		artifacts = append(artifacts, *artifact)
	}
	if len(artifacts) == 0 {
		return nil, ingesterr.New(ingesterr.KindTransient, "tiledquery.fetch", fmt.Errorf("all layers failed"))
	}
	return artifacts, nil
}

func (h *TiledQuery) fetchServiceMetadata(ctx context.Context, source model.Source) (*serviceMetadata, error) {
	key := breakerKey(source.URL, model.KindTiledQuery)
	var meta serviceMetadata

	op := func(ctx context.Context) (time.Duration, error) {
		params := url.Values{"f": {"json"}}
		resp, err := h.Client.Get(ctx, source.URL, params, "application/json")
		if err != nil {
			return retryAfterOf(err), err
		}
		defer resp.Body.Close()
		if decErr := json.NewDecoder(resp.Body).Decode(&meta); decErr != nil {
			return 0, ingesterr.New(ingesterr.KindPermanent, "tiledquery.metadata", decErr)
		}
		return 0, nil
	}
	if err := retry.Do(ctx, h.Policy, h.Breaker, key, retryableTransportError, op); err != nil {
		if ctx.Err() != nil {
			return nil, ingesterr.New(ingesterr.KindCancelled, "tiledquery.metadata", ctx.Err())
		}
		return nil, ingesterr.New(classifyFetchError(err), "tiledquery.metadata", err)
	}
	return &meta, nil
}

// targetLayers resolves source.include.layer_ids against the metadata's
// layer inventory, defaulting to every layer. A single-layer service whose
// layer matches none of the ids still yields that layer, under its own id.
// Metadata that lists no layers yields no targets.
func targetLayers(source model.Source, meta *serviceMetadata) []layerMetadata {
	ids := source.ExtraIntSlice("layer_ids")
	if len(ids) == 0 {
		if len(meta.Layers) == 1 {
			return meta.Layers
		}
		return meta.Layers
	}
	wanted := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	var out []layerMetadata
	for _, l := range meta.Layers {
		if _, ok := wanted[l.ID]; ok {
			out = append(out, l)
		}
	}
	if len(out) == 0 && len(meta.Layers) == 1 {
		return meta.Layers
	}
	return out
}

func (h *TiledQuery) fetchLayer(ctx context.Context, source model.Source, dir string, layer layerMetadata, bbox *model.BBox) (*model.RawArtifact, error) {
	limit := defaultMaxRecordCount
	if layer.MaxRecordCount != nil && *layer.MaxRecordCount > 0 {
		limit = *layer.MaxRecordCount
	}

	where := source.ExtraString("where_clause", "1=1")
	outFields := source.ExtraString("out_fields", "*")
	layerURL := fmt.Sprintf("%s/%d/query", trimTrailingSlash(source.URL), layer.ID)
	key := breakerKey(layerURL, model.KindTiledQuery)

	// supports_bbox_crs defaults true: most ArcGIS REST endpoints accept
	// geometry/inSR filtering. A source that sets it false can't honor
	// server-side CRS filtering, so bbox filtering is left for the
	// downstream staging step and the artifact is marked partial.
	serverSideBBox := bbox != nil && source.ExtraBool("supports_bbox_crs", true)
	deferredBBox := bbox != nil && !serverSideBBox
	if deferredBBox {
		h.Logger.Info("tiledquery bbox filtering deferred downstream", "sourceId", source.ID, "layer", layer.ID)
	}

	var features []json.RawMessage
	partial := deferredBBox
	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, ingesterr.New(ingesterr.KindCancelled, "tiledquery.page", err)
		}

		params := url.Values{
			"f":            {"geojson"},
			"where":        {where},
			"outFields":    {outFields},
			"resultOffset": {strconv.Itoa(offset)},
			"resultRecordCount": {strconv.Itoa(limit)},
		}
		if serverSideBBox {
			params.Set("geometry", fmt.Sprintf("%f,%f,%f,%f", bbox.Xmin, bbox.Ymin, bbox.Xmax, bbox.Ymax))
			params.Set("geometryType", "esriGeometryEnvelope")
			params.Set("inSR", bbox.CRS)
			params.Set("spatialRel", "esriSpatialRelIntersects")
		}

		var page featureCollection
		op := func(ctx context.Context) (time.Duration, error) {
			resp, err := h.Client.Get(ctx, layerURL, params, "application/json")
			if err != nil {
				return retryAfterOf(err), err
			}
			defer resp.Body.Close()
			if decErr := json.NewDecoder(resp.Body).Decode(&page); decErr != nil {
				return 0, ingesterr.New(ingesterr.KindPermanent, "tiledquery.page", decErr)
			}
			return 0, nil
		}
		err := retry.Do(ctx, h.Policy, h.Breaker, key, retryableTransportError, op)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ingesterr.New(ingesterr.KindCancelled, "tiledquery.page", ctx.Err())
			}
			h.Logger.Warn("tiledquery page failed, skipping", "sourceId", source.ID, "layer", layer.ID, "offset", offset, "error", err.Error())
			partial = true
			break
		}

		features = append(features, page.Features...)
		if !page.ExceededTransferLimit && len(page.Features) < limit {
			break
		}
		if len(page.Features) == 0 {
			break
		}
		offset += limit
	}

	path, err := writeFeatureCollection(dir, layerFileName(source, layer), features)
	if err != nil {
		return nil, ingesterr.New(ingesterr.KindResource, "tiledquery.write", err)
	}

	return &model.RawArtifact{
		SourceID:       source.ID,
		SubResourceID:  strconv.Itoa(layer.ID),
		PayloadPath:    path,
		DeclaredFormat: "geojson",
		Partial:        partial,
	}, nil
}

func layerFileName(source model.Source, layer layerMetadata) string {
	name := layer.Name
	if name == "" {
		name = strconv.Itoa(layer.ID)
	}
	return fmt.Sprintf("layer_%s.geojson", naming.File(name))
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

func writeFeatureCollection(dir, filename string, features []json.RawMessage) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if features == nil {
		features = []json.RawMessage{}
	}
	doc := featureCollection{Type: "FeatureCollection", Features: features}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
