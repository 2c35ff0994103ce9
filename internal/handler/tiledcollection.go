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

	"github.com/1kimnet/geo-ingest/internal/config"
	"github.com/1kimnet/geo-ingest/internal/ingesterr"
	"github.com/1kimnet/geo-ingest/internal/model"
	"github.com/1kimnet/geo-ingest/internal/naming"
	"github.com/1kimnet/geo-ingest/internal/retry"
)

const defaultPageSize = 1000

type ogcLink struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type ogcItemsPage struct {
	Type       string            `json:"type"`
	Features   []json.RawMessage `json:"features"`
	Links      []ogcLink         `json:"links"`
	StorageCRS string            `json:"storageCrs"`
}

// TiledCollection targets a standards-based tiled API exposing a
// collections index and per-collection item streams with hypermedia
// links (§4.5.4).
type TiledCollection struct {
	Deps
}

func (h *TiledCollection) Fetch(ctx context.Context, source model.Source, stagingRoot string) ([]model.RawArtifact, error) {
	collections := source.ExtraStringSlice("collections")
	if len(collections) == 0 {
		return nil, ingesterr.New(ingesterr.KindConfig, "tiledcollection.fetch", fmt.Errorf("source %s: collections is required", source.ID))
	}

	dir := stagingDir(stagingRoot, source)
	bbox := applyBBox(h.Global, source)

	var artifacts []model.RawArtifact
	for _, collectionID := range collections {
		artifact, err := h.fetchCollection(ctx, source, dir, collectionID, bbox)
		if err != nil {
			if ingesterr.IsCancelled(err) {
				return artifacts, err
			}
			h.Logger.Warn("tiledcollection collection failed", "sourceId", source.ID, "collection", collectionID, "error", err.Error())
			continue
		}
		artifacts = append(artifacts, *artifact)
	}
	if len(artifacts) == 0 {
		return nil, ingesterr.New(ingesterr.KindTransient, "tiledcollection.fetch", fmt.Errorf("all collections failed"))
	}
	return artifacts, nil
}

func (h *TiledCollection) fetchCollection(ctx context.Context, source model.Source, dir, collectionID string, bbox *model.BBox) (*model.RawArtifact, error) {
	pageSize := source.ExtraInt("page_size", defaultPageSize)
	itemsURL := fmt.Sprintf("%s/collections/%s/items", trimTrailingSlash(source.URL), collectionID)
	key := breakerKey(itemsURL, model.KindTiledCollection)

	var features []json.RawMessage
	var storageCRS string
	effectiveCRS := ""
	overrideLogged := false
	nextURL := itemsURL
	params := url.Values{"limit": {strconv.Itoa(pageSize)}}
	if bbox != nil {
		params.Set("bbox", fmt.Sprintf("%f,%f,%f,%f", bbox.Xmin, bbox.Ymin, bbox.Xmax, bbox.Ymax))
		if bbox.CRS != "" {
			params.Set("bbox-crs", bbox.CRS)
		}
	}

	firstPage := true
	for nextURL != "" {
		if err := ctx.Err(); err != nil {
			return nil, ingesterr.New(ingesterr.KindCancelled, "tiledcollection.page", err)
		}

		var page ogcItemsPage
		requestParams := params
		if !firstPage {
			requestParams = nil // nextURL already carries its own query string
		}

		op := func(ctx context.Context) (time.Duration, error) {
			resp, err := h.Client.Get(ctx, nextURL, requestParams, "application/geo+json")
			if err != nil {
				return retryAfterOf(err), err
			}
			defer resp.Body.Close()
			if decErr := json.NewDecoder(resp.Body).Decode(&page); decErr != nil {
				return 0, ingesterr.New(ingesterr.KindPermanent, "tiledcollection.page", decErr)
			}
			return 0, nil
		}
		if err := retry.Do(ctx, h.Policy, h.Breaker, key, retryableTransportError, op); err != nil {
			if ctx.Err() != nil {
				return nil, ingesterr.New(ingesterr.KindCancelled, "tiledcollection.page", err)
			}
			return nil, ingesterr.New(classifyFetchError(err), "tiledcollection.page", err)
		}

		if firstPage {
			storageCRS = page.StorageCRS
			effectiveCRS = storageCRS
			if crsLooksProjected(storageCRS) && authorityAllowsOverride(h.Global, source.Authority) && magnitudesLookGeographic(page.Features) {
				effectiveCRS = "http://www.opengis.net/def/crs/OGC/1.3/CRS84"
				overrideLogged = true
			}
		}
		features = append(features, page.Features...)

		next := ""
		for _, l := range page.Links {
			if l.Rel == "next" {
				next = resolveRelative(nextURL, l.Href)
				break
			}
		}
		nextURL = next
		firstPage = false
	}

	if overrideLogged {
		h.Logger.Info("tiledcollection CRS override applied", "sourceId", source.ID, "collection", collectionID, "declaredCRS", storageCRS, "effectiveCRS", effectiveCRS)
	}

	path, err := writeCollectionFeatures(dir, collectionFileName(source, collectionID), features)
	if err != nil {
		return nil, ingesterr.New(ingesterr.KindResource, "tiledcollection.write", err)
	}

	return &model.RawArtifact{
		SourceID:       source.ID,
		SubResourceID:  collectionID,
		PayloadPath:    path,
		DeclaredFormat: "geojson",
		DeclaredCRS:    effectiveCRS,
	}, nil
}

// crsLooksProjected is a coarse heuristic: any CRS identifier that is not
// a recognized geographic CRS (CRS84 / EPSG:4326) is treated as
// potentially projected, matching §4.5.4's "advertised CRS corresponds to
// a projected system" test.
func crsLooksProjected(crs string) bool {
	switch crs {
	case "", "http://www.opengis.net/def/crs/OGC/1.3/CRS84", "http://www.opengis.net/def/crs/EPSG/0/4326":
		return false
	default:
		return true
	}
}

// authorityAllowsOverride reports whether authority is in the configured
// CRS override allow-list (§11/§13 of SPEC_FULL, resolving Open Question
// 1 in favor of configurability over a hardcoded single authority).
func authorityAllowsOverride(global *config.GlobalSettings, authority string) bool {
	if global == nil {
		return false
	}
	for _, a := range global.CRSOverrideAuthorities {
		if a == authority {
			return true
		}
	}
	return false
}

func resolveRelative(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

// magnitudesLookGeographic inspects the first page's coordinates and
// reports whether the first [x, y] pair of each of up to 25 features
// (skipping features without one) lies within geographic bounds
// (|x| <= 180, |y| <= 90), the second half of §4.5.4's override test.
func magnitudesLookGeographic(features []json.RawMessage) bool {
	if len(features) == 0 {
		return false
	}
	checked := 0
	for _, raw := range features {
		coords := extractFirstCoordinate(raw)
		if coords == nil {
			continue
		}
		if len(coords) < 2 {
			continue
		}
		x, y := coords[0], coords[1]
		if x < -180 || x > 180 || y < -90 || y > 90 {
			return false
		}
		checked++
		if checked >= 25 {
			break
		}
	}
	return checked > 0
}

type rawFeature struct {
	Geometry struct {
		Coordinates json.RawMessage `json:"coordinates"`
	} `json:"geometry"`
}

func extractFirstCoordinate(raw json.RawMessage) []float64 {
	var f rawFeature
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil
	}
	return firstPair(f.Geometry.Coordinates)
}

// firstPair descends into arbitrarily nested coordinate arrays (point,
// line, polygon, multi-*) and returns the first [x, y] pair found.
func firstPair(raw json.RawMessage) []float64 {
	var asNumbers []float64
	if err := json.Unmarshal(raw, &asNumbers); err == nil && len(asNumbers) >= 2 {
		return asNumbers[:2]
	}
	var asNested []json.RawMessage
	if err := json.Unmarshal(raw, &asNested); err == nil {
		for _, n := range asNested {
			if pair := firstPair(n); pair != nil {
				return pair
			}
		}
	}
	return nil
}

func collectionFileName(source model.Source, collectionID string) string {
	return fmt.Sprintf("%s.geojson", naming.File(collectionID))
}

func writeCollectionFeatures(dir, filename string, features []json.RawMessage) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if features == nil {
		features = []json.RawMessage{}
	}
	doc := struct {
		Type     string            `json:"type"`
		Features []json.RawMessage `json:"features"`
	}{Type: "FeatureCollection", Features: features}
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
