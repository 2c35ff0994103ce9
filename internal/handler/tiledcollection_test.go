package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1kimnet/geo-ingest/internal/config"
	"github.com/1kimnet/geo-ingest/internal/model"
)

func TestTiledCollectionFollowsNextLinks(t *testing.T) {
	page := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/collections/roads/items":
			page++
			var links []ogcLink
			if page == 1 {
				links = []ogcLink{{Rel: "next", Href: "/collections/roads/items?page=2"}}
			}
			json.NewEncoder(w).Encode(ogcItemsPage{
				Type:       "FeatureCollection",
				Features:   []json.RawMessage{[]byte(`{"type":"Feature","geometry":{"coordinates":[10.5,59.9]}}`)},
				Links:      links,
				StorageCRS: "http://www.opengis.net/def/crs/OGC/1.3/CRS84",
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	source := model.Source{
		ID: "src1", Authority: "A", Name: "Src", Kind: model.KindTiledCollection, URL: srv.URL,
		Extra: map[string]any{"collections": []any{"roads"}},
	}

	h := &TiledCollection{Deps: testDeps(t)}
	artifacts, err := h.Fetch(t.Context(), source, dir)
	require.NoError(t, err)
	require.Len(t, artifacts, 1)

	data, readErr := os.ReadFile(artifacts[0].PayloadPath)
	require.NoError(t, readErr)
	var fc struct {
		Features []json.RawMessage `json:"features"`
	}
	require.NoError(t, json.Unmarshal(data, &fc))
	assert.Len(t, fc.Features, 2)
}

func TestTiledCollectionCRSOverrideAppliedWhenAuthorityAllowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ogcItemsPage{
			Type:       "FeatureCollection",
			Features:   []json.RawMessage{[]byte(`{"type":"Feature","geometry":{"coordinates":[15.0,62.0]}}`)},
			StorageCRS: "http://www.opengis.net/def/crs/EPSG/0/3006",
		})
	}))
	defer srv.Close()

	dir := t.TempDir()
	deps := testDeps(t)
	deps.Global = &config.GlobalSettings{CRSOverrideAuthorities: []string{"A"}}
	source := model.Source{
		ID: "src1", Authority: "A", Name: "Src", Kind: model.KindTiledCollection, URL: srv.URL,
		Extra: map[string]any{"collections": []any{"roads"}},
	}

	h := &TiledCollection{Deps: deps}
	artifacts, err := h.Fetch(t.Context(), source, dir)
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, "http://www.opengis.net/def/crs/OGC/1.3/CRS84", artifacts[0].DeclaredCRS)
}

func TestTiledCollectionNoOverrideWhenAuthorityNotAllowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ogcItemsPage{
			Type:       "FeatureCollection",
			Features:   []json.RawMessage{[]byte(`{"type":"Feature","geometry":{"coordinates":[15.0,62.0]}}`)},
			StorageCRS: "http://www.opengis.net/def/crs/EPSG/0/3006",
		})
	}))
	defer srv.Close()

	dir := t.TempDir()
	deps := testDeps(t)
	deps.Global = &config.GlobalSettings{CRSOverrideAuthorities: []string{"other"}}
	source := model.Source{
		ID: "src1", Authority: "A", Name: "Src", Kind: model.KindTiledCollection, URL: srv.URL,
		Extra: map[string]any{"collections": []any{"roads"}},
	}

	h := &TiledCollection{Deps: deps}
	artifacts, err := h.Fetch(t.Context(), source, dir)
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, "http://www.opengis.net/def/crs/EPSG/0/3006", artifacts[0].DeclaredCRS)
}

func TestTiledCollectionMissingCollectionsIsConfigError(t *testing.T) {
	dir := t.TempDir()
	source := model.Source{ID: "src1", Authority: "A", Name: "Src", Kind: model.KindTiledCollection, URL: "http://example.invalid"}
	h := &TiledCollection{Deps: testDeps(t)}
	_, err := h.Fetch(t.Context(), source, dir)
	require.Error(t, err)
}
