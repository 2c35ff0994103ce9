// Package handler implements the four extract handlers behind one
// fetch(ctx, source, stagingRoot) contract, grounded on DESIGN NOTES §9's
// guidance to use a tagged variant plus a kind-to-implementation lookup
// rather than inheritance, and on the teacher's
// workers/downloader/internal/worker package shape.
package handler

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"time"

	"github.com/1kimnet/geo-ingest/internal/config"
	"github.com/1kimnet/geo-ingest/internal/httpclient"
	"github.com/1kimnet/geo-ingest/internal/model"
	"github.com/1kimnet/geo-ingest/internal/observability"
	"github.com/1kimnet/geo-ingest/internal/retry"
)

// Handler is the contract every extract handler satisfies.
type Handler interface {
	Fetch(ctx context.Context, source model.Source, stagingRoot string) ([]model.RawArtifact, error)
}

// Deps bundles the shared collaborators every handler is constructed with;
// none of them hold per-source mutable state (DESIGN NOTES §9).
type Deps struct {
	Client   *httpclient.Client
	Policy   retry.Policy
	Breaker  *retry.Breaker
	Global   *config.GlobalSettings
	Logger   observability.Logger
	Metrics  observability.Metrics
}

// Registry looks up the Handler for a source's HandlerKind.
type Registry struct {
	handlers map[model.HandlerKind]Handler
}

// NewRegistry builds the standard kind-to-implementation lookup.
func NewRegistry(d Deps) *Registry {
	return &Registry{handlers: map[model.HandlerKind]Handler{
		model.KindDirectFile:      &DirectFile{Deps: d},
		model.KindFeed:            &Feed{Deps: d},
		model.KindTiledQuery:      &TiledQuery{Deps: d},
		model.KindTiledCollection: &TiledCollection{Deps: d},
	}}
}

// Lookup returns the Handler for kind, or false if unrecognized.
func (r *Registry) Lookup(kind model.HandlerKind) (Handler, bool) {
	h, ok := r.handlers[kind]
	return h, ok
}

// NewTestRegistry builds a Registry from an arbitrary kind-to-Handler
// map, for callers outside this package that need to substitute fakes
// (e.g. internal/orchestrator's tests) without constructing a real
// transport.
func NewTestRegistry(handlers map[model.HandlerKind]Handler) *Registry {
	return &Registry{handlers: handlers}
}

// breakerKey identifies a (host, handler-kind) pair for the circuit
// breaker table (§4.4, §5).
func breakerKey(rawURL string, kind model.HandlerKind) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return string(kind) + "|"
	}
	return string(kind) + "|" + u.Host
}

// stagingDir returns stagingRoot/<authority>/<source.id>, the shared
// destination convention every handler writes under (§4.5).
func stagingDir(stagingRoot string, source model.Source) string {
	return filepath.Join(stagingRoot, source.Authority, source.ID)
}

// applyBBox reports the effective bbox for source given global settings,
// per §4.5's shared convention: source.bbox wins when set; otherwise the
// global bbox applies when enabled.
func applyBBox(global *config.GlobalSettings, source model.Source) *model.BBox {
	if source.BBox != nil {
		return source.BBox
	}
	if global != nil && global.UseBBoxFilter {
		c := global.GlobalBBoxCoords
		b := model.BBox{Xmin: c[0], Ymin: c[1], Xmax: c[2], Ymax: c[3], CRS: global.GlobalBBoxCRSURI}
		if b.Valid() {
			return &b
		}
	}
	return nil
}

func retryableTransportError(err error) bool {
	var te *httpclient.TransportError
	if ok := asTransportError(err, &te); ok {
		switch te.Kind {
		case httpclient.ErrConnect, httpclient.ErrTimeout:
			return true
		case httpclient.ErrStatus:
			return te.StatusCode == 429 || te.StatusCode >= 500
		}
		return false
	}
	return false
}

func asTransportError(err error, target **httpclient.TransportError) bool {
	for err != nil {
		if te, ok := err.(*httpclient.TransportError); ok {
			*target = te
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func retryAfterOf(err error) time.Duration {
	var te *httpclient.TransportError
	if asTransportError(err, &te) {
		return te.RetryAfter
	}
	return 0
}

// filenameFromContentDisposition returns the filename= value of a
// Content-Disposition header, or "" when there is none. Callers fall back
// to fallbackFilename, which uses the URL path's last segment and then a
// declared-format-driven extension, finally ".data".
func filenameFromContentDisposition(header string) string {
	if header == "" {
		return ""
	}
	const key = "filename="
	idx := indexOfCI(header, key)
	if idx < 0 {
		return ""
	}
	name := header[idx+len(key):]
	if semi := indexByte(name, ';'); semi >= 0 {
		name = name[:semi]
	}
	name = trimQuotes(name)
	return name
}

func fallbackFilename(rawURL, declaredFormat string) string {
	if u, err := url.Parse(rawURL); err == nil {
		base := filepath.Base(u.Path)
		if base != "" && base != "/" && base != "." {
			return base
		}
	}
	ext := extensionForFormat(declaredFormat)
	return "artifact" + ext
}

func extensionForFormat(format string) string {
	switch format {
	case "shapefile_collection":
		return ".zip"
	case "gpkg":
		return ".gpkg"
	case "geojson", "json":
		return ".json"
	default:
		return ".data"
	}
}

func indexOfCI(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if equalFoldASCII(s[i:i+len(substr)], substr) {
			return i
		}
	}
	return -1
}

func equalFoldASCII(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func trimQuotes(s string) string {
	for len(s) > 0 && (s[0] == ' ' || s[0] == '\t') {
		s = s[1:]
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

var errNoTargetLayers = fmt.Errorf("no target layers resolved")
