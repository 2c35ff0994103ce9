package model

// RawArtifact is produced by a handler after a successful fetch and is
// owned exclusively by the staging materializer thereafter.
type RawArtifact struct {
	SourceID      string
	SubResourceID string // optional: layer index, collection name, archive member stem
	PayloadPath   string
	DeclaredFormat string
	DeclaredCRS   string
	Partial       bool // true when the handler could only assemble part of the data (e.g. a failed page)
}

// GeometryKind is the dominant geometry family detected in a JSON-vector
// artifact during staging.
type GeometryKind string

const (
	GeometryPoint   GeometryKind = "point"
	GeometryLine    GeometryKind = "line"
	GeometryPolygon GeometryKind = "polygon"
	GeometryMixed   GeometryKind = "mixed"
	GeometryUnknown GeometryKind = ""
)

// StagedEntry is produced by staging and consumed by the downstream
// spatial loader.
type StagedEntry struct {
	SourceID      string
	Authority     string
	CanonicalName string
	Path          string
	Format        StagedFormat
	CRS           string
	FeatureCount  int // best-effort; -1 when unknown
	Partial       bool
	Geometry      GeometryKind
}

// StagedFormat is the on-disk format of a staged entry, distinct from the
// source's declared StagedKind (an archive-of-split-vector source stages
// to split-vector entries once extracted).
type StagedFormat string

const (
	FormatSplitVector     StagedFormat = "split-vector"
	FormatContainerVector StagedFormat = "container-vector"
	FormatJSONVector      StagedFormat = "json-vector"
)
