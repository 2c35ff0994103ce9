// Package model holds the immutable value types shared across the
// ingestion pipeline: source descriptors, raw artifacts, and staged
// entries.
package model

// HandlerKind selects which extract handler dispatches a source.
type HandlerKind string

const (
	KindDirectFile       HandlerKind = "DirectFile"
	KindFeed             HandlerKind = "Feed"
	KindTiledQuery       HandlerKind = "TiledQuery"
	KindTiledCollection  HandlerKind = "TiledCollection"
)

// StagedKind is the expected artifact family after staging.
type StagedKind string

const (
	StagedArchiveOfSplitVector StagedKind = "archive-of-split-vector"
	StagedSplitVector          StagedKind = "split-vector"
	StagedContainerVector      StagedKind = "container-vector"
	StagedJSONVector           StagedKind = "json-vector"
)

// BBox is a rectangular geographic filter with an accompanying CRS
// identifier. Well-formed means Xmin <= Xmax and Ymin <= Ymax.
type BBox struct {
	Xmin, Ymin, Xmax, Ymax float64
	CRS                    string
}

// Valid reports whether b is well-formed per axis.
func (b BBox) Valid() bool {
	return b.Xmin <= b.Xmax && b.Ymin <= b.Ymax
}

// Source is an immutable, validated descriptor produced by the config
// loader. Two Source values with the same ID are never produced by a
// single Load call.
type Source struct {
	ID         string
	Name       string
	Authority  string
	Kind       HandlerKind
	URL        string
	Enabled    bool
	StagedKind StagedKind
	Include    []string
	BBox       *BBox
	Extra      map[string]any
}

// ExtraString returns a string-typed extra option, or def if absent or of
// the wrong type.
func (s Source) ExtraString(key, def string) string {
	if v, ok := s.Extra[key]; ok {
		if sv, ok := v.(string); ok {
			return sv
		}
	}
	return def
}

// ExtraBool returns a bool-typed extra option, or def if absent or of the
// wrong type.
func (s Source) ExtraBool(key string, def bool) bool {
	if v, ok := s.Extra[key]; ok {
		if bv, ok := v.(bool); ok {
			return bv
		}
	}
	return def
}

// ExtraInt returns an int-typed extra option, or def if absent or of the
// wrong type. YAML unmarshals integers into int already when decoded via
// yaml.v3's native mapping, so no float coercion is needed here.
func (s Source) ExtraInt(key string, def int) int {
	if v, ok := s.Extra[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		}
	}
	return def
}

// ExtraIntSlice returns an []int-typed extra option, or nil if absent.
func (s Source) ExtraIntSlice(key string) []int {
	v, ok := s.Extra[key]
	if !ok {
		return nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]int, 0, len(raw))
	for _, item := range raw {
		if n, ok := item.(int); ok {
			out = append(out, n)
		}
	}
	return out
}

// ExtraStringSlice returns a []string-typed extra option, or nil if absent.
func (s Source) ExtraStringSlice(key string) []string {
	v, ok := s.Extra[key]
	if !ok {
		return nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if sv, ok := item.(string); ok {
			out = append(out, sv)
		}
	}
	return out
}
