package metrics

import "github.com/1kimnet/geo-ingest/internal/observability"

// NoOp satisfies observability.Metrics without recording anything; used
// when metrics collection is disabled.
type NoOp struct{}

func (NoOp) IncrementCounter(string, map[string]string)          {}
func (NoOp) RecordHistogram(string, float64, map[string]string)  {}
func (NoOp) RecordGauge(string, float64, map[string]string)      {}
func (n NoOp) WithTags(map[string]string) observability.Metrics  { return n }
