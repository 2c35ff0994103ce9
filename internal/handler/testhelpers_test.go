package handler

import (
	"github.com/1kimnet/geo-ingest/internal/observability"
)

// silentLogger discards everything; used in tests that don't assert on
// log output.
type silentLogger struct {
	fields map[string]any
}

func (silentLogger) Debug(string, ...any)         {}
func (silentLogger) Info(string, ...any)          {}
func (silentLogger) Warn(string, ...any)          {}
func (silentLogger) Error(string, error, ...any)  {}
func (l silentLogger) WithFields(map[string]any) observability.Logger { return l }

type noopMetrics struct{}

func (noopMetrics) IncrementCounter(string, map[string]string)         {}
func (noopMetrics) RecordHistogram(string, float64, map[string]string) {}
func (noopMetrics) RecordGauge(string, float64, map[string]string)     {}
func (n noopMetrics) WithTags(map[string]string) observability.Metrics { return n }
