// Package observability defines the Logger and Metrics ports every
// pipeline component is constructed with. The concrete JSON logger and the
// Prometheus and no-op metrics the process wires at startup live in the
// logger and metrics subpackages.
package observability

// Logger is structured, leveled logging with no package-level singleton:
// every component takes one by constructor injection.
type Logger interface {
	Debug(msg string, fields ...any)
	Info(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, err error, fields ...any)

	// WithFields returns a new Logger with fields merged into every
	// subsequent entry, in addition to this logger's own fields.
	WithFields(fields map[string]any) Logger
}

// Metrics records counters, histograms, and gauges. A no-op implementation
// satisfies the same port when metrics are disabled.
type Metrics interface {
	IncrementCounter(name string, tags map[string]string)
	RecordHistogram(name string, value float64, tags map[string]string)
	RecordGauge(name string, value float64, tags map[string]string)

	WithTags(tags map[string]string) Metrics
}
