package config

import "time"

// DefaultRetryConfig mirrors the defaults named in spec.md §4.4/§6.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:             3,
		BaseDelay:               1 * time.Second,
		BackoffFactor:           2.0,
		MaxDelay:                5 * time.Minute,
		Timeout:                 30 * time.Second,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   60 * time.Second,
	}
}

// DefaultProcessingConfig mirrors spec.md §4.7/§5 defaults.
func DefaultProcessingConfig() ProcessingConfig {
	return ProcessingConfig{
		ParallelWorkers:     4,
		MemoryLimitMB:       1024,
		ChunkSize:           64 * 1024,
		PerHostConcurrency:  4,
		SourceTimeout:       15 * time.Minute,
		MaxPipelineFailures: 5,
	}
}

// DefaultPathsConfig gives every run a usable on-disk layout even when the
// global settings document omits paths.*.
func DefaultPathsConfig() PathsConfig {
	return PathsConfig{
		Downloads: "./downloads",
		Staging:   "./staging",
	}
}

// DefaultGlobalSettings returns a fully-populated settings value; Load
// overlays whatever the document specifies on top of this.
func DefaultGlobalSettings() *GlobalSettings {
	return &GlobalSettings{
		Environment: "production",
		Logging:     LoggingConfig{Level: "info"},
		Retry:       DefaultRetryConfig(),
		Processing:  DefaultProcessingConfig(),
		Paths:       DefaultPathsConfig(),
		SkipUnmappableSources: false,
	}
}
