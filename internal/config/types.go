// Package config parses the three configuration documents the ingestion
// engine reads at startup — global settings, the source inventory, and the
// optional name-mapping overrides — into validated, immutable descriptors.
package config

import "time"

// GlobalSettings is the parsed, validated form of the global settings
// document (§6.1 of the specification).
type GlobalSettings struct {
	Environment string
	Logging     LoggingConfig
	Retry       RetryConfig
	Processing  ProcessingConfig
	UseBBoxFilter       bool
	GlobalBBoxCoords    [4]float64
	GlobalBBoxCRSURI    string
	Paths               PathsConfig
	CleanupDownloadsBeforeRun bool
	CleanupStagingBeforeRun   bool

	// Extensions beyond spec.md's literal key list (§11, §13 of SPEC_FULL).
	CRSOverrideAuthorities []string
	SkipUnmappableSources  bool
	Notify                 NotifyConfig
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level string
}

// RetryConfig mirrors retry.* from the global settings document.
type RetryConfig struct {
	MaxAttempts             int
	BaseDelay               time.Duration
	BackoffFactor           float64
	MaxDelay                time.Duration
	Timeout                 time.Duration
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration
}

// ProcessingConfig mirrors processing.* from the global settings document;
// PerHostConcurrency, SourceTimeout and MaxPipelineFailures come from the
// top-level per_host_concurrency, source_timeout and max_pipeline_failures
// keys.
type ProcessingConfig struct {
	ParallelWorkers  int
	MemoryLimitMB    int
	ChunkSize        int
	PerHostConcurrency int
	SourceTimeout      time.Duration
	MaxPipelineFailures int
}

// PathsConfig mirrors paths.* from the global settings document, plus the
// optional S3 staging mirror bucket (§11.1 of SPEC_FULL).
type PathsConfig struct {
	Downloads          string
	Staging            string
	StagingMirrorS3Bucket string
}

// NotifyConfig configures the optional RabbitMQ run-event notifier
// (§11.2 of SPEC_FULL). Zero value disables it.
type NotifyConfig struct {
	AMQPURL      string
	Exchange     string
	RoutingKey   string
}

// NameMapping is one entry from the optional name-mapping override
// document; carried through to StagedEntry metadata opaquely by the core.
type NameMapping struct {
	StagingFC   string
	SDEFC       string
	SDEDataset  string
	Enabled     bool
	Description string
	Schema      string
}
