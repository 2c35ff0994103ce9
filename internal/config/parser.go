package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadGlobalSettings parses the global settings document, overlaying it on
// top of DefaultGlobalSettings so that every field not present in the
// document still has a sane value.
func LoadGlobalSettings(path string) (*GlobalSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read global settings %s: %w", path, err)
	}

	var doc yamlGlobalDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parse global settings %s: %w", path, err)
	}

	gs := DefaultGlobalSettings()

	if doc.Environment != "" {
		gs.Environment = doc.Environment
	}
	if doc.Logging.Level != "" {
		gs.Logging.Level = doc.Logging.Level
	}

	if doc.Retry.MaxAttempts > 0 {
		gs.Retry.MaxAttempts = doc.Retry.MaxAttempts
	}
	if doc.Retry.BaseDelay > 0 {
		gs.Retry.BaseDelay = secondsToDuration(doc.Retry.BaseDelay)
	}
	if doc.Retry.BackoffFactor > 0 {
		gs.Retry.BackoffFactor = doc.Retry.BackoffFactor
	}
	if doc.Retry.MaxDelay > 0 {
		gs.Retry.MaxDelay = secondsToDuration(doc.Retry.MaxDelay)
	}
	if doc.Retry.Timeout > 0 {
		gs.Retry.Timeout = secondsToDuration(doc.Retry.Timeout)
	}
	if doc.Retry.CircuitBreakerThreshold > 0 {
		gs.Retry.CircuitBreakerThreshold = doc.Retry.CircuitBreakerThreshold
	}
	if doc.Retry.CircuitBreakerTimeout > 0 {
		gs.Retry.CircuitBreakerTimeout = secondsToDuration(doc.Retry.CircuitBreakerTimeout)
	}

	if doc.Processing.ParallelWorkers > 0 {
		gs.Processing.ParallelWorkers = doc.Processing.ParallelWorkers
	}
	if doc.Processing.MemoryLimitMB > 0 {
		gs.Processing.MemoryLimitMB = doc.Processing.MemoryLimitMB
	}
	if doc.Processing.ChunkSize > 0 {
		gs.Processing.ChunkSize = doc.Processing.ChunkSize
	}
	if doc.PerHostConcurrency > 0 {
		gs.Processing.PerHostConcurrency = doc.PerHostConcurrency
	}
	if doc.SourceTimeout > 0 {
		gs.Processing.SourceTimeout = secondsToDuration(doc.SourceTimeout)
	}
	if doc.MaxPipelineFailures > 0 {
		gs.Processing.MaxPipelineFailures = doc.MaxPipelineFailures
	}

	gs.UseBBoxFilter = doc.UseBBoxFilter
	if len(doc.GlobalOGCBBoxCoords) == 4 {
		gs.GlobalBBoxCoords = [4]float64{
			doc.GlobalOGCBBoxCoords[0], doc.GlobalOGCBBoxCoords[1],
			doc.GlobalOGCBBoxCoords[2], doc.GlobalOGCBBoxCoords[3],
		}
	}
	gs.GlobalBBoxCRSURI = doc.GlobalOGCBBoxCRSURI

	if doc.Paths.Downloads != "" {
		gs.Paths.Downloads = doc.Paths.Downloads
	}
	if doc.Paths.Staging != "" {
		gs.Paths.Staging = doc.Paths.Staging
	}
	gs.Paths.StagingMirrorS3Bucket = doc.Paths.StagingMirrorS3Bucket

	gs.CleanupDownloadsBeforeRun = doc.CleanupDownloadsBeforeRun
	gs.CleanupStagingBeforeRun = doc.CleanupStagingBeforeRun
	gs.CRSOverrideAuthorities = doc.CRSOverrideAuthorities
	gs.SkipUnmappableSources = doc.SkipUnmappableSources

	gs.Notify = NotifyConfig{
		AMQPURL:    doc.Notify.AMQPURL,
		Exchange:   doc.Notify.Exchange,
		RoutingKey: doc.Notify.RoutingKey,
	}

	if err := gs.Validate(); err != nil {
		return nil, err
	}
	return gs, nil
}

// LoadNameMappings parses the optional name-mapping override document. A
// missing file is not an error: the core treats mappings as opaque
// metadata it never requires.
func LoadNameMappings(path string) ([]NameMapping, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: read name mappings %s: %w", path, err)
	}

	var doc yamlNameMappingDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parse name mappings %s: %w", path, err)
	}

	out := make([]NameMapping, 0, len(doc.Mappings))
	for _, m := range doc.Mappings {
		enabled := true
		if m.Enabled != nil {
			enabled = *m.Enabled
		}
		out = append(out, NameMapping{
			StagingFC:   m.StagingFC,
			SDEFC:       m.SDEFC,
			SDEDataset:  m.SDEDataset,
			Enabled:     enabled,
			Description: m.Description,
			Schema:      m.Schema,
		})
	}
	return out, nil
}
