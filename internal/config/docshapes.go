package config

import "time"

// The yamlDoc* types mirror the on-disk YAML shape exactly (§6 of the
// specification). Validated, typed config values (GlobalSettings, a
// validated model.Source) are built from these by Load / parseSource.

type yamlGlobalDoc struct {
	Environment string `yaml:"environment"`
	Logging     struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
	Retry struct {
		MaxAttempts             int     `yaml:"max_attempts"`
		BaseDelay               float64 `yaml:"base_delay"`
		BackoffFactor           float64 `yaml:"backoff_factor"`
		MaxDelay                float64 `yaml:"max_delay"`
		Timeout                 float64 `yaml:"timeout"`
		CircuitBreakerThreshold int     `yaml:"circuit_breaker_threshold"`
		CircuitBreakerTimeout   float64 `yaml:"circuit_breaker_timeout"`
	} `yaml:"retry"`
	Processing struct {
		ParallelWorkers int `yaml:"parallel_workers"`
		MemoryLimitMB   int `yaml:"memory_limit_mb"`
		ChunkSize       int `yaml:"chunk_size"`
	} `yaml:"processing"`
	UseBBoxFilter       bool      `yaml:"use_bbox_filter"`
	GlobalOGCBBoxCoords []float64 `yaml:"global_ogc_bbox_coords"`
	GlobalOGCBBoxCRSURI string    `yaml:"global_ogc_bbox_crs_uri"`
	Paths               struct {
		Downloads         string `yaml:"downloads"`
		Staging           string `yaml:"staging"`
		StagingMirrorS3Bucket string `yaml:"staging_mirror_s3_bucket"`
	} `yaml:"paths"`
	CleanupDownloadsBeforeRun bool     `yaml:"cleanup_downloads_before_run"`
	CleanupStagingBeforeRun   bool     `yaml:"cleanup_staging_before_run"`
	CRSOverrideAuthorities    []string `yaml:"crs_override_authorities"`
	SkipUnmappableSources     bool     `yaml:"skip_unmappable_sources"`
	PerHostConcurrency        int      `yaml:"per_host_concurrency"`
	SourceTimeout             float64  `yaml:"source_timeout"`
	MaxPipelineFailures       int      `yaml:"max_pipeline_failures"`
	Notify                    struct {
		AMQPURL    string `yaml:"amqp_url"`
		Exchange   string `yaml:"exchange"`
		RoutingKey string `yaml:"routing_key"`
	} `yaml:"notify"`
}

type yamlInventoryDoc struct {
	Sources []yamlSourceDoc `yaml:"sources"`
}

// yamlSourceDoc is decoded once, into the typed fields below. Source.Extra
// is built from the `raw` mapping (plus download_format); any other
// top-level key that is not listed here is dropped, not preserved.
type yamlSourceDoc struct {
	Name           string         `yaml:"name"`
	Authority      string         `yaml:"authority"`
	Type           string         `yaml:"type"`
	URL            string         `yaml:"url"`
	Enabled        *bool          `yaml:"enabled"`
	StagedDataType string         `yaml:"staged_data_type"`
	Include        []string       `yaml:"include"`
	DownloadFormat string         `yaml:"download_format"`
	BBox           *yamlBBoxDoc   `yaml:"bbox"`
	Raw            map[string]any `yaml:"raw"`
}

type yamlBBoxDoc struct {
	Xmin, Ymin, Xmax, Ymax float64
	CRS                    string `yaml:"crs"`
}

type yamlNameMappingDoc struct {
	Mappings []yamlNameMappingEntry `yaml:"mappings"`
}

type yamlNameMappingEntry struct {
	StagingFC   string `yaml:"staging_fc"`
	SDEFC       string `yaml:"sde_fc"`
	SDEDataset  string `yaml:"sde_dataset"`
	Enabled     *bool  `yaml:"enabled"`
	Description string `yaml:"description"`
	Schema      string `yaml:"schema"`
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
