// Command ingest runs one geospatial dataset ingestion pass: it reads the
// global settings, source inventory, and optional name-mapping documents,
// wires the shared transport and staging components, and drives the
// bounded worker pool to completion, grounded on the teacher's
// workers/downloader/cmd/main.go staged-build shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/1kimnet/geo-ingest/internal/config"
	"github.com/1kimnet/geo-ingest/internal/handler"
	"github.com/1kimnet/geo-ingest/internal/httpclient"
	"github.com/1kimnet/geo-ingest/internal/model"
	amqpnotify "github.com/1kimnet/geo-ingest/internal/notify/amqp"
	objectstores3 "github.com/1kimnet/geo-ingest/internal/objectstore/s3"
	"github.com/1kimnet/geo-ingest/internal/observability"
	"github.com/1kimnet/geo-ingest/internal/observability/logger"
	"github.com/1kimnet/geo-ingest/internal/observability/metrics"
	"github.com/1kimnet/geo-ingest/internal/orchestrator"
	"github.com/1kimnet/geo-ingest/internal/retry"
	"github.com/1kimnet/geo-ingest/internal/staging"
	"github.com/1kimnet/geo-ingest/internal/summary"
)

const (
	exitSuccess             = 0
	exitConfigError         = 1
	exitCancelledOrTimedOut = 2
	exitFailureBudget       = 3
)

func main() {
	os.Exit(run())
}

// flags holds the three configuration document paths, defaulting to the
// well-known locations next to the binary's working directory.
type flags struct {
	globalPath    string
	inventoryPath string
	mappingsPath  string
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.globalPath, "global", "config/global.yaml", "path to the global settings document")
	flag.StringVar(&f.inventoryPath, "inventory", "config/inventory.yaml", "path to the source inventory document")
	flag.StringVar(&f.mappingsPath, "mappings", "config/name_mappings.yaml", "path to the optional name-mapping overrides document")
	flag.Parse()
	return f
}

func run() int {
	if err := config.LoadEnvFiles(); err != nil {
		fmt.Fprintf(os.Stderr, "ingest: %v\n", err)
		return exitConfigError
	}

	f := parseFlags()

	global, err := config.LoadGlobalSettings(f.globalPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ingest: %v\n", err)
		return exitConfigError
	}

	log := logger.New("geo-ingest", global.Logging.Level, os.Stdout)
	met := metrics.New("geo_ingest")

	sources, rejections, err := config.LoadInventory(f.inventoryPath, global)
	if err != nil {
		log.Error("failed to load inventory", err)
		return exitConfigError
	}
	for _, r := range rejections {
		log.Warn("rejected inventory entry", "reason", r.Error())
	}

	if _, err := config.LoadNameMappings(f.mappingsPath); err != nil {
		log.Error("failed to load name mappings", err)
		return exitConfigError
	}

	ctx, cancel := signalContext()
	defer cancel()

	return execute(ctx, global, sources, log, met)
}

// signalContext returns a context cancelled on SIGINT/SIGTERM, per §5's
// graceful-cancellation requirement.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// execute wires every component and drives the orchestrator to
// completion, translating its outcome into the process exit codes named
// in §6: 0 success/partial-within-budget, 2 cancellation, 3 failure
// budget exceeded.
func execute(ctx context.Context, global *config.GlobalSettings, sources []model.Source, log observability.Logger, met observability.Metrics) int {
	if global.CleanupDownloadsBeforeRun {
		if err := os.RemoveAll(global.Paths.Downloads); err != nil {
			log.Warn("cleanup of downloads directory failed", "path", global.Paths.Downloads, "error", err.Error())
		}
	}
	if global.CleanupStagingBeforeRun {
		if err := os.RemoveAll(global.Paths.Staging); err != nil {
			log.Warn("cleanup of staging directory failed", "path", global.Paths.Staging, "error", err.Error())
		}
	}

	transport := httpclient.New(httpclient.Config{
		PerHostConcurrency: global.Processing.PerHostConcurrency,
		Timeout:            global.Retry.Timeout,
		ChunkSize:          global.Processing.ChunkSize,
	}, log, met)

	policy := retry.Policy{
		MaxAttempts:   global.Retry.MaxAttempts,
		BaseDelay:     global.Retry.BaseDelay,
		BackoffFactor: global.Retry.BackoffFactor,
		MaxDelay:      global.Retry.MaxDelay,
	}
	breaker := retry.NewBreaker(retry.BreakerConfig{
		FailureThreshold: global.Retry.CircuitBreakerThreshold,
		OpenDuration:     global.Retry.CircuitBreakerTimeout,
	})

	registry := handler.NewRegistry(handler.Deps{
		Client:  transport,
		Policy:  policy,
		Breaker: breaker,
		Global:  global,
		Logger:  log,
		Metrics: met,
	})

	materializer := staging.NewMaterializer(global.Paths.Staging, log)

	var notifier summary.Notifier
	if global.Notify.AMQPURL != "" {
		publisher, err := amqpnotify.New(amqpnotify.Config{
			URL:        global.Notify.AMQPURL,
			Exchange:   global.Notify.Exchange,
			RoutingKey: global.Notify.RoutingKey,
		}, log, met)
		if err != nil {
			log.Warn("amqp notifier disabled: connect failed", "error", err.Error())
		} else {
			defer publisher.Close()
			notifier = publisher
		}
	}
	runSummary := summary.New(notifier)

	var mirror orchestrator.Mirror
	if global.Paths.StagingMirrorS3Bucket != "" {
		m, err := objectstores3.New(ctx, objectstores3.Config{
			Bucket:          global.Paths.StagingMirrorS3Bucket,
			Region:          os.Getenv("AWS_REGION"),
			AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
			Endpoint:        os.Getenv("AWS_S3_ENDPOINT"),
		}, log, met)
		if err != nil {
			log.Warn("s3 staging mirror disabled: init failed", "error", err.Error())
		} else {
			mirror = m
		}
	}

	orch := &orchestrator.Orchestrator{
		Sources:      sources,
		Registry:     registry,
		Materializer: materializer,
		Summary:      runSummary,
		Global:       global,
		Logger:       log,
		Mirror:       mirror,
	}

	failedCount, runErr := orch.Run(ctx)
	result := runSummary.Finalize()
	log.Info("run finished",
		"runId", result.RunID,
		"staged", result.Totals.Staged,
		"failed", result.Totals.Failed,
		"partial", result.Totals.Partial,
		"skipped", result.Totals.Skipped,
		"wallSeconds", result.WallSeconds,
	)

	switch {
	case runErr != nil && ctx.Err() != nil:
		log.Warn("run cancelled", "error", runErr.Error())
		return exitCancelledOrTimedOut
	case runErr != nil:
		log.Warn("run exceeded failure budget", "failed", failedCount, "error", runErr.Error())
		return exitFailureBudget
	default:
		return exitSuccess
	}
}
