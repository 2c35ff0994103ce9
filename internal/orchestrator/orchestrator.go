// Package orchestrator drives the worker pool that dispatches one source
// per worker through an extract handler and the staging materializer,
// grounded on the teacher's workers/downloader/internal/worker pool shape
// and DESIGN NOTES §9's "bounded worker pool driven by a channel of
// sources" guidance.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/1kimnet/geo-ingest/internal/config"
	"github.com/1kimnet/geo-ingest/internal/handler"
	"github.com/1kimnet/geo-ingest/internal/ingesterr"
	"github.com/1kimnet/geo-ingest/internal/model"
	"github.com/1kimnet/geo-ingest/internal/observability"
	"github.com/1kimnet/geo-ingest/internal/staging"
	"github.com/1kimnet/geo-ingest/internal/summary"
)

// Mirror is the optional S3 staging mirror (§11.1 of SPEC_FULL). Nil when
// no mirror bucket is configured.
type Mirror interface {
	Put(ctx context.Context, entry model.StagedEntry)
}

// Orchestrator builds and drives the bounded worker pool for one run.
type Orchestrator struct {
	Sources      []model.Source
	Registry     *handler.Registry
	Materializer *staging.Materializer
	Summary      *summary.Summary
	Global       *config.GlobalSettings
	Logger       observability.Logger
	Mirror       Mirror
}

// sourceOutcome classifies a single source's overall result once every
// artifact it produced has been staged (§4.7's partial-failure policy).
type sourceOutcome struct {
	sourceID string
	status   summary.Status
	detail   string
}

// Run dispatches every enabled source across a worker pool sized
// min(configuredWorkers, len(enabledSources)), enforces each source's
// deadline, and aggregates outcomes into the Summary. It returns the
// number of sources classified failed, and an error only when global
// cancellation was triggered by exceeding the configured failure budget
// or by ctx itself being cancelled.
func (o *Orchestrator) Run(ctx context.Context) (failedCount int, err error) {
	enabled := enabledSources(o.Sources)
	if len(enabled) == 0 {
		return 0, nil
	}

	workers := o.Global.Processing.ParallelWorkers
	if workers <= 0 {
		workers = 1
	}
	if workers > len(enabled) {
		workers = len(enabled)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	outcomes := make(chan sourceOutcome, len(enabled))

	if workers == 1 {
		for _, source := range enabled {
			if runCtx.Err() != nil {
				break
			}
			outcomes <- o.runSource(runCtx, source)
		}
	} else {
		sourceCh := make(chan model.Source, len(enabled))
		for _, s := range enabled {
			sourceCh <- s
		}
		close(sourceCh)

		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for source := range sourceCh {
					if runCtx.Err() != nil {
						outcomes <- sourceOutcome{sourceID: source.ID, status: summary.StatusSkippedCancelled, detail: "global cancellation"}
						continue
					}
					outcomes <- o.runSource(runCtx, source)
				}
			}()
		}
		wg.Wait()
	}
	close(outcomes)

	maxFailures := o.Global.Processing.MaxPipelineFailures
	if maxFailures <= 0 {
		maxFailures = 5
	}

	for outcome := range outcomes {
		o.Summary.Record(outcome.sourceID, summary.PhaseSource, outcome.status, outcome.detail)
		if outcome.status == summary.StatusFailed {
			failedCount++
			if failedCount > maxFailures {
				cancel()
			}
		}
	}

	if failedCount > maxFailures {
		return failedCount, fmt.Errorf("exceeded max pipeline failures: %d > %d", failedCount, maxFailures)
	}
	if ctx.Err() != nil {
		return failedCount, ctx.Err()
	}
	return failedCount, nil
}

func enabledSources(sources []model.Source) []model.Source {
	var out []model.Source
	for _, s := range sources {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

// runSource fetches and stages one source end to end, enforcing
// sourceTimeout as a context deadline rather than thread-level
// interruption (§5).
func (o *Orchestrator) runSource(ctx context.Context, source model.Source) sourceOutcome {
	timeout := o.Global.Processing.SourceTimeout
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	sourceCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	h, ok := o.Registry.Lookup(source.Kind)
	if !ok {
		return sourceOutcome{sourceID: source.ID, status: summary.StatusFailed, detail: fmt.Sprintf("no handler for kind %q", source.Kind)}
	}

	artifacts, fetchErr := h.Fetch(sourceCtx, source, o.Global.Paths.Staging)
	if len(artifacts) == 0 && fetchErr != nil {
		if ingesterr.IsCancelled(fetchErr) {
			return sourceOutcome{sourceID: source.ID, status: summary.StatusSkippedCancelled, detail: fetchErr.Error()}
		}
		return sourceOutcome{sourceID: source.ID, status: summary.StatusFailed, detail: fetchErr.Error()}
	}
	if len(artifacts) == 0 {
		return sourceOutcome{sourceID: source.ID, status: summary.StatusSkipped, detail: "no matching sub-resources"}
	}

	var staged, failed int
	for _, artifact := range artifacts {
		o.Summary.Record(source.ID, summary.PhaseDownload, summary.StatusOK, artifact.PayloadPath)
		entries, stageErr := o.Materializer.Stage(artifact, source)
		if stageErr != nil {
			failed++
			o.Summary.Record(source.ID, summary.PhaseStage, summary.StatusFailed, stageErr.Error())
			continue
		}
		staged += len(entries)
		o.Summary.Record(source.ID, summary.PhaseStage, summary.StatusOK, fmt.Sprintf("%d entries", len(entries)))

		if o.Mirror != nil {
			for _, entry := range entries {
				o.Mirror.Put(ctx, entry)
			}
		}
	}

	switch {
	case staged > 0 && failed > 0:
		return sourceOutcome{sourceID: source.ID, status: summary.StatusPartial, detail: fmt.Sprintf("%d staged, %d failed", staged, failed)}
	case staged == 0:
		return sourceOutcome{sourceID: source.ID, status: summary.StatusFailed, detail: "every artifact failed to stage"}
	default:
		return sourceOutcome{sourceID: source.ID, status: summary.StatusOK, detail: fmt.Sprintf("%d entries staged", staged)}
	}
}
