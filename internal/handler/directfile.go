package handler

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/1kimnet/geo-ingest/internal/httpclient"
	"github.com/1kimnet/geo-ingest/internal/ingesterr"
	"github.com/1kimnet/geo-ingest/internal/model"
	"github.com/1kimnet/geo-ingest/internal/retry"
)

// DirectFile downloads one resource per Include entry, or a single
// resource when Include is absent (§4.5.1). Include entries are archive-
// member stems, not URLs: each is composed with source.URL as
// base_url/<stem><ext>, following original_source's
// _download_single_file_stem convention.
type DirectFile struct {
	Deps
	// ForceDownload disables the cached-file short-circuit. NewRegistry
	// leaves it false and no global settings key sets it, so the
	// short-circuit is always active for registry-built handlers.
	ForceDownload bool
}

func (h *DirectFile) Fetch(ctx context.Context, source model.Source, stagingRoot string) ([]model.RawArtifact, error) {
	dir := stagingDir(stagingRoot, source)

	if len(source.Include) == 0 {
		artifact, err := h.fetchOne(ctx, source, dir, source.URL, "")
		if err != nil {
			return nil, err
		}
		if artifact == nil {
			return nil, nil
		}
		return []model.RawArtifact{*artifact}, nil
	}

	ext := includeFileExtension(source)
	baseURL := strings.TrimRight(source.URL, "/") + "/"

	var artifacts []model.RawArtifact
	var lastErr error

	for _, stem := range source.Include {
		target := baseURL + stem + ext
		artifact, err := h.fetchOne(ctx, source, dir, target, stem)
		if err != nil {
			if ingesterr.IsCancelled(err) {
				return artifacts, err
			}
			lastErr = err
			h.Logger.Warn("directfile entry failed", "sourceId", source.ID, "stem", stem, "url", target, "error", err.Error())
			continue
		}
		if artifact != nil {
			artifacts = append(artifacts, *artifact)
		}
	}

	if len(artifacts) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return artifacts, nil
}

// includeFileExtension resolves the archive extension used to compose
// stem-based download URLs: source.download_format when set, ".zip"
// otherwise, matching original_source's default for multi-part
// collections.
func includeFileExtension(source model.Source) string {
	if fmt := source.ExtraString("download_format", ""); fmt != "" {
		return "." + strings.TrimPrefix(strings.ToLower(fmt), ".")
	}
	return ".zip"
}

func (h *DirectFile) fetchOne(ctx context.Context, source model.Source, dir, target, subResourceID string) (*model.RawArtifact, error) {
	declaredFormat := source.ExtraString("format", source.ExtraString("download_format", ""))
	provisional := filepath.Join(dir, fallbackFilename(target, declaredFormat))

	if !h.ForceDownload {
		if _, err := os.Stat(provisional); err == nil {
			h.Logger.Info("directfile skipped, already staged", "sourceId", source.ID, "path", provisional)
			return nil, nil
		}
	}

	key := breakerKey(target, model.KindDirectFile)
	var finalPath string
	op := func(ctx context.Context) (time.Duration, error) {
		resp, err := h.Client.Get(ctx, target, nil, "")
		if err != nil {
			return retryAfterOf(err), err
		}
		dest := provisional
		if cd := resp.Header.Get("Content-Disposition"); cd != "" {
			if name := filenameFromContentDisposition(cd); name != "" {
				dest = filepath.Join(dir, name)
			}
		}
		fp, dlErr := h.Client.SaveResponseToFile(ctx, resp, dest)
		resp.Body.Close()
		if dlErr != nil {
			return retryAfterOf(dlErr), dlErr
		}
		finalPath = fp
		return 0, nil
	}

	err := retry.Do(ctx, h.Policy, h.Breaker, key, retryableTransportError, op)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ingesterr.New(ingesterr.KindCancelled, "directfile.fetch", ctx.Err())
		}
		return nil, ingesterr.New(classifyFetchError(err), "directfile.fetch", err)
	}

	return &model.RawArtifact{
		SourceID:       source.ID,
		SubResourceID:  subResourceID,
		PayloadPath:    finalPath,
		DeclaredFormat: declaredFormat,
		DeclaredCRS:    source.ExtraString("bbox_sr", ""),
	}, nil
}

func classifyFetchError(err error) ingesterr.Kind {
	var te *httpclient.TransportError
	if asTransportError(err, &te) {
		if te.StatusCode >= 400 && te.StatusCode < 500 && te.StatusCode != http.StatusRequestTimeout && te.StatusCode != http.StatusTooManyRequests {
			return ingesterr.KindPermanent
		}
	}
	return ingesterr.KindTransient
}
