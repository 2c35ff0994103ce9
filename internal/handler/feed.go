package handler

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/1kimnet/geo-ingest/internal/httpclient"
	"github.com/1kimnet/geo-ingest/internal/ingesterr"
	"github.com/1kimnet/geo-ingest/internal/model"
	"github.com/1kimnet/geo-ingest/internal/naming"
	"github.com/1kimnet/geo-ingest/internal/retry"
)

// feedDoc is a tolerant tree-structured feed shape covering both Atom
// <entry><link href=.../></entry> and RSS <item><enclosure url=.../></item>
// conventions, since §4.5.2 only requires "tree-structured XML-like".
type feedDoc struct {
	Entries []feedEntry `xml:"entry"`
	Items   []feedEntry `xml:"channel>item"`
}

type feedEntry struct {
	Links      []feedLink `xml:"link"`
	Enclosures []feedLink `xml:"enclosure"`
}

type feedLink struct {
	Href string `xml:"href,attr"`
	URL  string `xml:"url,attr"`
	Rel  string `xml:"rel,attr"`
}

func (e feedEntry) resolveURL() string {
	for _, enc := range e.Enclosures {
		if enc.URL != "" {
			return enc.URL
		}
		if enc.Href != "" {
			return enc.Href
		}
	}
	for _, l := range e.Links {
		if l.Rel == "" || l.Rel == "alternate" || l.Rel == "enclosure" {
			if l.Href != "" {
				return l.Href
			}
		}
	}
	return ""
}

// Feed fetches a feed document, enumerates entries, dedups their target
// URLs, downloads each unique URL, and flattens a single matching
// container-format archive member when present (§4.5.2).
type Feed struct {
	Deps
}

func (h *Feed) Fetch(ctx context.Context, source model.Source, stagingRoot string) ([]model.RawArtifact, error) {
	key := breakerKey(source.URL, model.KindFeed)
	var doc feedDoc

	op := func(ctx context.Context) (time.Duration, error) {
		resp, err := h.Client.Get(ctx, source.URL, nil, "application/xml")
		if err != nil {
			return retryAfterOf(err), err
		}
		defer resp.Body.Close()
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return 0, &httpclient.TransportError{Kind: httpclient.ErrTruncated, Err: readErr}
		}
		if unmarshalErr := xml.Unmarshal(body, &doc); unmarshalErr != nil {
			return 0, ingesterr.New(ingesterr.KindPermanent, "feed.parse", unmarshalErr)
		}
		return 0, nil
	}
	if err := retry.Do(ctx, h.Policy, h.Breaker, key, retryableTransportError, op); err != nil {
		if ctx.Err() != nil {
			return nil, ingesterr.New(ingesterr.KindCancelled, "feed.fetch", ctx.Err())
		}
		return nil, ingesterr.New(classifyFetchError(err), "feed.fetch", err)
	}

	all := append(append([]feedEntry{}, doc.Entries...), doc.Items...)
	seen := make(map[string]struct{}, len(all))
	dir := stagingDir(stagingRoot, source)

	var artifacts []model.RawArtifact
	var failures int
	for _, entry := range all {
		target := entry.resolveURL()
		if target == "" {
			continue
		}
		if _, dup := seen[target]; dup {
			h.Logger.Info("feed entry duplicate, skipped", "sourceId", source.ID, "url", target)
			continue
		}
		seen[target] = struct{}{}

		artifact, err := h.downloadEntry(ctx, source, dir, target)
		if err != nil {
			if ingesterr.IsCancelled(err) {
				return artifacts, err
			}
			failures++
			h.Logger.Warn("feed entry failed", "sourceId", source.ID, "url", target, "error", err.Error())
			continue
		}
		artifacts = append(artifacts, *artifact)
	}

	if len(seen) > 0 && failures == len(seen) {
		return nil, ingesterr.New(ingesterr.KindTransient, "feed.fetch", fmt.Errorf("all %d feed entries failed", failures))
	}
	return artifacts, nil
}

func (h *Feed) downloadEntry(ctx context.Context, source model.Source, dir, target string) (*model.RawArtifact, error) {
	declaredFormat := source.ExtraString("format", "")
	dest := filepath.Join(dir, fallbackFilename(target, declaredFormat))
	key := breakerKey(target, model.KindFeed)

	var finalPath string
	op := func(ctx context.Context) (time.Duration, error) {
		fp, err := h.Client.DownloadToFile(ctx, target, nil, dest)
		if err != nil {
			return retryAfterOf(err), err
		}
		finalPath = fp
		return 0, nil
	}
	if err := retry.Do(ctx, h.Policy, h.Breaker, key, retryableTransportError, op); err != nil {
		if ctx.Err() != nil {
			return nil, ingesterr.New(ingesterr.KindCancelled, "feed.downloadEntry", ctx.Err())
		}
		return nil, ingesterr.New(classifyFetchError(err), "feed.downloadEntry", err)
	}

	finalPath = flattenIfSingleContainerMember(finalPath, source)

	return &model.RawArtifact{
		SourceID:       source.ID,
		PayloadPath:    finalPath,
		DeclaredFormat: declaredFormat,
	}, nil
}

// flattenIfSingleContainerMember renames a downloaded archive up one
// level and to the canonicalized source id when it contains exactly one
// container-format file matching the source's declared StagedKind
// (§4.5.2). Archive inspection reads only the zip central directory; the
// staging materializer owns extraction.
func flattenIfSingleContainerMember(path string, source model.Source) string {
	if source.StagedKind != model.StagedContainerVector {
		return path
	}
	if !strings.HasSuffix(strings.ToLower(path), ".zip") {
		return path
	}
	members, err := singleMatchingContainerMember(path)
	if err != nil || len(members) != 1 {
		return path
	}
	canonical := naming.File(source.Name) + filepath.Ext(members[0])
	dest := filepath.Join(filepath.Dir(path), canonical)
	if renameErr := os.Rename(path, dest); renameErr != nil {
		return path
	}
	return dest
}

// singleMatchingContainerMember is a placeholder introspection hook; the
// real archive walk lives in internal/staging, which owns extraction.
// Here it only needs to answer "does this archive contain exactly one
// container-format member", so it is implemented minimally against the
// zip central directory without extracting anything.
func singleMatchingContainerMember(path string) ([]string, error) {
	names, err := zipMemberNames(path)
	if err != nil {
		return nil, err
	}
	var matches []string
	for _, n := range names {
		lower := strings.ToLower(n)
		if strings.HasSuffix(lower, ".gpkg") {
			matches = append(matches, n)
		}
	}
	return matches, nil
}
