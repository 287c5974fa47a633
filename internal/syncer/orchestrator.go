// Package syncer coordinates the source registry, artifact discovery,
// conditional fetcher and content-hash store to perform sync passes.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/promptops/skillsync/internal/cache"
	"github.com/promptops/skillsync/internal/discovery"
	"github.com/promptops/skillsync/internal/httpclient"
	"github.com/promptops/skillsync/internal/registry"
	"github.com/promptops/skillsync/internal/state"
	"github.com/promptops/skillsync/internal/telemetry"
)

// defaultWorkers bounds the per-source fetch pool.
const defaultWorkers = 4

// Options controls a single sync invocation.
type Options struct {
	// Force bypasses conditional fetching; every file is re-downloaded.
	Force bool

	// SourceIDs restricts the sync to the named sources. Empty means all
	// enabled sources.
	SourceIDs []string
}

// Orchestrator performs sync passes over the configured sources.
type Orchestrator struct {
	registry    *registry.Registry
	store       *state.Store
	fetcher     httpclient.Client
	discoveries discovery.Factory
	cacheDir    string
	workers     int
	metrics     *telemetry.SyncMetrics

	// storeMu serializes state store writes: single-writer discipline per
	// (source_id, path) under the worker pool.
	storeMu sync.Mutex
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithWorkers sets the per-source fetch worker pool size.
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithMetrics sets the sync metrics for the orchestrator.
func WithMetrics(metrics *telemetry.SyncMetrics) Option {
	return func(o *Orchestrator) {
		o.metrics = metrics
	}
}

// New creates an orchestrator with injected dependencies.
func New(
	reg *registry.Registry,
	store *state.Store,
	fetcher httpclient.Client,
	discoveries discovery.Factory,
	cacheDir string,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		registry:    reg,
		store:       store,
		fetcher:     fetcher,
		discoveries: discoveries,
		cacheDir:    cacheDir,
		workers:     defaultWorkers,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Sync performs one sync pass per selected source, in ascending-priority
// order. Neither a single bad file nor a single bad source aborts the
// remaining work: failures are aggregated into the report.
func (o *Orchestrator) Sync(ctx context.Context, opts Options) (*Report, error) {
	sources, err := o.registry.List(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}

	if len(opts.SourceIDs) > 0 {
		sources, err = filterSources(sources, opts.SourceIDs)
		if err != nil {
			return nil, err
		}
	}

	report := &Report{}
	for i := range sources {
		src := &sources[i]
		slog.Info("Starting sync pass", "source", src.ID, "priority", src.Priority)
		srcReport := o.syncSource(ctx, src, opts.Force)
		slog.Info("Sync pass finished",
			"source", src.ID,
			"status", string(srcReport.Status),
			"fetched", srcReport.Fetched,
			"unchanged", srcReport.Unchanged,
			"failed", srcReport.Failed)
		report.Sources = append(report.Sources, srcReport)
	}
	return report, nil
}

// filterSources selects the named sources, preserving registry order.
// Naming an unknown or disabled source is a configuration error.
func filterSources(sources []registry.Source, ids []string) ([]registry.Source, error) {
	byID := make(map[string]registry.Source, len(sources))
	for _, src := range sources {
		byID[src.ID] = src
	}
	requested := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			return nil, fmt.Errorf("source %s: %w", id, registry.ErrSourceNotFound)
		}
		requested[id] = true
	}

	var filtered []registry.Source
	for _, src := range sources {
		if requested[src.ID] {
			filtered = append(filtered, src)
		}
	}
	return filtered, nil
}

// syncSource performs one sync pass for one source and records the run.
func (o *Orchestrator) syncSource(ctx context.Context, src *registry.Source, force bool) SourceReport {
	startTime := time.Now()
	rep := SourceReport{SourceID: src.ID}

	listing, err := o.discover(ctx, src, force)
	if err != nil {
		rep.Status = state.RunError
		rep.Errors = append(rep.Errors, FileError{Path: "(discovery)", Detail: err.Error()})
		rep.Duration = time.Since(startTime)
		o.finishRun(ctx, src, &rep, startTime, "")
		return rep
	}

	var mu sync.Mutex
	g := &errgroup.Group{}
	g.SetLimit(o.workers)

	for _, p := range listing.Paths {
		g.Go(func() error {
			kind, fileErr := o.syncFile(ctx, src, p, force)
			o.metrics.RecordFetchOutcome(ctx, src.ID, string(kind))

			mu.Lock()
			defer mu.Unlock()
			switch kind {
			case fileFetched:
				rep.Fetched++
			case fileUnchanged:
				rep.Unchanged++
			case fileFailed:
				rep.Failed++
				rep.Errors = append(rep.Errors, *fileErr)
			}
			return nil
		})
	}
	_ = g.Wait()

	switch {
	case rep.Failed == 0:
		rep.Status = state.RunSuccess
	case rep.Fetched+rep.Unchanged > 0:
		rep.Status = state.RunPartial
	default:
		rep.Status = state.RunError
	}
	rep.Duration = time.Since(startTime)

	o.finishRun(ctx, src, &rep, startTime, listing.ManifestETag)
	return rep
}

// discover creates and invokes the discovery mechanism for a source.
func (o *Orchestrator) discover(ctx context.Context, src *registry.Source, force bool) (*discovery.Listing, error) {
	disc, err := o.discoveries.Create(src)
	if err != nil {
		return nil, err
	}
	return disc.List(ctx, src, force)
}

// fileKind classifies the outcome of syncing one artifact.
type fileKind string

const (
	fileFetched   fileKind = "fetched"
	fileUnchanged fileKind = "unchanged"
	fileFailed    fileKind = "failed"
)

// syncFile fetches one artifact conditionally and reconciles the cache and
// state store with the result.
func (o *Orchestrator) syncFile(ctx context.Context, src *registry.Source, relPath string, force bool) (fileKind, *FileError) {
	fileURL := discovery.JoinURL(src.URL, src.Subdirectory, relPath)
	localPath := filepath.Join(cache.SourceDir(o.cacheDir, src.URL, src.Subdirectory), filepath.FromSlash(relPath))

	// A missing row is expected for never-seen paths; anything else is a
	// store problem worth surfacing as a file failure.
	art, err := o.store.GetArtifact(ctx, src.ID, relPath)
	if err != nil && !errors.Is(err, state.ErrArtifactNotFound) {
		return fileFailed, &FileError{Path: relPath, Detail: err.Error()}
	}

	knownETag := ""
	if art != nil {
		knownETag = art.ETag
	}

	res := o.fetcher.Fetch(ctx, fileURL, knownETag, force)
	switch res.Outcome {
	case httpclient.OutcomeUpdated:
		return o.applyUpdate(ctx, src, relPath, localPath, art, res)

	case httpclient.OutcomeFresh:
		if verified := o.verifyFresh(art, localPath); verified {
			return fileUnchanged, nil
		}
		// The transport says fresh but the cache disagrees. The content
		// hash is ground truth: refetch unconditionally.
		slog.Warn("Hash/ETag divergence detected, forcing refetch",
			"source", src.ID,
			"path", relPath)
		refetch := o.fetcher.Fetch(ctx, fileURL, "", true)
		if refetch.Outcome != httpclient.OutcomeUpdated {
			detail := "divergence refetch failed"
			if refetch.Err != nil {
				detail = refetch.Err.Error()
			}
			return fileFailed, &FileError{Path: relPath, Detail: detail}
		}
		kind, fileErr := o.applyUpdate(ctx, src, relPath, localPath, art, refetch)
		if kind == fileUnchanged {
			// The remote content still matches the stored hash; only the
			// local cache copy had drifted and has now been restored.
			return fileUnchanged, fileErr
		}
		return kind, fileErr

	default:
		detail := "fetch failed"
		if res.Err != nil {
			detail = res.Err.Error()
		}
		return fileFailed, &FileError{Path: relPath, Detail: detail}
	}
}

// verifyFresh performs the dual-verification check for a transport-level
// "not modified": the cache file must exist and its recomputed hash must
// match the stored hash.
func (o *Orchestrator) verifyFresh(art *state.TrackedArtifact, localPath string) bool {
	if art == nil {
		return false
	}
	hash, _, err := cache.HashFile(localPath)
	if err != nil {
		return false
	}
	return hash == art.ContentHash
}

// applyUpdate writes fetched content to the cache atomically and records the
// new hash. Content whose hash matches the stored hash counts as unchanged
// even though the transport returned a full body.
func (o *Orchestrator) applyUpdate(
	ctx context.Context,
	src *registry.Source,
	relPath, localPath string,
	previous *state.TrackedArtifact,
	res httpclient.Result,
) (fileKind, *FileError) {
	if err := cache.WriteFileAtomic(localPath, res.Content); err != nil {
		return fileFailed, &FileError{Path: relPath, Detail: err.Error()}
	}

	hash := cache.HashBytes(res.Content)
	record := &state.TrackedArtifact{
		SourceID:       src.ID,
		Path:           relPath,
		ContentHash:    hash,
		ETag:           res.ETag,
		LocalCachePath: localPath,
		SizeBytes:      int64(len(res.Content)),
		SyncedAt:       time.Now().UTC(),
	}

	o.storeMu.Lock()
	err := o.store.RecordFile(ctx, record)
	o.storeMu.Unlock()
	if err != nil {
		return fileFailed, &FileError{Path: relPath, Detail: err.Error()}
	}

	if previous != nil && previous.ContentHash == hash {
		return fileUnchanged, nil
	}
	return fileFetched, nil
}

// finishRun appends the audit record and updates the source's sync
// bookkeeping. Failures here are logged, never propagated: the report is
// already complete.
func (o *Orchestrator) finishRun(ctx context.Context, src *registry.Source, rep *SourceReport, startTime time.Time, manifestETag string) {
	run := &state.SyncRun{
		SourceID:       src.ID,
		StartedAt:      startTime.UTC(),
		Status:         rep.Status,
		FilesFetched:   rep.Fetched,
		FilesUnchanged: rep.Unchanged,
		FilesFailed:    rep.Failed,
		ErrorDetail:    errorDetail(rep.Errors),
		DurationMS:     rep.Duration.Milliseconds(),
	}

	o.storeMu.Lock()
	runID, err := o.store.RecordSyncRun(ctx, run)
	o.storeMu.Unlock()
	if err != nil {
		slog.Error("Failed to record sync run", "source", src.ID, "error", err)
	} else {
		rep.RunID = runID
	}

	if err := o.registry.RecordSync(ctx, src.ID, manifestETag, startTime.UTC()); err != nil {
		slog.Error("Failed to record source sync time", "source", src.ID, "error", err)
	}

	o.metrics.RecordSyncDuration(ctx, src.ID, rep.Duration, string(rep.Status))
}
