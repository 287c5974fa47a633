package syncer_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptops/skillsync/internal/cache"
	"github.com/promptops/skillsync/internal/db"
	"github.com/promptops/skillsync/internal/discovery"
	"github.com/promptops/skillsync/internal/httpclient"
	"github.com/promptops/skillsync/internal/registry"
	"github.com/promptops/skillsync/internal/resolver"
	"github.com/promptops/skillsync/internal/state"
	"github.com/promptops/skillsync/internal/syncer"
)

// remoteFile is one servable resource on the fake origin.
type remoteFile struct {
	content string
	etag    string
	status  int
}

// fakeOrigin serves a source tree with ETag-aware conditional responses.
type fakeOrigin struct {
	mu    sync.Mutex
	files map[string]remoteFile
	hits  map[string]int
}

func newFakeOrigin(files map[string]remoteFile) *fakeOrigin {
	return &fakeOrigin{files: files, hits: make(map[string]int)}
}

func (o *fakeOrigin) set(path string, f remoteFile) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.files[path] = f
}

func (o *fakeOrigin) hitCount(path string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hits[path]
}

func (o *fakeOrigin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	o.mu.Lock()
	defer o.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/")
	o.hits[path]++

	f, ok := o.files[path]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if f.status != 0 {
		w.WriteHeader(f.status)
		return
	}
	if f.etag != "" {
		if r.Header.Get("If-None-Match") == f.etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", f.etag)
	}
	_, _ = w.Write([]byte(f.content))
}

// harness wires a full sync stack against a fake origin.
type harness struct {
	origin   *fakeOrigin
	server   *httptest.Server
	registry *registry.Registry
	store    *state.Store
	orch     *syncer.Orchestrator
	cacheDir string
}

func newHarness(t *testing.T, files map[string]remoteFile) *harness {
	t.Helper()

	origin := newFakeOrigin(files)
	server := httptest.NewServer(origin)
	t.Cleanup(server.Close)

	conn, err := db.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
	})

	reg := registry.New(conn)
	store := state.New(conn)
	cacheDir := t.TempDir()
	fetcher := httpclient.NewDefaultClient(0)
	discoveries := discovery.NewFactory(fetcher, nil, cacheDir)

	return &harness{
		origin:   origin,
		server:   server,
		registry: reg,
		store:    store,
		orch:     syncer.New(reg, store, fetcher, discoveries, cacheDir, syncer.WithWorkers(2)),
		cacheDir: cacheDir,
	}
}

func (h *harness) addSource(t *testing.T, id string, priority int) {
	t.Helper()
	require.NoError(t, h.registry.Register(context.Background(), &registry.Source{
		ID:       id,
		URL:      h.server.URL,
		Priority: priority,
		Enabled:  true,
	}))
}

func (h *harness) sync(t *testing.T, opts syncer.Options) *syncer.Report {
	t.Helper()
	report, err := h.orch.Sync(context.Background(), opts)
	require.NoError(t, err)
	return report
}

func (h *harness) cachedContent(t *testing.T, relPath string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(cache.SourceDir(h.cacheDir, h.server.URL, ""), relPath))
	require.NoError(t, err)
	return string(data)
}

func TestSyncInitialFetch(t *testing.T) {
	t.Parallel()
	h := newHarness(t, map[string]remoteFile{
		"manifest.txt":     {content: "reviewer.md\nskills/search.md\n", etag: `"m1"`},
		"reviewer.md":      {content: "# reviewer", etag: `"r1"`},
		"skills/search.md": {content: "# search", etag: `"s1"`},
	})
	h.addSource(t, "s", 0)

	report := h.sync(t, syncer.Options{})
	require.Len(t, report.Sources, 1)

	src := report.Sources[0]
	assert.Equal(t, state.RunSuccess, src.Status)
	assert.Equal(t, 2, src.Fetched)
	assert.Equal(t, 0, src.Unchanged)
	assert.Equal(t, 0, src.Failed)
	assert.NotZero(t, src.RunID)

	// Content lands in the cache, hash and etag land in the store.
	assert.Equal(t, "# reviewer", h.cachedContent(t, "reviewer.md"))
	assert.Equal(t, "# search", h.cachedContent(t, filepath.Join("skills", "search.md")))

	art, err := h.store.GetArtifact(context.Background(), "s", "reviewer.md")
	require.NoError(t, err)
	assert.Equal(t, cache.HashBytes([]byte("# reviewer")), art.ContentHash)
	assert.Equal(t, `"r1"`, art.ETag)
	assert.Equal(t, int64(len("# reviewer")), art.SizeBytes)

	// The manifest ETag is recorded on the source.
	stored, err := h.registry.Get(context.Background(), "s")
	require.NoError(t, err)
	assert.Equal(t, `"m1"`, stored.LastETag)
	assert.NotNil(t, stored.LastSyncTime)
}

func TestSyncUnchangedIsIdempotent(t *testing.T) {
	t.Parallel()
	h := newHarness(t, map[string]remoteFile{
		"manifest.txt": {content: "reviewer.md\n", etag: `"m1"`},
		"reviewer.md":  {content: "# reviewer", etag: `"r1"`},
	})
	h.addSource(t, "s", 0)

	h.sync(t, syncer.Options{})
	report := h.sync(t, syncer.Options{})

	src := report.Sources[0]
	assert.Equal(t, state.RunSuccess, src.Status)
	assert.Equal(t, 0, src.Fetched)
	assert.Equal(t, 1, src.Unchanged)

	// Two runs in the audit trail, newest first.
	runs, err := h.store.RecentRuns(context.Background(), "s", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Greater(t, runs[0].ID, runs[1].ID)
	assert.Equal(t, 1, runs[0].FilesUnchanged)
	assert.Equal(t, 1, runs[1].FilesFetched)
}

func TestSyncDetectsSingleChangedFile(t *testing.T) {
	t.Parallel()
	h := newHarness(t, map[string]remoteFile{
		"manifest.txt": {content: "a.md\nb.md\n", etag: `"m1"`},
		"a.md":         {content: "# a v1", etag: `"a1"`},
		"b.md":         {content: "# b v1", etag: `"b1"`},
	})
	h.addSource(t, "s", 0)
	h.sync(t, syncer.Options{})

	h.origin.set("a.md", remoteFile{content: "# a v2", etag: `"a2"`})

	report := h.sync(t, syncer.Options{})
	src := report.Sources[0]
	assert.Equal(t, state.RunSuccess, src.Status)
	assert.Equal(t, 1, src.Fetched)
	assert.Equal(t, 1, src.Unchanged)
	assert.Equal(t, "# a v2", h.cachedContent(t, "a.md"))

	art, err := h.store.GetArtifact(context.Background(), "s", "a.md")
	require.NoError(t, err)
	assert.Equal(t, cache.HashBytes([]byte("# a v2")), art.ContentHash)
	assert.Equal(t, `"a2"`, art.ETag)
}

func TestSyncWithoutETagsFallsBackToHashes(t *testing.T) {
	t.Parallel()
	// The origin never emits validators, so every request returns a full
	// body. The content hash alone decides what counts as a change.
	h := newHarness(t, map[string]remoteFile{
		"manifest.txt": {content: "a.md\n"},
		"a.md":         {content: "# a"},
	})
	h.addSource(t, "s", 0)

	first := h.sync(t, syncer.Options{})
	assert.Equal(t, 1, first.Sources[0].Fetched)

	second := h.sync(t, syncer.Options{})
	assert.Equal(t, 0, second.Sources[0].Fetched)
	assert.Equal(t, 1, second.Sources[0].Unchanged)
}

func TestSyncPartialFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t, map[string]remoteFile{
		"manifest.txt": {content: "good.md\nbroken.md\n", etag: `"m1"`},
		"good.md":      {content: "# good", etag: `"g1"`},
		"broken.md":    {status: http.StatusInternalServerError},
	})
	h.addSource(t, "s", 0)

	report := h.sync(t, syncer.Options{})
	src := report.Sources[0]

	assert.Equal(t, state.RunPartial, src.Status)
	assert.Equal(t, 1, src.Fetched)
	assert.Equal(t, 1, src.Failed)
	require.Len(t, src.Errors, 1)
	assert.Equal(t, "broken.md", src.Errors[0].Path)

	// The good file made it regardless of its neighbor.
	assert.Equal(t, "# good", h.cachedContent(t, "good.md"))

	// The audit trail captures the failure detail.
	runs, err := h.store.RecentRuns(context.Background(), "s", 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, state.RunPartial, runs[0].Status)
	assert.Contains(t, runs[0].ErrorDetail, "broken.md")
}

func TestSyncDiscoveryFailureIsSourceError(t *testing.T) {
	t.Parallel()
	h := newHarness(t, map[string]remoteFile{})
	h.addSource(t, "s", 0)

	report := h.sync(t, syncer.Options{})
	src := report.Sources[0]

	assert.Equal(t, state.RunError, src.Status)
	assert.Zero(t, src.Fetched)
	require.Len(t, src.Errors, 1)

	// The failed pass is still auditable.
	runs, err := h.store.RecentRuns(context.Background(), "s", 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, state.RunError, runs[0].Status)
}

func TestSyncBadSourceDoesNotBlockOthers(t *testing.T) {
	t.Parallel()
	h := newHarness(t, map[string]remoteFile{
		"manifest.txt": {content: "a.md\n", etag: `"m1"`},
		"a.md":         {content: "# a", etag: `"a1"`},
	})
	h.addSource(t, "good", 0)

	// A second source pointing at a dead origin.
	deadServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(deadServer.Close)
	require.NoError(t, h.registry.Register(context.Background(), &registry.Source{
		ID:      "dead",
		URL:     deadServer.URL,
		Enabled: true,
	}))

	report := h.sync(t, syncer.Options{})
	require.Len(t, report.Sources, 2)
	assert.Equal(t, state.RunPartial, report.Status())

	byID := make(map[string]syncer.SourceReport)
	for _, src := range report.Sources {
		byID[src.SourceID] = src
	}
	assert.Equal(t, state.RunError, byID["dead"].Status)
	assert.Equal(t, state.RunSuccess, byID["good"].Status)
	assert.Equal(t, 1, byID["good"].Fetched)
}

func TestSyncDualVerificationRestoresMissingCacheFile(t *testing.T) {
	t.Parallel()
	h := newHarness(t, map[string]remoteFile{
		"manifest.txt": {content: "a.md\n", etag: `"m1"`},
		"a.md":         {content: "# a", etag: `"a1"`},
	})
	h.addSource(t, "s", 0)
	h.sync(t, syncer.Options{})

	// Remove the cached file behind the engine's back. The next pass gets a
	// 304 from the origin but must notice the divergence and refetch.
	cached := filepath.Join(cache.SourceDir(h.cacheDir, h.server.URL, ""), "a.md")
	require.NoError(t, os.Remove(cached))

	report := h.sync(t, syncer.Options{})
	src := report.Sources[0]

	assert.Equal(t, state.RunSuccess, src.Status)
	// The remote content still matches the stored hash; only the local
	// copy had drifted, so the file counts as unchanged.
	assert.Equal(t, 1, src.Unchanged)
	assert.Equal(t, "# a", h.cachedContent(t, "a.md"))
}

func TestSyncDualVerificationDetectsTamperedCacheFile(t *testing.T) {
	t.Parallel()
	h := newHarness(t, map[string]remoteFile{
		"manifest.txt": {content: "a.md\n", etag: `"m1"`},
		"a.md":         {content: "# a", etag: `"a1"`},
	})
	h.addSource(t, "s", 0)
	h.sync(t, syncer.Options{})

	cached := filepath.Join(cache.SourceDir(h.cacheDir, h.server.URL, ""), "a.md")
	require.NoError(t, os.WriteFile(cached, []byte("tampered"), 0600))

	h.sync(t, syncer.Options{})
	assert.Equal(t, "# a", h.cachedContent(t, "a.md"))
}

func TestSyncForceBypassesConditionalFetching(t *testing.T) {
	t.Parallel()
	h := newHarness(t, map[string]remoteFile{
		"manifest.txt": {content: "a.md\n", etag: `"m1"`},
		"a.md":         {content: "# a", etag: `"a1"`},
	})
	h.addSource(t, "s", 0)
	h.sync(t, syncer.Options{})

	report := h.sync(t, syncer.Options{Force: true})
	src := report.Sources[0]

	// Full bodies were transferred, but the hash shows nothing changed.
	assert.Equal(t, state.RunSuccess, src.Status)
	assert.Equal(t, 0, src.Fetched)
	assert.Equal(t, 1, src.Unchanged)
	assert.GreaterOrEqual(t, h.origin.hitCount("a.md"), 2)
}

func TestSyncSelectedSources(t *testing.T) {
	t.Parallel()
	h := newHarness(t, map[string]remoteFile{
		"manifest.txt": {content: "a.md\n", etag: `"m1"`},
		"a.md":         {content: "# a", etag: `"a1"`},
	})
	h.addSource(t, "one", 0)

	report := h.sync(t, syncer.Options{SourceIDs: []string{"one"}})
	require.Len(t, report.Sources, 1)
	assert.Equal(t, "one", report.Sources[0].SourceID)
}

func TestSyncUnknownSourceID(t *testing.T) {
	t.Parallel()
	h := newHarness(t, map[string]remoteFile{})
	h.addSource(t, "one", 0)

	_, err := h.orch.Sync(context.Background(), syncer.Options{SourceIDs: []string{"ghost"}})
	assert.ErrorIs(t, err, registry.ErrSourceNotFound)
}

func TestSyncThenResolveAcrossSources(t *testing.T) {
	t.Parallel()
	h := newHarness(t, map[string]remoteFile{
		"manifest.txt": {content: "reviewer.md\n", etag: `"m1"`},
		"reviewer.md":  {content: "# official reviewer", etag: `"r1"`},
	})
	h.addSource(t, "official", 0)

	// A lower-ranked origin providing the same logical artifact.
	community := newFakeOrigin(map[string]remoteFile{
		"manifest.txt": {content: "reviewer.md\nextra.md\n", etag: `"m1"`},
		"reviewer.md":  {content: "# community reviewer", etag: `"r1"`},
		"extra.md":     {content: "# extra", etag: `"e1"`},
	})
	communityServer := httptest.NewServer(community)
	t.Cleanup(communityServer.Close)
	require.NoError(t, h.registry.Register(context.Background(), &registry.Source{
		ID:       "community",
		URL:      communityServer.URL,
		Priority: 5,
		Enabled:  true,
	}))

	report := h.sync(t, syncer.Options{})
	assert.Equal(t, state.RunSuccess, report.Status())

	res, err := resolver.New(h.registry, h.store).Resolve(context.Background())
	require.NoError(t, err)

	reviewer, ok := res.Get("reviewer")
	require.True(t, ok)
	assert.Equal(t, "official", reviewer.SourceID)

	extra, ok := res.Get("extra")
	require.True(t, ok)
	assert.Equal(t, "community", extra.SourceID)

	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, "community", res.Conflicts[0].ShadowedSourceID)

	// The winning artifact is loadable from the cache.
	_, content, err := resolver.New(h.registry, h.store).Load(context.Background(), "reviewer")
	require.NoError(t, err)
	assert.Equal(t, "# official reviewer", string(content))
}

func TestSyncSameOriginDifferentSubdirectories(t *testing.T) {
	t.Parallel()
	// Two sources share one base URL and differ only in subdirectory. Each
	// must keep its own cached manifest and artifact tree: a 304 for one
	// source's manifest must never be satisfied from the other's cache.
	h := newHarness(t, map[string]remoteFile{
		"agents/manifest.txt": {content: "reviewer.md\n", etag: `"ma"`},
		"agents/reviewer.md":  {content: "# reviewer", etag: `"ra"`},
		"skills/manifest.txt": {content: "search.md\n", etag: `"ms"`},
		"skills/search.md":    {content: "# search", etag: `"ss"`},
	})
	require.NoError(t, h.registry.Register(context.Background(), &registry.Source{
		ID:           "agents",
		URL:          h.server.URL,
		Subdirectory: "agents",
		Enabled:      true,
	}))
	require.NoError(t, h.registry.Register(context.Background(), &registry.Source{
		ID:           "skills",
		URL:          h.server.URL,
		Subdirectory: "skills",
		Enabled:      true,
	}))

	h.sync(t, syncer.Options{})
	report := h.sync(t, syncer.Options{})
	assert.Equal(t, state.RunSuccess, report.Status())

	// The second pass is fully idempotent for both sources.
	for _, src := range report.Sources {
		assert.Equal(t, 0, src.Fetched, "source %s refetched", src.SourceID)
		assert.Equal(t, 1, src.Unchanged, "source %s", src.SourceID)
	}

	// Each source tracks only its own path under its own cache directory.
	for _, tc := range []struct {
		sourceID, subdir, relPath, content string
	}{
		{"agents", "agents", "reviewer.md", "# reviewer"},
		{"skills", "skills", "search.md", "# search"},
	} {
		arts, err := h.store.ListArtifacts(context.Background(), tc.sourceID)
		require.NoError(t, err)
		require.Len(t, arts, 1)
		assert.Equal(t, tc.relPath, arts[0].Path)

		data, err := os.ReadFile(filepath.Join(cache.SourceDir(h.cacheDir, h.server.URL, tc.subdir), tc.relPath))
		require.NoError(t, err)
		assert.Equal(t, tc.content, string(data))
	}
}

func TestSyncEmptyManifestIsSuccess(t *testing.T) {
	t.Parallel()
	h := newHarness(t, map[string]remoteFile{
		"manifest.txt": {content: "# nothing yet\n", etag: `"m1"`},
	})
	h.addSource(t, "s", 0)

	report := h.sync(t, syncer.Options{})
	src := report.Sources[0]
	assert.Equal(t, state.RunSuccess, src.Status)
	assert.Zero(t, src.Fetched)
	assert.Zero(t, src.Failed)
}
