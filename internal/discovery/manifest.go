package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/promptops/skillsync/internal/cache"
	"github.com/promptops/skillsync/internal/httpclient"
	"github.com/promptops/skillsync/internal/registry"
)

// ManifestFileName is the committed index file listing artifact paths,
// one per line, relative to the source's subdirectory.
const ManifestFileName = "manifest.txt"

// ManifestDiscovery enumerates artifacts from a plaintext manifest fetched
// through the conditional fetcher. The manifest body is cached beside the
// artifact cache so a 304 response can be served from disk.
type ManifestDiscovery struct {
	fetcher  httpclient.Client
	cacheDir string
}

var _ Discovery = (*ManifestDiscovery)(nil)

// NewManifestDiscovery creates a manifest-based discovery mechanism.
func NewManifestDiscovery(fetcher httpclient.Client, cacheDir string) *ManifestDiscovery {
	return &ManifestDiscovery{
		fetcher:  fetcher,
		cacheDir: cacheDir,
	}
}

// List fetches and parses the source's manifest. The source's last known
// manifest ETag drives conditional fetching; a 304 with no cached manifest
// body forces a refetch.
func (d *ManifestDiscovery) List(ctx context.Context, src *registry.Source, force bool) (*Listing, error) {
	manifestURL := JoinURL(src.URL, src.Subdirectory, ManifestFileName)
	cachedPath := filepath.Join(cache.SourceDir(d.cacheDir, src.URL, src.Subdirectory), cache.ManifestFileName)

	res := d.fetcher.Fetch(ctx, manifestURL, src.LastETag, force)
	switch res.Outcome {
	case httpclient.OutcomeUpdated:
		paths, err := parseManifest(res.Content)
		if err != nil {
			return nil, err
		}
		if err := cache.WriteFileAtomic(cachedPath, res.Content); err != nil {
			return nil, fmt.Errorf("failed to cache manifest: %w", err)
		}
		return &Listing{Paths: paths, ManifestETag: res.ETag}, nil

	case httpclient.OutcomeFresh:
		content, err := os.ReadFile(cachedPath) //nolint:gosec // cache path is internally managed
		if err != nil {
			slog.Warn("Manifest reported fresh but local copy is unusable, refetching",
				"source", src.ID,
				"error", err)
			refetch := d.fetcher.Fetch(ctx, manifestURL, "", true)
			if refetch.Outcome != httpclient.OutcomeUpdated {
				return nil, fmt.Errorf("failed to refetch manifest for source %s: %w", src.ID, refetch.Err)
			}
			paths, err := parseManifest(refetch.Content)
			if err != nil {
				return nil, err
			}
			if err := cache.WriteFileAtomic(cachedPath, refetch.Content); err != nil {
				return nil, fmt.Errorf("failed to cache manifest: %w", err)
			}
			return &Listing{Paths: paths, ManifestETag: refetch.ETag}, nil
		}
		paths, err := parseManifest(content)
		if err != nil {
			return nil, err
		}
		return &Listing{Paths: paths}, nil

	default:
		return nil, fmt.Errorf("failed to fetch manifest for source %s: %w", src.ID, res.Err)
	}
}

// parseManifest parses a plaintext manifest: one relative path per line,
// blank lines and '#' comments skipped. Every path is traversal-checked.
func parseManifest(content []byte) ([]string, error) {
	var paths []string
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := ValidatePath(line); err != nil {
			return nil, fmt.Errorf("manifest rejected: %w", err)
		}
		paths = append(paths, line)
	}
	return paths, nil
}
