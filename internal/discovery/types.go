// Package discovery enumerates candidate artifact paths for a source via a
// pluggable manifest-listing mechanism. The engine is decoupled from any one
// hosting API: a committed manifest file and a git tree listing are both
// valid implementations of the same interface.
package discovery

import (
	"context"
	"fmt"

	"github.com/promptops/skillsync/internal/git"
	"github.com/promptops/skillsync/internal/httpclient"
	"github.com/promptops/skillsync/internal/registry"
)

// Listing is the result of enumerating a source.
type Listing struct {
	// Paths are validated, traversal-safe relative artifact paths.
	Paths []string

	// ManifestETag is the ETag of the manifest resource, when the mechanism
	// fetched one. Empty otherwise.
	ManifestETag string
}

// Discovery enumerates artifact paths for a source.
type Discovery interface {
	// List returns the candidate artifact paths for src. force bypasses
	// conditional fetching of the manifest resource.
	List(ctx context.Context, src *registry.Source, force bool) (*Listing, error)
}

// Factory creates the discovery mechanism configured for a source.
type Factory interface {
	Create(src *registry.Source) (Discovery, error)
}

// defaultFactory is the default implementation of Factory.
type defaultFactory struct {
	fetcher   httpclient.Client
	gitClient git.Client
	cacheDir  string
}

var _ Factory = (*defaultFactory)(nil)

// NewFactory creates a discovery factory. cacheDir is the cache root used
// for manifest caching.
func NewFactory(fetcher httpclient.Client, gitClient git.Client, cacheDir string) Factory {
	return &defaultFactory{
		fetcher:   fetcher,
		gitClient: gitClient,
		cacheDir:  cacheDir,
	}
}

// Create returns the discovery mechanism for the source's configuration.
func (f *defaultFactory) Create(src *registry.Source) (Discovery, error) {
	switch src.Discovery {
	case registry.DiscoveryManifest, "":
		return NewManifestDiscovery(f.fetcher, f.cacheDir), nil
	case registry.DiscoveryGit:
		return NewGitTreeDiscovery(f.gitClient), nil
	default:
		return nil, fmt.Errorf("unsupported discovery mechanism: %s", src.Discovery)
	}
}
