package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/promptops/skillsync/internal/git"
	"github.com/promptops/skillsync/internal/registry"
)

// ArtifactExtension restricts git tree listings to markdown artifact
// definitions.
const ArtifactExtension = ".md"

// GitTreeDiscovery enumerates artifacts by listing the tree of a git
// repository. The repository is only used for enumeration; artifact bytes
// are still fetched from the source's HTTP base URL.
type GitTreeDiscovery struct {
	client git.Client
}

var _ Discovery = (*GitTreeDiscovery)(nil)

// NewGitTreeDiscovery creates a git-tree-based discovery mechanism.
func NewGitTreeDiscovery(client git.Client) *GitTreeDiscovery {
	return &GitTreeDiscovery{client: client}
}

// List clones the configured repository in memory and returns the markdown
// file paths beneath the source's subdirectory.
func (d *GitTreeDiscovery) List(ctx context.Context, src *registry.Source, _ bool) (*Listing, error) {
	cloneConfig := &git.CloneConfig{
		URL: src.GitRepo,
		Ref: src.GitRef,
	}

	startTime := time.Now()
	repoInfo, err := d.client.Clone(ctx, cloneConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to clone repository for source %s: %w", src.ID, err)
	}
	defer func() {
		if cleanupErr := d.client.Cleanup(ctx, repoInfo); cleanupErr != nil {
			slog.Error("Failed to cleanup repository", "source", src.ID, "error", cleanupErr)
		}
	}()

	slog.Debug("Git clone completed",
		"source", src.ID,
		"repository", src.GitRepo,
		"duration", time.Since(startTime).String())

	files, err := d.client.ListFiles(repoInfo, src.Subdirectory, ArtifactExtension)
	if err != nil {
		return nil, fmt.Errorf("failed to list repository files for source %s: %w", src.ID, err)
	}

	for _, p := range files {
		if err := ValidatePath(p); err != nil {
			return nil, fmt.Errorf("git listing rejected: %w", err)
		}
	}

	return &Listing{Paths: files}, nil
}
