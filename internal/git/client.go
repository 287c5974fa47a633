// Package git provides a minimal client for enumerating artifact paths from
// git repositories. Clones are shallow and held entirely in memory.
package git

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/filesystem"
)

// CloneConfig describes a repository to clone.
type CloneConfig struct {
	// URL is the repository URL (HTTP/HTTPS).
	URL string

	// Ref is an optional branch or tag name. Empty means the remote default.
	Ref string
}

// RepositoryInfo holds an open in-memory repository.
type RepositoryInfo struct {
	Repository *gogit.Repository
	RemoteURL  string

	storerFilesystem billy.Filesystem
	objectCache      cache.Object
}

// Client defines the interface for git operations.
type Client interface {
	// Clone clones a repository with the given configuration.
	Clone(ctx context.Context, config *CloneConfig) (*RepositoryInfo, error)

	// ListFiles returns the repository-relative paths of all files under dir
	// (at HEAD) whose names end in ext. dir "" means the repository root.
	ListFiles(repoInfo *RepositoryInfo, dir, ext string) ([]string, error)

	// Cleanup releases the in-memory repository state.
	Cleanup(ctx context.Context, repoInfo *RepositoryInfo) error
}

// defaultClient implements Client using go-git.
type defaultClient struct{}

// NewDefaultClient creates a new git client.
func NewDefaultClient() Client {
	return &defaultClient{}
}

// Clone performs a depth-1 clone into in-memory filesystems. When a ref is
// given it is tried first as a branch, then as a tag.
func (*defaultClient) Clone(ctx context.Context, config *CloneConfig) (*RepositoryInfo, error) {
	refNames := []plumbing.ReferenceName{""}
	if config.Ref != "" {
		refNames = []plumbing.ReferenceName{
			plumbing.NewBranchReferenceName(config.Ref),
			plumbing.NewTagReferenceName(config.Ref),
		}
	}

	var lastErr error
	for _, refName := range refNames {
		cloneOptions := &gogit.CloneOptions{
			URL:   config.URL,
			Depth: 1,
		}
		if refName != "" {
			cloneOptions.ReferenceName = refName
			cloneOptions.SingleBranch = true
		}

		// go-git wants separate filesystems for the storer and the checkout.
		memFS := memfs.New()
		storerFS := memfs.New()
		storerCache := cache.NewObjectLRUDefault()
		storer := filesystem.NewStorage(storerFS, storerCache)

		repo, err := gogit.CloneContext(ctx, storer, memFS, cloneOptions)
		if err != nil {
			lastErr = err
			continue
		}

		return &RepositoryInfo{
			Repository:       repo,
			RemoteURL:        config.URL,
			storerFilesystem: storerFS,
			objectCache:      storerCache,
		}, nil
	}

	return nil, fmt.Errorf("failed to clone repository %s: %w", config.URL, lastErr)
}

// ListFiles enumerates matching files from the HEAD commit tree.
func (*defaultClient) ListFiles(repoInfo *RepositoryInfo, dir, ext string) ([]string, error) {
	if repoInfo == nil || repoInfo.Repository == nil {
		return nil, fmt.Errorf("repository is nil")
	}

	ref, err := repoInfo.Repository.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to get HEAD reference: %w", err)
	}

	commit, err := repoInfo.Repository.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("failed to get commit object: %w", err)
	}

	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to get tree: %w", err)
	}

	prefix := strings.Trim(dir, "/")
	if prefix != "" {
		prefix += "/"
	}

	var paths []string
	err = tree.Files().ForEach(func(f *object.File) error {
		if prefix != "" && !strings.HasPrefix(f.Name, prefix) {
			return nil
		}
		if ext != "" && !strings.HasSuffix(f.Name, ext) {
			return nil
		}
		paths = append(paths, strings.TrimPrefix(f.Name, prefix))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk tree: %w", err)
	}

	return paths, nil
}

// Cleanup clears the object cache and in-memory filesystems.
func (*defaultClient) Cleanup(_ context.Context, repoInfo *RepositoryInfo) error {
	if repoInfo == nil || repoInfo.Repository == nil {
		return fmt.Errorf("repository is nil")
	}

	if repoInfo.objectCache != nil {
		repoInfo.objectCache.Clear()
	}

	worktree, err := repoInfo.Repository.Worktree()
	if err == nil && worktree.Filesystem != nil {
		_ = util.RemoveAll(worktree.Filesystem, "/")
	}

	if repoInfo.storerFilesystem != nil {
		_ = util.RemoveAll(repoInfo.storerFilesystem, "/")
	}

	repoInfo.objectCache = nil
	repoInfo.storerFilesystem = nil
	repoInfo.Repository = nil

	return nil
}
