// Package resolver computes the effective artifact set across all enabled
// sources, applying priority-based conflict resolution.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/promptops/skillsync/internal/registry"
	"github.com/promptops/skillsync/internal/state"
)

// ErrNotResolved is returned when no enabled source provides an artifact
// with the requested logical name.
var ErrNotResolved = fmt.Errorf("artifact not resolved")

// ResolvedArtifact is the winning provider of one logical artifact name.
type ResolvedArtifact struct {
	Name           string
	SourceID       string
	Priority       int
	Path           string
	ContentHash    string
	LocalCachePath string
}

// Conflict records a provider that lost the resolution for a logical name.
type Conflict struct {
	Name             string
	WinnerSourceID   string
	ShadowedSourceID string
	ShadowedPath     string
}

// Resolution is the effective artifact set plus all shadowed providers.
type Resolution struct {
	Artifacts []ResolvedArtifact
	Conflicts []Conflict
}

// Get returns the winning artifact for a logical name.
func (r *Resolution) Get(name string) (ResolvedArtifact, bool) {
	for _, art := range r.Artifacts {
		if art.Name == name {
			return art, true
		}
	}
	return ResolvedArtifact{}, false
}

// Resolver resolves logical artifact names against the synced state.
type Resolver struct {
	registry *registry.Registry
	store    *state.Store
}

// New creates a resolver over the given registry and state store.
func New(reg *registry.Registry, store *state.Store) *Resolver {
	return &Resolver{registry: reg, store: store}
}

// Resolve computes the effective artifact set. Sources are considered in
// ascending priority order, ties broken by lexical source ID; the first
// provider of a logical name wins and later providers are recorded as
// conflicts. Disabled sources never contribute.
func (r *Resolver) Resolve(ctx context.Context) (*Resolution, error) {
	sources, err := r.registry.List(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}

	res := &Resolution{}
	winners := make(map[string]ResolvedArtifact)

	for i := range sources {
		src := &sources[i]
		artifacts, err := r.store.ListArtifacts(ctx, src.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list artifacts for source %s: %w", src.ID, err)
		}

		for _, art := range artifacts {
			name := LogicalName(art.Path)
			winner, taken := winners[name]
			if !taken {
				winners[name] = ResolvedArtifact{
					Name:           name,
					SourceID:       src.ID,
					Priority:       src.Priority,
					Path:           art.Path,
					ContentHash:    art.ContentHash,
					LocalCachePath: art.LocalCachePath,
				}
				continue
			}

			switch {
			case winner.SourceID == src.ID:
				slog.Warn("Duplicate logical name within source, keeping first path",
					"name", name,
					"source", src.ID,
					"kept", winner.Path,
					"shadowed", art.Path)
			case winner.Priority == src.Priority:
				slog.Warn("Equal-priority conflict, keeping lexically first source",
					"name", name,
					"winner", winner.SourceID,
					"shadowed", src.ID,
					"priority", src.Priority)
			}
			res.Conflicts = append(res.Conflicts, Conflict{
				Name:             name,
				WinnerSourceID:   winner.SourceID,
				ShadowedSourceID: src.ID,
				ShadowedPath:     art.Path,
			})
		}
	}

	for _, art := range winners {
		res.Artifacts = append(res.Artifacts, art)
	}
	sort.Slice(res.Artifacts, func(i, j int) bool {
		return res.Artifacts[i].Name < res.Artifacts[j].Name
	})
	sort.Slice(res.Conflicts, func(i, j int) bool {
		if res.Conflicts[i].Name != res.Conflicts[j].Name {
			return res.Conflicts[i].Name < res.Conflicts[j].Name
		}
		return res.Conflicts[i].ShadowedSourceID < res.Conflicts[j].ShadowedSourceID
	})
	return res, nil
}

// Load resolves a logical name and returns the winning artifact together
// with its cached content.
func (r *Resolver) Load(ctx context.Context, name string) (*ResolvedArtifact, []byte, error) {
	res, err := r.Resolve(ctx)
	if err != nil {
		return nil, nil, err
	}

	art, ok := res.Get(name)
	if !ok {
		return nil, nil, fmt.Errorf("artifact %s: %w", name, ErrNotResolved)
	}

	content, err := os.ReadFile(art.LocalCachePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read cached artifact %s: %w", name, err)
	}
	return &art, content, nil
}

// LogicalName derives the logical artifact name from a source-relative
// path: the base filename without its extension.
func LogicalName(relPath string) string {
	base := path.Base(relPath)
	return strings.TrimSuffix(base, path.Ext(base))
}
