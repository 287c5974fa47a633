package registry

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	// DiscoveryManifest enumerates artifacts via a committed manifest file
	// fetched over HTTP like any other artifact.
	DiscoveryManifest = "manifest"

	// DiscoveryGit enumerates artifacts by listing the tree of a git repository.
	DiscoveryGit = "git"
)

// Source is a configured remote location from which artifacts are synced.
type Source struct {
	// ID is the unique identifier for this source.
	ID string

	// URL is the http(s) base URL artifacts are fetched from.
	URL string

	// Subdirectory is an optional path prefix below URL.
	Subdirectory string

	// Priority ranks sources; lower values win conflicts.
	Priority int

	// Enabled controls whether the source participates in sync.
	Enabled bool

	// Discovery selects the artifact enumeration mechanism.
	Discovery string

	// GitRepo is the repository URL used by git discovery.
	GitRepo string

	// GitRef is an optional branch or tag for git discovery.
	GitRef string

	// LastSyncTime is when the source last completed a sync pass.
	LastSyncTime *time.Time

	// LastETag is the ETag of the source's manifest resource.
	LastETag string
}

// ErrSourceNotFound is returned when a source can't be found.
var ErrSourceNotFound = errors.New("source not found")

// ValidationError reports a malformed source configuration. It is raised
// synchronously at registration time and never persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid source configuration: %s: %s", e.Field, e.Reason)
}

// Validate checks the source configuration, applying defaults where allowed.
func (s *Source) Validate() error {
	if s.ID == "" {
		return &ValidationError{Field: "id", Reason: "cannot be empty"}
	}
	if strings.ContainsAny(s.ID, " \t/\\") {
		return &ValidationError{Field: "id", Reason: "must not contain whitespace or path separators"}
	}

	parsed, err := url.Parse(s.URL)
	if err != nil {
		return &ValidationError{Field: "url", Reason: fmt.Sprintf("not a valid URL: %v", err)}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return &ValidationError{Field: "url", Reason: fmt.Sprintf("scheme must be http or https, got %q", parsed.Scheme)}
	}
	if parsed.Host == "" {
		return &ValidationError{Field: "url", Reason: "host cannot be empty"}
	}

	if s.Priority < 0 {
		return &ValidationError{Field: "priority", Reason: "must be a non-negative integer"}
	}

	if s.Discovery == "" {
		s.Discovery = DiscoveryManifest
	}
	switch s.Discovery {
	case DiscoveryManifest:
	case DiscoveryGit:
		if s.GitRepo == "" {
			return &ValidationError{Field: "gitRepo", Reason: "required when discovery is git"}
		}
	default:
		return &ValidationError{
			Field:  "discovery",
			Reason: fmt.Sprintf("must be %q or %q, got %q", DiscoveryManifest, DiscoveryGit, s.Discovery),
		}
	}

	return nil
}

// UpdateFields is a partial update of a source; nil fields are left unchanged.
type UpdateFields struct {
	URL          *string
	Subdirectory *string
	Priority     *int
	Enabled      *bool
	Discovery    *string
	GitRepo      *string
	GitRef       *string
}
