package discovery

import (
	"fmt"
	"strings"
)

// ValidatePath checks that p is a safe relative artifact path: non-empty,
// forward-slash separated, with no absolute, empty, "." or ".." components.
func ValidatePath(p string) error {
	if p == "" {
		return fmt.Errorf("artifact path cannot be empty")
	}
	if strings.Contains(p, "\\") {
		return fmt.Errorf("artifact path %q contains backslash", p)
	}
	if strings.HasPrefix(p, "/") {
		return fmt.Errorf("artifact path %q is absolute", p)
	}
	for _, segment := range strings.Split(p, "/") {
		switch segment {
		case "":
			return fmt.Errorf("artifact path %q contains an empty segment", p)
		case ".", "..":
			return fmt.Errorf("artifact path %q contains a traversal segment", p)
		}
	}
	return nil
}

// JoinURL joins a base URL with path parts, normalizing slashes. Empty parts
// are skipped.
func JoinURL(base string, parts ...string) string {
	result := strings.TrimRight(base, "/")
	for _, part := range parts {
		part = strings.Trim(part, "/")
		if part == "" {
			continue
		}
		result += "/" + part
	}
	return result
}
