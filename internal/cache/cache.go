// Package cache manages the on-disk layout of synced artifacts: one root
// directory, one subdirectory per source keyed by a stable slug of the
// source URL and subdirectory.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ManifestFileName is where a source's cached manifest lives inside its
// cache directory. The leading dot keeps it clear of artifact paths.
const ManifestFileName = ".manifest"

// Slug derives a stable directory name for a source: a sanitized host
// prefix for readability plus a short hash for uniqueness. Both the URL
// and the subdirectory feed the hash so two sources sharing a base URL
// never share a cache directory.
func Slug(rawURL, subdir string) string {
	sum := sha256.Sum256([]byte(rawURL + "\n" + subdir))
	short := hex.EncodeToString(sum[:])[:12]

	host := "source"
	if parsed, err := url.Parse(rawURL); err == nil && parsed.Host != "" {
		host = strings.ToLower(parsed.Host)
		host = strings.Map(func(r rune) rune {
			switch {
			case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '.':
				return r
			default:
				return '-'
			}
		}, host)
	}
	return host + "-" + short
}

// SourceDir returns the cache directory beneath root for a source URL and
// subdirectory pair.
func SourceDir(root, sourceURL, subdir string) string {
	return filepath.Join(root, Slug(sourceURL, subdir))
}

// WriteFileAtomic writes data to path crash-safely: the content goes to a
// uniquely named temp file in the target directory and is renamed into place.
func WriteFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tempPath := fmt.Sprintf("%s.tmp-%s", path, uuid.NewString())
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary cache file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename cache file: %w", err)
	}
	return nil
}

// HashBytes returns the SHA-256 hex digest of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashFile returns the SHA-256 hex digest and size of the file at path.
func HashFile(path string) (string, int64, error) {
	//nolint:gosec // cache paths are internally managed, not user input
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer func() {
		_ = f.Close()
	}()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
