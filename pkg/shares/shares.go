// Package shares implements the shared-file cache: a scan-and-index engine
// over configured share roots backed by SQLite with a full-text filename
// index. It resolves remote-facing (masked) filenames to physical files,
// answers search and browse requests from peers, and keeps the index fresh
// through atomic rescans with stale-row tombstoning.
package shares

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Common errors for share cache operations.
var (
	// ErrNotShared is returned when a masked filename does not resolve to
	// an indexed file.
	ErrNotShared = errors.New("file is not shared")

	// ErrDirectoryNotFound is returned when listing a directory that is
	// not in the index.
	ErrDirectoryNotFound = errors.New("directory not found")

	// ErrScanInProgress is returned when a fill is attempted while another
	// fill is already running.
	ErrScanInProgress = errors.New("share scan already in progress")

	// ErrInvalidShare is returned when a share definition cannot be parsed.
	ErrInvalidShare = errors.New("invalid share definition")
)

// Share is one root of the filesystem index. LocalPath is where files live
// on disk (or on the named agent); RemotePath is the masked prefix peers
// see in its place.
type Share struct {
	ID        string `json:"id"`
	Alias     string `json:"alias"`
	LocalPath string `json:"local_path"`

	// RemotePath is the masked prefix substituted for LocalPath in every
	// remote-facing name. Unique across non-excluded shares.
	RemotePath string `json:"remote_path"`

	// Agent names the relay agent hosting the share. Empty means the
	// share is on local disk.
	Agent string `json:"agent,omitempty"`

	// Excluded shares are never indexed; any directory under an excluded
	// share's local path is subtracted from the scan even when it is also
	// matched by a non-excluded share.
	Excluded bool `json:"excluded"`
}

// ParseShare parses a configured share definition. The syntax is
// "[alias]path" with an optional leading "!" or "-" marking the share as
// excluded. When no alias is given it defaults to the last element of the
// path. The remote path is the alias.
func ParseShare(raw string) (Share, error) {
	s := Share{}

	definition := strings.TrimSpace(raw)
	if definition == "" {
		return s, fmt.Errorf("%w: empty definition", ErrInvalidShare)
	}

	if strings.HasPrefix(definition, "!") || strings.HasPrefix(definition, "-") {
		s.Excluded = true
		definition = definition[1:]
	}

	if strings.HasPrefix(definition, "[") {
		end := strings.Index(definition, "]")
		if end < 0 {
			return s, fmt.Errorf("%w: unterminated alias in %q", ErrInvalidShare, raw)
		}
		s.Alias = definition[1:end]
		definition = definition[end+1:]
	}

	if definition == "" {
		return s, fmt.Errorf("%w: missing path in %q", ErrInvalidShare, raw)
	}

	s.LocalPath = filepath.Clean(definition)

	if s.Alias == "" {
		s.Alias = filepath.Base(s.LocalPath)
	}
	if strings.ContainsAny(s.Alias, `/\`) {
		return s, fmt.Errorf("%w: alias %q contains a path separator", ErrInvalidShare, s.Alias)
	}

	s.ID = s.Alias
	s.RemotePath = s.Alias
	return s, nil
}

// Mask converts a local path under the share root to its remote-facing
// name. Returns false when the path is not under the share.
func (s Share) Mask(localPath string) (string, bool) {
	if localPath == s.LocalPath {
		return s.RemotePath, true
	}

	prefix := s.LocalPath + string(filepath.Separator)
	if !strings.HasPrefix(localPath, prefix) {
		return "", false
	}

	rel := filepath.ToSlash(localPath[len(prefix):])
	return s.RemotePath + "/" + rel, true
}

// ContainsMasked reports whether the masked name falls under the share's
// remote path.
func (s Share) ContainsMasked(masked string) bool {
	return masked == s.RemotePath || strings.HasPrefix(masked, s.RemotePath+"/")
}

// validateShares enforces remote-path uniqueness across non-excluded
// shares.
func validateShares(shares []Share) error {
	seen := make(map[string]string, len(shares))
	for _, s := range shares {
		if s.Excluded {
			continue
		}
		if s.LocalPath == "" {
			return fmt.Errorf("%w: share %q has no local path", ErrInvalidShare, s.Alias)
		}
		if other, ok := seen[s.RemotePath]; ok {
			return fmt.Errorf("%w: remote path %q used by both %q and %q",
				ErrInvalidShare, s.RemotePath, other, s.LocalPath)
		}
		seen[s.RemotePath] = s.LocalPath
	}
	return nil
}
