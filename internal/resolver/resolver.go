// Package resolver maps the paths touched by a push onto the mirror
// directories whose stacks need redeploying.
package resolver

import (
	"log/slog"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bcnelson/sid/internal/domain"
	"github.com/bcnelson/sid/internal/validation"
)

// Resolver derives deployable directories from a change set.
type Resolver struct {
	logger *slog.Logger
}

// New creates a Resolver that logs skipped paths to logger.
func New(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{logger: logger}
}

// Resolve returns the sorted, de-duplicated absolute directories under root
// that contain at least one changed path. Files at the repository root have
// no stack directory and are ignored. Malformed paths are logged and skipped.
func (r *Resolver) Resolve(root string, cs domain.ChangeSet) []string {
	seen := make(map[string]struct{})
	for _, p := range cs {
		dir, err := parentDir(p)
		if err != nil {
			r.logger.Warn("Skipping changed path", "error", err)
			continue
		}
		if dir == "" {
			continue
		}
		seen[filepath.Join(root, filepath.FromSlash(dir))] = struct{}{}
	}

	dirs := make([]string, 0, len(seen))
	for d := range seen {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return dirs
}

// parentDir returns the slash-separated parent of p, or "" for root-level files.
func parentDir(p string) (string, error) {
	if err := validation.ValidateRelativePath(p); err != nil {
		return "", &domain.ResolutionError{Path: p, Reason: err.Error()}
	}
	clean := path.Clean(strings.ReplaceAll(p, `\`, "/"))
	dir := path.Dir(clean)
	if dir == "." {
		return "", nil
	}
	return dir, nil
}

// Resolve is a convenience wrapper using the default logger.
func Resolve(root string, cs domain.ChangeSet) []string {
	return New(nil).Resolve(root, cs)
}
