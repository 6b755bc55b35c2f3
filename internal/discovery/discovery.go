// Package discovery enumerates the compose stacks present in the mirror.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/bcnelson/sid/internal/domain"
	"gopkg.in/yaml.v3"
)

// Walker finds compose files below a root directory.
type Walker struct {
	root   string
	logger *slog.Logger
}

// NewWalker creates a Walker rooted at root.
func NewWalker(root string, logger *slog.Logger) *Walker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Walker{root: root, logger: logger}
}

// FindAll returns the absolute path of every compose file under the root,
// sorted. Directories named .git are not entered. An entry that cannot be
// read is logged and its subtree skipped. Only a missing or unreadable root
// is an error.
func (w *Walker) FindAll(ctx context.Context) ([]string, error) {
	root, err := filepath.Abs(w.root)
	if err != nil {
		return nil, fmt.Errorf("resolving mirror root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("reading mirror root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("mirror root %s is not a directory", root)
	}

	found := []string{}
	pending := []string{root}
	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		dir := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		entries, err := os.ReadDir(dir)
		if err != nil {
			w.logger.Warn("Skipping unreadable directory", "dir", dir, "error", err)
			continue
		}
		for _, e := range entries {
			full := filepath.Join(dir, e.Name())
			switch {
			case e.IsDir():
				if e.Name() == ".git" {
					continue
				}
				pending = append(pending, full)
			case e.Type().IsRegular() && domain.IsComposeFile(e.Name()):
				found = append(found, full)
			case e.Type()&os.ModeSymlink != 0 && domain.IsComposeFile(e.Name()):
				// Symlinked compose files count; symlinked directories are not followed.
				if st, err := os.Stat(full); err != nil {
					w.logger.Warn("Skipping unreadable entry", "path", full, "error", err)
				} else if st.Mode().IsRegular() {
					found = append(found, full)
				}
			}
		}
	}

	sort.Strings(found)
	w.logger.Debug("Discovered compose files", "root", root, "count", len(found))
	return found, nil
}

// StackName returns the stack name for a compose file: its parent directory's name.
func StackName(composePath string) string {
	return filepath.Base(filepath.Dir(composePath))
}

type composeFile struct {
	Services map[string]yaml.Node `yaml:"services"`
}

// ReadServices returns the sorted service names declared in a compose file.
func ReadServices(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cf composeFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	names := make([]string, 0, len(cf.Services))
	for name := range cf.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
