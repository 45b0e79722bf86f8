// Package local implements a filesystem plan backend.
package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/davidthor/taskgraph/pkg/planstore/backend"
)

const tempPattern = ".taskgraph-plan-*"

func init() {
	backend.Register("local", NewBackend)
}

// Backend stores plans as files under a base directory, laid out as
// <base>/clusters/<cluster>/plans/<plan>.json.
type Backend struct {
	basePath string
}

// NewBackend creates a local backend. The "path" key defaults to
// ~/.taskgraph/plans.
func NewBackend(config map[string]string) (backend.Backend, error) {
	path := config["path"]
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, ".taskgraph", "plans")
	}

	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create plan directory: %w", err)
	}

	return &Backend{basePath: path}, nil
}

func (b *Backend) Type() string {
	return "local"
}

// Create writes the plan to a temp file and hard-links it into place. The
// link fails with EEXIST when another writer got there first, so a stored
// plan is never replaced and never observed half written.
func (b *Backend) Create(ctx context.Context, key backend.Key, doc []byte) error {
	fullPath := b.planFile(key)

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tempFile, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := tempFile.Name()
	defer os.Remove(tempPath)

	_, err = tempFile.Write(doc)
	if closeErr := tempFile.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to write plan %s: %w", key, err)
	}

	if err := os.Link(tempPath, fullPath); err != nil {
		if errors.Is(err, os.ErrExist) {
			return backend.ErrExists
		}
		return fmt.Errorf("failed to store plan %s: %w", key, err)
	}
	return nil
}

func (b *Backend) Read(ctx context.Context, key backend.Key) ([]byte, error) {
	fullPath := b.planFile(key)

	data, err := os.ReadFile(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, backend.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read %s: %w", fullPath, err)
	}
	return data, nil
}

func (b *Backend) Delete(ctx context.Context, key backend.Key) error {
	fullPath := b.planFile(key)

	if err := os.Remove(fullPath); err != nil {
		// Ignore not found errors for idempotency
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete %s: %w", fullPath, err)
	}
	return nil
}

// Keys globs the plan files of one cluster or of every cluster. Temp files
// of in-flight writes start with a dot and never match the plan pattern.
func (b *Backend) Keys(ctx context.Context, clusterID string) ([]backend.Key, error) {
	cluster := "*"
	if clusterID != "" {
		cluster = clusterID
	}
	pattern := filepath.Join(b.basePath, "clusters", cluster, "plans", "*.json")

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}

	paths := make([]string, 0, len(matches))
	for _, m := range matches {
		rel, err := filepath.Rel(b.basePath, m)
		if err != nil {
			return nil, err
		}
		paths = append(paths, filepath.ToSlash(rel))
	}
	return backend.CollectKeys(paths, clusterID), nil
}

func (b *Backend) planFile(key backend.Key) string {
	return filepath.Join(b.basePath, filepath.FromSlash(key.Path()))
}
