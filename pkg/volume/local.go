package volume

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultWorkspacesPath is the base directory for build sandbox
	// workspaces: the extracted Formfile build context for one build,
	// torn down once the sandboxed build exits.
	DefaultWorkspacesPath = "/var/lib/formation/workspaces"
)

// LocalDriver manages per-build workspace directories on local disk,
// one directory per build ID, guaranteed absent once Delete returns.
type LocalDriver struct {
	basePath string
}

// NewLocalDriver creates a local workspace driver rooted at basePath.
// An empty basePath falls back to DefaultWorkspacesPath.
func NewLocalDriver(basePath string) (*LocalDriver, error) {
	if basePath == "" {
		basePath = DefaultWorkspacesPath
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspaces directory: %w", err)
	}
	return &LocalDriver{basePath: basePath}, nil
}

// Create allocates a fresh, empty workspace directory for buildID and
// returns its host path.
func (d *LocalDriver) Create(buildID string) (string, error) {
	path := d.GetPath(buildID)
	if err := os.MkdirAll(path, 0755); err != nil {
		return "", fmt.Errorf("failed to create workspace directory: %w", err)
	}
	return path, nil
}

// Delete removes buildID's workspace directory and everything under
// it. Deleting an already-absent workspace is not an error, so cleanup
// can run unconditionally on every sandboxed build exit path.
func (d *LocalDriver) Delete(buildID string) error {
	path := d.GetPath(buildID)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to delete workspace directory: %w", err)
	}
	return nil
}

// GetPath returns the host path for buildID's workspace without
// touching the filesystem.
func (d *LocalDriver) GetPath(buildID string) string {
	return filepath.Join(d.basePath, buildID)
}
