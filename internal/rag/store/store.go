// Package store provides read-only access to the prebuilt retrieval
// artifacts (passage vectors, ANN index, passage documents) wherever they
// are kept: a local directory or a git repository.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Common errors for artifact access
var (
	ErrArtifactNotFound = errors.New("artifact not found")
	ErrInvalidName      = errors.New("invalid artifact name")
)

// Source opens named artifacts for reading.
type Source interface {
	// Open returns a reader for the artifact with the given slash-separated name
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// Describe returns a human-readable location for logs
	Describe() string

	// Close releases resources held by the source
	Close() error
}

// DirSource serves artifacts from a directory on disk.
type DirSource struct {
	Root string
}

// NewDirSource creates a source rooted at dir. The directory must exist.
func NewDirSource(dir string) (*DirSource, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("opening artifact directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("artifact path %s is not a directory", dir)
	}
	return &DirSource{Root: dir}, nil
}

// Open opens root/name.
func (d *DirSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateName(name); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(d.Root, filepath.FromSlash(name)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s in %s", ErrArtifactNotFound, name, d.Root)
		}
		return nil, err
	}
	return f, nil
}

// Describe returns the directory path.
func (d *DirSource) Describe() string { return d.Root }

// Close is a no-op for directories.
func (d *DirSource) Close() error { return nil }

func validateName(name string) error {
	if name == "" || filepath.IsAbs(name) || !filepath.IsLocal(filepath.FromSlash(name)) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
