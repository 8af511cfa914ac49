// Package fsnamespace provisions user namespaces as directories under a root directory.
package fsnamespace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/patric-chuzhbe/sinkgate/internal/namespace"
)

const dirPermissions = 0o755

// Provisioner creates one directory per namespace below root.
type Provisioner struct {
	root string
}

// New makes sure root exists and returns a Provisioner rooted there.
func New(root string) (*Provisioner, error) {
	if err := os.MkdirAll(root, dirPermissions); err != nil {
		return nil, fmt.Errorf(
			"in internal/namespace/fsnamespace/fsnamespace.go/New(): error while `os.MkdirAll()` calling: %w",
			err,
		)
	}

	return &Provisioner{root: root}, nil
}

func (p *Provisioner) dir(path string) (string, error) {
	segment, err := namespace.Segment(path)
	if err != nil {
		return "", err
	}

	return filepath.Join(p.root, segment), nil
}

// CreateExclusive creates the namespace directory. An existing directory is left untouched
// and reported as namespace.ErrAlreadyExists.
func (p *Provisioner) CreateExclusive(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir, err := p.dir(path)
	if err != nil {
		return err
	}

	err = os.Mkdir(dir, dirPermissions)
	if errors.Is(err, os.ErrExist) {
		return namespace.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf(
			"in internal/namespace/fsnamespace/fsnamespace.go/CreateExclusive(): error while `os.Mkdir()` calling: %w",
			err,
		)
	}

	return nil
}

// Remove deletes the namespace directory. It refuses to delete a directory with content.
func (p *Provisioner) Remove(ctx context.Context, path string) error {
	dir, err := p.dir(path)
	if err != nil {
		return err
	}

	err = os.Remove(dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf(
			"in internal/namespace/fsnamespace/fsnamespace.go/Remove(): error while `os.Remove()` calling: %w",
			err,
		)
	}

	return nil
}
