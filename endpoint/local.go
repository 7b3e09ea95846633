package endpoint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Local implements Endpoint on a local filesystem directory.
type Local struct {
	root string
}

// NewLocal creates an endpoint rooted at the given directory. The
// directory is created if missing.
func NewLocal(root string) (*Local, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create endpoint root: %w", err)
	}
	return &Local{root: root}, nil
}

func (l *Local) path(p string) string {
	return filepath.Join(l.root, filepath.FromSlash(p))
}

// Get reads the full object at path.
func (l *Local) Get(_ context.Context, path string) ([]byte, error) {
	return os.ReadFile(l.path(path))
}

// TryGetSize probes for an object without reading it.
func (l *Local) TryGetSize(_ context.Context, path string) (uint64, bool, error) {
	info, err := os.Stat(l.path(path))
	if os.IsNotExist(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return uint64(info.Size()), true, nil
}

// Put writes an object atomically: a temp file in the same directory is
// renamed over the destination.
func (l *Local) Put(_ context.Context, path string, data []byte) error {
	dst := l.path(path)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".put-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, dst); err != nil {
		os.Remove(name)
		return err
	}
	return nil
}

// IsLocal reports true.
func (l *Local) IsLocal() bool { return true }

// Root returns the endpoint's directory.
func (l *Local) Root() string { return l.root }
