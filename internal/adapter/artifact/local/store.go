// Package local stores job inputs and outputs on the local filesystem.
// References are plain paths under the store root.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mediaforge/mediaforge/internal/port"
)

type Store struct {
	root string
}

func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &Store{root: abs}, nil
}

// ResolveInput accepts either an absolute path or a reference relative to
// the store root. The file is used in place, so cleanup is a no-op.
func (s *Store) ResolveInput(_ context.Context, ref string) (string, func(), error) {
	path := ref
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.root, filepath.Clean(ref))
	}
	if !filepath.IsAbs(ref) && !strings.HasPrefix(path, s.root+string(filepath.Separator)) {
		return "", nil, fmt.Errorf("input reference escapes store root: %s", ref)
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", nil, fmt.Errorf("resolve input %s: %w", ref, err)
	}
	if info.IsDir() {
		return "", nil, fmt.Errorf("input reference is a directory: %s", ref)
	}
	return path, func() {}, nil
}

// StoreOutput moves the produced file or directory under the store root,
// keyed by job ID, and returns its reference and total size.
func (s *Store) StoreOutput(_ context.Context, localPath string, jobID string) (string, int64, error) {
	if _, err := os.Stat(localPath); err != nil {
		return "", 0, fmt.Errorf("stat output: %w", err)
	}

	destDir := filepath.Join(s.root, jobID)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", 0, err
	}
	dest := filepath.Join(destDir, filepath.Base(localPath))

	if err := moveTree(localPath, dest); err != nil {
		return "", 0, fmt.Errorf("store output: %w", err)
	}

	size, err := treeSize(dest)
	if err != nil {
		return "", 0, err
	}
	ref, err := filepath.Rel(s.root, dest)
	if err != nil {
		return "", 0, err
	}
	return ref, size, nil
}

func (s *Store) Remove(_ context.Context, ref string) error {
	if ref == "" {
		return nil
	}
	path := filepath.Join(s.root, filepath.Clean(ref))
	if !strings.HasPrefix(path, s.root+string(filepath.Separator)) {
		return fmt.Errorf("reference escapes store root: %s", ref)
	}
	return os.RemoveAll(path)
}

// moveTree renames when possible and falls back to copying across devices.
func moveTree(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if info.IsDir() {
		if err := copyDir(src, dest); err != nil {
			return err
		}
	} else if err := copyFile(src, dest); err != nil {
		return err
	}
	return os.RemoveAll(src)
}

func copyDir(src, dest string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func treeSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return info.Size(), nil
	}
	var total int64
	err = filepath.WalkDir(path, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		total += fi.Size()
		return nil
	})
	return total, err
}

var _ port.ArtifactStore = (*Store)(nil)
