package object

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	logx "ensenbot/pkg/logx"
)

// fileStore is the dependency-free local backend. Keys map to files under a
// root directory; slashes in keys become subdirectories. Writes go through a
// temp file + rename so readers never observe a partial object.
type fileStore struct {
	root string
	log  logx.Logger
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	root := strings.TrimSpace(cfg.Path)
	if root == "" {
		return nil, errors.New("object store path is required for file driver")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &fileStore{root: root, log: log}, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) resolve(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("object key is empty")
	}
	path := filepath.Join(s.root, filepath.FromSlash(key))
	// Reject keys that escape the root ("..", absolute paths).
	if rel, err := filepath.Rel(s.root, path); err != nil || strings.HasPrefix(rel, "..") {
		return "", errors.New("object key escapes store root: " + key)
	}
	return path, nil
}

func (s *fileStore) Get(ctx context.Context, key string) ([]byte, error) {
	_ = ctx
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *fileStore) Put(ctx context.Context, key string, data []byte) error {
	_ = ctx
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func (s *fileStore) Delete(ctx context.Context, key string) error {
	_ = ctx
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		// Deleting an absent object is fine.
		return nil
	}
	return err
}
