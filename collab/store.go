package collab

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// DirStore is a filesystem-backed ObjectStore for development and
// integration runs. Buckets become directories under the root.
type DirStore struct {
	root string
}

func NewDirStore(root string) *DirStore {
	return &DirStore{root: root}
}

func (s *DirStore) Upload(ctx context.Context, bucket, key string, body []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path := filepath.Join(s.root, bucket, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("collab: create bucket dir: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("collab: write object: %w", err)
	}

	return "file://" + filepath.ToSlash(path), nil
}
