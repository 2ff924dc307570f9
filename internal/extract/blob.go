package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// LocalBlobStore keeps file-backed sources on local disk under a configured
// upload directory. Locators are plain file paths.
type LocalBlobStore struct {
	dir string
}

func NewLocalBlobStore(dir string) (*LocalBlobStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}
	return &LocalBlobStore{dir: dir}, nil
}

func (s *LocalBlobStore) Save(ctx context.Context, name string, data []byte) (string, error) {
	path := filepath.Join(s.dir, filepath.Base(name))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}

func (s *LocalBlobStore) Get(ctx context.Context, locator string) ([]byte, error) {
	return os.ReadFile(filepath.Clean(locator)) // #nosec G304 -- locator is written by Save, not user input
}

func (s *LocalBlobStore) Delete(ctx context.Context, locator string) error {
	err := os.Remove(filepath.Clean(locator))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
