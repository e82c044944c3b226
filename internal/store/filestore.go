// Package store persists relayed file payloads to local disk.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileStore writes forwarded file bytes under a base directory. Received
// plaintext only; ciphertext never touches disk.
type FileStore struct {
	dir string
}

// NewFileStore creates the base directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create file dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Save writes data under a timestamped name and returns the path. The stored
// name keeps only the base of the client-supplied name.
func (s *FileStore) Save(sender, name string, data []byte) (string, error) {
	base := filepath.Base(name)
	if base == "." || base == string(filepath.Separator) {
		base = "unnamed"
	}
	path := filepath.Join(s.dir, fmt.Sprintf("%d_%s", time.Now().UnixMilli(), base))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("save file from %s: %w", sender, err)
	}
	return path, nil
}
