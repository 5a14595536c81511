package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore keeps content blobs as plain files under a single root
// directory. Writes on a file opened with O_APPEND are atomic for the line
// sizes written here, which carries the per-blob append guarantee.
type FileStore struct {
	root string
}

func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create content dir: %w", err)
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) path(handle Handle) string {
	return filepath.Join(s.root, string(handle))
}

func (s *FileStore) Create(ctx context.Context, documentID string) (Handle, error) {
	handle := HandleFor(documentID)
	file, err := os.OpenFile(s.path(handle), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return "", ErrAlreadyExists
	}
	if err != nil {
		return "", fmt.Errorf("create blob %s: %w", handle, err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("close blob %s: %w", handle, err)
	}
	return handle, nil
}

func (s *FileStore) Append(ctx context.Context, handle Handle, text string) error {
	file, err := os.OpenFile(s.path(handle), os.O_APPEND|os.O_WRONLY, 0o644)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("open blob %s: %w", handle, err)
	}
	defer file.Close()
	if _, err := file.WriteString(text); err != nil {
		return fmt.Errorf("append blob %s: %w", handle, err)
	}
	return nil
}

func (s *FileStore) Truncate(ctx context.Context, handle Handle) error {
	err := os.Truncate(s.path(handle), 0)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("truncate blob %s: %w", handle, err)
	}
	return nil
}

func (s *FileStore) Read(ctx context.Context, handle Handle) (string, error) {
	contents, err := os.ReadFile(s.path(handle))
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read blob %s: %w", handle, err)
	}
	return string(contents), nil
}

func (s *FileStore) Remove(ctx context.Context, handle Handle) error {
	err := os.Remove(s.path(handle))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("remove blob %s: %w", handle, err)
	}
	return nil
}
