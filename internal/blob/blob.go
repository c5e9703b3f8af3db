// Package blob stores attachment bytes on the local filesystem.
//
// Keys are random UUIDs; a blob lives at <root>/<first two chars>/<key>.
// Only keys that parse as canonical UUIDs are accepted, so a key can never
// name a path outside the root.
package blob

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

var (
	// ErrTooLarge is returned by Put when the content exceeds the limit.
	ErrTooLarge = errors.New("blob exceeds size limit")
	// ErrNotFound is returned when no blob exists for a key.
	ErrNotFound = errors.New("blob not found")
	// ErrInvalidKey is returned for keys that are not canonical UUIDs.
	ErrInvalidKey = errors.New("invalid blob key")
)

// Store is a directory of blobs.
type Store struct {
	root string
}

// Open returns a Store rooted at dir, creating it if needed.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &Store{root: dir}, nil
}

// Put copies r into a new blob. Content longer than limit bytes is rejected
// with ErrTooLarge and nothing is kept.
func (s *Store) Put(r io.Reader, limit int64) (string, int64, error) {
	key := uuid.NewString()
	path, _ := s.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", 0, fmt.Errorf("create shard dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, io.LimitReader(r, limit+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", 0, fmt.Errorf("write blob: %w", err)
	}
	if n > limit {
		return "", 0, ErrTooLarge
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", 0, fmt.Errorf("commit blob: %w", err)
	}
	return key, n, nil
}

// Open returns a reader for the blob. The caller closes it.
func (s *Store) Open(key string) (*os.File, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open blob: %w", err)
	}
	return f, nil
}

// Delete removes a blob. Deleting a missing blob is not an error.
func (s *Store) Delete(key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

func (s *Store) path(key string) (string, error) {
	id, err := uuid.Parse(key)
	if err != nil || id.String() != key {
		return "", ErrInvalidKey
	}
	return filepath.Join(s.root, key[:2], key), nil
}
