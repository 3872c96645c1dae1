// Package blob abstracts raw document byte storage. The pipeline only
// needs put/get/delete by opaque location, so object-storage backends can
// replace the local implementation without touching the core.
package blob

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a location does not exist.
var ErrNotFound = errors.New("blob not found")

// Store is the storage collaborator consumed by the ingestion pipeline.
type Store interface {
	// Put stores data under a new location derived from name and returns it.
	Put(name string, data []byte) (location string, err error)

	// Get returns the bytes stored at location.
	Get(location string) ([]byte, error)

	// Delete removes the blob at location. Deleting an unknown location
	// returns ErrNotFound.
	Delete(location string) error
}

// LocalStore keeps blobs as files under a single directory.
type LocalStore struct {
	dir string
}

var _ Store = (*LocalStore)(nil)

// NewLocalStore creates the directory if needed and returns a LocalStore.
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating blob directory: %w", err)
	}
	return &LocalStore{dir: dir}, nil
}

// Put writes data to a uniquely named file. The returned location is the
// file name relative to the store directory; repeated puts of the same
// name never collide.
func (s *LocalStore) Put(name string, data []byte) (string, error) {
	location := uuid.New().String() + "_" + sanitise(name)
	if err := os.WriteFile(filepath.Join(s.dir, location), data, 0o644); err != nil {
		return "", fmt.Errorf("writing blob %s: %w", location, err)
	}
	return location, nil
}

func (s *LocalStore) Get(location string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, filepath.Base(location)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading blob %s: %w", location, err)
	}
	return data, nil
}

func (s *LocalStore) Delete(location string) error {
	err := os.Remove(filepath.Join(s.dir, filepath.Base(location)))
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("deleting blob %s: %w", location, err)
	}
	return nil
}

// sanitise strips path separators and characters that are unsafe in file
// names, keeping the original extension readable for debugging.
func sanitise(name string) string {
	name = filepath.Base(name)
	var sb strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r == '.', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	if sb.Len() == 0 {
		return "blob"
	}
	return sb.String()
}
