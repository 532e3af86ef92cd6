package store

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/mmcdole/nntpsync/internal/domain"
)

// BodyDir implements domain.BodyCache as one file per identifier.
type BodyDir struct {
	dir string
}

// OpenBodyDir opens dir, creating it if needed.
func OpenBodyDir(dir string) (*BodyDir, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, &domain.IOError{Op: "mkdir", Path: dir, Err: err}
	}
	return &BodyDir{dir: dir}, nil
}

// List returns the identifiers of all cached bodies.
func (b *BodyDir) List() ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, &domain.IOError{Op: "readdir", Path: b.dir, Err: err}
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// Delete removes one cached body. Missing identifiers are ignored.
func (b *BodyDir) Delete(id string) error {
	path, err := b.path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &domain.IOError{Op: "remove", Path: path, Err: err}
	}
	return nil
}

// Write stores a body under id.
func (b *BodyDir) Write(id string, body []byte) error {
	path, err := b.path(id)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, body, 0o600); err != nil {
		return &domain.IOError{Op: "write", Path: path, Err: err}
	}
	return nil
}

// Read returns the body stored under id.
func (b *BodyDir) Read(id string) ([]byte, error) {
	path, err := b.path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &domain.IOError{Op: "read", Path: path, Err: err}
	}
	return data, nil
}

func (b *BodyDir) path(id string) (string, error) {
	if id == "" || id == "." || id == ".." || filepath.Base(id) != id {
		return "", &domain.IOError{Op: "resolve", Path: id, Err: fs.ErrInvalid}
	}
	return filepath.Join(b.dir, id), nil
}
