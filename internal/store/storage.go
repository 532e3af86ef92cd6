package store

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mmcdole/nntpsync/internal/domain"
)

// metadataExt marks a group's metadata cache file.
const metadataExt = ".hcache"

// Storage lays out the caches of one news server under a private directory:
//
//	<base>/<server-hash>/<group>.hcache   metadata cache (bbolt)
//	<base>/<server-hash>/<group>/<id>     body cache
//	<base>/<server-hash>/.active          active list snapshot
type Storage struct {
	dir         string
	lockTimeout time.Duration
	logger      *slog.Logger
}

// NewStorage creates (if needed) the cache directory for serverURL.
func NewStorage(baseCacheDir, serverURL string, logger *slog.Logger) (*Storage, error) {
	if baseCacheDir == "" {
		return nil, domain.ErrCacheDisabled
	}
	if logger == nil {
		logger = slog.Default()
	}

	dir := baseCacheDir
	if serverURL != "" {
		dir = filepath.Join(baseCacheDir, hashServerURL(serverURL))
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, &domain.IOError{Op: "mkdir", Path: dir, Err: err}
	}

	return &Storage{dir: dir, lockTimeout: time.Second, logger: logger}, nil
}

func hashServerURL(serverURL string) string {
	normalized := strings.TrimRight(strings.ToLower(serverURL), "/")
	hash := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(hash[:6])
}

// Dir returns the server's cache directory
func (s *Storage) Dir() string {
	return s.dir
}

func (s *Storage) metadataPath(group string) string {
	return filepath.Join(s.dir, group+metadataExt)
}

func (s *Storage) bodyDir(group string) string {
	return filepath.Join(s.dir, group)
}

func checkGroup(group string) error {
	if !domain.ValidGroupName(group) || group == "." || group == ".." {
		return fmt.Errorf("%w: %q", domain.ErrInvalidGroupName, group)
	}
	return nil
}

// OpenMetadata opens the group's metadata cache, creating it if needed.
func (s *Storage) OpenMetadata(group string) (domain.MetadataCache, error) {
	if err := checkGroup(group); err != nil {
		return nil, err
	}
	return OpenMetadataDB(s.metadataPath(group), s.lockTimeout)
}

// OpenBodies opens the group's body cache directory, creating it if needed.
func (s *Storage) OpenBodies(group string) (domain.BodyCache, error) {
	if err := checkGroup(group); err != nil {
		return nil, err
	}
	return OpenBodyDir(s.bodyDir(group))
}

// RemoveMetadata deletes the group's metadata cache file.
func (s *Storage) RemoveMetadata(group string) error {
	if err := checkGroup(group); err != nil {
		return err
	}
	path := s.metadataPath(group)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &domain.IOError{Op: "remove", Path: path, Err: err}
	}
	return nil
}

// RemoveBodies deletes the group's body cache directory and anything left in it.
func (s *Storage) RemoveBodies(group string) error {
	if err := checkGroup(group); err != nil {
		return err
	}
	path := s.bodyDir(group)
	if err := os.RemoveAll(path); err != nil {
		return &domain.IOError{Op: "remove", Path: path, Err: err}
	}
	return nil
}

// Artifacts lists every group with a metadata file or body directory.
func (s *Storage) Artifacts() ([]domain.CacheArtifact, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, &domain.IOError{Op: "readdir", Path: s.dir, Err: err}
	}

	found := make(map[string]*domain.CacheArtifact)
	get := func(name string) *domain.CacheArtifact {
		a, ok := found[name]
		if !ok {
			a = &domain.CacheArtifact{Group: name}
			found[name] = a
		}
		return a
	}

	for _, e := range entries {
		name := e.Name()
		switch {
		case e.IsDir():
			if checkGroup(name) == nil {
				get(name).Bodies = true
			}
		case e.Type().IsRegular() && strings.HasSuffix(name, metadataExt):
			group := strings.TrimSuffix(name, metadataExt)
			if checkGroup(group) == nil {
				get(group).Metadata = true
			}
		}
	}

	out := make([]domain.CacheArtifact, 0, len(found))
	for _, a := range found {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Group < out[j].Group })
	return out, nil
}
