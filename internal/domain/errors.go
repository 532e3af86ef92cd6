package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for domain operations
var (
	// ErrGroupNotFound indicates the named newsgroup is not in the registry
	ErrGroupNotFound = errors.New("newsgroup not found")

	// ErrInvalidGroupName indicates an empty or malformed newsgroup name
	ErrInvalidGroupName = errors.New("invalid newsgroup name")

	// ErrLockContention indicates another process holds the newsrc lock
	ErrLockContention = errors.New("newsrc is locked by another process")

	// ErrNoNewsrc indicates an operation needs an open newsrc store
	ErrNoNewsrc = errors.New("newsrc store is not open")

	// ErrCacheDisabled indicates local caching is turned off for the server
	ErrCacheDisabled = errors.New("local cache is disabled")

	// ErrReadOnly indicates a write was attempted through a shared newsrc lock
	ErrReadOnly = errors.New("newsrc is opened read-only")
)

// IOError reports a failed open, stat, lock, write or rename on one of the
// files this module owns. It is never retried internally.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// IsLockContention reports whether err was caused by a held newsrc lock.
func IsLockContention(err error) bool {
	return errors.Is(err, ErrLockContention)
}
