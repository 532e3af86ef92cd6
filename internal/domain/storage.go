package domain

import "context"

// MetadataCache is the per-group structured header cache. Keys are opaque;
// article headers are stored under their decimal article number.
type MetadataCache interface {
	FetchRaw(key string) ([]byte, bool, error)
	StoreRaw(key string, value []byte) error
	Delete(keys ...string) error
	Keys() ([]string, error)
	Close() error
}

// BodyCache is the per-group raw article store.
type BodyCache interface {
	List() ([]string, error)
	Delete(id string) error
}

// CacheStorage opens the per-group caches of one server and enumerates the
// artifacts present on disk.
type CacheStorage interface {
	// OpenMetadata opens (creating if needed) the metadata cache of a group.
	OpenMetadata(group string) (MetadataCache, error)
	// OpenBodies opens the body cache of a group.
	OpenBodies(group string) (BodyCache, error)
	// RemoveMetadata deletes the metadata cache artifact of a group.
	RemoveMetadata(group string) error
	// RemoveBodies deletes the (now empty) body cache container of a group.
	RemoveBodies(group string) error
	// Artifacts lists group names that have any cache artifact on disk.
	Artifacts() ([]CacheArtifact, error)
}

// CacheArtifact names one group's on-disk cache pieces.
type CacheArtifact struct {
	Group    string
	Metadata bool
	Bodies   bool
}

// LiveView is the currently loaded mailbox of one group.
type LiveView interface {
	Group() string
	// Articles returns the loaded articles in ascending article order.
	Articles() []Article
	// LastLoaded is the highest article number loaded into the view.
	LastLoaded() ArticleNum
	SetRead(num ArticleNum, read bool)
}

// GroupLister supplies the active newsgroup list from the remote server.
type GroupLister interface {
	// ListActive returns every group the server carries.
	ListActive(ctx context.Context) ([]GroupInfo, error)
	// ListNewGroups returns groups created after the given UNIX time.
	ListNewGroups(ctx context.Context, since int64) ([]GroupInfo, error)
}
