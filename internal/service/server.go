// Package service ties the newsrc file, the active list snapshot and the
// per-group caches of one news server together.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/mmcdole/nntpsync/internal/active"
	"github.com/mmcdole/nntpsync/internal/cache"
	"github.com/mmcdole/nntpsync/internal/domain"
	"github.com/mmcdole/nntpsync/internal/metrics"
	"github.com/mmcdole/nntpsync/internal/newsrc"
	"github.com/mmcdole/nntpsync/internal/store"
)

// Options configures a Server.
type Options struct {
	ServerURL  string
	NewsrcPath string
	// CacheDir is the base cache directory; empty disables local caching.
	CacheDir         string
	SaveUnsubscribed bool
	MarkOld          bool
	LockTimeout      time.Duration
	// ReadOnly takes a shared newsrc lock and makes Commit fail.
	ReadOnly bool
	Logger   *slog.Logger
	Metrics  metrics.Recorder
}

// Server is the subscription state of one news server. It is not safe for
// concurrent use; callers own it and pass it explicitly.
type Server struct {
	url              string
	saveUnsubscribed bool
	markOld          bool
	readOnly         bool

	registry *domain.Registry
	newsrc   *newsrc.Store
	storage  *store.Storage // nil when caching is disabled
	cache    *cache.Coordinator

	newGroupsTime int64
	opened        bool

	logger  *slog.Logger
	metrics metrics.Recorder
	now     func() time.Time
}

// NewServer creates a Server. Nothing is read until Open.
func NewServer(opts Options) (*Server, error) {
	if opts.NewsrcPath == "" {
		return nil, domain.ErrNoNewsrc
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rec := opts.Metrics
	if rec == nil {
		rec = metrics.NoOp{}
	}

	mode := newsrc.LockExclusive
	if opts.ReadOnly {
		mode = newsrc.LockShared
	}

	s := &Server{
		url:              opts.ServerURL,
		saveUnsubscribed: opts.SaveUnsubscribed,
		markOld:          opts.MarkOld,
		readOnly:         opts.ReadOnly,
		registry:         domain.NewRegistry(),
		newsrc: newsrc.NewStore(opts.NewsrcPath, newsrc.Options{
			Mode:        mode,
			LockTimeout: opts.LockTimeout,
			Logger:      logger,
		}),
		logger:  logger,
		metrics: rec,
		now:     time.Now,
	}

	var storage domain.CacheStorage
	if opts.CacheDir != "" {
		st, err := store.NewStorage(opts.CacheDir, opts.ServerURL, logger)
		if err != nil {
			// Caching is best effort: the session still works without it.
			logger.Error("cache directory unavailable", "dir", opts.CacheDir, "error", err)
		} else {
			s.storage = st
			storage = st
		}
	}
	s.cache = cache.New(storage, cache.Options{
		SaveUnsubscribed: opts.SaveUnsubscribed,
		Logger:           logger,
		Metrics:          rec,
	})
	return s, nil
}

// URL returns the server URL the session was created for
func (s *Server) URL() string {
	return s.url
}

// Registry returns the server's groups.
func (s *Server) Registry() *domain.Registry {
	return s.registry
}

// Cache returns the cache coordinator.
func (s *Server) Cache() *cache.Coordinator {
	return s.cache
}

// Cacheable reports whether the server has a usable cache directory.
func (s *Server) Cacheable() bool {
	return s.storage != nil
}

// CacheDir returns the server's private cache directory, or "" when caching
// is disabled.
func (s *Server) CacheDir() string {
	if s.storage == nil {
		return ""
	}
	return s.storage.Dir()
}

// NewGroupsTime returns the UNIX time of the last group list refresh.
func (s *Server) NewGroupsTime() int64 {
	return s.newGroupsTime
}

// NewsrcPath returns the path of the subscription file.
func (s *Server) NewsrcPath() string {
	return s.newsrc.Path()
}

// Group returns the named group.
func (s *Server) Group(name string) (*domain.Group, error) {
	if !domain.ValidGroupName(name) {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidGroupName, name)
	}
	g, ok := s.registry.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrGroupNotFound, name)
	}
	return g, nil
}

// Open loads the newsrc file and brings the group list up to date.
//
// On the first call the active list comes from the local snapshot (followed
// by a new-groups query) or, failing that, from a full listing. Caches of
// groups that are no longer wanted are swept and cache watermarks loaded.
// Later calls re-parse the newsrc, check for new groups unless leaveLock is
// set, and sweep again only if the file was edited by someone else.
//
// A nil lister keeps the session offline. The newsrc lock is held on return
// only when leaveLock is true and no error occurred.
func (s *Server) Open(ctx context.Context, lister domain.GroupLister, leaveLock bool) (err error) {
	changed, err := s.newsrc.Parse(s.registry)
	if err != nil {
		return err
	}
	s.metrics.RecordNewsrcParse(changed)

	defer func() {
		if err != nil || !leaveLock {
			s.newsrc.Close()
		}
	}()

	if s.opened {
		if !leaveLock && lister != nil {
			if err := s.CheckNewGroups(ctx, lister); err != nil {
				return err
			}
		}
		if changed {
			return s.cache.SweepOrphans(s.registry)
		}
		return nil
	}

	if err := s.loadGroupList(ctx, lister); err != nil {
		return err
	}
	if err := s.cache.SweepOrphans(s.registry); err != nil {
		return fmt.Errorf("sweep caches: %w", err)
	}
	if err := s.cache.LoadWatermarks(s.registry); err != nil {
		return fmt.Errorf("load cache watermarks: %w", err)
	}
	s.opened = true

	var listed []*domain.Group
	for g := range s.registry.All() {
		if !g.Deleted {
			listed = append(listed, g)
		}
	}
	if err := s.refreshCaches(listed); err != nil {
		return err
	}

	s.logger.Info("server opened", "server", s.url, "groups", s.registry.Len(), "cacheable", s.Cacheable())
	return nil
}

func (s *Server) loadGroupList(ctx context.Context, lister domain.GroupLister) error {
	if s.Cacheable() {
		err := s.LoadActiveCache()
		if err == nil {
			if lister == nil {
				return nil
			}
			return s.CheckNewGroups(ctx, lister)
		}
		if errors.Is(err, active.ErrMalformed) {
			s.logger.Warn("ignoring active cache", "error", err)
		} else {
			s.logger.Debug("no active cache", "error", err)
		}
	}

	if lister == nil {
		s.logger.Info("no group lister, using newsrc groups only", "server", s.url)
		return nil
	}
	infos, err := lister.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active groups: %w", err)
	}
	if err := s.ApplyActiveList(infos); err != nil {
		return err
	}
	return s.SaveActiveCache()
}

// Close releases the newsrc lock if it is held.
func (s *Server) Close() error {
	return s.newsrc.Close()
}

// Commit rebuilds the read ranges of every group shown in views and rewrites
// the newsrc file under the lock. Foreign edits are picked up first so only
// the viewed groups override what is on disk.
func (s *Server) Commit(views ...domain.LiveView) (err error) {
	if s.readOnly {
		s.metrics.RecordNewsrcCommit(domain.ErrReadOnly)
		return domain.ErrReadOnly
	}
	changed, err := s.newsrc.Parse(s.registry)
	if err != nil {
		s.metrics.RecordNewsrcCommit(err)
		return err
	}
	s.metrics.RecordNewsrcParse(changed)
	defer s.newsrc.Close()

	for _, v := range views {
		if v == nil {
			continue
		}
		g, err := s.Group(v.Group())
		if err != nil {
			return err
		}
		g.Read.Regenerate(v.Articles(), v.LastLoaded(), g.Bounds.First)
		g.RecountUnread()
	}

	err = s.newsrc.Commit(s.registry)
	s.metrics.RecordNewsrcCommit(err)
	if err != nil {
		return err
	}
	s.logger.Info("newsrc updated", "path", s.newsrc.Path(), "regenerated", len(views))
	return nil
}

// UpdateGroupBounds applies one group as reported by the server and marks it
// present. Once the server is open, caches of a group whose bounds moved are
// reconciled against the new bounds.
func (s *Server) UpdateGroupBounds(info domain.GroupInfo) (*domain.Group, error) {
	g, moved, err := s.setBounds(info)
	if err != nil {
		return nil, err
	}
	if moved {
		return g, s.refreshCaches([]*domain.Group{g})
	}
	return g, nil
}

func (s *Server) setBounds(info domain.GroupInfo) (*domain.Group, bool, error) {
	g, err := s.registry.FindOrCreate(info.Name)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %q", err, info.Name)
	}

	bounds := domain.Bounds{First: info.First, Last: info.Last}
	moved := g.Bounds != bounds

	g.Deleted = false
	g.Bounds = bounds
	g.Allowed = info.PostingAllowed()
	g.Description = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return -1
		}
		return r
	}, info.Description)

	if g.HasRanges() || g.LastCached != 0 {
		g.RecountUnread()
	} else {
		g.Unread = g.Bounds.Count()
	}
	return g, moved, nil
}

// refreshCaches prunes the caches of groups whose bounds changed. Before the
// first Open completes this is left to Open's own pass.
func (s *Server) refreshCaches(groups []*domain.Group) error {
	if !s.opened || len(groups) == 0 {
		return nil
	}
	if err := s.cache.RefreshCached(groups); err != nil {
		return fmt.Errorf("reconcile caches: %w", err)
	}
	return nil
}

// ApplyActiveList replaces the server's group list. Groups missing from infos
// are marked deleted; their caches are purged unless still retained.
func (s *Server) ApplyActiveList(infos []domain.GroupInfo) error {
	for g := range s.registry.All() {
		g.Deleted = true
	}
	_, err := s.applyGroups(infos)
	errs := []error{err}

	for g := range s.registry.All() {
		if g.Deleted && !s.cache.Retained(g) {
			if err := s.cache.PurgeGroup(g); err != nil {
				errs = append(errs, err)
			}
		}
	}
	s.newGroupsTime = s.now().Unix()
	return errors.Join(errs...)
}

// AddNewGroups applies groups created since the last refresh without touching
// the others.
func (s *Server) AddNewGroups(infos []domain.GroupInfo) (int, error) {
	n, err := s.applyGroups(infos)
	s.newGroupsTime = s.now().Unix()
	return n, err
}

func (s *Server) applyGroups(infos []domain.GroupInfo) (int, error) {
	var (
		n     int
		moved []*domain.Group
	)
	for _, info := range infos {
		g, m, err := s.setBounds(info)
		if err != nil {
			s.logger.Debug("skipping listed group", "group", info.Name, "error", err)
			continue
		}
		if m {
			moved = append(moved, g)
		}
		n++
	}
	return n, s.refreshCaches(moved)
}

// CheckNewGroups asks lister for groups created since the last refresh and
// saves the snapshot when any arrived.
func (s *Server) CheckNewGroups(ctx context.Context, lister domain.GroupLister) error {
	infos, err := lister.ListNewGroups(ctx, s.newGroupsTime)
	if err != nil {
		return fmt.Errorf("list new groups: %w", err)
	}
	n, err := s.AddNewGroups(infos)
	s.logger.Debug("checked new groups", "server", s.url, "added", n)
	if n == 0 {
		return err
	}
	return errors.Join(err, s.SaveActiveCache())
}

func (s *Server) activeCachePath() string {
	return filepath.Join(s.storage.Dir(), active.FileName)
}

// LoadActiveCache reads the local group list snapshot. Groups the snapshot
// does not list are marked deleted.
func (s *Server) LoadActiveCache() error {
	if !s.Cacheable() {
		return domain.ErrCacheDisabled
	}
	snap, err := active.Load(s.activeCachePath(), s.logger)
	if err != nil {
		return err
	}

	for g := range s.registry.All() {
		g.Deleted = true
	}
	n, err := s.applyGroups(snap.Groups)
	s.newGroupsTime = snap.Timestamp

	s.logger.Info("loaded active cache", "server", s.url, "groups", n)
	return err
}

// SaveActiveCache writes the group list snapshot. It is a no-op when caching
// is disabled.
func (s *Server) SaveActiveCache() error {
	if !s.Cacheable() {
		return nil
	}
	ts := s.newGroupsTime
	if ts == 0 {
		ts = s.now().Unix()
		s.newGroupsTime = ts
	}
	if err := active.Save(s.activeCachePath(), ts, s.registry); err != nil {
		return err
	}
	s.logger.Info("saved active cache", "server", s.url)
	return nil
}
