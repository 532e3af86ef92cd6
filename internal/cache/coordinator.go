// Package cache keeps the per-group metadata and body caches consistent with
// the article bounds the server currently reports.
//
// The two caches and the newsrc file share no transaction. Each cache is
// pruned independently against the group's bounds; a metadata cache also
// carries an index record with the bounds it was last reconciled against so
// that pruning only visits entries that could have become stale.
package cache

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/mmcdole/nntpsync/internal/domain"
	"github.com/mmcdole/nntpsync/internal/metrics"
	"github.com/mmcdole/nntpsync/internal/store"
)

// Options configures a Coordinator.
type Options struct {
	// SaveUnsubscribed keeps caches and ranges of unsubscribed groups.
	SaveUnsubscribed bool
	Logger           *slog.Logger
	Metrics          metrics.Recorder
}

// Coordinator reconciles one server's caches. A nil storage disables it.
type Coordinator struct {
	storage          domain.CacheStorage
	saveUnsubscribed bool
	logger           *slog.Logger
	metrics          metrics.Recorder
}

// New creates a coordinator over storage.
func New(storage domain.CacheStorage, opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rec := opts.Metrics
	if rec == nil {
		rec = metrics.NoOp{}
	}
	return &Coordinator{
		storage:          storage,
		saveUnsubscribed: opts.SaveUnsubscribed,
		logger:           logger,
		metrics:          rec,
	}
}

// Enabled reports whether local caching is on.
func (c *Coordinator) Enabled() bool {
	return c.storage != nil
}

// Retained reports whether g's caches should be kept at all.
func (c *Coordinator) Retained(g *domain.Group) bool {
	return g.HasRanges() || g.Subscribed || c.saveUnsubscribed
}

// FormatIndex renders the index record for bounds.
func FormatIndex(b domain.Bounds) []byte {
	return []byte(fmt.Sprintf("%d %d", b.First, b.Last))
}

// ParseIndex decodes an index record. Trailing NULs and whitespace are
// tolerated.
func ParseIndex(raw []byte) (domain.Bounds, error) {
	text := strings.TrimSpace(string(bytes.TrimRight(raw, "\x00")))
	lo, hi, ok := strings.Cut(text, " ")
	if !ok {
		return domain.Bounds{}, fmt.Errorf("index %q: want \"<first> <last>\"", text)
	}
	first, err := strconv.ParseUint(strings.TrimSpace(lo), 10, 64)
	if err != nil {
		return domain.Bounds{}, fmt.Errorf("index %q: %w", text, err)
	}
	last, err := strconv.ParseUint(strings.TrimSpace(hi), 10, 64)
	if err != nil {
		return domain.Bounds{}, fmt.Errorf("index %q: %w", text, err)
	}
	return domain.Bounds{First: domain.ArticleNum(first), Last: domain.ArticleNum(last)}, nil
}

// readIndex returns the stored bounds, or ok=false when there is no usable
// record.
func (c *Coordinator) readIndex(g *domain.Group, mc domain.MetadataCache) (domain.Bounds, bool, error) {
	raw, found, err := mc.FetchRaw(store.IndexKey)
	if err != nil || !found {
		return domain.Bounds{}, false, err
	}
	stored, err := ParseIndex(raw)
	if err != nil {
		c.logger.Warn("ignoring metadata cache index", "group", g.Name, "error", err)
		c.metrics.RecordCacheInconsistency()
		return domain.Bounds{}, false, nil
	}
	return stored, true, nil
}

// ReconcileMetadata drops cached headers inside the previously indexed bounds
// that fall outside g's current bounds, raises g.LastCached, and rewrites the
// index when the bounds moved.
func (c *Coordinator) ReconcileMetadata(g *domain.Group, mc domain.MetadataCache) error {
	stored, old, err := c.readIndex(g, mc)
	if err != nil {
		return fmt.Errorf("read metadata index of %s: %w", g.Name, err)
	}

	if old {
		keys, err := mc.Keys()
		if err != nil {
			return fmt.Errorf("list metadata of %s: %w", g.Name, err)
		}
		var stale []string
		for _, k := range keys {
			n, err := strconv.ParseUint(k, 10, 64)
			if err != nil {
				continue
			}
			num := domain.ArticleNum(n)
			if num >= stored.First && num <= stored.Last && !g.Bounds.Contains(num) {
				stale = append(stale, k)
			}
		}
		if len(stale) > 0 {
			c.logger.Debug("pruning cached headers", "group", g.Name, "count", len(stale))
			if err := mc.Delete(stale...); err != nil {
				return fmt.Errorf("prune metadata of %s: %w", g.Name, err)
			}
			c.metrics.RecordMetadataPruned(len(stale))
		}

		if stored.Valid() && g.Bounds.Contains(stored.Last) && stored.Last > g.LastCached {
			g.LastCached = stored.Last
		}
	}

	if !old || stored != g.Bounds {
		c.logger.Debug("storing metadata index", "group", g.Name, "first", g.Bounds.First, "last", g.Bounds.Last)
		if err := mc.StoreRaw(store.IndexKey, FormatIndex(g.Bounds)); err != nil {
			return fmt.Errorf("store metadata index of %s: %w", g.Name, err)
		}
	}
	return nil
}

// ReconcileBodies deletes every cached body whose identifier is not an
// article number within g's bounds.
func (c *Coordinator) ReconcileBodies(g *domain.Group, bc domain.BodyCache) error {
	n, err := deleteBodies(bc, func(id string) bool {
		num, ok := ParseBodyID(id)
		return !ok || !g.Bounds.Contains(num)
	})
	if n > 0 {
		c.logger.Debug("pruned cached bodies", "group", g.Name, "count", n)
		c.metrics.RecordBodiesPruned(n)
	}
	if err != nil {
		return fmt.Errorf("prune bodies of %s: %w", g.Name, err)
	}
	return nil
}

func deleteBodies(bc domain.BodyCache, stale func(id string) bool) (int, error) {
	ids, err := bc.List()
	if err != nil {
		return 0, err
	}
	var (
		n    int
		errs []error
	)
	for _, id := range ids {
		if !stale(id) {
			continue
		}
		if err := bc.Delete(id); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// ParseBodyID reads a body identifier: a decimal article number optionally
// followed by one non-digit character.
func ParseBodyID(id string) (domain.ArticleNum, bool) {
	digits := len(id)
	if digits > 0 && (id[digits-1] < '0' || id[digits-1] > '9') {
		digits--
	}
	if digits == 0 {
		return 0, false
	}
	n, err := strconv.ParseUint(id[:digits], 10, 64)
	if err != nil {
		return 0, false
	}
	return domain.ArticleNum(n), true
}

// Refresh opens g's caches and reconciles both against its current bounds.
// Groups whose caches are not retained are skipped.
func (c *Coordinator) Refresh(g *domain.Group) error {
	if !c.Enabled() || !c.Retained(g) {
		return nil
	}
	return c.reconcile(g, domain.CacheArtifact{Group: g.Name, Metadata: true, Bodies: true})
}

// RefreshCached reconciles the caches groups already have on disk. Nothing
// is created for groups without artifacts. Deleted groups are skipped since
// their index holds the last bounds the server reported.
func (c *Coordinator) RefreshCached(groups []*domain.Group) error {
	if !c.Enabled() || len(groups) == 0 {
		return nil
	}

	arts, err := c.storage.Artifacts()
	if err != nil {
		return err
	}
	present := make(map[string]domain.CacheArtifact, len(arts))
	for _, a := range arts {
		present[a.Group] = a
	}

	var errs []error
	for _, g := range groups {
		a, ok := present[g.Name]
		if !ok || g.Deleted || !c.Retained(g) {
			continue
		}
		if err := c.reconcile(g, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Coordinator) reconcile(g *domain.Group, a domain.CacheArtifact) error {
	var errs []error
	if a.Metadata {
		mc, err := c.storage.OpenMetadata(g.Name)
		if err != nil {
			return err
		}
		errs = append(errs, c.ReconcileMetadata(g, mc), mc.Close())
	}
	if a.Bodies {
		bc, err := c.storage.OpenBodies(g.Name)
		if err != nil {
			return errors.Join(append(errs, err)...)
		}
		errs = append(errs, c.ReconcileBodies(g, bc))
	}
	return errors.Join(errs...)
}

// PurgeGroup removes every cache artifact of g and resets its cache watermark.
func (c *Coordinator) PurgeGroup(g *domain.Group) error {
	if !c.Enabled() {
		return nil
	}
	g.LastCached = 0
	return c.purge(g.Name)
}

func (c *Coordinator) purge(name string) error {
	c.logger.Debug("purging group cache", "group", name)

	var errs []error
	if err := c.storage.RemoveMetadata(name); err != nil {
		errs = append(errs, err)
	}

	bc, err := c.storage.OpenBodies(name)
	if err != nil {
		errs = append(errs, err)
	} else {
		n, err := deleteBodies(bc, func(string) bool { return true })
		if n > 0 {
			c.metrics.RecordBodiesPruned(n)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.storage.RemoveBodies(name); err != nil {
		errs = append(errs, err)
	}

	c.metrics.RecordGroupPurged()
	return errors.Join(errs...)
}

// ClearMetadata deletes g's metadata cache outright, the one case where
// g.LastCached is allowed to go back to zero.
func (c *Coordinator) ClearMetadata(g *domain.Group) error {
	if !c.Enabled() {
		return nil
	}
	g.LastCached = 0
	return c.storage.RemoveMetadata(g.Name)
}

// SweepOrphans purges caches of groups that are unknown, or known but neither
// subscribed, holding ranges, nor kept by the SaveUnsubscribed policy.
func (c *Coordinator) SweepOrphans(reg *domain.Registry) error {
	if !c.Enabled() {
		return nil
	}

	arts, err := c.storage.Artifacts()
	if err != nil {
		return err
	}

	var errs []error
	for _, a := range arts {
		g, known := reg.Lookup(a.Group)
		if known && c.Retained(g) {
			continue
		}
		c.logger.Info("removing orphaned group cache", "group", a.Group, "known", known)
		if known {
			err = c.PurgeGroup(g)
		} else {
			err = c.purge(a.Group)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LoadWatermarks seeds LastCached from every retained group's metadata index.
// Groups the server no longer lists get their last known bounds back.
func (c *Coordinator) LoadWatermarks(reg *domain.Registry) error {
	if !c.Enabled() {
		return nil
	}

	arts, err := c.storage.Artifacts()
	if err != nil {
		return err
	}

	var errs []error
	for _, a := range arts {
		if !a.Metadata {
			continue
		}
		g, ok := reg.Lookup(a.Group)
		if !ok || !c.Retained(g) {
			continue
		}
		if err := c.loadWatermark(g); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Coordinator) loadWatermark(g *domain.Group) error {
	mc, err := c.storage.OpenMetadata(g.Name)
	if err != nil {
		return err
	}
	defer mc.Close()

	stored, ok, err := c.readIndex(g, mc)
	if err != nil || !ok {
		return err
	}
	if g.Deleted {
		g.Bounds = stored
	}
	if g.Bounds.Contains(stored.Last) && stored.Last > g.LastCached {
		g.LastCached = stored.Last
		c.logger.Debug("seeded cache watermark", "group", g.Name, "lastCached", stored.Last)
	}
	return nil
}
