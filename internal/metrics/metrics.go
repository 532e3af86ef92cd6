// Package metrics exposes Prometheus counters for newsrc and cache activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder receives sync events from the newsrc and cache layers.
type Recorder interface {
	RecordNewsrcParse(changed bool)
	RecordNewsrcCommit(err error)
	RecordMetadataPruned(n int)
	RecordBodiesPruned(n int)
	RecordGroupPurged()
	RecordCacheInconsistency()
}

// NoOp discards every event.
type NoOp struct{}

func (NoOp) RecordNewsrcParse(bool)    {}
func (NoOp) RecordNewsrcCommit(error)  {}
func (NoOp) RecordMetadataPruned(int)  {}
func (NoOp) RecordBodiesPruned(int)    {}
func (NoOp) RecordGroupPurged()        {}
func (NoOp) RecordCacheInconsistency() {}

// Collector is the Prometheus implementation of Recorder.
type Collector struct {
	newsrcParses    *prometheus.CounterVec
	newsrcCommits   *prometheus.CounterVec
	metadataPruned  prometheus.Counter
	bodiesPruned    prometheus.Counter
	groupsPurged    prometheus.Counter
	inconsistentIdx prometheus.Counter
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		newsrcParses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nntpsync_newsrc_parse_total",
			Help: "Newsrc parse attempts by outcome (changed, unchanged).",
		}, []string{"result"}),
		newsrcCommits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nntpsync_newsrc_commit_total",
			Help: "Newsrc rewrites by outcome (ok, error).",
		}, []string{"result"}),
		metadataPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nntpsync_metadata_pruned_total",
			Help: "Cached article headers deleted because they left the server bounds.",
		}),
		bodiesPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nntpsync_bodies_pruned_total",
			Help: "Cached article bodies deleted.",
		}),
		groupsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nntpsync_groups_purged_total",
			Help: "Groups whose caches were removed entirely.",
		}),
		inconsistentIdx: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nntpsync_cache_inconsistency_total",
			Help: "Metadata caches whose stored bounds could not be trusted.",
		}),
	}

	reg.MustRegister(
		c.newsrcParses,
		c.newsrcCommits,
		c.metadataPruned,
		c.bodiesPruned,
		c.groupsPurged,
		c.inconsistentIdx,
	)
	return c
}

func (c *Collector) RecordNewsrcParse(changed bool) {
	result := "unchanged"
	if changed {
		result = "changed"
	}
	c.newsrcParses.WithLabelValues(result).Inc()
}

func (c *Collector) RecordNewsrcCommit(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.newsrcCommits.WithLabelValues(result).Inc()
}

func (c *Collector) RecordMetadataPruned(n int) {
	c.metadataPruned.Add(float64(n))
}

func (c *Collector) RecordBodiesPruned(n int) {
	c.bodiesPruned.Add(float64(n))
}

func (c *Collector) RecordGroupPurged() {
	c.groupsPurged.Inc()
}

func (c *Collector) RecordCacheInconsistency() {
	c.inconsistentIdx.Inc()
}
