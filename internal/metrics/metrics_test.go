package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	out := make(map[string]*dto.MetricFamily, len(mfs))
	for _, mf := range mfs {
		out[mf.GetName()] = mf
	}
	return out
}

func labeled(mf *dto.MetricFamily, value string) float64 {
	for _, m := range mf.GetMetric() {
		for _, l := range m.GetLabel() {
			if l.GetName() == "result" && l.GetValue() == value {
				return m.GetCounter().GetValue()
			}
		}
	}
	return -1
}

func TestCollector_NewsrcCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordNewsrcParse(true)
	c.RecordNewsrcParse(false)
	c.RecordNewsrcParse(false)
	c.RecordNewsrcCommit(nil)
	c.RecordNewsrcCommit(errors.New("disk full"))

	mfs := gather(t, reg)
	parses := mfs["nntpsync_newsrc_parse_total"]
	if parses == nil {
		t.Fatal("nntpsync_newsrc_parse_total not found")
	}
	if got := labeled(parses, "changed"); got != 1 {
		t.Errorf("changed = %v, want 1", got)
	}
	if got := labeled(parses, "unchanged"); got != 2 {
		t.Errorf("unchanged = %v, want 2", got)
	}

	commits := mfs["nntpsync_newsrc_commit_total"]
	if got := labeled(commits, "ok"); got != 1 {
		t.Errorf("ok = %v, want 1", got)
	}
	if got := labeled(commits, "error"); got != 1 {
		t.Errorf("error = %v, want 1", got)
	}
}

func TestCollector_CacheCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordMetadataPruned(3)
	c.RecordMetadataPruned(0)
	c.RecordBodiesPruned(2)
	c.RecordGroupPurged()
	c.RecordCacheInconsistency()

	tests := map[string]float64{
		"nntpsync_metadata_pruned_total":     3,
		"nntpsync_bodies_pruned_total":       2,
		"nntpsync_groups_purged_total":       1,
		"nntpsync_cache_inconsistency_total": 1,
	}
	mfs := gather(t, reg)
	for name, want := range tests {
		mf, ok := mfs[name]
		if !ok {
			t.Errorf("%s not found", name)
			continue
		}
		if got := mf.GetMetric()[0].GetCounter().GetValue(); got != want {
			t.Errorf("%s = %v, want %v", name, got, want)
		}
	}
}

func TestNoOp_ImplementsRecorder(t *testing.T) {
	var r Recorder = NoOp{}
	r.RecordNewsrcParse(true)
	r.RecordGroupPurged()
}
