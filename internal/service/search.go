package service

import (
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
	subseq "github.com/sahilm/fuzzy"

	"github.com/mmcdole/nntpsync/internal/domain"
)

// GroupMatch is one search hit with match metadata for highlighting.
type GroupMatch struct {
	Group          *domain.Group
	MatchedIndexes []int // byte positions in "<name> <description>"
	Score          int   // higher is better
}

// groupIndex implements sahilm/fuzzy.Source over the searchable text of each
// live group.
type groupIndex struct {
	groups []*domain.Group
	text   []string // lowercase "<name> <description>"
}

func (idx *groupIndex) String(i int) string { return idx.text[i] }

func (idx *groupIndex) Len() int { return len(idx.groups) }

func (s *Server) buildIndex() *groupIndex {
	idx := &groupIndex{}
	for g := range s.registry.All() {
		if g.Deleted {
			continue
		}
		text := g.Name
		if g.Description != "" {
			text += " " + g.Description
		}
		idx.groups = append(idx.groups, g)
		idx.text = append(idx.text, strings.ToLower(text))
	}
	return idx
}

// SearchGroups fuzzy-matches query against group names and descriptions.
// Results are ordered best first.
func (s *Server) SearchGroups(query string) []GroupMatch {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}

	idx := s.buildIndex()
	matches := subseq.FindFrom(query, idx)

	results := make([]GroupMatch, 0, len(matches))
	for _, m := range matches {
		results = append(results, GroupMatch{
			Group:          idx.groups[m.Index],
			MatchedIndexes: m.MatchedIndexes,
			Score:          m.Score,
		})
	}
	s.logger.Debug("searched groups", "query", query, "results", len(results))
	return results
}

// SuggestGroups returns up to limit known group names close to name, for
// "did you mean" hints when a lookup fails.
func (s *Server) SuggestGroups(name string, limit int) []string {
	name = strings.TrimSpace(name)
	if name == "" || limit <= 0 {
		return nil
	}

	names := s.registry.Names()
	distance := make(map[string]int)
	for _, r := range fuzzy.RankFindFold(name, names) {
		distance[r.Target] = r.Distance
	}

	// Typos don't survive a subsequence match; fall back to edit distance.
	lower := strings.ToLower(name)
	threshold := max(2, len(name)/4)
	for _, n := range names {
		if _, ok := distance[n]; ok {
			continue
		}
		if d := fuzzy.LevenshteinDistance(lower, strings.ToLower(n)); d <= threshold {
			distance[n] = d
		}
	}

	out := make([]string, 0, len(distance))
	for n := range distance {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		di, dj := distance[out[i]], distance[out[j]]
		if di != dj {
			return di < dj
		}
		return out[i] < out[j]
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
