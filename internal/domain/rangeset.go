package domain

import (
	"strconv"
	"strings"
)

// ArticleNum is a server-assigned article number within one newsgroup.
type ArticleNum uint64

// Range is a closed span of read article numbers. A range with First > Last
// is kept verbatim from disk but never matches any article.
type Range struct {
	First ArticleNum
	Last  ArticleNum
}

// Valid reports whether the range covers at least one article.
func (r Range) Valid() bool {
	return r.First <= r.Last
}

// String renders the range the way a newsrc entry is written.
// Inverted ranges render as the empty string.
func (r Range) String() string {
	switch {
	case r.First == r.Last:
		return strconv.FormatUint(uint64(r.First), 10)
	case r.First < r.Last:
		return strconv.FormatUint(uint64(r.First), 10) + "-" + strconv.FormatUint(uint64(r.Last), 10)
	default:
		return ""
	}
}

// RangeState distinguishes a group that was never initialized from one that
// is known to have nothing read.
type RangeState int

const (
	RangesUninitialized RangeState = iota
	RangesEmpty
	RangesNonEmpty
)

func (s RangeState) String() string {
	switch s {
	case RangesEmpty:
		return "empty"
	case RangesNonEmpty:
		return "non-empty"
	default:
		return "uninitialized"
	}
}

// RangeSet is the ordered list of read intervals for one group.
// Intervals are never merged so a parse/serialize cycle is stable.
type RangeSet struct {
	state  RangeState
	ranges []Range
}

// NewRangeSet builds a set from ranges in file order. No ranges yields the
// empty state.
func NewRangeSet(ranges ...Range) RangeSet {
	if len(ranges) == 0 {
		return RangeSet{state: RangesEmpty}
	}
	cp := make([]Range, len(ranges))
	copy(cp, ranges)
	return RangeSet{state: RangesNonEmpty, ranges: cp}
}

// State returns the tagged state of the set.
func (s *RangeSet) State() RangeState {
	return s.state
}

// Initialized reports whether the set is empty or holds ranges.
func (s *RangeSet) Initialized() bool {
	return s.state != RangesUninitialized
}

// Ranges returns a copy of the stored intervals.
func (s *RangeSet) Ranges() []Range {
	if len(s.ranges) == 0 {
		return nil
	}
	cp := make([]Range, len(s.ranges))
	copy(cp, s.ranges)
	return cp
}

// Len returns the number of stored intervals.
func (s *RangeSet) Len() int {
	return len(s.ranges)
}

// Clear forgets everything, returning the set to the uninitialized state.
func (s *RangeSet) Clear() {
	s.state = RangesUninitialized
	s.ranges = nil
}

// MarkEmpty initializes the set as "nothing read" if it holds nothing yet.
func (s *RangeSet) MarkEmpty() {
	if s.state == RangesUninitialized {
		s.state = RangesEmpty
	}
}

// Replace swaps in a new interval list.
func (s *RangeSet) Replace(ranges []Range) {
	*s = NewRangeSet(ranges...)
}

// Contains reports whether n lies inside any valid interval.
func (s *RangeSet) Contains(n ArticleNum) bool {
	for _, r := range s.ranges {
		if n >= r.First && n <= r.Last {
			return true
		}
	}
	return false
}

// UnreadCount returns how many articles of bounds are not covered by the set.
func (s *RangeSet) UnreadCount(b Bounds) uint64 {
	if b.Last == 0 || b.First > b.Last {
		return 0
	}
	unread := uint64(b.Last-b.First) + 1
	for _, r := range s.ranges {
		first := max(r.First, b.First)
		last := min(r.Last, b.Last)
		if first > last {
			continue
		}
		// Hand-edited files may hold overlapping ranges.
		covered := uint64(last-first) + 1
		if covered >= unread {
			return 0
		}
		unread -= covered
	}
	return unread
}

// Catchup marks everything up to last as read.
func (s *RangeSet) Catchup(last ArticleNum) {
	s.Replace([]Range{{First: 1, Last: last}})
}

// Uncatchup marks everything from first onwards as unread.
func (s *RangeSet) Uncatchup(first ArticleNum) {
	last := ArticleNum(0)
	if first > 0 {
		last = first - 1
	}
	s.Replace([]Range{{First: 1, Last: last}})
}

// Regenerate rebuilds the set from the currently loaded articles, which must
// be in ascending article order. Articles below firstArticle count as read.
func (s *RangeSet) Regenerate(articles []Article, lastLoaded, firstArticle ArticleNum) {
	var (
		ranges   []Range
		start    ArticleNum = 1
		prev     ArticleNum
		scanning = true // looking for the first unread article of a run
	)

	for _, a := range articles {
		if a.Num == 0 {
			continue
		}
		if scanning {
			prev = a.Num
			if a.Num >= firstArticle && !a.Deleted && !a.Read {
				ranges = append(ranges, Range{First: start, Last: a.Num - 1})
				scanning = false
			}
			continue
		}
		if a.Deleted || a.Read {
			start = prev + 1
			scanning = true
		}
		prev = a.Num
	}

	if scanning && start <= lastLoaded {
		ranges = append(ranges, Range{First: start, Last: lastLoaded})
	}
	s.Replace(ranges)
}

// Entries renders the valid intervals as newsrc entries.
func (s *RangeSet) Entries() []string {
	out := make([]string, 0, len(s.ranges))
	for _, r := range s.ranges {
		if text := r.String(); text != "" {
			out = append(out, text)
		}
	}
	return out
}

// ParseRange parses a single "N" or "N-M" entry.
func ParseRange(entry string) (Range, bool) {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return Range{}, false
	}
	lo, hi, dashed := strings.Cut(entry, "-")
	first, err := strconv.ParseUint(strings.TrimSpace(lo), 10, 64)
	if err != nil {
		return Range{}, false
	}
	if !dashed {
		return Range{First: ArticleNum(first), Last: ArticleNum(first)}, true
	}
	last, err := strconv.ParseUint(strings.TrimSpace(hi), 10, 64)
	if err != nil {
		return Range{}, false
	}
	return Range{First: ArticleNum(first), Last: ArticleNum(last)}, true
}

// ParseRangeSet parses a comma separated entry list. Unusable entries are
// dropped; a list with nothing usable yields the empty state.
func ParseRangeSet(list string) RangeSet {
	var ranges []Range
	for _, entry := range strings.Split(list, ",") {
		if r, ok := ParseRange(entry); ok {
			ranges = append(ranges, r)
		}
	}
	return NewRangeSet(ranges...)
}
