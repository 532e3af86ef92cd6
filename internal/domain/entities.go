package domain

// Bounds is the server-reported window of retained articles in a group.
type Bounds struct {
	First ArticleNum
	Last  ArticleNum
}

// Valid reports whether the bounds describe at least one article.
func (b Bounds) Valid() bool {
	return b.Last != 0 && b.First <= b.Last
}

// Contains reports whether n lies within the bounds.
func (b Bounds) Contains(n ArticleNum) bool {
	return n >= b.First && n <= b.Last
}

// Count returns last-first+1, or 0 for invalid bounds.
func (b Bounds) Count() uint64 {
	if !b.Valid() {
		return 0
	}
	return uint64(b.Last-b.First) + 1
}

// Group is one newsgroup tracked under a server
type Group struct {
	Name        string
	Subscribed  bool
	Deleted     bool // server no longer lists the group
	Allowed     bool // posting allowed ('y' or 'm')
	Description string
	Bounds      Bounds
	LastCached  ArticleNum // highest article confirmed in the metadata cache
	Unread      uint64
	Read        RangeSet
}

// HasRanges reports whether any read-state is held for the group.
func (g *Group) HasRanges() bool {
	return g.Read.Initialized()
}

// RecountUnread refreshes Unread from the read ranges and bounds.
func (g *Group) RecountUnread() {
	g.Unread = g.Read.UnreadCount(g.Bounds)
}

// ArticleStatus classifies one article for display
type ArticleStatus int

const (
	ArticleNew  ArticleStatus = iota // not read, not seen in the metadata cache
	ArticleOld                       // not read but already cached
	ArticleRead                      // covered by the read ranges
)

func (s ArticleStatus) String() string {
	switch s {
	case ArticleRead:
		return "read"
	case ArticleOld:
		return "old"
	default:
		return "new"
	}
}

// Article is one entry of a live mailbox view.
type Article struct {
	Num     ArticleNum
	Read    bool
	Deleted bool
}

// GroupInfo is one group as listed by the server or the active cache.
type GroupInfo struct {
	Name        string
	First       ArticleNum
	Last        ArticleNum
	Moderation  byte // 'y', 'm', 'n', ...
	Description string
}

// PostingAllowed reports whether the moderation flag permits posting.
func (i GroupInfo) PostingAllowed() bool {
	return i.Moderation == 'y' || i.Moderation == 'm'
}
