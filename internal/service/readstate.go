package service

import (
	"github.com/mmcdole/nntpsync/internal/domain"
)

// ClassifyArticle tells whether num in the named group was read, is new, or
// was cached before without being read. Old is only reported when the
// mark-old policy is on; otherwise such articles count as new.
func (s *Server) ClassifyArticle(name string, num domain.ArticleNum) (domain.ArticleStatus, error) {
	g, err := s.Group(name)
	if err != nil {
		return domain.ArticleNew, err
	}
	return s.classify(g, num), nil
}

func (s *Server) classify(g *domain.Group, num domain.ArticleNum) domain.ArticleStatus {
	if g.Read.Contains(num) {
		return domain.ArticleRead
	}
	if num > g.LastCached || !s.markOld {
		return domain.ArticleNew
	}
	return domain.ArticleOld
}

// Subscribe marks the group subscribed, creating it if needed. A group
// without read-state starts with nothing read.
func (s *Server) Subscribe(name string) (*domain.Group, error) {
	g, err := s.registry.FindOrCreate(name)
	if err != nil {
		return nil, err
	}
	g.Subscribed = true
	g.Read.MarkEmpty()
	return g, nil
}

// Unsubscribe marks the group unsubscribed. Its read ranges are dropped
// unless unsubscribed groups are kept.
func (s *Server) Unsubscribe(name string) (*domain.Group, error) {
	g, err := s.Group(name)
	if err != nil {
		return nil, err
	}
	g.Subscribed = false
	if !s.saveUnsubscribed {
		g.Read.Clear()
	}
	return g, nil
}

// Catchup marks every article up to the group's last article read. When view
// shows the same group each loaded article is marked read too.
func (s *Server) Catchup(name string, view domain.LiveView) (*domain.Group, error) {
	g, err := s.Group(name)
	if err != nil {
		return nil, err
	}
	g.Read.Catchup(g.Bounds.Last)
	g.Unread = 0
	if showing(view, g) {
		for _, a := range view.Articles() {
			view.SetRead(a.Num, true)
		}
	}
	s.logger.Debug("caught up group", "group", g.Name, "last", g.Bounds.Last)
	return g, nil
}

// Uncatchup marks every article from the group's first article onwards
// unread. With a view of the group the unread count is the number of loaded
// articles.
func (s *Server) Uncatchup(name string, view domain.LiveView) (*domain.Group, error) {
	g, err := s.Group(name)
	if err != nil {
		return nil, err
	}
	g.Read.Uncatchup(g.Bounds.First)
	if showing(view, g) {
		articles := view.Articles()
		for _, a := range articles {
			view.SetRead(a.Num, false)
		}
		g.Unread = uint64(len(articles))
	} else {
		g.RecountUnread()
	}
	s.logger.Debug("uncaught group", "group", g.Name, "first", g.Bounds.First)
	return g, nil
}

// FirstUnreadGroup returns the first subscribed group, in registry order,
// that has unread articles. The group shown in view is judged by its loaded
// articles rather than its counter.
func (s *Server) FirstUnreadGroup(view domain.LiveView) (*domain.Group, bool) {
	for g := range s.registry.All() {
		if !g.Subscribed || g.Unread == 0 {
			continue
		}
		if showing(view, g) && liveUnread(view) == 0 {
			continue
		}
		return g, true
	}
	return nil, false
}

func showing(view domain.LiveView, g *domain.Group) bool {
	return view != nil && view.Group() == g.Name
}

func liveUnread(view domain.LiveView) int {
	n := 0
	for _, a := range view.Articles() {
		if !a.Read && !a.Deleted {
			n++
		}
	}
	return n
}
