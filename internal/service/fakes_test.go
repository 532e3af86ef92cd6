package service

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/mmcdole/nntpsync/internal/adapter"
	"github.com/mmcdole/nntpsync/internal/domain"
)

const testServerURL = "news://news.example.org"

var fixedNow = time.Unix(1700000000, 0)

type fakeView struct {
	group    string
	articles []domain.Article
	last     domain.ArticleNum
}

func newView(group string, articles ...domain.Article) *fakeView {
	v := &fakeView{group: group, articles: articles}
	if len(articles) > 0 {
		v.last = articles[len(articles)-1].Num
	}
	return v
}

func (v *fakeView) Group() string                 { return v.group }
func (v *fakeView) Articles() []domain.Article    { return slices.Clone(v.articles) }
func (v *fakeView) LastLoaded() domain.ArticleNum { return v.last }

func (v *fakeView) SetRead(num domain.ArticleNum, read bool) {
	for i := range v.articles {
		if v.articles[i].Num == num {
			v.articles[i].Read = read
		}
	}
}

type fakeLister struct {
	active      []domain.GroupInfo
	newGroups   []domain.GroupInfo
	err         error
	activeCalls int
	newCalls    int
	since       int64
}

func (l *fakeLister) ListActive(ctx context.Context) ([]domain.GroupInfo, error) {
	l.activeCalls++
	return l.active, l.err
}

func (l *fakeLister) ListNewGroups(ctx context.Context, since int64) ([]domain.GroupInfo, error) {
	l.newCalls++
	l.since = since
	return l.newGroups, l.err
}

type testEnv struct {
	newsrc   string
	cacheDir string
}

func newTestEnv(t *testing.T, newsrc string) testEnv {
	t.Helper()
	dir := t.TempDir()
	env := testEnv{
		newsrc:   filepath.Join(dir, "newsrc"),
		cacheDir: filepath.Join(dir, "cache"),
	}
	if err := os.WriteFile(env.newsrc, []byte(newsrc), 0o644); err != nil {
		t.Fatal(err)
	}
	return env
}

func (e testEnv) server(t *testing.T, tweak func(*Options)) *Server {
	t.Helper()
	opts := Options{
		ServerURL:   testServerURL,
		NewsrcPath:  e.newsrc,
		CacheDir:    e.cacheDir,
		LockTimeout: time.Second,
		Logger:      adapter.NullLogger(),
	}
	if tweak != nil {
		tweak(&opts)
	}
	s, err := NewServer(opts)
	if err != nil {
		t.Fatal(err)
	}
	s.now = func() time.Time { return fixedNow }
	t.Cleanup(func() { s.Close() })
	return s
}

func info(name string, first, last domain.ArticleNum) domain.GroupInfo {
	return domain.GroupInfo{Name: name, First: first, Last: last, Moderation: 'y'}
}

func readNewsrc(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}
