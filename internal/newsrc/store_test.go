package newsrc

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/mmcdole/nntpsync/internal/adapter"
	"github.com/mmcdole/nntpsync/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func writeNewsrc(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "newsrc")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestStore(path string) *Store {
	return NewStore(path, Options{Mode: LockExclusive, Logger: adapter.NullLogger()})
}

func mustGroup(t *testing.T, reg *domain.Registry, name string) *domain.Group {
	t.Helper()
	g, ok := reg.Lookup(name)
	if !ok {
		t.Fatalf("group %q not in registry", name)
	}
	return g
}

func TestParse_SubscribedAndUnsubscribed(t *testing.T) {
	path := writeNewsrc(t, "comp.lang.c: 1-10,15\nalt.test! 3\n")
	s := newTestStore(path)
	defer s.Close()

	reg := domain.NewRegistry()
	changed, err := s.Parse(reg)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !changed {
		t.Error("first parse reported unchanged")
	}

	c := mustGroup(t, reg, "comp.lang.c")
	if !c.Subscribed {
		t.Error("comp.lang.c should be subscribed")
	}
	want := []domain.Range{{First: 1, Last: 10}, {First: 15, Last: 15}}
	if diff := cmp.Diff(want, c.Read.Ranges()); diff != "" {
		t.Errorf("ranges mismatch (-want +got):\n%s", diff)
	}

	a := mustGroup(t, reg, "alt.test")
	if a.Subscribed {
		t.Error("alt.test should be unsubscribed")
	}
	if diff := cmp.Diff([]domain.Range{{First: 3, Last: 3}}, a.Read.Ranges()); diff != "" {
		t.Errorf("alt.test ranges (-want +got):\n%s", diff)
	}

	if reg.Len() != 2 {
		t.Errorf("registry has %d groups, want 2", reg.Len())
	}
}

func TestParse_UnreadScenario(t *testing.T) {
	path := writeNewsrc(t, "comp.lang.c: 1-10,15\n")
	s := newTestStore(path)
	defer s.Close()

	reg := domain.NewRegistry()
	g, _ := reg.FindOrCreate("comp.lang.c")
	g.Bounds = domain.Bounds{First: 1, Last: 20}

	if _, err := s.Parse(reg); err != nil {
		t.Fatal(err)
	}
	if g.Unread != 9 {
		t.Errorf("Unread = %d, want 9", g.Unread)
	}
}

func TestParse_EmptyEntriesYieldEmptyState(t *testing.T) {
	path := writeNewsrc(t, "group:\n")
	s := newTestStore(path)
	defer s.Close()

	reg := domain.NewRegistry()
	if _, err := s.Parse(reg); err != nil {
		t.Fatal(err)
	}
	g := mustGroup(t, reg, "group")
	if g.Read.State() != domain.RangesEmpty {
		t.Errorf("state = %v, want empty", g.Read.State())
	}
	if got := g.Read.UnreadCount(domain.Bounds{First: 1, Last: 20}); got != 20 {
		t.Errorf("UnreadCount = %d, want 20", got)
	}
}

func TestParse_SeedsLastArticleFromRanges(t *testing.T) {
	path := writeNewsrc(t, "misc.test: 1-40\n")
	s := newTestStore(path)
	defer s.Close()

	reg := domain.NewRegistry()
	if _, err := s.Parse(reg); err != nil {
		t.Fatal(err)
	}
	g := mustGroup(t, reg, "misc.test")
	if g.Bounds.Last != 40 {
		t.Errorf("Bounds.Last = %d, want 40", g.Bounds.Last)
	}
}

func TestParse_SkipsMalformedLines(t *testing.T) {
	content := strings.Join([]string{
		"comp.os.linux: 1-5",
		"not-a-valid-line",
		"",
		"bad name: 1",
		"rec.games! 2-4,x,7",
	}, "\n")
	path := writeNewsrc(t, content) // no trailing newline on purpose
	s := newTestStore(path)
	defer s.Close()

	reg := domain.NewRegistry()
	if _, err := s.Parse(reg); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if diff := cmp.Diff([]string{"comp.os.linux", "rec.games"}, reg.Names()); diff != "" {
		t.Errorf("groups (-want +got):\n%s", diff)
	}
	g := mustGroup(t, reg, "rec.games")
	want := []domain.Range{{First: 2, Last: 4}, {First: 7, Last: 7}}
	if diff := cmp.Diff(want, g.Read.Ranges()); diff != "" {
		t.Errorf("rec.games ranges (-want +got):\n%s", diff)
	}
}

func TestParse_UnchangedFileIsNoop(t *testing.T) {
	path := writeNewsrc(t, "comp.lang.go: 1-3\n")
	s := newTestStore(path)
	defer s.Close()

	reg := domain.NewRegistry()
	if _, err := s.Parse(reg); err != nil {
		t.Fatal(err)
	}

	// Local edits survive a second parse of an untouched file.
	g := mustGroup(t, reg, "comp.lang.go")
	g.Read.Catchup(99)

	changed, err := s.Parse(reg)
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("second parse reported changed")
	}
	if diff := cmp.Diff([]domain.Range{{First: 1, Last: 99}}, g.Read.Ranges()); diff != "" {
		t.Errorf("ranges touched by unchanged parse (-want +got):\n%s", diff)
	}
}

func TestParse_ForeignEditForgetsState(t *testing.T) {
	path := writeNewsrc(t, "a.group: 1-3\nb.group: 1\n")
	s := newTestStore(path)
	defer s.Close()

	reg := domain.NewRegistry()
	if _, err := s.Parse(reg); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("a.group! 1-9\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	changed, err := s.Parse(reg)
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Fatal("edit not detected")
	}

	a := mustGroup(t, reg, "a.group")
	if a.Subscribed {
		t.Error("a.group should now be unsubscribed")
	}
	b := mustGroup(t, reg, "b.group")
	if b.Subscribed || b.HasRanges() {
		t.Errorf("b.group should be forgotten, got subscribed=%v state=%v", b.Subscribed, b.Read.State())
	}
}

func TestParse_ReadFailureKeepsState(t *testing.T) {
	path := writeNewsrc(t, "a.group: 1-3\n")
	s := newTestStore(path)
	defer s.Close()

	reg := domain.NewRegistry()
	if _, err := s.Parse(reg); err != nil {
		t.Fatal(err)
	}
	size, mtime := s.Watermark()

	// A directory in place of the file opens and locks fine but fails to read.
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(path, 0o755); err != nil {
		t.Fatal(err)
	}
	_, err := s.Parse(reg)
	var ioErr *domain.IOError
	if !errors.As(err, &ioErr) || ioErr.Op != "read" {
		t.Fatalf("err = %v, want read IOError", err)
	}
	if s.Locked() {
		t.Error("failed parse must release the lock")
	}
	if gotSize, gotMtime := s.Watermark(); gotSize != size || !gotMtime.Equal(mtime) {
		t.Errorf("watermark moved to %d/%v after a failed read", gotSize, gotMtime)
	}
	a := mustGroup(t, reg, "a.group")
	if !a.Subscribed {
		t.Error("a.group lost its subscription")
	}
	if diff := cmp.Diff([]domain.Range{{First: 1, Last: 3}}, a.Read.Ranges()); diff != "" {
		t.Errorf("ranges (-want +got):\n%s", diff)
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("a.group: 1-5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}
	changed, err := s.Parse(reg)
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Error("file restored after a failed read must be parsed again")
	}
	if diff := cmp.Diff([]domain.Range{{First: 1, Last: 5}}, a.Read.Ranges()); diff != "" {
		t.Errorf("ranges after recovery (-want +got):\n%s", diff)
	}
}

func TestOpen_CreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "newsrc")
	s := newTestStore(path)
	defer s.Close()

	reg := domain.NewRegistry()
	if _, err := s.Parse(reg); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("file not created: %v", err)
	}
	if !s.Locked() {
		t.Error("store should hold the lock after parse")
	}
}

func TestOpen_UnreachablePathIsIOError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing-dir", "newsrc")
	s := newTestStore(path)

	_, err := s.Parse(domain.NewRegistry())
	var ioErr *domain.IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("err = %v, want *domain.IOError", err)
	}
	if s.Locked() {
		t.Error("failed open must not hold a lock")
	}
}

func TestOpen_LockContention(t *testing.T) {
	path := writeNewsrc(t, "")
	holder := newTestStore(path)
	if err := holder.Open(); err != nil {
		t.Fatal(err)
	}
	defer holder.Close()

	waiter := NewStore(path, Options{
		Mode:        LockExclusive,
		LockTimeout: 120 * time.Millisecond,
		Logger:      adapter.NullLogger(),
	})
	err := waiter.Open()
	if !domain.IsLockContention(err) {
		t.Fatalf("err = %v, want lock contention", err)
	}

	holder.Close()
	if err := waiter.Open(); err != nil {
		t.Fatalf("Open after release: %v", err)
	}
	waiter.Close()
}

func lockedOut(t *testing.T, path string) bool {
	t.Helper()
	waiter := NewStore(path, Options{
		Mode:        LockExclusive,
		LockTimeout: 60 * time.Millisecond,
		Logger:      adapter.NullLogger(),
	})
	defer waiter.Close()
	return domain.IsLockContention(waiter.Open())
}

func TestParse_KeepsHeldLock(t *testing.T) {
	path := writeNewsrc(t, "a.group: 1\n")
	s := newTestStore(path)
	defer s.Close()

	reg := domain.NewRegistry()
	if _, err := s.Parse(reg); err != nil {
		t.Fatal(err)
	}
	held := s.f
	if _, err := s.Parse(reg); err != nil {
		t.Fatal(err)
	}
	if s.f != held {
		t.Error("re-parse of the same file replaced the locked handle")
	}
	if !lockedOut(t, path) {
		t.Error("another store took the lock")
	}
}

func TestParse_ReplacedFileStaysLocked(t *testing.T) {
	path := writeNewsrc(t, "a.group: 1\n")
	s := newTestStore(path)
	defer s.Close()

	reg := domain.NewRegistry()
	if _, err := s.Parse(reg); err != nil {
		t.Fatal(err)
	}
	held := s.f

	tmp := path + ".new"
	if err := os.WriteFile(tmp, []byte("a.group: 1-7\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}

	changed, err := s.Parse(reg)
	if err != nil {
		t.Fatal(err)
	}
	if !changed || s.f == held {
		t.Fatalf("replaced file not reopened: changed=%v", changed)
	}
	if !lockedOut(t, path) {
		t.Error("replacement file is not locked")
	}
	if diff := cmp.Diff([]domain.Range{{First: 1, Last: 7}}, mustGroup(t, reg, "a.group").Read.Ranges()); diff != "" {
		t.Errorf("ranges (-want +got):\n%s", diff)
	}
}

func TestClose_Idempotent(t *testing.T) {
	s := newTestStore(filepath.Join(t.TempDir(), "newsrc"))
	if err := s.Close(); err != nil {
		t.Errorf("Close without handle: %v", err)
	}
}

func TestCommit_RoundTrip(t *testing.T) {
	path := writeNewsrc(t, "")
	s := newTestStore(path)
	defer s.Close()

	reg := domain.NewRegistry()
	c, _ := reg.FindOrCreate("comp.lang.c")
	c.Subscribed = true
	// Adjacent ranges must survive unmerged.
	c.Read.Replace([]domain.Range{{First: 1, Last: 10}, {First: 11, Last: 11}, {First: 15, Last: 20}})
	e, _ := reg.FindOrCreate("alt.empty")
	e.Subscribed = true
	e.Read.MarkEmpty()
	u, _ := reg.FindOrCreate("alt.unsub")
	u.Read.Replace([]domain.Range{{First: 5, Last: 9}})
	reg.FindOrCreate("alt.never")
	d, _ := reg.FindOrCreate("alt.gone")
	d.Deleted = true
	d.Read.Catchup(5)

	if err := s.Commit(reg); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "comp.lang.c: 1-10,11,15-20\nalt.empty:\nalt.unsub! 5-9\nalt.gone! 1-5\n"
	if string(data) != want {
		t.Errorf("file = %q, want %q", data, want)
	}

	// Watermark was refreshed: our own write is not a foreign edit.
	changed, err := s.Parse(reg)
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("parse after commit reported changed")
	}

	s.Close()
	fresh := domain.NewRegistry()
	other := newTestStore(path)
	defer other.Close()
	if _, err := other.Parse(fresh); err != nil {
		t.Fatal(err)
	}
	got := mustGroup(t, fresh, "comp.lang.c")
	if diff := cmp.Diff(c.Read.Ranges(), got.Read.Ranges()); diff != "" {
		t.Errorf("round trip (-want +got):\n%s", diff)
	}
	if st := mustGroup(t, fresh, "alt.empty").Read.State(); st != domain.RangesEmpty {
		t.Errorf("alt.empty state = %v, want empty", st)
	}
	if _, ok := fresh.Lookup("alt.never"); ok {
		t.Error("group without ranges was written")
	}
}

func TestFormatLine(t *testing.T) {
	tests := []struct {
		name   string
		sub    bool
		ranges []domain.Range
		want   string
	}{
		{"single", true, []domain.Range{{First: 7, Last: 7}}, "g: 7"},
		{"span", false, []domain.Range{{First: 1, Last: 4}}, "g! 1-4"},
		{"inverted dropped", true, []domain.Range{{First: 1, Last: 0}, {First: 3, Last: 5}}, "g: 3-5"},
		{"all inverted", true, []domain.Range{{First: 9, Last: 2}}, "g:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &domain.Group{Name: "g", Subscribed: tt.sub}
			g.Read.Replace(tt.ranges)
			if got := FormatLine(g); got != tt.want {
				t.Errorf("FormatLine = %q, want %q", got, tt.want)
			}
		})
	}
}
