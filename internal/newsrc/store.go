// Package newsrc reads and rewrites the user's subscription file.
//
// Each line is "<group><sep> <entries>" where sep is ':' for subscribed and
// '!' for unsubscribed groups, and entries is a comma separated list of read
// article numbers or ranges ("1-10,15"). The file is shared with other news
// readers, so every read happens under an advisory lock and a size/mtime
// watermark decides whether the in-memory state is still current.
package newsrc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mmcdole/nntpsync/internal/atomicfile"
	"github.com/mmcdole/nntpsync/internal/domain"
)

// LockMode selects the advisory lock taken on the newsrc file.
type LockMode int

const (
	LockShared LockMode = iota
	LockExclusive
)

// Options configures a Store.
type Options struct {
	Mode        LockMode
	LockTimeout time.Duration // 0 blocks until the lock is granted
	Logger      *slog.Logger
}

// Store binds one newsrc file to a server's group registry.
type Store struct {
	path    string
	mode    LockMode
	timeout time.Duration
	logger  *slog.Logger

	f     *os.File // held open while locked
	size  int64
	mtime time.Time
}

// NewStore creates a store for path. Nothing is opened until Open or Parse.
func NewStore(path string, opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:    path,
		mode:    opts.Mode,
		timeout: opts.LockTimeout,
		logger:  logger,
	}
}

// Path returns the newsrc file path
func (s *Store) Path() string {
	return s.path
}

// Locked reports whether the store currently holds the file lock.
func (s *Store) Locked() bool {
	return s.f != nil
}

// Watermark returns the size and modification time seen at the last parse or
// commit.
func (s *Store) Watermark() (int64, time.Time) {
	return s.size, s.mtime
}

// Open creates the file if needed, opens it for reading and takes the
// advisory lock. A held handle is kept when the path still names the same
// file; when the file was replaced the new one is locked before the old lock
// is dropped, so the lock is never given up in between.
func (s *Store) Open() error {
	if s.f != nil {
		if info, err := os.Stat(s.path); err == nil {
			if held, err := s.f.Stat(); err == nil && os.SameFile(info, held) {
				if _, err := s.f.Seek(0, io.SeekStart); err != nil {
					s.Close()
					return &domain.IOError{Op: "seek", Path: s.path, Err: err}
				}
				return nil
			}
		}
	}

	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		f, err = os.OpenFile(s.path, os.O_CREATE|os.O_RDONLY, 0o644)
	}
	if err != nil {
		s.Close()
		return &domain.IOError{Op: "open", Path: s.path, Err: err}
	}

	s.logger.Debug("locking newsrc", "path", s.path, "exclusive", s.mode == LockExclusive)
	if err := lockFile(f, s.mode == LockExclusive, s.timeout); err != nil {
		f.Close()
		s.Close()
		return &domain.IOError{Op: "lock", Path: s.path, Err: err}
	}
	s.Close()
	s.f = f
	return nil
}

// Close releases the lock and the file handle. It is a no-op when nothing is
// held.
func (s *Store) Close() error {
	if s.f == nil {
		return nil
	}
	s.logger.Debug("unlocking newsrc", "path", s.path)
	unlockFile(s.f)
	err := s.f.Close()
	s.f = nil
	return err
}

// Parse locks and reads the file into reg. When the file's size and mtime
// match the last watermark nothing is touched and changed is false. On error
// the lock is released.
func (s *Store) Parse(reg *domain.Registry) (changed bool, err error) {
	if err := s.Open(); err != nil {
		return false, err
	}

	info, err := os.Stat(s.path)
	if err != nil {
		s.Close()
		return false, &domain.IOError{Op: "stat", Path: s.path, Err: err}
	}
	if info.Size() == s.size && info.ModTime().Equal(s.mtime) {
		return false, nil
	}

	s.logger.Debug("parsing newsrc", "path", s.path, "size", info.Size())

	// Nothing is applied until the whole file is in memory.
	raw, err := readLines(s.f)
	if err != nil {
		s.Close()
		return false, &domain.IOError{Op: "read", Path: s.path, Err: err}
	}

	// The file is authoritative: forget everything it might not mention.
	for g := range reg.All() {
		g.Subscribed = false
		g.Read.Clear()
	}
	lines := 0
	for _, line := range raw {
		if s.parseLine(reg, line) {
			lines++
		}
	}
	s.size = info.Size()
	s.mtime = info.ModTime()

	s.logger.Info("parsed newsrc", "path", s.path, "groups", lines)
	return true, nil
}

func readLines(r io.Reader) ([]string, error) {
	br := bufio.NewReader(r)
	var lines []string
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			lines = append(lines, line)
		}
		if errors.Is(err, io.EOF) {
			return lines, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func (s *Store) parseLine(reg *domain.Registry, line string) bool {
	line = strings.TrimRight(line, "\r\n")
	sep := strings.IndexAny(line, ":!")
	if sep < 0 {
		if strings.TrimSpace(line) != "" {
			s.logger.Debug("skipping newsrc line without separator", "line", line)
		}
		return false
	}

	name := strings.TrimSpace(line[:sep])
	g, err := reg.FindOrCreate(name)
	if err != nil {
		s.logger.Debug("skipping newsrc line", "line", line, "error", err)
		return false
	}

	g.Subscribed = line[sep] == ':'
	g.Read = domain.ParseRangeSet(line[sep+1:])
	if g.Bounds.Last == 0 {
		if ranges := g.Read.Ranges(); len(ranges) > 0 {
			g.Bounds.Last = ranges[len(ranges)-1].Last
		}
	}
	g.RecountUnread()
	return true
}

// Commit rewrites the file from reg and refreshes the watermark.
func (s *Store) Commit(reg *domain.Registry) error {
	s.logger.Debug("updating newsrc", "path", s.path)

	err := atomicfile.WriteFile(s.path, func(w io.Writer) error {
		return Write(w, reg)
	})
	if err != nil {
		return err
	}

	info, err := os.Stat(s.path)
	if err != nil {
		return &domain.IOError{Op: "stat", Path: s.path, Err: err}
	}
	s.size = info.Size()
	s.mtime = info.ModTime()
	return nil
}

// Write serializes every group that holds read-state, including groups the
// server no longer lists.
func Write(w io.Writer, reg *domain.Registry) error {
	for g := range reg.All() {
		if !g.HasRanges() {
			continue
		}
		if _, err := io.WriteString(w, FormatLine(g)+"\n"); err != nil {
			return err
		}
	}
	return nil
}

// FormatLine renders one group's newsrc line without the trailing newline.
func FormatLine(g *domain.Group) string {
	sep := '!'
	if g.Subscribed {
		sep = ':'
	}
	entries := g.Read.Entries()
	if len(entries) == 0 {
		return fmt.Sprintf("%s%c", g.Name, sep)
	}
	return fmt.Sprintf("%s%c %s", g.Name, sep, strings.Join(entries, ","))
}
