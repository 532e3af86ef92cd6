// Package active persists the snapshot of all newsgroups a server carries so
// a session can start without downloading the full list again.
//
// The file starts with the UNIX time of the last full refresh, followed by one
// line per group: "<group> <last> <first> <flag>[ <description>]".
package active

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/mmcdole/nntpsync/internal/atomicfile"
	"github.com/mmcdole/nntpsync/internal/domain"
)

// FileName is the cache file kept in each server's cache directory.
const FileName = ".active"

// ErrMalformed indicates the cache header is missing or zero.
var ErrMalformed = errors.New("malformed active cache")

// Snapshot is the decoded content of an active cache file.
type Snapshot struct {
	Timestamp int64
	Groups    []domain.GroupInfo
}

// Load reads the cache at path. Group lines that fail to parse are skipped.
func Load(path string, logger *slog.Logger) (*Snapshot, error) {
	if logger == nil {
		logger = slog.Default()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, &domain.IOError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	logger.Debug("parsing active cache", "path", path)
	r := bufio.NewReader(f)

	header, err := r.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, &domain.IOError{Op: "read", Path: path, Err: err}
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(header), 10, 64)
	if err != nil || ts == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrMalformed)
	}

	snap := &Snapshot{Timestamp: ts}
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			if info, ok := ParseLine(line); ok {
				snap.Groups = append(snap.Groups, info)
			} else {
				logger.Debug("skipping active cache line", "line", strings.TrimSpace(line))
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &domain.IOError{Op: "read", Path: path, Err: err}
		}
	}
	return snap, nil
}

// ParseLine decodes one group line. The same layout is used by the server's
// LIST ACTIVE response, so callers may feed those lines through it too.
func ParseLine(line string) (domain.GroupInfo, bool) {
	rest := strings.TrimRight(line, "\r\n")
	next := func() string {
		rest = strings.TrimLeft(rest, " \t")
		i := strings.IndexAny(rest, " \t")
		if i < 0 {
			tok := rest
			rest = ""
			return tok
		}
		tok := rest[:i]
		rest = rest[i:]
		return tok
	}

	name := next()
	last, err := strconv.ParseUint(next(), 10, 64)
	if err != nil {
		return domain.GroupInfo{}, false
	}
	first, err := strconv.ParseUint(next(), 10, 64)
	if err != nil {
		return domain.GroupInfo{}, false
	}
	flag := next()
	if name == "" || flag == "" || !domain.ValidGroupName(name) {
		return domain.GroupInfo{}, false
	}

	return domain.GroupInfo{
		Name:        name,
		First:       domain.ArticleNum(first),
		Last:        domain.ArticleNum(last),
		Moderation:  flag[0],
		Description: strings.TrimSpace(flag[1:] + rest),
	}, true
}

// Save writes the timestamp and every non-deleted group of reg to path.
func Save(path string, timestamp int64, reg *domain.Registry) error {
	return atomicfile.WriteFile(path, func(w io.Writer) error {
		if _, err := fmt.Fprintf(w, "%d\n", timestamp); err != nil {
			return err
		}
		for g := range reg.All() {
			if g.Deleted {
				continue
			}
			if _, err := io.WriteString(w, FormatLine(g)+"\n"); err != nil {
				return err
			}
		}
		return nil
	})
}

// FormatLine renders one group's cache line without the trailing newline.
func FormatLine(g *domain.Group) string {
	flag := 'n'
	if g.Allowed {
		flag = 'y'
	}
	line := fmt.Sprintf("%s %d %d %c", g.Name, g.Bounds.Last, g.Bounds.First, flag)
	if g.Description != "" {
		line += " " + g.Description
	}
	return line
}
