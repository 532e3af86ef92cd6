package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/term"

	"github.com/mmcdole/nntpsync/internal/domain"
	"github.com/mmcdole/nntpsync/internal/service"
)

// Color palette
var (
	accent    = lipgloss.Color("#E5A00D")
	dimGray   = lipgloss.Color("#6B7280")
	lightGray = lipgloss.Color("#9CA3AF")
	green     = lipgloss.Color("#10B981")
	red       = lipgloss.Color("#EF4444")
)

// Text styles
var (
	nameStyle = lipgloss.NewStyle().
			Bold(true)

	unreadStyle = lipgloss.NewStyle().
			Foreground(accent).
			Width(7).
			Align(lipgloss.Right)

	boundsStyle = lipgloss.NewStyle().
			Foreground(lightGray)

	dimStyle = lipgloss.NewStyle().
			Foreground(dimGray)

	successStyle = lipgloss.NewStyle().
			Foreground(green)

	errorStyle = lipgloss.NewStyle().
			Foreground(red)
)

// Raw status characters (unstyled)
const (
	subscribedChar   = "*"
	unsubscribedChar = " "
	deletedChar      = "D"
)

// termWidth returns the output width, or 0 when stdout is not a terminal.
func termWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 0
	}
	w, _, err := term.GetSize(fd)
	if err != nil {
		return 0
	}
	return w
}

func listGroups(w io.Writer, srv *service.Server, query string) error {
	var groups []*domain.Group
	if query != "" {
		for _, m := range srv.SearchGroups(query) {
			groups = append(groups, m.Group)
		}
	} else {
		for g := range srv.Registry().All() {
			groups = append(groups, g)
		}
	}
	if len(groups) == 0 {
		_, err := fmt.Fprintln(w, dimStyle.Render("no groups"))
		return err
	}

	width := termWidth()
	for _, g := range groups {
		if _, err := fmt.Fprintln(w, groupLine(g, width)); err != nil {
			return err
		}
	}
	return nil
}

func groupLine(g *domain.Group, width int) string {
	status := unsubscribedChar
	switch {
	case g.Deleted:
		status = deletedChar
	case g.Subscribed:
		status = subscribedChar
	}

	line := fmt.Sprintf("%s %s %s %s",
		status,
		unreadStyle.Render(fmt.Sprint(g.Unread)),
		nameStyle.Render(g.Name),
		boundsStyle.Render(fmt.Sprintf("[%d-%d]", g.Bounds.First, g.Bounds.Last)),
	)
	if g.Description == "" {
		return line
	}

	desc := g.Description
	if width > 0 {
		room := width - lipgloss.Width(line) - 1
		if room <= 1 {
			return line
		}
		if lipgloss.Width(desc) > room {
			desc = truncate(desc, room-1) + "…"
		}
	}
	return line + " " + dimStyle.Render(desc)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func joinOr(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	default:
		return strings.Join(items[:len(items)-1], ", ") + " or " + items[len(items)-1]
	}
}

// printStats dumps the sync counters gathered during the run.
func printStats(w io.Writer, reg *prometheus.Registry) error {
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	var lines []string
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			name := mf.GetName()
			for _, lp := range m.GetLabel() {
				name += fmt.Sprintf("{%s=%q}", lp.GetName(), lp.GetValue())
			}
			lines = append(lines, fmt.Sprintf("%s %g", name, m.GetCounter().GetValue()))
		}
	}
	sort.Strings(lines)
	for _, l := range lines {
		if _, err := fmt.Fprintln(w, dimStyle.Render(l)); err != nil {
			return err
		}
	}
	return nil
}
