// Package ui renders console output: styled status lines, change summaries
// and unified-diff previews for the approval step.
package ui

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/for-yt-video/open-engineer/internal/parser"
	"github.com/for-yt-video/open-engineer/internal/plan"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("197"))
	faintStyle   = lipgloss.NewStyle().Faint(true)
	addStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))
	delStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("197"))
	hunkStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
)

func Header(format string, a ...any) {
	fmt.Fprintln(os.Stderr, headerStyle.Render(fmt.Sprintf(format, a...)))
}

func Info(format string, a ...any) {
	fmt.Fprintln(os.Stderr, fmt.Sprintf(format, a...))
}

func Success(format string, a ...any) {
	fmt.Fprintln(os.Stderr, successStyle.Render(fmt.Sprintf(format, a...)))
}

func Warning(format string, a ...any) {
	fmt.Fprintln(os.Stderr, warnStyle.Render(fmt.Sprintf(format, a...)))
}

func Error(format string, a ...any) {
	fmt.Fprintln(os.Stderr, errorStyle.Render(fmt.Sprintf(format, a...)))
}

func Faint(format string, a ...any) {
	fmt.Fprintln(os.Stderr, faintStyle.Render(fmt.Sprintf(format, a...)))
}

// FilePreview is one change rendered for review.
type FilePreview struct {
	Path string
	Kind parser.Kind
	Diff string // unified diff, empty for deletes
}

// Previews builds a unified-diff preview for every appliable change.
func Previews(cs *plan.ChangeSet) []FilePreview {
	out := make([]FilePreview, 0, len(cs.Changes))
	for _, c := range cs.Changes {
		p := FilePreview{Path: c.Op.Path, Kind: c.Op.Kind}
		if c.Op.Kind != parser.KindDelete {
			p.Diff = unifiedDiff(c.PreImage, c.PostImage, c.Op.Path)
		}
		out = append(out, p)
	}
	return out
}

func unifiedDiff(before, after, path string) string {
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: "a/" + path,
		ToFile:   "b/" + path,
		Context:  3,
	})
	if err != nil {
		return ""
	}
	return text
}

// RenderDiff colorizes a unified diff for the terminal.
func RenderDiff(diff string) string {
	var b strings.Builder
	for _, line := range strings.Split(strings.TrimRight(diff, "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "@@"):
			b.WriteString(hunkStyle.Render(line))
		case strings.HasPrefix(line, "+"):
			b.WriteString(addStyle.Render(line))
		case strings.HasPrefix(line, "-"):
			b.WriteString(delStyle.Render(line))
		default:
			b.WriteString(line)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// PrintChangeSet writes the review summary before approval: one line per
// change plus any sidelined operations.
func PrintChangeSet(cs *plan.ChangeSet, previews []FilePreview) {
	Header("Proposed changes")
	for _, p := range previews {
		Info("  %-8s %s", p.Kind, p.Path)
		if p.Diff != "" {
			fmt.Fprint(os.Stderr, indent(RenderDiff(p.Diff), "    "))
		}
	}
	for _, u := range cs.Unresolved {
		Warning("  skipped  %s (%s)", u.Op.Path, u.Reason)
		if u.Detail != "" {
			Faint("           %s", u.Detail)
		}
	}
}

// PrintApplied summarizes a finished batch.
func PrintApplied(paths []string) {
	if len(paths) == 0 {
		Info("No files changed.")
		return
	}
	Success("Applied %d file(s):", len(paths))
	for _, p := range paths {
		Info("  - %s", p)
	}
}

// PrintOmissions flags context that did not fit the token budget.
func PrintOmissions(omittedFiles []string, droppedTurns int) {
	for _, p := range omittedFiles {
		Warning("context: %s omitted (over budget)", p)
	}
	if droppedTurns > 0 {
		Faint("context: %d older turn(s) dropped", droppedTurns)
	}
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n") + "\n"
}
