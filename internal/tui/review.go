// Package tui implements the interactive approval step: a checklist of
// proposed changes with per-file toggles and a scrolling diff preview.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/for-yt-video/open-engineer/internal/plan"
	"github.com/for-yt-video/open-engineer/internal/ui"
)

// Decision is the outcome of a review. Accepted holds the per-path verdict
// for every reviewed change; a change absent from Accepted was not offered.
type Decision struct {
	Accepted map[string]bool
}

// Approves reports whether the path survived review.
func (d Decision) Approves(path string) bool { return d.Accepted[path] }

// Empty reports whether nothing was accepted.
func (d Decision) Empty() bool {
	for _, ok := range d.Accepted {
		if ok {
			return false
		}
	}
	return true
}

type keyMap struct {
	Up      key.Binding
	Down    key.Binding
	Toggle  key.Binding
	All     key.Binding
	None    key.Binding
	Confirm key.Binding
	Abort   key.Binding
}

var keys = keyMap{
	Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Toggle:  key.NewBinding(key.WithKeys(" ", "x"), key.WithHelp("space", "toggle")),
	All:     key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "accept all")),
	None:    key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "reject all")),
	Confirm: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "confirm")),
	Abort:   key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "reject and quit")),
}

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	cursorStyle    = lipgloss.NewStyle().Bold(true)
	checkedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))
	uncheckedStyle = lipgloss.NewStyle().Faint(true)
	helpStyle      = lipgloss.NewStyle().Faint(true)
)

// Model is the bubbletea model for one review session.
type Model struct {
	previews []ui.FilePreview
	selected []bool
	cursor   int
	done     bool
	aborted  bool
}

func NewModel(previews []ui.FilePreview) Model {
	selected := make([]bool, len(previews))
	for i := range selected {
		selected[i] = true
	}
	return Model{previews: previews, selected: selected}
}

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch {
	case key.Matches(keyMsg, keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(keyMsg, keys.Down):
		if m.cursor < len(m.previews)-1 {
			m.cursor++
		}
	case key.Matches(keyMsg, keys.Toggle):
		if len(m.selected) > 0 {
			m.selected[m.cursor] = !m.selected[m.cursor]
		}
	case key.Matches(keyMsg, keys.All):
		for i := range m.selected {
			m.selected[i] = true
		}
	case key.Matches(keyMsg, keys.None):
		for i := range m.selected {
			m.selected[i] = false
		}
	case key.Matches(keyMsg, keys.Confirm):
		m.done = true
		return m, tea.Quit
	case key.Matches(keyMsg, keys.Abort):
		m.aborted = true
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) View() string {
	if m.done || m.aborted {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Review changes"))
	b.WriteString("\n\n")

	for i, p := range m.previews {
		cursor := "  "
		if i == m.cursor {
			cursor = cursorStyle.Render("> ")
		}
		mark := uncheckedStyle.Render("[ ]")
		if m.selected[i] {
			mark = checkedStyle.Render("[x]")
		}
		b.WriteString(fmt.Sprintf("%s%s %-8s %s\n", cursor, mark, p.Kind, p.Path))
	}

	if len(m.previews) > 0 {
		p := m.previews[m.cursor]
		if p.Diff != "" {
			b.WriteString("\n")
			b.WriteString(ui.RenderDiff(p.Diff))
		}
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("space toggle · a all · n none · enter confirm · q reject"))
	b.WriteString("\n")
	return b.String()
}

// Decision converts the model's final state into a verdict.
func (m Model) Decision() Decision {
	d := Decision{Accepted: make(map[string]bool, len(m.previews))}
	for i, p := range m.previews {
		d.Accepted[p.Path] = !m.aborted && m.selected[i]
	}
	return d
}

// Reviewer runs the checklist program. AutoApprove short-circuits the UI
// and accepts everything (the --yes flag).
type Reviewer struct {
	AutoApprove bool
}

func (r *Reviewer) Review(cs *plan.ChangeSet, previews []ui.FilePreview) (Decision, error) {
	if r.AutoApprove {
		ui.PrintChangeSet(cs, previews)
		d := Decision{Accepted: make(map[string]bool, len(previews))}
		for _, p := range previews {
			d.Accepted[p.Path] = true
		}
		return d, nil
	}

	final, err := tea.NewProgram(NewModel(previews)).Run()
	if err != nil {
		return Decision{}, fmt.Errorf("review ui: %w", err)
	}
	return final.(Model).Decision(), nil
}
