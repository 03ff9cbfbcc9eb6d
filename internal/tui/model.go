package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"imgslim/internal/processor"
)

// Model is the live progress view. Per-file lines are printed above it.
type Model struct {
	updates     <-chan processor.ProgressUpdate
	started     time.Time
	width       int
	total       int
	done        int
	failed      int
	bytesBefore int64
	bytesAfter  int64
	markup      int
	stopping    bool
	quitting    bool
	cancel      context.CancelFunc
}

type doneMsg struct{}

type updateMsg processor.ProgressUpdate

// NewModel builds the view. cancel is called on ctrl+c; the run stops
// after the current image and the view quits once updates is closed.
func NewModel(updates <-chan processor.ProgressUpdate, cancel context.CancelFunc) Model {
	return Model{updates: updates, started: time.Now(), cancel: cancel}
}

func (m Model) Init() tea.Cmd {
	return m.waitForUpdate()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case updateMsg:
		update := processor.ProgressUpdate(msg)
		switch update.Kind {
		case processor.UpdateFound:
			m.total = update.Total
		case processor.UpdateImage:
			m.done++
			if update.Image.State == processor.StateFailed {
				m.failed++
			} else {
				m.bytesBefore += update.Image.BytesBefore
				m.bytesAfter += update.Image.BytesAfter
			}
		case processor.UpdateMarkup:
			m.markup++
		}
		next := m.waitForUpdate()
		if line := FormatUpdate(update); line != "" {
			return m, tea.Sequence(tea.Println(line), next)
		}
		return m, next
	case doneMsg:
		m.quitting = true
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" && !m.stopping {
			m.stopping = true
			if m.cancel != nil {
				m.cancel()
			}
		}
		return m, nil
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	default:
		return m, nil
	}
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	barWidth := 40
	if m.width > 0 {
		barWidth = min(60, max(20, m.width-10))
	}
	bar := progressBar(barWidth, m.done, m.total)
	elapsed := time.Since(m.started).Round(time.Millisecond)

	lines := []string{
		titleStyle.Render("imgslim"),
		labelStyle.Render(fmt.Sprintf("Images: %d/%d", m.done, m.total)) + dimStyle.Render(fmt.Sprintf("  failed:%d", m.failed)),
		labelStyle.Render(fmt.Sprintf("Size: %s -> %s", FormatKB(m.bytesBefore), FormatKB(m.bytesAfter))),
		labelStyle.Render(fmt.Sprintf("Markup updated: %d", m.markup)),
		dimStyle.Render(fmt.Sprintf("Elapsed: %s", elapsed)),
		barStyle.Render(bar),
	}
	if m.stopping {
		lines = append(lines, warnStyle.Render("Stopping after the current image..."))
	}

	return strings.Join(lines, "\n")
}

// waitForUpdate blocks on the next progress update; a closed channel ends
// the view.
func (m Model) waitForUpdate() tea.Cmd {
	updates := m.updates
	return func() tea.Msg {
		if update, ok := <-updates; ok {
			return updateMsg(update)
		}
		return doneMsg{}
	}
}

// progressBar draws done/total as a bar of width cells followed by the
// count, e.g. "#####.....  5/10".
func progressBar(width, done, total int) string {
	filled := 0
	if total > 0 {
		filled = min(width, done*width/total)
	}
	return strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + fmt.Sprintf("  %d/%d", done, total)
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
	labelStyle = lipgloss.NewStyle().Foreground(ColorInk)
	barStyle   = lipgloss.NewStyle().Foreground(ColorAccentAlt)
	dimStyle   = lipgloss.NewStyle().Foreground(ColorDim)
	warnStyle  = lipgloss.NewStyle().Foreground(ColorWarn)
)
