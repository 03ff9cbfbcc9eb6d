package tui

import (
	"fmt"
	"io"
	"path"

	"github.com/charmbracelet/lipgloss"

	"imgslim/internal/processor"
)

// Images that shrink by less than this are shown as neutral.
const notableSaving = 5.0

// FormatUpdate renders one progress update as a console line. Updates that
// only move the counters render as "".
func FormatUpdate(u processor.ProgressUpdate) string {
	switch u.Kind {
	case processor.UpdateFound:
		return headerStyle.Render(fmt.Sprintf("Found %d images", u.Total))
	case processor.UpdateImage:
		return formatImage(*u.Image)
	case processor.UpdateMarkupStart:
		return headerStyle.Render(fmt.Sprintf("Updating references in %d markup files", u.Total))
	case processor.UpdateMarkup:
		return fmt.Sprintf("  %s  %s %s",
			okStyle.Render("~"),
			nameStyle.Render(u.Markup),
			mutedStyle.Render(fmt.Sprintf("(%d references)", u.References)),
		)
	case processor.UpdateMarkupError:
		return fmt.Sprintf("  %s  %s: %v", failStyle.Render("!"), u.Markup, u.Err)
	default:
		return ""
	}
}

func formatImage(r processor.Result) string {
	name := path.Base(r.RelPath)
	if r.State == processor.StateFailed {
		return fmt.Sprintf("  %s  %s %s",
			failStyle.Render("!"),
			nameStyle.Render(r.RelPath),
			failStyle.Render(fmt.Sprintf("failed after %s: %v", r.Reached, r.Err)),
		)
	}

	saved := r.Saving()
	mark, style := "=", mutedStyle
	if saved > notableSaving {
		mark, style = "+", okStyle
	}
	return fmt.Sprintf("  %s  %-40s  %10s  ->  %10s  %s",
		style.Render(mark),
		name,
		FormatKB(r.BytesBefore),
		FormatKB(r.BytesAfter),
		style.Render(fmt.Sprintf("(%+.1f%% saved)", saved)),
	)
}

func FormatKB(n int64) string {
	return fmt.Sprintf("%.1f KB", float64(n)/1024)
}

func FormatMB(n int64) string {
	return fmt.Sprintf("%.2f MB", float64(n)/1024/1024)
}

// Stream prints every update to w until updates is closed. It is the
// non-interactive counterpart of Model.
func Stream(w io.Writer, updates <-chan processor.ProgressUpdate) {
	for u := range updates {
		if line := FormatUpdate(u); line != "" {
			fmt.Fprintln(w, line)
		}
	}
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
	nameStyle   = lipgloss.NewStyle().Foreground(ColorInk)
	mutedStyle  = lipgloss.NewStyle().Foreground(ColorDim)
	okStyle     = lipgloss.NewStyle().Foreground(ColorSuccess)
	failStyle   = lipgloss.NewStyle().Foreground(ColorError)
)
