package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"imgslim/internal/processor"
)

type SummaryRow struct {
	Label string
	Value string
}

// RenderSummary lays rows out as a two-column table between rules.
func RenderSummary(rows []SummaryRow) string {
	labels, values := 0, 0
	for _, row := range rows {
		labels = max(labels, lipgloss.Width(row.Label))
		values = max(values, lipgloss.Width(row.Value))
	}

	label := labelStyle.Width(labels)
	value := valueStyle.Width(values)
	rule := dimStyle.Render(strings.Repeat("-", labels+values+3))

	var b strings.Builder
	b.WriteString(rule)
	for _, row := range rows {
		b.WriteString("\n")
		b.WriteString(label.Render(row.Label) + dimStyle.Render(" | ") + value.Render(row.Value))
	}
	b.WriteString("\n")
	b.WriteString(rule)
	return b.String()
}

// RunRows is the end-of-run table: sizes, saving and where the originals
// went.
func RunRows(s processor.Summary) []SummaryRow {
	rows := []SummaryRow{
		{Label: "Images converted", Value: fmt.Sprintf("%d of %d", s.Converted, s.Total)},
		{Label: "Failed", Value: fmt.Sprintf("%d", s.Failed)},
		{Label: "Before", Value: FormatMB(s.BytesBefore)},
		{Label: "After", Value: FormatMB(s.BytesAfter)},
		{Label: "Saved", Value: fmt.Sprintf("%.1f%%", s.Percent())},
		{Label: "Markup files updated", Value: fmt.Sprintf("%d of %d", s.MarkupUpdated, s.MarkupScanned)},
	}
	if s.MarkupErrors > 0 {
		rows = append(rows, SummaryRow{Label: "Markup errors", Value: fmt.Sprintf("%d", s.MarkupErrors)})
	}
	rows = append(rows, SummaryRow{Label: "Originals saved in", Value: s.BackupDir})
	return rows
}

var (
	valueStyle = lipgloss.NewStyle().Foreground(ColorInk).Bold(true)
)
