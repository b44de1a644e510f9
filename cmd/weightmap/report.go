package main

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/MostafaZeid/my-supabase-app-sub002/internal/app"
	"github.com/MostafaZeid/my-supabase-app-sub002/internal/domain"
)

// statusColors maps statuses to ANSI palette entries.
var statusColors = map[domain.Status]string{
	domain.StatusCompleted:  "42",
	domain.StatusInProgress: "39",
	domain.StatusOverdue:    "196",
	domain.StatusBlocked:    "208",
	domain.StatusOnHold:     "244",
}

// renderReport draws the progress tree as a bordered table followed by the overall line.
func renderReport(progress app.ProjectProgress) string {
	rows := make([][]string, 0, len(progress.Items))
	statuses := make([]domain.Status, 0, len(progress.Items))
	for _, row := range progress.Items {
		rows = append(rows, []string{
			strings.Repeat("  ", row.Depth) + row.Item.Title,
			string(row.Item.Kind),
			formatNumber(row.Item.Weight),
			formatNumber(row.Item.Progress) + "%",
			string(row.Status),
			strings.Join(row.Blockers, ","),
		})
		statuses = append(statuses, row.Status)
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("62"))).
		Headers("Title", "Kind", "Weight", "Progress", "Status", "Blockers").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("230"))
			}
			style := lipgloss.NewStyle().Padding(0, 1)
			if col == 4 && row >= 0 && row < len(statuses) {
				if color, ok := statusColors[statuses[row]]; ok {
					style = style.Foreground(lipgloss.Color(color))
				}
			}
			return style
		})

	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)\n", progress.Project.Name, progress.Project.ID)
	b.WriteString(t.Render())
	b.WriteString("\n")
	fmt.Fprintf(&b, "Overall: %s%%\n", formatNumber(progress.Overall))
	return b.String()
}

// formatNumber prints at most two decimals without trailing zeros.
func formatNumber(v float64) string {
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64)
}
