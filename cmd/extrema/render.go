package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	bestStyle   = cellStyle.Foreground(lipgloss.Color("42"))
	failedStyle = cellStyle.Foreground(lipgloss.Color("196"))
)

// noHighlight disables row highlighting in renderTable.
const noHighlight = -2

// renderTable draws rows under headers. Row index highlight is drawn in
// the "best" style; rows listed in failed use the failure style.
func renderTable(headers []string, rows [][]string, highlight int, failed map[int]bool) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case failed[row]:
				return failedStyle
			case row == highlight:
				return bestStyle
			default:
				return cellStyle
			}
		})
	return t.String()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 8, 64)
}

// formatInputs renders named values as "X=1 Y=2".
func formatInputs(names []string, values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		name := fmt.Sprintf("x%d", i)
		if i < len(names) {
			name = names[i]
		}
		parts[i] = name + "=" + formatFloat(v)
	}
	return strings.Join(parts, " ")
}

func direction(minimize bool) string {
	if minimize {
		return "minimize"
	}
	return "maximize"
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
