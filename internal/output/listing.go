package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"kin/internal/block"
)

// Listing renders a Context as a table of name, kind, line and batch.
type Listing struct {
	Styled bool
	// MaxValueWidth truncates the value column; zero hides it.
	MaxValueWidth int
}

// NewListing returns a Listing styled when w is a terminal.
func NewListing(w io.Writer) Listing {
	styled := false
	if f, ok := w.(*os.File); ok {
		styled = term.IsTerminal(int(f.Fd()))
	}
	return Listing{Styled: styled, MaxValueWidth: 48}
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	nameStyle   = lipgloss.NewStyle().Bold(true)
	kindStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// Render writes the listing for c to w.
func (l Listing) Render(w io.Writer, c *block.Context) error {
	bindings := c.Bindings()
	if len(bindings) == 0 {
		_, err := fmt.Fprintf(w, "context empty (%d batches, %d lines)\n", c.Batches(), c.Line())
		return err
	}

	header := []string{"NAME", "KIND", "LINE", "BATCH"}
	if l.MaxValueWidth > 0 {
		header = append(header, "VALUE")
	}
	rows := make([][]string, 0, len(bindings))
	for _, b := range bindings {
		row := []string{b.Name, b.Value.Kind, fmt.Sprint(b.Line), fmt.Sprint(b.Batch)}
		if l.MaxValueWidth > 0 {
			row = append(row, oneLine(b.Value.String(), l.MaxValueWidth))
		}
		rows = append(rows, row)
	}

	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	var sb strings.Builder
	sb.WriteString(l.row(header, widths, func(int, string) lipgloss.Style { return headerStyle }))
	for _, row := range rows {
		sb.WriteString(l.row(row, widths, func(col int, _ string) lipgloss.Style {
			switch col {
			case 0:
				return nameStyle
			case 1:
				return kindStyle
			default:
				return dimStyle
			}
		}))
	}
	fmt.Fprintf(&sb, "%d names, %d batches, %d lines\n", len(bindings), c.Batches(), c.Line())
	_, err := io.WriteString(w, sb.String())
	return err
}

func (l Listing) row(cells []string, widths []int, style func(int, string) lipgloss.Style) string {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		padded := cell
		if i < len(cells)-1 {
			padded += strings.Repeat(" ", widths[i]-lipgloss.Width(cell))
		}
		if l.Styled {
			padded = style(i, cell).Render(padded)
		}
		parts[i] = padded
	}
	return strings.Join(parts, "  ") + "\n"
}

// oneLine collapses s to a single line of at most n display columns.
func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if lipgloss.Width(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) > n-1 {
		r = r[:n-1]
	}
	return string(r) + "…"
}
