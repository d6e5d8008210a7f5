package util

import (
	"fmt"
	"os"
	"strings"

	"github.com/creack/pty"
)

const (
	ColorReset = "\033[0m"
	ColorBold  = "\033[1m"
	ColorDim   = "\033[2m"
	ColorBlue  = "\033[34m"
)

// Terminal describes the terminal behind a file, if any.
type Terminal struct {
	IsTTY      bool
	Rows, Cols int
	Color      bool
}

// GetTerminal inspects f, typically os.Stdout.
func GetTerminal(f *os.File) Terminal {
	ws, err := pty.GetsizeFull(f)
	if err != nil {
		return Terminal{}
	}

	return Terminal{
		IsTTY: true,
		Rows:  int(ws.Rows),
		Cols:  int(ws.Cols),
		Color: supportsColor(),
	}
}

func supportsColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}

	term := os.Getenv("TERM")
	return os.Getenv("COLORTERM") != "" ||
		strings.Contains(term, "color") ||
		strings.Contains(term, "xterm")
}

// FormatTable aligns rows under headers.  It returns the empty string
// if there are no rows.
func FormatTable(headers []string, rows [][]string, color bool) string {
	if len(rows) == 0 {
		return ""
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				widths[i] = max(widths[i], len(cell))
			}
		}
	}

	var b strings.Builder
	line := func(cells []string, style string) {
		if color && style != "" {
			b.WriteString(style)
			defer b.WriteString(ColorReset)
		}
		b.WriteString(formatRow(cells, widths))
	}

	line(headers, ColorBold)
	b.WriteByte('\n')
	for _, row := range rows {
		line(row, "")
		b.WriteByte('\n')
	}

	return b.String()
}

func formatRow(row []string, widths []int) string {
	cells := make([]string, 0, len(widths))
	for i, cell := range row {
		if i >= len(widths) {
			break
		}
		cells = append(cells, fmt.Sprintf("%-*s", widths[i], cell))
	}
	return strings.TrimRight(strings.Join(cells, "  "), " ")
}

// FormatBytes renders a byte count with a binary unit.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}

	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
