package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/containerd/console"
)

// barWidth sizes a progress bar to the controlling terminal, the way
// ollama's progress.go sizes its own download bars, falling back to 40
// columns when stdout isn't a console (piped output, CI logs).
func barWidth() int {
	c, err := console.ConsoleFromFile(os.Stdout)
	if err != nil {
		return 40
	}
	size, err := c.Size()
	if err != nil || size.Width < 20 {
		return 40
	}
	w := int(size.Width) - 30 // leave room for the percentage and label
	if w < 10 {
		w = 10
	}
	if w > 80 {
		w = 80
	}
	return w
}

// renderProgressLine draws one carriage-return-terminated bar line for a
// streamed install/convert/download event.
func renderProgressLine(label string, fraction float64) string {
	w := barWidth()
	filled := int(fraction * float64(w))
	if filled > w {
		filled = w
	}
	bar := strings.Repeat("=", filled) + strings.Repeat(" ", w-filled)
	return fmt.Sprintf("\r%-20s [%s] %3.0f%%", label, bar, fraction*100)
}
